package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// levelFilter keeps lines at or above the ?level= query value. slog's text
// handler writes the level as "level=WARN".
func levelFilter(r *http.Request) func([]byte) bool {
	order := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	threshold := strings.ToUpper(r.URL.Query().Get("level"))
	for i, lvl := range order {
		if lvl != threshold {
			continue
		}
		accepted := make([][]byte, 0, len(order)-i)
		for _, keep := range order[i:] {
			accepted = append(accepted, []byte("level="+keep))
		}
		return func(line []byte) bool {
			for _, a := range accepted {
				if bytes.Contains(line, a) {
					return true
				}
			}
			return false
		}
	}
	return func([]byte) bool { return true }
}

// handleLogs streams the process log. WebSocket clients get one text message
// per line; plain HTTP clients get a chunked text/plain stream.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleLogsWS(w, r)
		return
	}
	s.handleLogsHTTP(w, r)
}

func (s *APIServer) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	keep := levelFilter(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ch := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(ch)

	// read pump, only to notice the client leaving
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !keep(msg) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *APIServer) handleLogsHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	keep := levelFilter(r)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !keep(msg) {
				continue
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
