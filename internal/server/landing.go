package server

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"

	"github.com/sunbk201/clickrelay/internal/config"
	"github.com/sunbk201/clickrelay/internal/relay"
)

const defaultLanding = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{if .IsBot}}Welcome{{else}}Special offer{{end}}</title></head>
<body>
<p>Visitor {{.SubID}}</p>
<a href="{{.Offer}}">Continue</a>
{{- if .Log}}
<pre>{{range .Log}}{{.}}
{{end}}</pre>
{{- end}}
</body>
</html>
`

// LandingData is what landing templates render.
type LandingData struct {
	SubID  string
	Token  string
	IsBot  bool
	Unique bool
	Offer  string
	Source relay.Source
	// Log is filled in tracker debug mode only.
	Log []string
}

func loadLanding(path string) (*template.Template, error) {
	if path == "" {
		return template.Must(template.New("landing").Parse(defaultLanding)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read landing template: %w", err)
	}
	t, err := template.New("landing").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse landing template %s: %w", path, err)
	}
	return t, nil
}

func (s *Server) newClient(w relay.Response, r *http.Request) *relay.Client {
	cfg := s.cfg.Tracker
	opts := []relay.Option{
		relay.WithResponse(w),
		relay.WithTransport(s.transport),
		relay.WithIPResolver(s.ips),
	}
	if s.recorder != nil {
		opts = append(opts, relay.WithObserver(s.recorder.Observer(r.Host)))
	}
	if s.sessions != nil {
		opts = append(opts,
			relay.WithSession(s.sessions.Starter(w, r)),
			relay.WithSessionCookieName(s.sessions.CookieName()),
		)
	}

	c := relay.New(cfg.URL, cfg.CampaignToken, r, opts...)
	if s.sessions == nil {
		c.DisableSessions()
	}
	ApplyTracker(c, cfg)
	return c
}

// ApplyTracker switches on the client behaviours selected in the tracker
// config. The landing handler and the resolve command share it.
func ApplyTracker(c *relay.Client, cfg config.TrackerConfig) {
	c.Debug(cfg.Debug)
	if cfg.SendAllParams {
		c.SendAllParams()
	}
	if cfg.SendUTMLabels {
		c.SendUTMLabels()
	}
	if cfg.ForceRedirectOffer {
		c.ForceRedirectOffer()
	}
	if cfg.CurrentPageAsReferrer {
		c.CurrentPageAsReferrer()
	}
	if cfg.Keyword != "" {
		c.Keyword(cfg.Keyword)
	}
}

func (s *Server) outcome(name string) {
	if s.recorder != nil {
		s.recorder.Metrics.LandingRequests.WithLabelValues(name).Inc()
	}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	resp := relay.WrapResponse(w)
	c := s.newClient(resp, r)
	ctx := r.Context()

	stop, err := c.ExecuteAndBreak(ctx)
	if err != nil {
		s.outcome("error")
		slog.Warn("relay failed", slog.String("host", r.Host), slog.Any("error", err))
		if !resp.HeadersSent() {
			http.Error(resp, err.Error(), http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprintf(resp, "%s\n%s", err, c.ShowLog(""))
		return
	}
	if stop {
		s.outcome("replayed")
		return
	}

	data := LandingData{
		SubID:  c.SubID(ctx),
		Token:  c.Token(ctx),
		IsBot:  c.IsBot(ctx),
		Unique: c.IsUnique(ctx, ""),
		Offer:  c.Offer(ctx, nil, "#"),
		Source: c.Source(),
	}
	if s.cfg.Tracker.Debug {
		data.Log = c.Log()
	}

	var buf bytes.Buffer
	if err := s.landing.Execute(&buf, data); err != nil {
		s.outcome("error")
		slog.Error("landing template", slog.Any("error", err))
		if !resp.HeadersSent() {
			http.Error(resp, "landing unavailable", http.StatusInternalServerError)
		}
		return
	}
	if !resp.HeadersSent() && resp.Header().Get("Content-Type") == "" {
		resp.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	s.outcome("rendered")
	_, _ = resp.Write(buf.Bytes())
}
