package relay

import "net/http"

// Response is the host response the relay replays into. HeadersSent reports
// whether the status line has been committed, after which headers, cookies
// and the status can no longer change.
type Response interface {
	http.ResponseWriter
	HeadersSent() bool
}

// WrapResponse adds headers-sent tracking to w. A Response is returned as is.
func WrapResponse(w http.ResponseWriter) Response {
	if r, ok := w.(Response); ok {
		return r
	}
	return &trackingWriter{ResponseWriter: w}
}

type trackingWriter struct {
	http.ResponseWriter
	sent bool
}

func (t *trackingWriter) WriteHeader(code int) {
	if t.sent {
		return
	}
	t.sent = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.sent = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) HeadersSent() bool {
	return t.sent
}

func (t *trackingWriter) Flush() {
	t.sent = true
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
