package relay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const defaultProtocol = "HTTP/1.0"

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Moved Temporarily",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	400: "Bad Request",
	401: "Unauthorized",
	402: "The license must be in Pro edition or higher",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Time-out",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Request Entity Too Large",
	414: "Request-URI Too Large",
	415: "Unsupported Media Type",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Time-out",
	505: "HTTP Version not supported",
}

// StatusText returns the reason phrase the tracker protocol uses for code,
// or "" for codes outside the table.
func StatusText(code int) string {
	return statusText[code]
}

// StatusLine formats the status line for proto, defaulting to HTTP/1.0.
func StatusLine(proto string, code int) string {
	if proto == "" {
		proto = defaultProtocol
	}
	return fmt.Sprintf("%s %d %s", proto, code, StatusText(code))
}

// IsBinaryContentType reports whether bodies of this type travel base64 encoded.
func IsBinaryContentType(contentType string) bool {
	return strings.Contains(contentType, "image") || strings.Contains(contentType, "application/pdf")
}

// BuildBody concatenates the verdict error text with its body, decoding
// binary payloads. On a decode failure the error text alone is returned.
func BuildBody(v *Verdict) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.WriteString(v.Error)
	if v.Body == "" {
		return buf.Bytes(), nil
	}
	if !IsBinaryContentType(v.ContentType) {
		buf.WriteString(v.Body)
		return buf.Bytes(), nil
	}
	raw, err := decodeBinary(v.Body)
	if err != nil {
		return buf.Bytes(), &DecodeError{Payload: v.ContentType, Err: fmt.Errorf("binary body: %w", err)}
	}
	buf.Write(raw)
	return buf.Bytes(), nil
}

func decodeBinary(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '\t', ' ':
			return -1
		}
		return r
	}, s)
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ContainsActionHeader reports whether a forwarded header is a redirect or a
// not-found marker.
func ContainsActionHeader(headers []string) bool {
	for _, h := range headers {
		if len(h) >= len("Location:") && strings.EqualFold(h[:len("Location:")], "Location:") {
			return true
		}
		if strings.Contains(h, "404 Not Found") {
			return true
		}
	}
	return false
}

// ShouldTerminate reports whether the host page must stop rendering and leave
// the response to the replayed verdict.
func ShouldTerminate(v *Verdict) bool {
	if v == nil {
		return false
	}
	if body, _ := BuildBody(v); len(body) > 0 {
		return true
	}
	if ContainsActionHeader(v.Headers) {
		return true
	}
	return v.HasStatus() && *v.Status == http.StatusNotFound
}

// sendHeaders replays headers, content type and status into w. Nothing is
// written once the host has committed its response.
func sendHeaders(w Response, v *Verdict, proto string, log *eventLog) {
	if v == nil {
		return
	}
	if w.HeadersSent() {
		log.Info("Body output already started")
		return
	}

	code := 0
	location := false
	h := w.Header()
	for _, line := range v.Headers {
		if lineCode, ok := parseStatusLine(line); ok {
			code = lineCode
			continue
		}
		name, value, ok := parseHeaderLine(line)
		if !ok {
			log.Warnf("Header skipped: %q", line)
			continue
		}
		switch http.CanonicalHeaderKey(name) {
		case "Set-Cookie":
			h.Add(name, value)
		case "Location":
			location = true
			h.Set(name, value)
		default:
			h.Set(name, value)
		}
	}

	if v.HasStatus() {
		code = *v.Status
	} else if code == 0 && location {
		code = http.StatusFound
	}

	if v.ContentType != "" {
		h.Set("Content-Type", v.ContentType)
	}

	if code != 0 {
		log.Infof("Status: %s", StatusLine(proto, code))
		w.WriteHeader(code)
	}
}

func parseHeaderLine(line string) (name, value string, ok bool) {
	name, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return "", "", false
	}
	return name, value, true
}

// parseStatusLine recognises raw "HTTP/1.1 404 Not Found" lines.
func parseStatusLine(line string) (int, bool) {
	if !strings.HasPrefix(strings.ToUpper(line), "HTTP/") {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 999 {
		return 0, false
	}
	return code, true
}
