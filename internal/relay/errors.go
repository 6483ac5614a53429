package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"
)

// ErrorKind is the machine code of a transport failure.
type ErrorKind string

const (
	KindHTTPStatus          ErrorKind = "HTTP_STATUS"
	KindUnsupportedProtocol ErrorKind = "UNSUPPORTED_PROTOCOL"
	KindBadURL              ErrorKind = "BAD_URL"
	KindResolveHost         ErrorKind = "COULDNT_RESOLVE_HOST"
	KindConnect             ErrorKind = "COULDNT_CONNECT"
	KindTimeout             ErrorKind = "OPERATION_TIMEDOUT"
	KindTooManyRedirects    ErrorKind = "TOO_MANY_REDIRECTS"
	KindSSL                 ErrorKind = "SSL"
	KindSend                ErrorKind = "SEND_ERROR"
	KindRecv                ErrorKind = "RECV_ERROR"
	KindEmptyResponse       ErrorKind = "GOT_NOTHING"
	KindUnknown             ErrorKind = "UNKNOWN"
)

var (
	// ErrEmptyResponse is the cause of a KindEmptyResponse failure.
	ErrEmptyResponse = errors.New("empty response")

	errTooManyRedirects = errors.New("too many redirects")
)

// TransportError is returned by Transport implementations for every failed exchange.
type TransportError struct {
	Kind   ErrorKind
	Status int // set for KindHTTPStatus
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Kind == KindHTTPStatus {
		msg = fmt.Sprintf("the requested URL returned error: %d", e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("POST %s: %s: %v", e.URL, msg, e.Err)
	}
	return fmt.Sprintf("POST %s: %s", e.URL, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HumanCode renders the short tag shown to visitors, e.g. "[REQ_ERR: 503]".
func (e *TransportError) HumanCode() string {
	if e == nil {
		return ""
	}
	tag := string(e.Kind)
	switch e.Kind {
	case KindHTTPStatus:
		if e.Status > 0 {
			tag = strconv.Itoa(e.Status)
		} else {
			tag = "HTTP_ERROR_" + string(KindUnknown)
		}
	case "":
		tag = string(KindUnknown)
	}
	return "[REQ_ERR: " + tag + "]"
}

// classifyError maps a client error onto an ErrorKind.
func classifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, errTooManyRedirects) {
		return KindTooManyRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindResolveHost
	}

	var (
		certErr      *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
		alertErr     tls.AlertError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert), errors.As(err, &recordHeader), errors.As(err, &alertErr):
		return KindSSL
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return KindConnect
		case "write":
			return KindSend
		case "read":
			return KindRecv
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnect
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindRecv
	}
	if errors.Is(err, io.EOF) {
		return KindEmptyResponse
	}
	return KindUnknown
}
