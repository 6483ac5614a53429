package relay

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Fixed exchange limits. They are not configurable per call.
const (
	ConnectTimeout = 5 * time.Second
	TotalTimeout   = 10 * time.Second
	UserAgent      = "KHttpClient"
	maxRedirects   = 5
)

// SendOptions tunes a single exchange.
type SendOptions struct {
	// Cookies is forwarded verbatim as the Cookie header when non-empty.
	Cookies string
}

// Transport performs the single click API exchange.
type Transport interface {
	Send(ctx context.Context, url string, params ParameterSet, opts SendOptions) (string, error)
}

// HTTPTransport posts the parameter set as a form body. It never retries.
type HTTPTransport struct {
	client *resty.Client
}

// TransportOptions configures NewHTTPTransport.
type TransportOptions struct {
	InsecureSkipVerify bool
	// Logger receives resty's own diagnostics. Defaults to a discarding logger.
	Logger resty.Logger
}

// NewHTTPTransport builds the resty client used for click API calls.
func NewHTTPTransport(opts TransportOptions) *HTTPTransport {
	dialer := &net.Dialer{
		Timeout:   ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: ConnectTimeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}, //nolint:gosec // operator opt-in
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	client := resty.New().
		SetTransport(tr).
		SetTimeout(TotalTimeout).
		SetRetryCount(0).
		SetLogger(logger).
		SetHeader("User-Agent", UserAgent).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		}))

	return &HTTPTransport{client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, rawURL string, params ParameterSet, opts SendOptions) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", &TransportError{Kind: KindBadURL, URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &TransportError{Kind: KindUnsupportedProtocol, URL: rawURL}
	}

	req := t.client.R().
		SetContext(ctx).
		SetFormDataFromValues(params.Values())
	if opts.Cookies != "" {
		req.SetHeader("Cookie", opts.Cookies)
	}

	resp, err := req.Post(rawURL)
	if err != nil {
		return "", &TransportError{Kind: classifyError(err), URL: rawURL, Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", &TransportError{Kind: KindHTTPStatus, Status: resp.StatusCode(), URL: rawURL}
	}

	body := resp.String()
	if body == "" {
		return "", &TransportError{Kind: KindEmptyResponse, URL: rawURL, Err: ErrEmptyResponse}
	}
	return body, nil
}
