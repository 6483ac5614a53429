package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_Send(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r
		_, _ = w.Write([]byte(`{"info":{"sub_id":"x"}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(TransportOptions{})
	body, err := tr.Send(context.Background(), srv.URL+"/click_api/v3",
		ParameterSet{ParamAPIKey: "k", "original_headers[Host]": "shop.test"},
		SendOptions{Cookies: "a=1"})
	require.NoError(t, err)

	assert.Equal(t, `{"info":{"sub_id":"x"}}`, body)
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/click_api/v3", got.URL.Path)
	assert.Equal(t, UserAgent, got.UserAgent())
	assert.Equal(t, "a=1", got.Header.Get("Cookie"))
	assert.Equal(t, "k", got.PostForm.Get(ParamAPIKey))
	assert.Equal(t, "shop.test", got.PostForm.Get("original_headers[Host]"))
}

func TestHTTPTransport_Failures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name   string
		url    string
		kind   ErrorKind
		status int
		code   string
	}{
		{"non 2xx", srv.URL + "/status", KindHTTPStatus, 503, "[REQ_ERR: 503]"},
		{"empty body", srv.URL + "/empty", KindEmptyResponse, 0, "[REQ_ERR: GOT_NOTHING]"},
		{"redirect loop", srv.URL + "/loop", KindTooManyRedirects, 0, "[REQ_ERR: TOO_MANY_REDIRECTS]"},
		{"refused", closedURL, KindConnect, 0, "[REQ_ERR: COULDNT_CONNECT]"},
		{"bad url", "", KindBadURL, 0, "[REQ_ERR: BAD_URL]"},
		{"protocol", "ftp://tracker.test/", KindUnsupportedProtocol, 0, "[REQ_ERR: UNSUPPORTED_PROTOCOL]"},
	}

	tr := NewHTTPTransport(TransportOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Send(context.Background(), tt.url, ParameterSet{}, SendOptions{})
			var te *TransportError
			require.True(t, errors.As(err, &te), "got %v", err)
			assert.Equal(t, tt.kind, te.Kind)
			assert.Equal(t, tt.status, te.Status)
			assert.Equal(t, tt.code, te.HumanCode())
		})
	}
}

func TestHTTPTransport_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPTransport(TransportOptions{}).Send(ctx, srv.URL, ParameterSet{}, SendOptions{})
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KindTimeout, classifyError(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, classifyError(errors.New("boom")))
	assert.Equal(t, KindUnknown, classifyError(nil))
}
