package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// APIVersion is the click API protocol version sent by default.
	APIVersion = 3
	// ClientVersion identifies this relay to the tracker.
	ClientVersion = "3.4"
	// DefaultSessionCookie names the host session cookie kept away from the tracker.
	DefaultSessionCookie = "RELAYSESSID"
	// ErrorNotice is shown to visitors when the tracker cannot be reached.
	ErrorNotice = "[ClickRelay] Something is wrong. Enable debug mode to see the reason."

	noSubID         = "no_subid"
	noToken         = "no_token"
	defaultUniqueBy = "campaign"
)

var (
	// ErrSessionsDisabled is returned by session writes on a client without sessions.
	ErrSessionsDisabled = errors.New("sessions disabled")
	// ErrNoSession is returned when the visitor session could not be opened.
	ErrNoSession = errors.New("session unavailable")
)

// Source tells where a verdict came from.
type Source string

const (
	SourceNone     Source = ""
	SourceOverride Source = "override"
	SourceSession  Source = "session"
	SourceNetwork  Source = "network"
	SourceFailed   Source = "failed"
)

// Observer receives resolution events, e.g. for metrics.
type Observer interface {
	ObserveResolve(source Source)
	ObserveExchange(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveResolve(Source) {}

func (nopObserver) ObserveExchange(time.Duration, error) {}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the default resty transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithResponse attaches the host response verdicts are replayed into.
func WithResponse(w http.ResponseWriter) Option {
	return func(c *Client) {
		if w != nil {
			c.resp = WrapResponse(w)
		}
	}
}

// WithSession provides the visitor session, opened on first use.
func WithSession(start SessionStarter) Option {
	return func(c *Client) { c.sessionStart = start }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithIPResolver replaces DefaultIPResolver.
func WithIPResolver(r *IPResolver) Option {
	return func(c *Client) {
		if r != nil {
			c.ips = r
		}
	}
}

// WithSessionCookieName sets the cookie stripped from the forwarded Cookie header.
func WithSessionCookieName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.sessionCookie = name
		}
	}
}

// WithLogOutput mirrors the event log to w.
func WithLogOutput(w io.Writer) Option {
	return func(c *Client) { c.log.setOutput(w) }
}

// Client resolves and replays the tracker verdict for one page view. It is not
// safe for concurrent use; create one per request.
type Client struct {
	trackerURL    string
	params        ParameterSet
	frozen        bool
	req           *http.Request
	query         url.Values
	resp          Response
	transport     Transport
	sessionStart  SessionStarter
	state         *StateStore
	ips           *IPResolver
	observer      Observer
	log           *eventLog
	now           func() time.Time
	debug         bool
	sessionCookie string
	cookies       map[string]string

	resolved bool
	verdict  *Verdict
	source   Source
	err      error
	notice   string
}

// New builds a Client for the request r against the tracker at trackerURL.
func New(trackerURL, campaignToken string, r *http.Request, opts ...Option) *Client {
	if r == nil {
		r = &http.Request{Method: http.MethodGet, Header: http.Header{}, URL: &url.URL{}}
	}
	c := &Client{
		params:        ParameterSet{},
		req:           r,
		ips:           DefaultIPResolver,
		observer:      nopObserver{},
		log:           newEventLog(),
		now:           time.Now,
		sessionCookie: DefaultSessionCookie,
		cookies:       map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(TransportOptions{})
	}
	c.state = newStateStore(c.sessionStart, c.now, c.log)
	if r.URL != nil {
		c.query = r.URL.Query()
	} else {
		c.query = url.Values{}
	}

	c.SetTrackerURL(trackerURL)
	c.CampaignToken(campaignToken)
	c.Version(APIVersion)
	c.params.set(ParamInfo, "1")
	c.fillParams()
	return c
}

func (c *Client) fillParams() {
	r := c.req
	referrer := r.Referer()
	c.IP(c.ips.Resolve(r.Header, r.RemoteAddr)).
		UA(r.UserAgent()).
		Language(firstN(r.Header.Get("Accept-Language"), 2)).
		XRequestedWith(r.Header.Get("X-Requested-With")).
		SEReferrer(referrer).
		Referrer(referrer)

	for name, values := range r.Header {
		value := strings.Join(values, ", ")
		if name == "Cookie" {
			// The relay's own session id stays local.
			if value = StripCookie(value, c.sessionCookie); value == "" {
				continue
			}
		}
		c.params.set(headerParam(name), value)
	}
	host := r.Host
	if host != "" {
		c.params.set(headerParam("Host"), host)
	} else {
		host = "localhost"
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	c.params.set(ParamOriginalHost, host)
	c.params.set(ParamOriginalMethod, method)
	c.params.set(ParamURI, c.currentPage())
	c.params.set(ParamKVersion, ClientVersion)
	if isPrefetch(r.Header) {
		c.params.set(ParamPrefetch, "1")
	}
}

func (c *Client) currentPage() string {
	r := c.req
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	uri := "/"
	if r.URL != nil {
		uri = r.URL.RequestURI()
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host + uri
}

func isPrefetch(h http.Header) bool {
	return strings.EqualFold(h.Get("X-Purpose"), "preview") ||
		strings.EqualFold(h.Get("X-Moz"), "prefetch") ||
		strings.EqualFold(h.Get("X-Fb-Http-Engine"), "Liger")
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SetTrackerURL keeps only scheme, host and port of raw.
func (c *Client) SetTrackerURL(raw string) *Client {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		c.log.Warnf("Tracker URL %q is not valid", raw)
		c.trackerURL = ""
		return c
	}
	c.trackerURL = u.Scheme + "://" + u.Host
	return c
}

// TrackerURL returns the normalised tracker base URL.
func (c *Client) TrackerURL() string {
	return c.trackerURL
}

func (c *Client) setParam(name, value string) *Client {
	if c.frozen {
		c.log.Warnf("Parameter %s ignored, request already sent", name)
		return c
	}
	c.params.set(name, value)
	return c
}

// CampaignToken sets the campaign API key.
func (c *Client) CampaignToken(token string) *Client { return c.setParam(ParamAPIKey, token) }

// Version sets the click API protocol version.
func (c *Client) Version(v int) *Client { return c.setParam(ParamVersion, strconv.Itoa(v)) }

// UA sets the visitor user agent.
func (c *Client) UA(ua string) *Client {
	return c.setParam(ParamUA, ua)
}

// Language sets the two letter visitor language.
func (c *Client) Language(lang string) *Client {
	return c.setParam(ParamLanguage, lang)
}

func (c *Client) Keyword(keyword string) *Client {
	return c.setParam(ParamKeyword, keyword)
}

// IP overrides the resolved visitor address.
func (c *Client) IP(ip string) *Client {
	return c.setParam(ParamIP, ip)
}

func (c *Client) Referrer(referrer string) *Client {
	return c.setParam(ParamReferrer, referrer)
}

func (c *Client) SEReferrer(referrer string) *Client {
	return c.setParam(ParamSEReferrer, referrer)
}

func (c *Client) XRequestedWith(value string) *Client {
	return c.setParam(ParamXRequestedWith, value)
}

// LandingToken sends a landing token obtained earlier.
func (c *Client) LandingToken(token string) *Client {
	return c.setParam(ParamToken, token)
}

// ForceRedirectOffer asks the tracker to redirect straight to the offer.
func (c *Client) ForceRedirectOffer() *Client {
	return c.setParam(ParamForceRedirectOffer, "1")
}

// CurrentPageAsReferrer reports the current page URL as the referrer.
func (c *Client) CurrentPageAsReferrer() *Client {
	return c.Referrer(c.currentPage())
}

func (c *Client) setIfEmpty(name, value string) *Client {
	if c.params[name] == "" {
		c.setParam(name, value)
	}
	return c
}

// Param sets a custom parameter. Protected names are refused.
func (c *Client) Param(name, value string) *Client {
	if c.frozen {
		c.log.Warnf("Parameter %s ignored, request already sent", name)
		return c
	}
	if !c.params.Param(name, value) {
		c.log.Warnf("Parameter %s is reserved", name)
	}
	return c
}

// ImportParams feeds a raw query string through Param.
func (c *Client) ImportParams(rawQuery string) *Client {
	if c.frozen {
		return c
	}
	c.params.ImportQuery(rawQuery)
	return c
}

// SendAllParams copies every query parameter of the request that is neither
// protected nor already set.
func (c *Client) SendAllParams() *Client {
	if c.frozen {
		return c
	}
	c.params.Import(c.query)
	return c
}

// SendUTMLabels copies the utm_* query parameters.
func (c *Client) SendUTMLabels() *Client {
	for name, values := range c.query {
		if len(values) > 0 && strings.Contains(name, "utm_") {
			c.setIfEmpty(name, values[0])
		}
	}
	return c
}

// Debug propagates transport failures to the caller and mirrors the event log
// to stderr.
func (c *Client) Debug(debug bool) *Client {
	c.debug = debug
	c.log.setDebug(debug)
	return c
}

// DisableSessions stops the client from reading or writing the visitor session.
func (c *Client) DisableSessions() *Client {
	c.state.Disable()
	return c
}

// Params returns a snapshot of the outbound parameter set.
func (c *Client) Params() ParameterSet {
	return c.params.Clone()
}

func (c *Client) endpoint() string {
	if c.trackerURL == "" {
		return ""
	}
	return c.trackerURL + "/click_api/v" + c.params[ParamVersion]
}

// Resolve returns the verdict for this page view. Only the first call does
// any work; later calls return the same result. A nil verdict without error
// means the tracker gave nothing usable.
func (c *Client) Resolve(ctx context.Context) (*Verdict, error) {
	if c.resolved {
		return c.verdict, c.err
	}
	c.resolved = true

	if v, ok := c.state.Override(c.query); ok {
		return c.accept(v, SourceOverride), nil
	}
	if v, ok := c.state.Restore(); ok {
		return c.accept(v, SourceSession), nil
	}
	return c.perform(ctx)
}

func (c *Client) accept(v *Verdict, source Source) *Verdict {
	c.verdict = v
	c.source = source
	c.observer.ObserveResolve(source)
	return v
}

func (c *Client) perform(ctx context.Context) (*Verdict, error) {
	endpoint := c.endpoint()
	c.frozen = true
	opts := SendOptions{Cookies: StripCookie(c.req.Header.Get("Cookie"), c.sessionCookie)}

	c.log.Infof("Request: %s", endpoint)
	started := time.Now()
	body, err := c.transport.Send(ctx, endpoint, c.params.Clone(), opts)
	c.observer.ObserveExchange(time.Since(started), err)
	if err != nil {
		return c.fail(err)
	}
	c.log.Infof("Response: %s", body)

	v, err := DecodeVerdict([]byte(body))
	if err != nil {
		c.log.Warnf("Response dropped: %v", err)
		c.source = SourceFailed
		c.observer.ObserveResolve(SourceFailed)
		return nil, nil
	}

	c.state.Persist(v, v.CookiesTTL)
	c.syncCookies(v)
	return c.accept(v, SourceNetwork), nil
}

func (c *Client) fail(err error) (*Verdict, error) {
	c.source = SourceFailed
	c.observer.ObserveResolve(SourceFailed)
	c.log.Warnf("Request failed: %v", err)
	if c.debug {
		c.err = err
		return nil, err
	}

	notice := ErrorNotice
	var te *TransportError
	if errors.As(err, &te) {
		notice = te.HumanCode() + " " + notice
	}
	c.notice = notice
	if c.resp != nil {
		if _, werr := io.WriteString(c.resp, notice); werr != nil {
			c.log.Warnf("Notice not written: %v", werr)
		}
	}
	return nil, nil
}

// Reset drops the resolved verdict so the next Resolve starts over.
func (c *Client) Reset() {
	c.resolved = false
	c.verdict = nil
	c.source = SourceNone
	c.err = nil
	c.notice = ""
	c.frozen = false
}

// Verdict returns the resolved verdict without resolving.
func (c *Client) Verdict() *Verdict {
	return c.verdict
}

// Source returns where the verdict came from.
func (c *Client) Source() Source {
	return c.source
}

// StateRestored reports whether the verdict came from the session or a query override.
func (c *Client) StateRestored() bool {
	return c.source == SourceSession || c.source == SourceOverride
}

// Degraded reports whether the visitor session could not be opened.
func (c *Client) Degraded() bool {
	return c.state.Degraded()
}

// Notice returns the visitor notice written after a failed exchange.
func (c *Client) Notice() string {
	return c.notice
}

// Log returns the event log of this client.
func (c *Client) Log() []string {
	return c.log.entries()
}

// ShowLog renders the event log for inline display.
func (c *Client) ShowLog(sep string) string {
	if sep == "" {
		sep = "<br />"
	}
	return "<hr>" + c.log.join(sep) + "<hr>"
}

func (c *Client) buildBody(v *Verdict) []byte {
	body, err := BuildBody(v)
	if err != nil {
		c.log.Warnf("Body not decoded: %v", err)
	}
	return body
}

func (c *Client) emit(v *Verdict) {
	if c.resp == nil {
		c.log.Warn("No response attached, nothing replayed")
		return
	}
	sendHeaders(c.resp, v, c.req.Proto, c.log)
}

// Content resolves and returns the body the verdict carries.
func (c *Client) Content(ctx context.Context) ([]byte, error) {
	v, err := c.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.buildBody(v), nil
}

// Execute replays the verdict headers and body into the host response.
func (c *Client) Execute(ctx context.Context) error {
	v, err := c.Resolve(ctx)
	if err != nil {
		return err
	}
	body := c.buildBody(v)
	c.emit(v)
	if c.resp == nil || len(body) == 0 {
		return nil
	}
	_, err = c.resp.Write(body)
	return err
}

// ExecuteAndBreak replays the headers and reports whether the host must stop
// rendering. When it must, the body has already been written.
func (c *Client) ExecuteAndBreak(ctx context.Context) (bool, error) {
	v, err := c.Resolve(ctx)
	if err != nil {
		return false, err
	}
	body := c.buildBody(v)
	c.emit(v)
	if !ShouldTerminate(v) {
		return false, nil
	}
	if c.resp != nil && len(body) > 0 {
		if _, err := c.resp.Write(body); err != nil {
			c.log.Warnf("Body not written: %v", err)
		}
	}
	return true, nil
}

// SubID returns the visitor sub id, or "no_subid".
func (c *Client) SubID(ctx context.Context) string {
	v, _ := c.Resolve(ctx)
	if v == nil || v.Info.SubID == "" {
		c.log.Info("No sub_id is defined")
		return noSubID
	}
	return v.Info.SubID
}

// Token returns the landing token, or "no_token".
func (c *Client) Token(ctx context.Context) string {
	v, _ := c.Resolve(ctx)
	if v == nil || v.Info.Token == "" {
		c.log.Info("No landing token is defined")
		return noToken
	}
	return v.Info.Token
}

// IsBot reports the tracker's bot flag.
func (c *Client) IsBot(ctx context.Context) bool {
	v, _ := c.Resolve(ctx)
	return v != nil && v.Info.IsBot
}

// IsUnique reports uniqueness at level, "campaign" when empty.
func (c *Client) IsUnique(ctx context.Context, level string) bool {
	if level == "" {
		level = defaultUniqueBy
	}
	v, _ := c.Resolve(ctx)
	return v != nil && v.Info.Uniqueness[level]
}

// Body returns the raw verdict body.
func (c *Client) Body(ctx context.Context) string {
	v, _ := c.Resolve(ctx)
	if v == nil {
		return ""
	}
	return v.Body
}

// Headers returns the forwarded header lines.
func (c *Client) Headers(ctx context.Context) []string {
	v, _ := c.Resolve(ctx)
	if v == nil {
		return nil
	}
	return v.Headers
}

// Offer returns the offer link for the landing token, or fallback when the
// tracker sent none.
func (c *Client) Offer(ctx context.Context, params url.Values, fallback string) string {
	v, _ := c.Resolve(ctx)
	if v == nil || v.Info.Token == "" {
		c.log.Info("Campaign hasn't returned offer")
		return fallback
	}
	q := url.Values{}
	for k, vals := range params {
		q[k] = append([]string(nil), vals...)
	}
	q.Set("_lp", "1")
	q.Set("_token", v.Info.Token)
	return c.trackerURL + "/?" + q.Encode()
}

// SetLandingToken stores the landing token in the visitor session.
func (c *Client) SetLandingToken(token string) error {
	if c.state.Disabled() {
		return ErrSessionsDisabled
	}
	if !c.state.SetValue(SessionTokenKey, token) {
		return ErrNoSession
	}
	return nil
}
