package relay

import (
	"net/url"
	"strings"
)

// Parameter names the click API understands.
const (
	ParamAPIKey             = "api_key"
	ParamToken              = "token"
	ParamLanguage           = "language"
	ParamUA                 = "ua"
	ParamIP                 = "ip"
	ParamReferrer           = "referrer"
	ParamForceRedirectOffer = "force_redirect_offer"
	ParamSEReferrer         = "se_referrer"
	ParamXRequestedWith     = "x_requested_with"
	ParamKeyword            = "keyword"
	ParamVersion            = "version"
	ParamInfo               = "info"
	ParamPrefetch           = "prefetch"
	ParamURI                = "uri"
	ParamOriginalHost       = "original_host"
	ParamOriginalMethod     = "original_method"
	ParamOriginalHeaders    = "original_headers"
	ParamKVersion           = "kversion"
)

// protectedParams may only be written by the dedicated setters.
var protectedParams = map[string]struct{}{
	ParamAPIKey:             {},
	ParamToken:              {},
	ParamLanguage:           {},
	ParamUA:                 {},
	ParamIP:                 {},
	ParamReferrer:           {},
	ParamForceRedirectOffer: {},
}

// IsProtectedParam reports whether name belongs to the set bulk imports must not touch.
func IsProtectedParam(name string) bool {
	_, ok := protectedParams[name]
	return ok
}

// ParameterSet is the form body sent to the click API.
type ParameterSet map[string]string

// set writes unconditionally; used by the dedicated setters.
func (p ParameterSet) set(name, value string) {
	p[name] = value
}

// Param writes name unless it is protected. Reports whether the value was taken.
func (p ParameterSet) Param(name, value string) bool {
	if IsProtectedParam(name) {
		return false
	}
	p[name] = value
	return true
}

// Import copies values that are neither protected nor already set to a
// non-empty value. Multi-valued keys keep their first value.
func (p ParameterSet) Import(values url.Values) {
	for name, vals := range values {
		if len(vals) == 0 || IsProtectedParam(name) {
			continue
		}
		if p[name] != "" {
			continue
		}
		p[name] = vals[0]
	}
}

// ImportQuery parses a raw query string and feeds every pair through Param.
func (p ParameterSet) ImportQuery(raw string) {
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil && len(values) == 0 {
		return
	}
	for name, vals := range values {
		if len(vals) == 0 {
			continue
		}
		p.Param(name, vals[len(vals)-1])
	}
}

// Clone returns an independent copy.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Values converts the set into url.Values for form encoding.
func (p ParameterSet) Values() url.Values {
	values := make(url.Values, len(p))
	for k, v := range p {
		values.Set(k, v)
	}
	return values
}

// headerParam flattens an original request header into the bracketed form
// the click API expects, e.g. original_headers[User-Agent].
func headerParam(name string) string {
	return ParamOriginalHeaders + "[" + name + "]"
}
