package relay

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"
)

// jsonAPI is the codec shared by verdict decoding and state persistence.
var jsonAPI = sonic.ConfigStd

// Info carries the tracker's informational fields about the visit.
type Info struct {
	SubID      string          `json:"sub_id,omitempty"`
	Token      string          `json:"token,omitempty"`
	IsBot      bool            `json:"is_bot,omitempty"`
	Uniqueness map[string]bool `json:"uniqueness,omitempty"`
}

// Verdict is the decoded answer of the click API. A nil Status or CookiesTTL
// means the tracker did not send the field.
type Verdict struct {
	Info        Info              `json:"info"`
	Body        string            `json:"body,omitempty"`
	Headers     []string          `json:"headers,omitempty"`
	Status      *int              `json:"status,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	CookiesTTL  *float64          `json:"cookies_ttl,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// HasStatus reports whether the verdict carries an explicit status code.
func (v *Verdict) HasStatus() bool {
	return v != nil && v.Status != nil && *v.Status != 0
}

// CookieNames returns cookie names in a stable order.
func (v *Verdict) CookieNames() []string {
	if v == nil {
		return nil
	}
	names := make([]string, 0, len(v.Cookies))
	for name := range v.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeError reports a click API payload that could not be turned into a Verdict.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode verdict: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeVerdict validates and decodes a click API response body. The tracker
// encodes empty objects as empty arrays and numbers as strings now and then;
// both shapes are accepted here so the rest of the package sees one form.
func DecodeVerdict(data []byte) (*Verdict, error) {
	fail := func(err error) (*Verdict, error) {
		payload := string(data)
		if len(payload) > 256 {
			payload = payload[:256]
		}
		return nil, &DecodeError{Payload: payload, Err: err}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fail(fmt.Errorf("payload is not a JSON object"))
	}

	var w wireVerdict
	if err := jsonAPI.Unmarshal(trimmed, &w); err != nil {
		return fail(err)
	}

	v := &Verdict{
		Info: Info{
			SubID:      w.Info.SubID.v,
			Token:      w.Info.Token.v,
			IsBot:      w.Info.IsBot.v,
			Uniqueness: w.Info.Uniqueness.v,
		},
		Body:        w.Body.v,
		Headers:     w.Headers.v,
		ContentType: w.ContentType.v,
		Cookies:     w.Cookies.v,
		Error:       w.Error.v,
	}
	if w.Status.ok && w.Status.v != 0 {
		if w.Status.v < 100 || w.Status.v > 999 {
			return fail(fmt.Errorf("status %d out of range", w.Status.v))
		}
		status := w.Status.v
		v.Status = &status
	}
	if w.CookiesTTL.ok {
		ttl := w.CookiesTTL.v
		v.CookiesTTL = &ttl
	}
	return v, nil
}

type wireVerdict struct {
	Info        wireInfo    `json:"info"`
	Body        flexString  `json:"body"`
	Headers     flexStrings `json:"headers"`
	Status      flexInt     `json:"status"`
	ContentType flexString  `json:"contentType"`
	Cookies     flexMap     `json:"cookies"`
	CookiesTTL  flexFloat   `json:"cookies_ttl"`
	Error       flexString  `json:"error"`
}

type wireInfo struct {
	SubID      flexString
	Token      flexString
	IsBot      flexBool
	Uniqueness flexBoolMap
}

func (i *wireInfo) UnmarshalJSON(data []byte) error {
	if isEmptyContainer(data) {
		return nil
	}
	var raw struct {
		SubID      flexString  `json:"sub_id"`
		Token      flexString  `json:"token"`
		IsBot      flexBool    `json:"is_bot"`
		Uniqueness flexBoolMap `json:"uniqueness"`
	}
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("info: %w", err)
	}
	i.SubID, i.Token, i.IsBot, i.Uniqueness = raw.SubID, raw.Token, raw.IsBot, raw.Uniqueness
	return nil
}

// isEmptyContainer matches null, [] and {}.
func isEmptyContainer(data []byte) bool {
	d := bytes.TrimSpace(data)
	switch string(d) {
	case "null", "[]", "{}":
		return true
	}
	return false
}

type flexString struct {
	v  string
	ok bool
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	var raw any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	s, ok, err := scalarString(raw)
	if err != nil {
		return err
	}
	f.v, f.ok = s, ok
	return nil
}

type flexInt struct {
	v  int
	ok bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var raw any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		return nil
	case float64:
		if t != math.Trunc(t) {
			return fmt.Errorf("expected integer, got %v", t)
		}
		f.v, f.ok = int(t), true
	case string:
		if t == "" {
			return nil
		}
		n, err := strconv.Atoi(t)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", t)
		}
		f.v, f.ok = n, true
	default:
		return fmt.Errorf("expected integer, got %T", raw)
	}
	return nil
}

type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var raw any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		return nil
	case float64:
		f.v, f.ok = t, true
	case string:
		if t == "" {
			return nil
		}
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return fmt.Errorf("expected number, got %q", t)
		}
		f.v, f.ok = n, true
	default:
		return fmt.Errorf("expected number, got %T", raw)
	}
	return nil
}

type flexBool struct {
	v bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.v = truthy(raw)
	return nil
}

type flexStrings struct {
	v []string
}

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	if isEmptyContainer(data) {
		return nil
	}
	var raw []any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("headers: %w", err)
	}
	for _, item := range raw {
		s, ok, err := scalarString(item)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if ok {
			f.v = append(f.v, s)
		}
	}
	return nil
}

type flexMap struct {
	v map[string]string
}

func (f *flexMap) UnmarshalJSON(data []byte) error {
	if isEmptyContainer(data) {
		return nil
	}
	var raw map[string]any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cookies: %w", err)
	}
	f.v = make(map[string]string, len(raw))
	for k, item := range raw {
		s, _, err := scalarString(item)
		if err != nil {
			return fmt.Errorf("cookies[%s]: %w", k, err)
		}
		f.v[k] = s
	}
	return nil
}

type flexBoolMap struct {
	v map[string]bool
}

func (f *flexBoolMap) UnmarshalJSON(data []byte) error {
	if isEmptyContainer(data) {
		return nil
	}
	var raw map[string]any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("uniqueness: %w", err)
	}
	f.v = make(map[string]bool, len(raw))
	for k, item := range raw {
		f.v[k] = truthy(item)
	}
	return nil
}

func scalarString(raw any) (string, bool, error) {
	switch t := raw.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true, nil
	case bool:
		if t {
			return "1", true, nil
		}
		return "", true, nil
	default:
		return "", false, fmt.Errorf("expected scalar, got %T", raw)
	}
}

func truthy(raw any) bool {
	switch t := raw.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0"
	default:
		return false
	}
}
