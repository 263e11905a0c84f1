package engine

import (
	"net/url"
	"strings"
)

// EncodeForm encodes params as application/x-www-form-urlencoded.
// Unlike url.Values.Encode it keeps the caller's order.
func EncodeForm(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// DecodeForm parses a form body back into ordered params
func DecodeForm(body string) ([]Param, error) {
	var params []Param
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Key: key, Value: value})
	}
	return params, nil
}
