// Package urlnorm canonicalizes request URLs for cache-key purposes.
package urlnorm

import (
	"net/url"
	"strings"
)

// trackingParams are dropped from the query regardless of case. Any parameter
// starting with "utm_" is dropped as well.
var trackingParams = map[string]struct{}{
	"igshid":  {},
	"igsh":    {},
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"gbraid":  {},
	"wbraid":  {},
	"msclkid": {},
	"ttclid":  {},
	"twclid":  {},
	"yclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
}

// Normalize returns the canonical form of raw used to build cache keys.
// Scheme and host are lower-cased, trailing slashes and the fragment are
// removed, and tracking query parameters are stripped while the remaining
// parameters keep their order. Input that does not parse as a URL is returned
// trimmed but otherwise unchanged.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(strings.ToLower(u.Scheme))
		b.WriteByte(':')
	}
	if u.Opaque != "" {
		b.WriteString(u.Opaque)
	} else {
		if u.Host != "" || u.User != nil {
			b.WriteString("//")
			if u.User != nil {
				b.WriteString(u.User.String())
				b.WriteByte('@')
			}
			b.WriteString(strings.ToLower(u.Host))
		}
		b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	}
	if q := filterQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// filterQuery drops tracking parameters from a raw query string and re-encodes
// the rest in their original order. Pairs without '=' are kept with an empty value.
func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawVal, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			key = rawKey
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			val = rawVal
		}
		if isTracking(key) {
			continue
		}
		kept = append(kept, url.QueryEscape(key)+"="+url.QueryEscape(val))
	}
	return strings.Join(kept, "&")
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}
