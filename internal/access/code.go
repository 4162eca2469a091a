package access

import (
	"net/http"
	"strings"
)

// HeaderAccessCode carries an access code on API requests.
const HeaderAccessCode = "x-access-code"

// CookieName returns the per-event cookie holding a remembered access code.
func CookieName(eventCode string) string {
	return "evt:" + eventCode + ":access"
}

// CodeFromRequest picks the effective access code: explicit value, then
// the x-access-code header, then the event's cookie.
func CodeFromRequest(r *http.Request, explicit, eventCode string) string {
	if code := strings.TrimSpace(explicit); code != "" {
		return code
	}
	if r == nil {
		return ""
	}
	if code := strings.TrimSpace(r.Header.Get(HeaderAccessCode)); code != "" {
		return code
	}
	if eventCode == "" {
		return ""
	}
	return strings.TrimSpace(cookieValue(r, CookieName(eventCode)))
}

// cookieValue reads the raw Cookie header. net/http drops cookie names
// containing ':' so r.Cookie cannot find evt:<code>:access.
func cookieValue(r *http.Request, name string) string {
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || k != name {
				continue
			}
			return strings.Trim(v, `"`)
		}
	}
	return ""
}
