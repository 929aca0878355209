package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultCookieName is the cookie the browser client stores its access token in.
const DefaultCookieName = "access_token"

// Handshake is the raw metadata available when a connection or request arrives.
type Handshake struct {
	Query  url.Values
	Header http.Header
}

func HandshakeFromRequest(r *http.Request) Handshake {
	if r == nil {
		return Handshake{}
	}
	return Handshake{Query: r.URL.Query(), Header: r.Header}
}

type candidate struct {
	token  string
	source Source
}

// candidateToken returns the first usable credential. Connections read the query
// parameter, then the cookie. The request/response surface (allowBearer) reads the
// bearer header, then the cookie, and ignores the query string.
func candidateToken(hs Handshake, cookieName string, allowBearer bool) (candidate, bool) {
	if allowBearer {
		if tok := bearerToken(hs.Header); tok != "" {
			return candidate{token: tok, source: SourceHeader}, true
		}
	} else if tok := normalizeToken(hs.Query.Get("token")); tok != "" {
		return candidate{token: tok, source: SourceQuery}, true
	}
	if tok := cookieValue(hs.Header, cookieName); tok != "" {
		return candidate{token: tok, source: SourceCookie}, true
	}
	return candidate{}, false
}

// normalizeToken treats the literal strings a JS client produces for missing values as absent.
func normalizeToken(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "null", "undefined":
		return ""
	}
	return v
}

func bearerToken(h http.Header) string {
	if h == nil {
		return ""
	}
	v := strings.TrimSpace(h.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return normalizeToken(v[7:])
}

func cookieValue(h http.Header, name string) string {
	if h == nil || name == "" {
		return ""
	}
	// Request.Cookie skips malformed pairs instead of rejecting the whole header.
	c, err := (&http.Request{Header: h}).Cookie(name)
	if err != nil {
		return ""
	}
	return normalizeToken(c.Value)
}
