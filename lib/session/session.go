// Package session holds the mutable state a multi-step county workflow
// threads between its HTTP channel and its browser channel: the cookie set
// and the opaque anti-forgery/viewstate tokens the server expects echoed on
// every request. One Session is owned by exactly one driver for the lifetime
// of a scrape run; it is passed explicitly, never ambient.
package session

import (
	"net/http"
	"net/url"
)

type Session struct {
	cookies map[string]*http.Cookie
	tokens  map[string]string
}

func New() *Session {
	return &Session{
		cookies: map[string]*http.Cookie{},
		tokens:  map[string]string{},
	}
}

// MergeTokens folds tokens captured from a response into the session. New
// values overwrite, keys absent from the capture keep their previous value.
func (s *Session) MergeTokens(captured map[string]string) {
	for name, value := range captured {
		s.tokens[name] = value
	}
}

// Token returns the current value of a token, or "" when it was never
// captured. A missing token is not fatal; the server gets to reject it.
func (s *Session) Token(name string) string {
	return s.tokens[name]
}

func (s *Session) Tokens() map[string]string {
	out := make(map[string]string, len(s.tokens))
	for name, value := range s.tokens {
		out[name] = value
	}
	return out
}

// SetCookies records cookies observed on either channel, overwriting by
// name. Nil entries are skipped.
func (s *Session) SetCookies(cookies []*http.Cookie) {
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		s.cookies[c.Name] = c
	}
}

func (s *Session) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		out = append(out, c)
	}
	return out
}

// AbsorbJar pulls the cookies a cookie jar currently holds for base into the
// session, so state acquired on the HTTP channel becomes visible to the
// browser channel before the next step.
func (s *Session) AbsorbJar(jar http.CookieJar, base *url.URL) {
	if jar == nil || base == nil {
		return
	}
	s.SetCookies(jar.Cookies(base))
}

// FeedJar pushes the session's cookies into a cookie jar for base, the
// reverse direction of AbsorbJar.
func (s *Session) FeedJar(jar http.CookieJar, base *url.URL) {
	if jar == nil || base == nil {
		return
	}
	jar.SetCookies(base, s.Cookies())
}
