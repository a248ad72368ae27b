// Package cookie reads tokens from HTTP cookies.
//
// A Source looks a cookie up in an http.CookieJar for one URL, the way a
// browser exposes the cookies of the current page. LoadJar rehydrates a jar
// persisted as JSON so command line tools can share a browser session.
package cookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Source reads named cookies visible to a URL
type Source struct {
	jar http.CookieJar
	url *url.URL
}

// NewSource creates a cookie source for rawURL
func NewSource(jar http.CookieJar, rawURL string) (*Source, error) {
	if jar == nil {
		return nil, fmt.Errorf("cookie jar is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cookie URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("cookie URL must be absolute, got %q", rawURL)
	}
	return &Source{jar: jar, url: u}, nil
}

// Get returns the decoded value of the named cookie
func (s *Source) Get(name string) (string, bool) {
	for _, c := range s.jar.Cookies(s.url) {
		if c.Name == name {
			return decodeValue(c.Value), true
		}
	}
	return "", false
}

// RequestSource reads cookies sent with an incoming request
type RequestSource struct {
	req *http.Request
}

// FromRequest creates a cookie source over the cookies of req
func FromRequest(req *http.Request) *RequestSource {
	return &RequestSource{req: req}
}

// Get returns the decoded value of the named cookie
func (r *RequestSource) Get(name string) (string, bool) {
	c, err := r.req.Cookie(name)
	if err != nil {
		return "", false
	}
	return decodeValue(c.Value), true
}

// decodeValue undoes the percent-encoding browsers apply to cookie values.
// Values that are not valid percent-encoding are returned unchanged.
func decodeValue(value string) string {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

// NewJar creates an empty cookie jar using the public suffix list
func NewJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

type persistedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure"`
	HttpOnly bool      `json:"httpOnly"`
}

type jarSnapshot struct {
	Cookies []persistedCookie `json:"cookies"`
}

// LoadJar creates a cookie jar holding the cookies persisted at path.
// A missing file yields an empty jar; expired cookies are skipped.
func LoadJar(path string) (*cookiejar.Jar, error) {
	jar, err := NewJar()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return jar, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie jar: %w", err)
	}

	var snap jarSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse cookie jar: %w", err)
	}

	now := time.Now()
	for _, pc := range snap.Cookies {
		if !pc.Expires.IsZero() && now.After(pc.Expires) {
			continue
		}
		host := strings.TrimPrefix(pc.Domain, ".")
		if host == "" {
			return nil, fmt.Errorf("cookie %q has no domain", pc.Name)
		}
		path := pc.Path
		if path == "" {
			path = "/"
		}
		scheme := "http"
		if pc.Secure {
			scheme = "https"
		}
		c := &http.Cookie{
			Name:     pc.Name,
			Value:    pc.Value,
			Path:     path,
			Expires:  pc.Expires,
			Secure:   pc.Secure,
			HttpOnly: pc.HttpOnly,
		}
		// a leading dot marks a domain cookie, otherwise the cookie is host-only
		if strings.HasPrefix(pc.Domain, ".") {
			c.Domain = pc.Domain
		}
		jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: path}, []*http.Cookie{c})
	}
	return jar, nil
}
