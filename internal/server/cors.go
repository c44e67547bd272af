package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rs/cors"
)

// originSet is an immutable snapshot of allowed origins.
type originSet struct {
	any     bool
	origins map[string]struct{}
	hosts   []string // websocket origin patterns
}

// originPolicy holds the allowed browser origins and can be swapped while
// serving.
type originPolicy struct {
	cur atomic.Pointer[originSet]
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{}
	p.set(origins)
	return p
}

func (p *originPolicy) set(origins []string) {
	s := &originSet{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			s.any = true
			s.hosts = []string{"*"}
			continue
		}
		s.origins[o] = struct{}{}
		if u, err := url.Parse(o); err == nil && u.Host != "" && !s.any {
			s.hosts = append(s.hosts, u.Host)
		}
	}
	p.cur.Store(s)
}

// allowed reports whether a browser at origin may call the API.
func (p *originPolicy) allowed(origin string) bool {
	s := p.cur.Load()
	if s.any {
		return true
	}
	_, ok := s.origins[strings.ToLower(origin)]
	return ok
}

// wsPatterns returns host patterns for websocket origin checks.
func (p *originPolicy) wsPatterns() []string {
	return p.cur.Load().hosts
}

func (p *originPolicy) handler(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc:  p.allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(next)
}
