package webchat

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

// RouterOption configures optional dependencies for a Router.
type RouterOption func(*Router) error

func WithWebSocketUpgrader(u websocket.Upgrader) RouterOption {
	return func(r *Router) error {
		r.upgrader = u
		return nil
	}
}

// WithAllowedOrigins restricts websocket origins. "*" allows any origin; an empty list
// keeps gorilla's same-host check.
func WithAllowedOrigins(origins []string) RouterOption {
	return func(r *Router) error {
		r.upgrader.CheckOrigin = originChecker(origins)
		return nil
	}
}

func WithAILogStore(s chatstore.AILogStore) RouterOption {
	return func(r *Router) error {
		if s == nil {
			return errors.New("ai log store is nil")
		}
		r.logs = s
		return nil
	}
}

func WithWriteTimeout(d time.Duration) RouterOption {
	return func(r *Router) error {
		if d < 0 {
			return errors.New("write timeout is negative")
		}
		r.writeTimeout = d
		return nil
	}
}

func WithQueueSize(n int) RouterOption {
	return func(r *Router) error {
		if n <= 0 {
			return errors.New("queue size must be positive")
		}
		r.queueSize = n
		return nil
	}
}

func WithReadLimit(n int64) RouterOption {
	return func(r *Router) error {
		if n <= 0 {
			return errors.New("read limit must be positive")
		}
		r.readLimit = n
		return nil
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := map[string]struct{}{}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
