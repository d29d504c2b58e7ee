// Package routeguard gates page routes on the persisted wallet-connected
// flag.
package routeguard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"AuditFi/internal/session"
	loggerpkg "AuditFi/pkg/logger"
)

// RedirectParam carries the original target to the connect page.
const RedirectParam = "redirect"

var defaultExcludedPrefixes = []string{"/api/", "/static/", "/_next/", "/metrics", "/favicon.ico"}

var assetExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".map": {}, ".png": {}, ".jpg": {}, ".jpeg": {},
	".gif": {}, ".svg": {}, ".ico": {}, ".webp": {}, ".woff": {}, ".woff2": {},
	".ttf": {}, ".txt": {}, ".json": {},
}

// Config describes which routes are public.
type Config struct {
	ConnectPath      string
	PublicPaths      []string
	ExcludedPrefixes []string
}

// Decision is the outcome of evaluating a route.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Guard evaluates page requests against the connected flag.
type Guard struct {
	connectPath string
	public      []string
	excluded    []string
}

// New builds a Guard. "/" and the connect page are always public.
func New(cfg Config) *Guard {
	connect := cfg.ConnectPath
	if connect == "" {
		connect = "/wallet"
	}
	public := []string{"/", connect}
	for _, p := range cfg.PublicPaths {
		if p = strings.TrimSpace(p); p != "" {
			public = append(public, p)
		}
	}
	excluded := cfg.ExcludedPrefixes
	if len(excluded) == 0 {
		excluded = defaultExcludedPrefixes
	}
	return &Guard{connectPath: connect, public: public, excluded: excluded}
}

// ConnectPath returns the wallet-connect page.
func (g *Guard) ConnectPath() string {
	return g.connectPath
}

// Excluded reports whether p bypasses the guard entirely.
func (g *Guard) Excluded(p string) bool {
	for _, prefix := range g.excluded {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	_, ok := assetExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// Public reports whether p is reachable without a connected wallet. Public
// entries other than "/" match their sub-paths as well.
func (g *Guard) Public(p string) bool {
	for _, pub := range g.public {
		if p == pub {
			return true
		}
		if pub != "/" && strings.HasPrefix(p, strings.TrimSuffix(pub, "/")+"/") {
			return true
		}
	}
	return false
}

// Evaluate decides a request for target (path plus optional query).
func (g *Guard) Evaluate(target string, connected bool) Decision {
	p := target
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		p = "/"
	}
	if connected || g.Excluded(p) || g.Public(p) {
		return Decision{Allow: true}
	}
	q := url.Values{RedirectParam: []string{target}}
	return Decision{RedirectTo: g.connectPath + "?" + q.Encode()}
}

// FlagSource reports the connected flag for a request.
type FlagSource func(r *http.Request) bool

// CookieOrStore trusts the cookie first and falls back to the server-side
// flag store.
func CookieOrStore(store session.Flag, logger *slog.Logger) FlagSource {
	if logger == nil {
		logger = loggerpkg.Named("routeguard")
	}
	return func(r *http.Request) bool {
		if session.CookieConnected(r) {
			return true
		}
		if store == nil {
			return false
		}
		ok, err := store.Connected(r.Context())
		if err != nil {
			logger.Warn("read connected flag failed", "error", err)
			return false
		}
		return ok
	}
}

// Middleware redirects unauthenticated page requests to the connect page.
func (g *Guard) Middleware(source FlagSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.Excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			connected := source != nil && source(r)
			d := g.Evaluate(r.URL.RequestURI(), connected)
			if !d.Allow {
				http.Redirect(w, r, d.RedirectTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithConnected(r.Context(), connected)))
		})
	}
}

// PendingRedirect extracts the redirect target from a connect page request.
// Only same-site absolute paths are returned.
func PendingRedirect(r *http.Request) string {
	return Sanitize(r.URL.Query().Get(RedirectParam))
}

// Sanitize returns target when it is a same-site absolute path, else "".
func Sanitize(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return target
}

type contextKey struct{}

// WithConnected stores the evaluated flag on ctx for downstream handlers.
func WithConnected(ctx context.Context, connected bool) context.Context {
	return context.WithValue(ctx, contextKey{}, connected)
}

// ConnectedFrom reads the flag stored by WithConnected.
func ConnectedFrom(ctx context.Context) bool {
	v, _ := ctx.Value(contextKey{}).(bool)
	return v
}
