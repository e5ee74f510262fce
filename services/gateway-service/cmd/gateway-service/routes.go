package main

import (
	"embed"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/md-rashed-zaman/apptdesk/libs/auth"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

//go:embed assets/gateway.v1.yaml
var openAPISpec embed.FS

var identityHeaders = []string{"X-User-Id", "X-Business-Id", "X-Role"}

var adminRoles = []string{"owner", "admin", "staff"}

type upstreams struct {
	Auth       *url.URL
	Scheduling *url.URL
}

func registerRoutes(mux *http.ServeMux, up upstreams, verifier auth.Verifier) {
	authProxy := newProxy(up.Auth)
	schedulingProxy := newProxy(up.Scheduling)

	registerProxy(mux, "/api/v1/auth", stripIdentity(authProxy))
	registerProxy(mux, "/api/v1/public", stripIdentity(schedulingProxy))
	registerProxy(mux, "/api/v1/public/book", requireAuth(schedulingProxy, verifier))
	registerProxy(mux, "/api/v1/admin", requireAuth(requireRole(schedulingProxy, adminRoles...), verifier))
	registerProxy(mux, "/.well-known/jwks.json", authProxy)

	mux.HandleFunc("/openapi", func(w http.ResponseWriter, _ *http.Request) {
		data, err := openAPISpec.ReadFile("assets/gateway.v1.yaml")
		if err != nil {
			http.Error(w, "openapi not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func newProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = otelhttp.NewTransport(http.DefaultTransport)
	return proxy
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// stripIdentity drops identity headers a client may have supplied itself.
func stripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range identityHeaders {
			r.Header.Del(h)
		}
		next.ServeHTTP(w, r)
	})
}

func requireAuth(next http.Handler, verifier auth.Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		for _, h := range identityHeaders {
			r.Header.Del(h)
		}
		r.Header.Set("X-User-Id", claims.Sub)
		r.Header.Set("X-Business-Id", claims.BusinessID)
		r.Header.Set("X-Role", claims.Role)
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role")
		if _, ok := allowed[role]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenVerifier sends RS256 tokens to the JWKS verifier and the rest to the shared secret.
type tokenVerifier struct {
	hs256 auth.Verifier
	rs256 auth.Verifier
}

func (v tokenVerifier) Verify(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	switch {
	case header.Alg == "RS256" && v.rs256 != nil:
		return v.rs256.Verify(token)
	case header.Alg == "HS256" && v.hs256 != nil:
		return v.hs256.Verify(token)
	default:
		return nil, auth.ErrInvalidToken
	}
}
