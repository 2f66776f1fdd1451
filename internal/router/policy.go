package router

import (
	"net/http"
	"slices"
	"strings"

	"github.com/ovaphlow/docnet/internal/metrics"
	"github.com/ovaphlow/docnet/internal/principal"
	"github.com/ovaphlow/docnet/internal/user/entity"
)

type accessKind int

const (
	accessAuthenticated accessKind = iota
	accessPublic
	accessSelf
	accessRole
)

// Access is the requirement a route places on the request principal.
// The zero value requires an authenticated principal.
type Access struct {
	kind accessKind
	role entity.Role
}

var (
	Public        = Access{kind: accessPublic}
	Authenticated = Access{kind: accessAuthenticated}
	// SelfAuthenticated routes validate the bearer token in the handler.
	SelfAuthenticated = Access{kind: accessSelf}
)

// RequiresRole admits only principals holding role.
func RequiresRole(role entity.Role) Access {
	return Access{kind: accessRole, role: role}
}

func (a Access) String() string {
	switch a.kind {
	case accessPublic:
		return "public"
	case accessSelf:
		return "self"
	case accessRole:
		return "role:" + string(a.role)
	default:
		return "authenticated"
	}
}

// Decide returns the status to answer for p under a, or 0 when the request
// may proceed.
func (a Access) Decide(p *principal.Principal) int {
	switch a.kind {
	case accessPublic, accessSelf:
		return 0
	case accessRole:
		if p == nil {
			return http.StatusUnauthorized
		}
		if !p.HasRole(a.role) {
			return http.StatusForbidden
		}
		return 0
	default:
		if p == nil {
			return http.StatusUnauthorized
		}
		return 0
	}
}

// Route is one row of the route table.
type Route struct {
	Method  string
	Pattern string
	Access  Access
	Handler http.HandlerFunc
}

// Gate enforces each route's Access before its handler runs. A known path
// requested with an unsupported method is answered 405, behind Public when
// any route on the path is public and Authenticated otherwise. Requests
// matching no path are treated as Authenticated and then answered 404.
type Gate struct {
	metrics *metrics.Metrics
}

func NewGate(m *metrics.Metrics) *Gate { return &Gate{metrics: m} }

// Handler builds the mux for routes.
func (g *Gate) Handler(routes []Route) http.Handler {
	mux := http.NewServeMux()
	allowed := make(map[string][]string)
	fallback := make(map[string]Access)
	for _, rt := range routes {
		mux.Handle(rt.Method+" "+rt.Pattern, g.guard(rt.Access, rt.Handler))
		allowed[rt.Pattern] = append(allowed[rt.Pattern], rt.Method)
		if rt.Access.kind == accessPublic {
			fallback[rt.Pattern] = Public
		} else if _, ok := fallback[rt.Pattern]; !ok {
			fallback[rt.Pattern] = Authenticated
		}
	}
	// a method-qualified pattern outranks the bare path, so these only
	// catch the methods no route serves
	for pattern, methods := range allowed {
		mux.Handle(pattern, g.guard(fallback[pattern], methodNotAllowed(methods)))
	}
	mux.Handle("/", g.guard(Authenticated, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}))
	return mux
}

func methodNotAllowed(methods []string) http.HandlerFunc {
	allow := slices.Clone(methods)
	if slices.Contains(allow, http.MethodGet) && !slices.Contains(allow, http.MethodHead) {
		allow = append(allow, http.MethodHead)
	}
	slices.Sort(allow)
	header := strings.Join(slices.Compact(allow), ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", header)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (g *Gate) guard(a Access, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := a.Decide(principal.From(r.Context())); status != 0 {
			if status == http.StatusUnauthorized {
				g.metrics.AccessDecision("unauthenticated")
			} else {
				g.metrics.AccessDecision("forbidden")
			}
			writeJSON(w, status, map[string]string{"error": "access denied"})
			return
		}
		g.metrics.AccessDecision("allow")
		next(w, r)
	})
}
