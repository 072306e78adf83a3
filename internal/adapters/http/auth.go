package httpadapter

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kirillkom/rbac-assistant/internal/config"
	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// Principal is the authenticated caller.
type Principal struct {
	Username string
	Role     string
}

type principalContextKey struct{}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// UserStore verifies basic-auth credentials against the access policy users.
type UserStore struct {
	users map[string]config.User
}

func NewUserStore(users map[string]config.User) *UserStore {
	out := make(map[string]config.User, len(users))
	for name, u := range users {
		out[name] = u
	}
	return &UserStore{users: out}
}

func (s *UserStore) Authenticate(username, password string) (Principal, error) {
	user, ok := s.users[username]
	if !ok || !passwordMatches(user, password) {
		return Principal{}, domain.WrapError(domain.ErrUnauthorized, "authenticate", errors.New("invalid credentials"))
	}
	return Principal{Username: username, Role: domain.NormalizeRole(user.Role)}, nil
}

func passwordMatches(user config.User, password string) bool {
	if user.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) == 1
}

func (rt *Router) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || strings.TrimSpace(username) == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="rbac-assistant"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
			return
		}
		principal, err := rt.users.Authenticate(username, password)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="rbac-assistant"`)
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalContextKey{}, principal)))
	}
}

func (rt *Router) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return rt.authenticated(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := principalFromContext(r.Context())
		if principal.Role != role {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "endpoint is restricted to role " + role})
			return
		}
		next(w, r)
	})
}
