// Package identity gives every browser an anonymous, cookie-backed owner ID
// so runs can be listed per device without accounts.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// OwnerCookieName holds the anonymous owner ID.
	OwnerCookieName = "briefsmith_owner"
	// OwnerHeaderName lets non-browser clients present an owner ID.
	OwnerHeaderName = "X-Briefsmith-Owner"

	ownerCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const ownerIDKey contextKey = iota

var ownerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// OwnerIDFromContext extracts the owner ID from the request context.
func OwnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOwnerID returns a context carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// NewOwnerID returns a fresh anonymous owner ID.
func NewOwnerID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsValidOwnerID reports whether id has the anonymous owner ID format.
func IsValidOwnerID(id string) bool {
	return ownerIDPattern.MatchString(id)
}

func ownerIDFromRequest(r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(OwnerHeaderName)); IsValidOwnerID(id) {
		return id, false
	}
	if c, err := r.Cookie(OwnerCookieName); err == nil && IsValidOwnerID(c.Value) {
		return c.Value, true
	}
	return "", false
}

func setOwnerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OwnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ownerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(ownerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects the anonymous owner ID, issuing or refreshing the
// cookie as needed.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, fromCookie := ownerIDFromRequest(r)
			switch {
			case id == "":
				id = NewOwnerID()
				setOwnerCookie(w, id, isDev)
			case fromCookie:
				setOwnerCookie(w, id, isDev)
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), id)))
		})
	}
}
