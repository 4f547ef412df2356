package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

// UserLoader is the user lookup bearer authentication needs.
type UserLoader interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Authenticator turns a bearer access token into the active user on the request context.
type Authenticator struct {
	issuer *auth.Issuer
	users  UserLoader
	log    *logrus.Logger
}

func NewAuthenticator(issuer *auth.Issuer, users UserLoader, logger *logrus.Logger) *Authenticator {
	return &Authenticator{issuer: issuer, users: users, log: logger}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Required rejects the request unless it carries a valid access token for an active user.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, apiErr := a.authenticate(r)
		if apiErr != nil {
			api.WriteError(w, apiErr)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// Optional attaches the user when the token checks out and otherwise carries on anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if BearerToken(r) != "" {
			if u, apiErr := a.authenticate(r); apiErr == nil {
				r = r.WithContext(WithUser(r.Context(), u))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*models.User, *api.Error) {
	token := BearerToken(r)
	if token == "" {
		return nil, api.Unauthorized(api.CodeTokenMissing, "access token missing")
	}

	userID, err := a.issuer.Verify(token, auth.AccessToken)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, api.Unauthorized(api.CodeTokenExpired, "access token expired")
	case err != nil:
		return nil, api.Forbidden(api.CodeInvalidToken, "invalid access token")
	}

	u, err := a.users.GetUserByID(r.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, api.Unauthorized(api.CodeUserNotFound, "user not found")
	}
	if err != nil {
		a.log.WithError(err).WithField("user_id", userID).Error("load authenticated user")
		return nil, api.Internal("internal server error")
	}
	if !u.Active() {
		return nil, api.Unauthorized(api.CodeUserBanned, "user account is disabled")
	}
	return u, nil
}

// WithUser stores u on ctx.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the user stored by Required or Optional.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey).(*models.User)
	return u, ok && u != nil
}
