// internal/handlers/auth.go
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/middleware"
	"github.com/pencilparty/pencilparty/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultNickname = "Player"
	defaultAvatar   = "/static/logo.png"
	defaultGender   = "secret"
)

type loginRequest struct {
	OpenID   string `json:"openid"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Platform string `json:"platform"`
}

type sessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         interface{} `json:"user"`
}

// login creates the user on first sight of an openid and returns a fresh token pair.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.OpenID = strings.TrimSpace(req.OpenID)
	if req.OpenID == "" {
		s.fail(w, r, api.BadRequest(api.CodeOpenIDMissing, "openid is required"))
		return
	}
	if req.Platform == "" {
		req.Platform = "unknown"
	}

	ctx := r.Context()
	log := s.Log.WithFields(logrus.Fields{"platform": req.Platform})

	u, err := s.Store.GetUserByOpenID(ctx, req.OpenID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		u = &models.User{
			OpenID:   req.OpenID,
			Nickname: firstNonEmpty(req.Nickname, defaultNickname),
			Avatar:   firstNonEmpty(req.Avatar, defaultAvatar),
			Gender:   defaultGender,
		}
		err = s.Store.CreateUser(ctx, u)
		if errors.Is(err, database.ErrConflict) {
			// a concurrent login registered the same openid first
			u, err = s.Store.GetUserByOpenID(ctx, req.OpenID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		log.WithField("user_id", u.ID).Info("user registered")

	case err != nil:
		s.fail(w, r, err)
		return

	default:
		if !u.Active() {
			s.fail(w, r, api.Unauthorized(api.CodeUserBanned, "user account is disabled"))
			return
		}
		if err := s.Store.TouchLastLogin(ctx, u.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		var patch models.ProfilePatch
		if req.Nickname != "" && req.Nickname != u.Nickname {
			patch.Nickname = &req.Nickname
		}
		if req.Avatar != "" && req.Avatar != u.Avatar {
			patch.Avatar = &req.Avatar
		}
		if !patch.Empty() {
			if err := s.Store.UpdateProfile(ctx, u.ID, patch); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		if u, err = s.Store.GetUserByID(ctx, u.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		log.WithField("user_id", u.ID).Info("user logged in")
	}

	pair, err := s.Issuer.IssuePair(u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, "login successful", sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         u,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresh rotates a refresh token into a new pair. The presented token is not revoked.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		s.fail(w, r, api.BadRequest(api.CodeRefreshTokenMissing, "refresh token is required"))
		return
	}

	userID, pair, err := s.Issuer.Refresh(req.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		s.fail(w, r, api.Unauthorized(api.CodeRefreshTokenExpired, "refresh token expired"))
		return
	case errors.Is(err, auth.ErrTokenMalformed):
		s.fail(w, r, api.Forbidden(api.CodeInvalidRefreshToken, "invalid refresh token"))
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}

	u, err := s.Store.GetUserByID(r.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		s.fail(w, r, api.Unauthorized(api.CodeUserNotFound, "user not found"))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !u.Active() {
		s.fail(w, r, api.Unauthorized(api.CodeUserBanned, "user account is disabled"))
		return
	}

	api.WriteJSON(w, http.StatusOK, "token refreshed", sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         u.Summary(),
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())
	api.WriteJSON(w, http.StatusOK, "", map[string]interface{}{"user": u})
}

type profileRequest struct {
	Nickname    *string                  `json:"nickname"`
	Avatar      *string                  `json:"avatar"`
	Gender      *string                  `json:"gender"`
	Birthday    *string                  `json:"birthday"`
	Signature   *string                  `json:"signature"`
	Preferences *models.PreferencesPatch `json:"preferences"`
}

func (req profileRequest) patch() (models.ProfilePatch, error) {
	p := models.ProfilePatch{
		Nickname:  req.Nickname,
		Avatar:    req.Avatar,
		Gender:    req.Gender,
		Signature: req.Signature,
	}
	if p.Nickname != nil {
		n := strings.TrimSpace(*p.Nickname)
		if n == "" || utf8.RuneCountInString(n) > 50 {
			return p, api.BadRequest(api.CodeValidation, "nickname must be 1 to 50 characters")
		}
		p.Nickname = &n
	}
	if p.Gender != nil {
		switch *p.Gender {
		case "male", "female", "secret":
		default:
			return p, api.BadRequest(api.CodeValidation, "gender must be male, female or secret")
		}
	}
	if p.Signature != nil && utf8.RuneCountInString(*p.Signature) > 200 {
		return p, api.BadRequest(api.CodeValidation, "signature must be at most 200 characters")
	}
	if req.Birthday != nil {
		b, err := parseBirthday(*req.Birthday)
		if err != nil {
			return p, api.BadRequest(api.CodeValidation, "birthday must be YYYY-MM-DD")
		}
		p.Birthday = &b
	}
	return p, nil
}

func parseBirthday(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// updateProfile applies profile fields and preference changes, then returns the stored user.
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())

	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	if !patch.Empty() {
		if err := s.Store.UpdateProfile(ctx, u.ID, patch); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Preferences != nil {
		if err := s.Store.SavePreferences(ctx, u.ID, req.Preferences.Apply(u.Preferences)); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	updated, err := s.Store.GetUserByID(ctx, u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, "profile updated", map[string]interface{}{"user": updated})
}

// logout is an acknowledgement only; tokens are stateless and the client discards them.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, "logged out", nil)
}

// deleteAccount soft-deletes the caller. The row is kept with status inactive.
func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())
	if err := s.Store.SoftDeleteUser(r.Context(), u.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.Log.WithField("user_id", u.ID).Info("account deactivated")
	api.WriteJSON(w, http.StatusOK, "account deleted", nil)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
