package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/middleware"
	"github.com/sirupsen/logrus"
)

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return api.NewError(http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge, "request body too large")
	}
	return api.BadRequest(api.CodeInvalidJSON, "malformed JSON body")
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, api.BadRequest(api.CodeValidation, key+" must be a non-negative integer")
	}
	return v, nil
}

func writeRaw(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail renders err. *api.Error values pass through, domain errors map to their codes, and
// anything else is logged and returned as a sanitized 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		api.WriteError(w, apiErr)
		return
	}

	switch {
	case errors.Is(err, game.ErrInvalidGameType):
		api.WriteError(w, api.BadRequest(api.CodeInvalidGameType, "game type does not exist or is disabled"))
		return
	case errors.Is(err, game.ErrPermissionDenied), errors.Is(err, game.ErrRecordNotFound):
		api.WriteError(w, api.Forbidden(api.CodePermissionDenied, "no permission to modify this game record"))
		return
	case errors.Is(err, game.ErrAlreadyFinished):
		api.WriteError(w, api.BadRequest(api.CodeGameAlreadyFinished, "game already finished"))
		return
	case errors.Is(err, game.ErrInvalidInput):
		api.WriteError(w, api.BadRequest(api.CodeValidation, err.Error()))
		return
	}

	s.Log.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFrom(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")

	code, msg := api.CodeInternal, "internal server error"
	if errors.Is(err, game.ErrSettlementFailed) {
		code, msg = api.CodeGameFinishFailed, "failed to finish game"
	}
	if s.Dev {
		msg = err.Error()
	}
	api.WriteError(w, api.NewError(http.StatusInternalServerError, code, msg))
}
