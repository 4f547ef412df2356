// Package api defines the JSON envelope exchanged between the server and its clients,
// along with the stable error codes both sides agree on.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Envelope wraps every response body.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error codes. These strings are part of the public contract and must not change.
const (
	CodeTokenMissing        = "TOKEN_MISSING"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeRefreshTokenMissing = "REFRESH_TOKEN_MISSING"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeUserBanned          = "USER_BANNED"
	CodeOpenIDMissing       = "OPENID_MISSING"

	CodeGameTypeMissing     = "GAME_TYPE_MISSING"
	CodeInvalidGameType     = "INVALID_GAME_TYPE"
	CodeGameIDMissing       = "GAME_ID_MISSING"
	CodeGameAlreadyFinished = "GAME_ALREADY_FINISHED"
	CodeGameFinishFailed    = "GAME_FINISH_FAILED"
	CodePermissionDenied    = "PERMISSION_DENIED"

	CodeValidation      = "VALIDATION_ERROR"
	CodeInvalidJSON     = "INVALID_JSON"
	CodeRateLimit       = "RATE_LIMIT_EXCEEDED"
	CodeNotFound        = "NOT_FOUND"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error is an error that knows how it should be rendered over HTTP.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// NewError builds an *Error.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(code, message string) *Error {
	return NewError(http.StatusBadRequest, code, message)
}

func Unauthorized(code, message string) *Error {
	return NewError(http.StatusUnauthorized, code, message)
}

func Forbidden(code, message string) *Error {
	return NewError(http.StatusForbidden, code, message)
}

func Internal(message string) *Error {
	return NewError(http.StatusInternalServerError, CodeInternal, message)
}

// WriteJSON writes a success envelope with data marshalled into it.
func WriteJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	env := Envelope{Success: true, Message: message}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			WriteError(w, Internal("failed to encode response"))
			return
		}
		env.Data = raw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// WriteError writes a failure envelope for e.
func WriteError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(Envelope{Success: false, Message: e.Message, Code: e.Code})
}
