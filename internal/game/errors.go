package game

import "errors"

var (
	// ErrInvalidGameType is returned by Start for an unknown or disabled game type.
	ErrInvalidGameType = errors.New("invalid game type")
	// ErrRecordNotFound is returned by Finish when the game id matches nothing.
	ErrRecordNotFound = errors.New("game record not found")
	// ErrPermissionDenied is returned when the caller does not own the record.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAlreadyFinished is returned when the record has left the playing state.
	ErrAlreadyFinished = errors.New("game already finished")
	// ErrSettlementFailed wraps any failure inside the settlement transaction. Nothing was applied.
	ErrSettlementFailed = errors.New("settlement failed")
	// ErrInvalidInput wraps validation failures on finish parameters.
	ErrInvalidInput = errors.New("invalid input")
)
