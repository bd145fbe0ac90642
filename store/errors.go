package store

import "errors"

var (
	ErrValidation          = errors.New("store: validation failed")
	ErrNotFound            = errors.New("store: not found")
	ErrUnknownReference    = errors.New("store: unknown payment reference")
	ErrAlreadySettled      = errors.New("store: already settled")
	ErrDuplicateReference  = errors.New("store: duplicate payment reference")
	ErrProviderUnavailable = errors.New("store: payment provider unavailable")
	ErrInternal            = errors.New("store: internal error")
)

func IsValidation(err error) bool     { return errors.Is(err, ErrValidation) }
func IsAlreadySettled(err error) bool { return errors.Is(err, ErrAlreadySettled) }
