package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCodeAlreadyUsed = errors.New("activation code already used")
	ErrCodeNotFound    = errors.New("activation code not found")
	ErrCodeExists      = errors.New("activation code already exists")

	// Activation outcomes surfaced to callers.
	ErrInvalidCode        = errors.New("invalid activation code")
	ErrAdminAlreadyExists = errors.New("an administrator already exists")
	ErrPersistence        = errors.New("persistence failure")
)

// PersistenceError reports a store write that failed after validation passed.
// It carries enough context to reconcile a partially applied activation by hand.
type PersistenceError struct {
	Store  string // codes | license | accounts
	Op     string
	Code   string
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s store %s failed (code=%s user=%s): %v", e.Store, e.Op, e.Code, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
