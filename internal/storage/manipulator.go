package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrDeletionFailed is matched by every error a DataManipulator returns.
var ErrDeletionFailed = errors.New("deletion failed")

// DeletionError reports a failed recursive delete. It unwraps to both
// ErrDeletionFailed and the underlying cause.
type DeletionError struct {
	Location string
	Err      error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Location, e.Err)
}

func (e *DeletionError) Unwrap() []error {
	return []error{ErrDeletionFailed, e.Err}
}

// DataManipulator recursively deletes the data under a location.
type DataManipulator interface {
	Delete(ctx context.Context, location string) error
}

// Manipulator deletes data through the stores of an Opener.
type Manipulator struct {
	opener *Opener
	logger *slog.Logger
}

// NewManipulator returns a Manipulator backed by opener.
func NewManipulator(opener *Opener) *Manipulator {
	return &Manipulator{
		opener: opener,
		logger: slog.Default().With("component", "data_manipulator"),
	}
}

// Delete removes everything at and beneath location.
func (m *Manipulator) Delete(ctx context.Context, location string) error {
	loc, err := ParseLocation(location)
	if err != nil {
		return &DeletionError{Location: location, Err: err}
	}
	if loc.Key() == "" {
		return &DeletionError{Location: location, Err: fmt.Errorf("refusing to delete bucket root")}
	}

	store, err := m.opener.Open(ctx, loc)
	if err != nil {
		return &DeletionError{Location: location, Err: err}
	}
	if err := store.RemoveAll(ctx, loc.Key()); err != nil {
		return &DeletionError{Location: location, Err: err}
	}

	m.logger.Info("deleted data", "location", location)
	return nil
}

var _ DataManipulator = (*Manipulator)(nil)
