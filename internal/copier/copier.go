// Package copier moves table data from a source location to a replica
// location and reports lifecycle events to listeners.
package copier

import (
	"context"
	"errors"
	"fmt"
)

// ErrCopyFailed is matched by every error a Copier returns.
var ErrCopyFailed = errors.New("copy failed")

// CopyError carries the cause of a failed copy. It unwraps to both
// ErrCopyFailed and the cause.
type CopyError struct {
	Source  string
	Replica string
	Err     error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s -> %s: %v", e.Source, e.Replica, e.Err)
}

func (e *CopyError) Unwrap() []error {
	return []error{ErrCopyFailed, e.Err}
}

// Copier copies the data described by a Context.
type Copier interface {
	Copy(ctx context.Context, cc Context) (Metrics, error)
}

// Listener observes copier lifecycle. CopierEnd is called exactly once for
// every CopierStart, including when the copy fails.
type Listener interface {
	CopierStart(copierName string)
	CopierEnd(m Metrics)
}

// Listeners fans notifications out to several listeners in order.
type Listeners []Listener

func (ls Listeners) CopierStart(name string) {
	for _, l := range ls {
		l.CopierStart(name)
	}
}

func (ls Listeners) CopierEnd(m Metrics) {
	for _, l := range ls {
		l.CopierEnd(m)
	}
}

// NopListener ignores all notifications.
type NopListener struct{}

func (NopListener) CopierStart(string) {}
func (NopListener) CopierEnd(Metrics)  {}

// Run wraps a copy with listener notifications. The end notification is
// deferred so it fires on error and on panic as well.
func Run(ctx context.Context, name string, c Copier, l Listener, cc Context) (m Metrics, err error) {
	if l == nil {
		l = NopListener{}
	}
	l.CopierStart(name)
	defer func() { l.CopierEnd(m) }()

	if err = cc.Validate(); err != nil {
		return Metrics{}, &CopyError{Source: cc.SourceBaseLocation, Replica: cc.ReplicaLocation, Err: err}
	}

	m, err = c.Copy(ctx, cc)
	if err != nil && !errors.Is(err, ErrCopyFailed) {
		err = &CopyError{Source: cc.SourceBaseLocation, Replica: cc.ReplicaLocation, Err: err}
	}
	return m, err
}
