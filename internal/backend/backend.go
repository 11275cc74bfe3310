// Package backend selects the copier and data manipulator that handle a
// (source scheme, replica scheme) pair.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-table-replicator/internal/copier"
	"github.com/withObsrvr/obsrvr-table-replicator/internal/storage"
)

var (
	// ErrUnsupportedSchemePair is returned when no backend claims a pair.
	ErrUnsupportedSchemePair = errors.New("unsupported scheme pair")

	// ErrAmbiguousSchemePair is returned when more than one backend claims a pair.
	ErrAmbiguousSchemePair = errors.New("ambiguous scheme pair")
)

// Backend is one row of the selection table.
type Backend struct {
	Name string

	// Supports is evaluated over lower-cased schemes. The pair is ordered.
	Supports func(sourceScheme, replicaScheme string) bool

	NewCopier          func(opener *storage.Opener, opts copier.Options) (copier.Copier, error)
	NewDataManipulator func(opener *storage.Opener) storage.DataManipulator
}

// Registry is an ordered list of backends.
type Registry struct {
	backends []Backend
}

// NewRegistry returns a registry holding the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register appends a backend.
func (r *Registry) Register(b Backend) {
	r.backends = append(r.backends, b)
}

// Backends returns the registered backends in registration order.
func (r *Registry) Backends() []Backend {
	return append([]Backend(nil), r.backends...)
}

// Select returns the single backend that claims the pair.
func (r *Registry) Select(sourceScheme, replicaScheme string) (Backend, error) {
	src := strings.ToLower(sourceScheme)
	dst := strings.ToLower(replicaScheme)

	var matches []Backend
	for _, b := range r.backends {
		if b.Supports(src, dst) {
			matches = append(matches, b)
		}
	}

	switch len(matches) {
	case 0:
		return Backend{}, fmt.Errorf("select backend for %q -> %q: %w", src, dst, ErrUnsupportedSchemePair)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, b := range matches {
			names[i] = b.Name
		}
		return Backend{}, fmt.Errorf("select backend for %q -> %q: %w: claimed by %s",
			src, dst, ErrAmbiguousSchemePair, strings.Join(names, ", "))
	}
}

// SelectFor selects on the schemes of two location URIs.
func (r *Registry) SelectFor(sourceLocation, replicaLocation string) (Backend, error) {
	return r.Select(storage.Scheme(sourceLocation), storage.Scheme(replicaLocation))
}
