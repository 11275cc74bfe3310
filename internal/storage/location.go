package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrInvalidLocation is returned for URIs that cannot address storage.
var ErrInvalidLocation = errors.New("invalid storage location")

// Location is a parsed storage URI. The scheme identifies the backend and is
// always lower case; Host is the bucket or namenode address.
type Location struct {
	Scheme string
	Host   string
	Path   string // always absolute, no trailing slash
}

// ParseLocation parses a storage URI such as s3://bucket/db/table.
func ParseLocation(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w: %w", uri, ErrInvalidLocation, err)
	}
	if u.Scheme == "" {
		return Location{}, fmt.Errorf("parse %q: %w: missing scheme", uri, ErrInvalidLocation)
	}
	p := path.Clean("/" + u.Path)
	return Location{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Host,
		Path:   p,
	}, nil
}

// MustParseLocation is ParseLocation for constant inputs; it panics on error.
func MustParseLocation(uri string) Location {
	l, err := ParseLocation(uri)
	if err != nil {
		panic(err)
	}
	return l
}

// Scheme returns the lower-cased scheme of uri, or "" when it has none.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (l Location) String() string {
	if l.Path == "/" {
		return l.Scheme + "://" + l.Host
	}
	return l.Scheme + "://" + l.Host + l.Path
}

// Key is the object key of the location within its bucket.
func (l Location) Key() string {
	return strings.TrimPrefix(l.Path, "/")
}

// Join appends path elements.
func (l Location) Join(elem ...string) Location {
	l.Path = path.Join(append([]string{l.Path}, elem...)...)
	return l
}

// Parent returns the enclosing location.
func (l Location) Parent() Location {
	l.Path = path.Dir(l.Path)
	return l
}

// Base returns the last path element.
func (l Location) Base() string {
	return path.Base(l.Path)
}

// IsDescendantOf reports whether l equals base or lies beneath it.
func (l Location) IsDescendantOf(base Location) bool {
	_, ok := l.Rel(base)
	return ok
}

// Rel returns the path of l relative to base.
func (l Location) Rel(base Location) (string, bool) {
	if l.Scheme != base.Scheme || l.Host != base.Host {
		return "", false
	}
	if l.Path == base.Path {
		return "", true
	}
	prefix := base.Path
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(l.Path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(l.Path, prefix), true
}
