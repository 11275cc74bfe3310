// Package batch splits large identifier lists into catalog-safe chunks.
package batch

import (
	"errors"
	"fmt"
)

// DefaultSize is the largest number of partition names the catalog accepts
// in a single metadata call.
const DefaultSize = 1000

// ErrInvalidSize is returned when a batch size is not positive.
var ErrInvalidSize = errors.New("batch size must be positive")

// Split divides items into consecutive batches of at most size elements.
// The concatenation of the returned batches equals items.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end:end])
	}
	return batches, nil
}

// ForEach runs op once per batch, in input order, and concatenates the
// results. The first failing batch stops processing; later batches are
// never submitted.
func ForEach[T, R any](items []T, size int, op func(batch []T) ([]R, error)) ([]R, error) {
	batches, err := Split(items, size)
	if err != nil {
		return nil, err
	}

	var out []R
	for i, b := range batches {
		res, err := op(b)
		if err != nil {
			return out, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		out = append(out, res...)
	}
	return out, nil
}
