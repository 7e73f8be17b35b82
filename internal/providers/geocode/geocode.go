// Package geocode resolves GPS fixes to human-readable addresses. The
// geocoder is an external collaborator; attribution never depends on it.
package geocode

import "context"

type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (address string, err error)
}
