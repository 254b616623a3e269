// Package location produces the geocoded position attached to transactions.
package location

import (
	"context"

	"dosmangos/internal/core"
)

// Authorization is the user's decision about sharing their position.
type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	AuthorizationDenied
	AuthorizationRestricted
	AuthorizationWhenInUse
	AuthorizationAlways
)

// Granted reports whether position fixes may be requested.
func (a Authorization) Granted() bool {
	return a == AuthorizationWhenInUse || a == AuthorizationAlways
}

func (a Authorization) String() string {
	switch a {
	case AuthorizationDenied:
		return "denied"
	case AuthorizationRestricted:
		return "restricted"
	case AuthorizationWhenInUse:
		return "when_in_use"
	case AuthorizationAlways:
		return "always"
	default:
		return "not_determined"
	}
}

type EventKind int

const (
	DidChangeAuthorization EventKind = iota
	DidUpdateLocations
	DidFail
)

// Event is one message on a Manager's event stream.
type Event struct {
	Kind          EventKind
	Locations     []core.Coordinate
	Authorization Authorization
	Err           error
}

// Manager is the device location service.
type Manager interface {
	ServicesEnabled(ctx context.Context) bool
	Authorization(ctx context.Context) Authorization
	// Subscribe starts delivering events. The returned function stops
	// delivery; the channel is closed when the stream ends.
	Subscribe() (<-chan Event, func())
	// RequestLocation asks for one fix, delivered as a DidUpdateLocations
	// or DidFail event.
	RequestLocation(ctx context.Context) error
}

// Geocoder turns a coordinate into a place.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c core.Coordinate) (core.Placemark, error)
}

// GeocoderFunc adapts a function to Geocoder.
type GeocoderFunc func(ctx context.Context, c core.Coordinate) (core.Placemark, error)

func (f GeocoderFunc) ReverseGeocode(ctx context.Context, c core.Coordinate) (core.Placemark, error) {
	return f(ctx, c)
}
