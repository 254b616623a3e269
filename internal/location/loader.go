package location

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"dosmangos/internal/core"
	"dosmangos/internal/log"
)

// DefaultTimeout bounds one shared load, from request to geocoded result.
const DefaultTimeout = 30 * time.Second

// ErrLocationFailed is reported when the manager signals a failure without
// an underlying error.
var ErrLocationFailed = errors.New("location fix failed")

// Phase is where the shared load currently is.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseWaitingForFix
	PhaseGeocoding
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForFix:
		return "waiting_for_fix"
	case PhaseGeocoding:
		return "geocoding"
	default:
		return "idle"
	}
}

const flightKey = "current"

// Loader obtains the current geocoded location. Concurrent callers share one
// underlying load; once it finishes the next call starts a fresh one.
type Loader struct {
	manager  Manager
	geocoder Geocoder
	timeout  time.Duration
	logger   *log.Logger

	group singleflight.Group
	phase atomic.Int32
}

type LoaderOption func(*Loader)

func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

func WithLogger(lg *log.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg.WithComponent(log.ComponentLocation)
		}
	}
}

// NewLoader builds a loader. geocoder may be nil, in which case locations
// carry no city or country.
func NewLoader(manager Manager, geocoder Geocoder, opts ...LoaderOption) *Loader {
	l := &Loader{
		manager:  manager,
		geocoder: geocoder,
		timeout:  DefaultTimeout,
		logger:   log.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Phase reports the state of the load in progress, or PhaseIdle.
func (l *Loader) Phase() Phase {
	return Phase(l.phase.Load())
}

// Load returns the current location, or nil when location services are off
// or not authorized, or the event stream ended without a fix.
//
// Cancelling ctx abandons this caller's wait only; the shared load keeps
// going for the other callers until its own timeout.
func (l *Loader) Load(ctx context.Context) (*core.Location, error) {
	ch := l.group.DoChan(flightKey, func() (any, error) {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.load(opCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneLocation(res.Val.(*core.Location)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) (*core.Location, error) {
	if !l.manager.ServicesEnabled(ctx) {
		l.logger.DebugContext(ctx, "Location services disabled")
		return nil, nil
	}
	if auth := l.manager.Authorization(ctx); !auth.Granted() {
		l.logger.DebugContext(ctx, "Location not authorized", "authorization", auth.String())
		return nil, nil
	}

	// Subscribe before requesting so the fix cannot be missed.
	events, unsubscribe := l.manager.Subscribe()
	defer unsubscribe()

	l.phase.Store(int32(PhaseWaitingForFix))
	defer l.phase.Store(int32(PhaseIdle))

	if err := l.manager.RequestLocation(ctx); err != nil {
		return nil, fmt.Errorf("request location: %w", err)
	}

	coord, ok, err := awaitFix(ctx, events)
	if err != nil || !ok {
		return nil, err
	}

	l.phase.Store(int32(PhaseGeocoding))
	if l.geocoder == nil {
		return core.NewLocation(coord, "", ""), nil
	}
	pm, err := l.geocoder.ReverseGeocode(ctx, coord)
	if err != nil {
		l.logger.WarnContext(ctx, "Reverse geocoding failed",
			log.FieldLatitude, coord.Latitude, log.FieldLongitude, coord.Longitude, log.FieldError, err)
		return core.NewLocation(coord, "", ""), nil
	}
	return core.NewLocation(coord, pm.City, pm.CountryCode), nil
}

// awaitFix returns the last coordinate of the first non-empty update. ok is
// false when the stream closed first.
func awaitFix(ctx context.Context, events <-chan Event) (core.Coordinate, bool, error) {
	for {
		select {
		case ev, open := <-events:
			if !open {
				return core.Coordinate{}, false, nil
			}
			switch ev.Kind {
			case DidUpdateLocations:
				if len(ev.Locations) == 0 {
					continue
				}
				return ev.Locations[len(ev.Locations)-1], true, nil
			case DidFail:
				if ev.Err == nil {
					return core.Coordinate{}, false, ErrLocationFailed
				}
				return core.Coordinate{}, false, fmt.Errorf("location fix: %w", ev.Err)
			}
		case <-ctx.Done():
			return core.Coordinate{}, false, fmt.Errorf("waiting for location fix: %w", ctx.Err())
		}
	}
}

func cloneLocation(loc *core.Location) *core.Location {
	if loc == nil {
		return nil
	}
	out := &core.Location{Coordinate: loc.Coordinate}
	if loc.City != nil {
		city := *loc.City
		out.City = &city
	}
	if loc.CountryCode != nil {
		cc := *loc.CountryCode
		out.CountryCode = &cc
	}
	return out
}
