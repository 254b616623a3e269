package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dosmangos/internal/core"
)

// scriptedManager records requests and lets the test drive the event stream.
type scriptedManager struct {
	enabled  bool
	auth     Authorization
	events   *broadcaster
	requests atomic.Int32
	// onRequest runs in its own goroutine after every RequestLocation.
	onRequest func(m *scriptedManager)
	requested chan struct{}
}

func newScriptedManager() *scriptedManager {
	return &scriptedManager{
		enabled:   true,
		auth:      AuthorizationWhenInUse,
		events:    newBroadcaster(),
		requested: make(chan struct{}, 8),
	}
}

func (m *scriptedManager) ServicesEnabled(context.Context) bool         { return m.enabled }
func (m *scriptedManager) Authorization(context.Context) Authorization { return m.auth }
func (m *scriptedManager) Subscribe() (<-chan Event, func())           { return m.events.subscribe() }

func (m *scriptedManager) RequestLocation(context.Context) error {
	m.requests.Add(1)
	m.requested <- struct{}{}
	if m.onRequest != nil {
		go m.onRequest(m)
	}
	return nil
}

func (m *scriptedManager) emit(ev Event) { m.events.publish(ev) }

func (m *scriptedManager) waitRequested(t *testing.T) {
	t.Helper()
	select {
	case <-m.requested:
	case <-time.After(2 * time.Second):
		t.Fatal("location was never requested")
	}
}

func staticGeocoder(city, country string) Geocoder {
	return GeocoderFunc(func(context.Context, core.Coordinate) (core.Placemark, error) {
		return core.Placemark{City: city, CountryCode: country}, nil
	})
}

func TestLoadReturnsGeocodedLocation(t *testing.T) {
	m := newScriptedManager()
	m.onRequest = func(m *scriptedManager) {
		m.emit(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{{Latitude: 1, Longitude: 1}, {Latitude: -34.6, Longitude: -58.4}}})
	}
	l := NewLoader(m, staticGeocoder("Buenos Aires", "ar"))

	loc, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loc == nil || loc.Latitude != -34.6 || *loc.City != "Buenos Aires" || *loc.CountryCode != "AR" {
		t.Fatalf("unexpected location %+v", loc)
	}
	if l.Phase() != PhaseIdle {
		t.Fatalf("phase = %v after load", l.Phase())
	}
}

func TestLoadPreconditions(t *testing.T) {
	cases := []struct {
		name    string
		enabled bool
		auth    Authorization
	}{
		{"services disabled", false, AuthorizationAlways},
		{"not determined", true, AuthorizationNotDetermined},
		{"denied", true, AuthorizationDenied},
		{"restricted", true, AuthorizationRestricted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newScriptedManager()
			m.enabled = tc.enabled
			m.auth = tc.auth
			loc, err := NewLoader(m, nil).Load(context.Background())
			if loc != nil || err != nil {
				t.Fatalf("expected nil result, got %+v %v", loc, err)
			}
			if n := m.requests.Load(); n != 0 {
				t.Fatalf("expected no location request, got %d", n)
			}
		})
	}
}

func TestConcurrentLoadsShareOneRequest(t *testing.T) {
	m := newScriptedManager()
	var geocodes atomic.Int32
	l := NewLoader(m, GeocoderFunc(func(context.Context, core.Coordinate) (core.Placemark, error) {
		geocodes.Add(1)
		return core.Placemark{City: "Rosario", CountryCode: "AR"}, nil
	}))

	var wg sync.WaitGroup
	results := make([]*core.Location, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = l.Load(context.Background())
	}()
	m.waitRequested(t)
	if l.Phase() != PhaseWaitingForFix {
		t.Fatalf("phase = %v, want waiting_for_fix", l.Phase())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = l.Load(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)

	m.emit(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{{Latitude: -32.9, Longitude: -60.6}}})
	wg.Wait()

	if n := m.requests.Load(); n != 1 {
		t.Fatalf("expected one location request, got %d", n)
	}
	if geocodes.Load() != 1 {
		t.Fatalf("expected one geocode, got %d", geocodes.Load())
	}
	for i := range results {
		if errs[i] != nil || results[i] == nil || *results[i].City != "Rosario" || results[i].Latitude != -32.9 {
			t.Fatalf("caller %d got %+v, %v", i, results[i], errs[i])
		}
	}
	if results[0] == results[1] {
		t.Fatal("callers should receive independent copies")
	}
}

func TestNextLoadStartsFresh(t *testing.T) {
	m := newScriptedManager()
	m.onRequest = func(m *scriptedManager) {
		m.emit(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{{Latitude: 10, Longitude: 10}}})
	}
	l := NewLoader(m, nil)
	for i := 0; i < 2; i++ {
		if _, err := l.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := m.requests.Load(); n != 2 {
		t.Fatalf("expected a request per sequential load, got %d", n)
	}
}

func TestEmptyBatchIsIgnored(t *testing.T) {
	m := newScriptedManager()
	m.onRequest = func(m *scriptedManager) {
		m.emit(Event{Kind: DidChangeAuthorization, Authorization: AuthorizationAlways})
		m.emit(Event{Kind: DidUpdateLocations})
		m.emit(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{{Latitude: 5, Longitude: 6}}})
	}
	loc, err := NewLoader(m, nil).Load(context.Background())
	if err != nil || loc == nil || loc.Latitude != 5 || loc.Longitude != 6 {
		t.Fatalf("got %+v, %v", loc, err)
	}
	if loc.City != nil || loc.CountryCode != nil {
		t.Fatalf("expected no placemark without geocoder: %+v", loc)
	}
}

func TestFailureEventFailsLoad(t *testing.T) {
	boom := errors.New("kCLErrorLocationUnknown")
	m := newScriptedManager()
	m.onRequest = func(m *scriptedManager) { m.emit(Event{Kind: DidFail, Err: boom}) }
	l := NewLoader(m, nil)

	if _, err := l.Load(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if l.Phase() != PhaseIdle {
		t.Fatalf("phase = %v after failure", l.Phase())
	}

	m.onRequest = func(m *scriptedManager) { m.emit(Event{Kind: DidFail}) }
	if _, err := l.Load(context.Background()); !errors.Is(err, ErrLocationFailed) {
		t.Fatalf("expected ErrLocationFailed, got %v", err)
	}
}

func TestStreamEndWithoutFixResolvesNil(t *testing.T) {
	m := newScriptedManager()
	m.onRequest = func(m *scriptedManager) { m.events.close() }
	loc, err := NewLoader(m, nil).Load(context.Background())
	if loc != nil || err != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", loc, err)
	}
}

func TestGeocodeFailureDegrades(t *testing.T) {
	m := newScriptedManager()
	m.onRequest = func(m *scriptedManager) {
		m.emit(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{{Latitude: 1, Longitude: 2}}})
	}
	l := NewLoader(m, GeocoderFunc(func(context.Context, core.Coordinate) (core.Placemark, error) {
		return core.Placemark{}, errors.New("network down")
	}))
	loc, err := l.Load(context.Background())
	if err != nil || loc == nil {
		t.Fatalf("expected partial location, got %+v, %v", loc, err)
	}
	if loc.City != nil || loc.CountryCode != nil || loc.Latitude != 1 {
		t.Fatalf("unexpected partial location %+v", loc)
	}
}

func TestCallerCancellationDoesNotCancelSharedLoad(t *testing.T) {
	m := newScriptedManager()
	l := NewLoader(m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx)
		abandoned <- err
	}()
	m.waitRequested(t)

	patient := make(chan *core.Location, 1)
	go func() {
		loc, _ := l.Load(context.Background())
		patient <- loc
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-abandoned; !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoned caller got %v", err)
	}

	m.emit(Event{Kind: DidUpdateLocations, Locations: []core.Coordinate{{Latitude: 7, Longitude: 8}}})
	select {
	case loc := <-patient:
		if loc == nil || loc.Latitude != 7 {
			t.Fatalf("patient caller got %+v", loc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shared load did not complete")
	}
	if m.requests.Load() != 1 {
		t.Fatalf("requests = %d, want 1", m.requests.Load())
	}
}

func TestSharedLoadTimesOut(t *testing.T) {
	m := newScriptedManager()
	l := NewLoader(m, nil, WithTimeout(20*time.Millisecond))
	_, err := l.Load(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFixedManager(t *testing.T) {
	fm := NewFixedManager(core.Coordinate{Latitude: -34.6, Longitude: -58.4}, true)
	defer fm.Close()
	l := NewLoader(fm, staticGeocoder("Buenos Aires", "AR"))

	loc, err := l.Load(context.Background())
	if err != nil || loc == nil || loc.Latitude != -34.6 {
		t.Fatalf("got %+v, %v", loc, err)
	}

	fm.SetAuthorization(AuthorizationDenied)
	if loc, err := l.Load(context.Background()); loc != nil || err != nil {
		t.Fatalf("expected nil when denied, got %+v %v", loc, err)
	}
	fm.SetAuthorization(AuthorizationAlways)
	fm.SetServicesEnabled(false)
	if loc, err := l.Load(context.Background()); loc != nil || err != nil {
		t.Fatalf("expected nil when disabled, got %+v %v", loc, err)
	}
	if fm.Requests() != 1 {
		t.Fatalf("requests = %d, want 1", fm.Requests())
	}
}
