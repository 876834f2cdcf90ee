package commute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ucommute/commute-data-aggregation/internal/cache"
)

// Instantiated adapter contracts for the three sources.
type (
	WeatherSource = SourceAdapter[WeatherParams, WeatherRecord]
	TrafficSource = SourceAdapter[TrafficParams, TrafficRecord]
	TransitSource = SourceAdapter[TransitParams, TransitRecord]
)

// GeocodeFunc resolves a free-form location name to coordinates.
type GeocodeFunc func(name string) (Coordinates, error)

// ErrUnknownLocation is returned when even the default location is missing
// from the configured set.
var ErrUnknownLocation = errors.New("unknown location")

// DefaultLocations are the pre-configured commute areas.
var DefaultLocations = map[string]Coordinates{
	"downtown_seattle":    {Lat: 47.6062, Lon: -122.3321},
	"university_district": {Lat: 47.6553, Lon: -122.3035},
	"bellevue":            {Lat: 47.6101, Lon: -122.2015},
	"tacoma":              {Lat: 47.2529, Lon: -122.4443},
}

const defaultLocationName = "downtown_seattle"

// Per-source fetch budgets. One slow upstream is bounded by its own budget
// and cannot stall the whole aggregation.
const (
	weatherFetchTimeout = 10 * time.Second
	trafficFetchTimeout = 10 * time.Second
	transitFetchTimeout = 15 * time.Second
)

// IncludeOptions selects which source slots an aggregation fills.
type IncludeOptions struct {
	Weather bool
	Traffic bool
	Transit bool
}

// IncludeAll requests every source.
func IncludeAll() IncludeOptions {
	return IncludeOptions{Weather: true, Traffic: true, Transit: true}
}

func (o IncludeOptions) all() bool {
	return o.Weather && o.Traffic && o.Transit
}

// Service is the aggregator: it fans requests out to the source adapters,
// merges partial results, derives recommendations, and caches the composite.
type Service struct {
	weather WeatherSource
	traffic TrafficSource
	transit TransitSource
	cache   cache.Cache
	log     *zap.Logger

	geocode GeocodeFunc

	mu        sync.RWMutex
	locations map[string]Coordinates
	defLoc    string

	trafficRadius int
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithGeocoder enables resolving unconfigured location names.
func WithGeocoder(fn GeocodeFunc) ServiceOption {
	return func(s *Service) { s.geocode = fn }
}

// WithLocations replaces the configured location set.
func WithLocations(locations map[string]Coordinates, defaultName string) ServiceOption {
	return func(s *Service) {
		s.locations = make(map[string]Coordinates, len(locations))
		for name, coords := range locations {
			s.locations[name] = coords
		}
		if defaultName != "" {
			s.defLoc = defaultName
		}
	}
}

// WithTrafficRadius overrides the traffic lookup radius in meters.
func WithTrafficRadius(meters int) ServiceOption {
	return func(s *Service) { s.trafficRadius = meters }
}

func NewService(weather WeatherSource, traffic TrafficSource, transit TransitSource, c cache.Cache, log *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		weather:       weather,
		traffic:       traffic,
		transit:       transit,
		cache:         c,
		log:           log,
		locations:     DefaultLocations,
		defLoc:        defaultLocationName,
		trafficRadius: 5000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locations returns the configured location names.
func (s *Service) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.locations))
	for name := range s.locations {
		names = append(names, name)
	}
	return names
}

// ResolveLocation maps a name to coordinates. An empty name resolves to the
// default location; unconfigured names go through the geocoder when one is
// wired, with successful resolutions memoized, and otherwise fall back to
// the default location with a warning.
func (s *Service) ResolveLocation(name string) (ResolvedLocation, error) {
	if name == "" {
		name = s.defLoc
	}

	s.mu.RLock()
	coords, ok := s.locations[name]
	s.mu.RUnlock()
	if ok {
		return ResolvedLocation{Name: name, Coordinates: coords}, nil
	}

	if s.geocode != nil {
		coords, err := s.geocode(name)
		if err == nil {
			s.mu.Lock()
			s.locations[name] = coords
			s.mu.Unlock()
			s.log.Info("geocoded new location",
				zap.String("name", name),
				zap.Float64("lat", coords.Lat),
				zap.Float64("lon", coords.Lon))
			return ResolvedLocation{Name: name, Coordinates: coords}, nil
		}
		s.log.Warn("geocoding failed, using default location",
			zap.String("name", name), zap.Error(err))
	} else {
		s.log.Warn("unknown location, using default",
			zap.String("name", name))
	}

	s.mu.RLock()
	coords, ok = s.locations[s.defLoc]
	s.mu.RUnlock()
	if !ok {
		return ResolvedLocation{}, fmt.Errorf("%w: %s", ErrUnknownLocation, s.defLoc)
	}
	return ResolvedLocation{Name: s.defLoc, Coordinates: coords}, nil
}

// GetAggregateData builds the composite commute view for one location. One
// source failing never fails the whole request: its slot is returned with
// data_available=false and the error string, and the other slots are intact.
func (s *Service) GetAggregateData(ctx context.Context, locationName string, include IncludeOptions) (*AggregateResult, error) {
	location, err := s.ResolveLocation(locationName)
	if err != nil {
		return nil, err
	}

	compositeKey := "aggregated:" + location.Name
	if include.all() {
		if payload, ok := s.cache.Get(ctx, compositeKey); ok {
			var cached AggregateResult
			if err := json.Unmarshal(payload, &cached); err == nil {
				cached.Cached = true
				return &cached, nil
			}
		}
	}

	result := &AggregateResult{
		Timestamp: time.Now().UTC(),
		Location:  location,
	}

	var wg sync.WaitGroup

	if include.Weather {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, weatherFetchTimeout)
			defer cancel()
			params := WeatherParams{Lat: location.Coordinates.Lat, Lon: location.Coordinates.Lon}
			out, err := s.weather.FetchData(fetchCtx, params)
			result.Weather = settle(s.log, "weather", out, err)
		}()
	}
	if include.Traffic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, trafficFetchTimeout)
			defer cancel()
			params := TrafficParams{Lat: location.Coordinates.Lat, Lon: location.Coordinates.Lon, Radius: s.trafficRadius}
			out, err := s.traffic.FetchData(fetchCtx, params)
			result.Traffic = settle(s.log, "traffic", out, err)
		}()
	}
	if include.Transit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, transitFetchTimeout)
			defer cancel()
			params := TransitParams{Location: location.Name, IncludeRealtime: true}
			out, err := s.transit.FetchData(fetchCtx, params)
			result.Transit = settle(s.log, "transit", out, err)
		}()
	}

	wg.Wait()

	result.Recommendations = Recommend(result)

	if include.all() {
		if payload, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(ctx, compositeKey, payload, "composite", "comprehensive"); err != nil {
				s.log.Warn("composite cache write failed", zap.String("key", compositeKey), zap.Error(err))
			}
		}
	}

	return result, nil
}

// settle converts a fetch outcome into a slot record, absorbing the error
// into the record so one source's failure stays isolated.
func settle[R failureMarker[R]](log *zap.Logger, source string, out Outcome[R], err error) *R {
	if err != nil {
		log.Warn("source unavailable", zap.String("source", source), zap.Error(err))
		rec := out.Record.markFailed(err)
		return &rec
	}
	if out.Err != nil {
		log.Info("source degraded", zap.String("source", source),
			zap.String("status", string(out.Status)), zap.Error(out.Err))
	}
	rec := out.Record
	return &rec
}

// failureMarker lets settle stamp a failure onto any record type.
type failureMarker[R any] interface {
	markFailed(err error) R
}

func (r WeatherRecord) markFailed(err error) WeatherRecord {
	r.DataAvailable = false
	r.Error = err.Error()
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

func (r TrafficRecord) markFailed(err error) TrafficRecord {
	r.DataAvailable = false
	r.Error = err.Error()
	if r.Incidents == nil {
		r.Incidents = []TrafficIncident{}
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

func (r TransitRecord) markFailed(err error) TransitRecord {
	r.DataAvailable = false
	r.Error = err.Error()
	if r.Alerts == nil {
		r.Alerts = []TransitAlert{}
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}
