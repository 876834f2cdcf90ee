// Package commute defines the canonical record shapes shared by every data
// source, the pure normalization functions that produce them, and the
// aggregation service that merges them into a single commute view.
package commute

import (
	"context"
	"time"
)

// Coordinates is a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ResolvedLocation names the place an aggregate was computed for.
type ResolvedLocation struct {
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
}

// WeatherParams identifies one weather lookup. Same params always derive the
// same cache key.
type WeatherParams struct {
	Lat   float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon   float64 `json:"lon" validate:"gte=-180,lte=180"`
	Units string  `json:"units" validate:"omitempty,oneof=metric imperial standard"`
}

// TrafficParams identifies one traffic lookup; Radius is in meters.
type TrafficParams struct {
	Lat    float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon    float64 `json:"lon" validate:"gte=-180,lte=180"`
	Radius int     `json:"radius" validate:"gt=0"`
}

// TransitParams identifies one transit lookup by feed location with optional
// route/stop filters.
type TransitParams struct {
	Location        string `json:"location" validate:"required"`
	RouteID         string `json:"route_id"`
	StopID          string `json:"stop_id"`
	IncludeRealtime bool   `json:"include_realtime"`
}

// WeatherRecord is the canonical current-conditions shape. Missing upstream
// fields stay nil rather than zero so consumers can tell "absent" from "0".
type WeatherRecord struct {
	DataAvailable bool      `json:"data_available"`
	Error         string    `json:"error,omitempty"`
	Condition     string    `json:"condition,omitempty"`
	Description   string    `json:"description,omitempty"`
	Temperature   *float64  `json:"temperature"`
	FeelsLike     *float64  `json:"feels_like"`
	Humidity      *float64  `json:"humidity"`
	WindSpeed     *float64  `json:"wind_speed"`
	WindDirection *float64  `json:"wind_direction"`
	Timestamp     time.Time `json:"timestamp"`
	Cached        bool      `json:"cached"`
	Source        string    `json:"source,omitempty"`
}

// TrafficFlow describes road speed relative to free-flow conditions.
type TrafficFlow struct {
	CurrentSpeed       *float64 `json:"current_speed"`
	FreeFlowSpeed      *float64 `json:"free_flow_speed"`
	CurrentTravelTime  *float64 `json:"current_travel_time"`
	FreeFlowTravelTime *float64 `json:"free_flow_travel_time"`
	SpeedRatio         *float64 `json:"speed_ratio"`
	CongestionLevel    *string  `json:"congestion_level"`
	RoadClosure        bool     `json:"road_closure"`
}

// TrafficIncident is one normalized incident. DurationMinutes is derived from
// the start/end timestamps when both parse; otherwise it stays nil.
type TrafficIncident struct {
	Type            string       `json:"type"`
	Description     string       `json:"description"`
	Coordinates     *Coordinates `json:"coordinates"`
	Magnitude       int          `json:"magnitude"`
	StartTime       string       `json:"start_time,omitempty"`
	EndTime         string       `json:"end_time,omitempty"`
	DurationMinutes *int         `json:"duration_minutes"`
}

// TrafficRecord combines flow and incident data for one area.
type TrafficRecord struct {
	DataAvailable bool              `json:"data_available"`
	Error         string            `json:"error,omitempty"`
	Flow          *TrafficFlow      `json:"flow,omitempty"`
	Incidents     []TrafficIncident `json:"incidents"`
	Timestamp     time.Time         `json:"timestamp"`
	Cached        bool              `json:"cached"`
	Source        string            `json:"source,omitempty"`
}

// TransitAlert is a normalized GTFS-RT service alert.
type TransitAlert struct {
	ID             string   `json:"id"`
	Header         string   `json:"header"`
	Description    string   `json:"description"`
	Cause          string   `json:"cause"`
	Effect         string   `json:"effect"`
	AffectedRoutes []string `json:"affected_routes"`
	AffectedStops  []string `json:"affected_stops"`
	Severity       string   `json:"severity"`
}

// VehiclePosition is a realtime vehicle location from the positions feed.
type VehiclePosition struct {
	VehicleID string  `json:"vehicle_id"`
	RouteID   string  `json:"route_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

// TripUpdate is a realtime schedule deviation from the updates feed.
type TripUpdate struct {
	TripID       string `json:"trip_id"`
	RouteID      string `json:"route_id"`
	DelaySeconds int    `json:"delay_seconds"`
}

// TransitRecord combines alerts and realtime feeds for one transit system.
type TransitRecord struct {
	DataAvailable    bool              `json:"data_available"`
	Error            string            `json:"error,omitempty"`
	Alerts           []TransitAlert    `json:"alerts"`
	VehiclePositions []VehiclePosition `json:"vehicle_positions,omitempty"`
	TripUpdates      []TripUpdate      `json:"trip_updates,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Cached           bool              `json:"cached"`
	Source           string            `json:"source,omitempty"`
}

// Recommendation is one commute-impact hint derived from the merged data.
type Recommendation struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// AggregateResult is the composite response for one location. It is never
// mutated after construction; a refresh replaces it wholesale.
type AggregateResult struct {
	Timestamp       time.Time        `json:"timestamp"`
	Location        ResolvedLocation `json:"location"`
	Weather         *WeatherRecord   `json:"weather,omitempty"`
	Traffic         *TrafficRecord   `json:"traffic,omitempty"`
	Transit         *TransitRecord   `json:"transit,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Cached          bool             `json:"cached"`
}

// FetchStatus classifies how an adapter produced its record.
type FetchStatus string

const (
	// StatusLive means a fresh upstream response was fetched and normalized.
	StatusLive FetchStatus = "live"
	// StatusCached means the record was served from the parameter cache.
	StatusCached FetchStatus = "cached"
	// StatusFallback means the upstream path failed or was budget-gated and
	// the record is last-known-good or a minimal default.
	StatusFallback FetchStatus = "fallback"
	// StatusUnavailable means not even a fallback could be produced.
	StatusUnavailable FetchStatus = "unavailable"
)

// Outcome is the explicit fetch result variant: callers branch on Status
// instead of catching errors for expected degraded paths. Err carries the
// cause for fallback and unavailable outcomes.
type Outcome[R any] struct {
	Status FetchStatus
	Record R
	Err    error
}

// SourceAdapter is the uniform contract every upstream implements. It is
// what lets the aggregator treat weather, traffic and transit identically.
type SourceAdapter[P any, R any] interface {
	FetchData(ctx context.Context, params P) (Outcome[R], error)
	HealthCheck(ctx context.Context) bool
	CacheKey(params P) string
	CacheTTL() time.Duration
}
