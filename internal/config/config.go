package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ucommute/commute-data-aggregation/internal/commute"
)

type AppConfig struct {
	OpenWeatherAPIKey string
	TomTomAPIKey      string
	GeocoderAPIKey    string

	// Upstream endpoints, overridable for staging and tests.
	WeatherBaseURL      string
	TrafficFlowURL      string
	TrafficIncidentsURL string
	TransitAlertsURL    string
	TransitVehiclesURL  string
	TransitUpdatesURL   string

	// Redis backing for cache and rate limiting; empty addr means the
	// in-memory implementations.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HTTPTimeout bounds each upstream request.
	HTTPTimeout time.Duration

	// RefreshInterval controls the background cache-warming job.
	RefreshInterval time.Duration

	// Locations to serve, plus which one is the default.
	Locations       map[string]commute.Coordinates
	DefaultLocation string

	// TrafficRadius is the lookup radius in meters.
	TrafficRadius int

	Port      string
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.TomTomAPIKey = os.Getenv("TOMTOM_API_KEY")
	cfg.GeocoderAPIKey = os.Getenv("GOOGLE_GEOCODER_API_KEY")

	cfg.WeatherBaseURL = getenvDefault("WEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5/weather")
	cfg.TrafficFlowURL = getenvDefault("TRAFFIC_FLOW_URL", "https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute/10/json")
	cfg.TrafficIncidentsURL = getenvDefault("TRAFFIC_INCIDENTS_URL", "https://api.tomtom.com/traffic/services/5/incidentDetails")
	cfg.TransitAlertsURL = getenvDefault("TRANSIT_ALERTS_URL", "https://api.pugetsound.onebusaway.org/api/gtfs_realtime/alerts-for-agency/1/json")
	cfg.TransitVehiclesURL = getenvDefault("TRANSIT_VEHICLES_URL", "https://api.pugetsound.onebusaway.org/api/gtfs_realtime/vehicle-positions-for-agency/1/json")
	cfg.TransitUpdatesURL = getenvDefault("TRANSIT_UPDATES_URL", "https://api.pugetsound.onebusaway.org/api/gtfs_realtime/trip-updates-for-agency/1/json")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)

	timeoutStr := getenvDefault("HTTP_TIMEOUT", "10s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	// Cache-warming interval: default 15 minutes.
	intervalStr := getenvDefault("REFRESH_INTERVAL", "15m")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}
	cfg.RefreshInterval = interval

	locations, err := loadLocations()
	if err != nil {
		return nil, err
	}
	cfg.Locations = locations
	cfg.DefaultLocation = getenvDefault("DEFAULT_LOCATION", "downtown_seattle")
	if _, ok := cfg.Locations[cfg.DefaultLocation]; !ok {
		return nil, fmt.Errorf("default location %q is not configured", cfg.DefaultLocation)
	}

	cfg.TrafficRadius = getenvInt("TRAFFIC_RADIUS_METERS", 5000)

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "console")

	return cfg, nil
}

// loadLocations parses COMMUTE_LOCATIONS entries of the form "name:lat:lon"
// separated by commas. An empty variable keeps the built-in location set.
func loadLocations() (map[string]commute.Coordinates, error) {
	raw := os.Getenv("COMMUTE_LOCATIONS")
	if raw == "" {
		locations := make(map[string]commute.Coordinates, len(commute.DefaultLocations))
		for name, coords := range commute.DefaultLocations {
			locations[name] = coords
		}
		return locations, nil
	}

	locations := make(map[string]commute.Coordinates)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid COMMUTE_LOCATIONS entry %q; want name:lat:lon", entry)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q: %w", entry, err)
		}
		locations[parts[0]] = commute.Coordinates{Lat: lat, Lon: lon}
	}

	return locations, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
