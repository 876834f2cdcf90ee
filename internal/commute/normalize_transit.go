package commute

import "time"

// RawTransitFeed mirrors a GTFS-RT JSON feed: a list of entities each
// carrying at most one of alert / vehicle / trip_update.
type RawTransitFeed struct {
	Entity []RawTransitEntity `json:"entity"`
}

// RawTransitEntity is one feed entity.
type RawTransitEntity struct {
	ID         string         `json:"id"`
	Alert      *RawAlert      `json:"alert,omitempty"`
	Vehicle    *RawVehicle    `json:"vehicle,omitempty"`
	TripUpdate *RawTripUpdate `json:"trip_update,omitempty"`
}

// RawAlert is a GTFS-RT service alert.
type RawAlert struct {
	Cause          string `json:"cause"`
	Effect         string `json:"effect"`
	InformedEntity []struct {
		RouteID string `json:"route_id,omitempty"`
		StopID  string `json:"stop_id,omitempty"`
	} `json:"informed_entity"`
	HeaderText      RawTranslatedText `json:"header_text"`
	DescriptionText RawTranslatedText `json:"description_text"`
}

// RawTranslatedText is a GTFS-RT translated string.
type RawTranslatedText struct {
	Translation []struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	} `json:"translation"`
}

// RawVehicle is a GTFS-RT vehicle position.
type RawVehicle struct {
	Vehicle struct {
		ID string `json:"id"`
	} `json:"vehicle"`
	Trip struct {
		RouteID string `json:"route_id"`
	} `json:"trip"`
	Position struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"position"`
	Timestamp int64 `json:"timestamp"`
}

// RawTripUpdate is a GTFS-RT trip update.
type RawTripUpdate struct {
	Trip struct {
		TripID  string `json:"trip_id"`
		RouteID string `json:"route_id"`
	} `json:"trip"`
	Delay int `json:"delay"`
}

// Effect → severity classification. Effects outside the table map to
// "unknown".
var effectSeverity = map[string]string{
	"NO_SERVICE":         "high",
	"REDUCED_SERVICE":    "high",
	"SIGNIFICANT_DELAYS": "high",
	"DETOUR":             "medium",
	"ADDITIONAL_SERVICE": "medium",
	"MODIFIED_SERVICE":   "medium",
	"OTHER_EFFECT":       "low",
	"STOP_MOVED":         "low",
}

// AlertSeverity maps a GTFS-RT effect to the simplified severity level.
func AlertSeverity(effect string) string {
	if sev, ok := effectSeverity[effect]; ok {
		return sev
	}
	return "unknown"
}

// NormalizeTransitAlerts maps the alert entities of a feed to canonical
// alerts. Entities without an alert body are skipped; missing translations
// degrade to empty strings.
func NormalizeTransitAlerts(feed RawTransitFeed) []TransitAlert {
	alerts := make([]TransitAlert, 0, len(feed.Entity))

	for _, entity := range feed.Entity {
		if entity.Alert == nil {
			continue
		}
		raw := entity.Alert

		alert := TransitAlert{
			ID:             entity.ID,
			Header:         englishText(raw.HeaderText),
			Description:    englishText(raw.DescriptionText),
			Cause:          raw.Cause,
			Effect:         raw.Effect,
			AffectedRoutes: []string{},
			AffectedStops:  []string{},
			Severity:       AlertSeverity(raw.Effect),
		}
		if alert.Cause == "" {
			alert.Cause = "UNKNOWN_CAUSE"
		}
		if alert.Effect == "" {
			alert.Effect = "UNKNOWN_EFFECT"
		}

		for _, informed := range raw.InformedEntity {
			if informed.RouteID != "" {
				alert.AffectedRoutes = append(alert.AffectedRoutes, informed.RouteID)
			}
			if informed.StopID != "" {
				alert.AffectedStops = append(alert.AffectedStops, informed.StopID)
			}
		}

		alerts = append(alerts, alert)
	}

	return alerts
}

// NormalizeVehiclePositions maps the vehicle entities of a feed.
func NormalizeVehiclePositions(feed RawTransitFeed) []VehiclePosition {
	positions := make([]VehiclePosition, 0, len(feed.Entity))
	for _, entity := range feed.Entity {
		if entity.Vehicle == nil {
			continue
		}
		v := entity.Vehicle
		positions = append(positions, VehiclePosition{
			VehicleID: v.Vehicle.ID,
			RouteID:   v.Trip.RouteID,
			Lat:       v.Position.Latitude,
			Lon:       v.Position.Longitude,
			Timestamp: v.Timestamp,
		})
	}
	return positions
}

// NormalizeTripUpdates maps the trip-update entities of a feed.
func NormalizeTripUpdates(feed RawTransitFeed) []TripUpdate {
	updates := make([]TripUpdate, 0, len(feed.Entity))
	for _, entity := range feed.Entity {
		if entity.TripUpdate == nil {
			continue
		}
		tu := entity.TripUpdate
		updates = append(updates, TripUpdate{
			TripID:       tu.Trip.TripID,
			RouteID:      tu.Trip.RouteID,
			DelaySeconds: tu.Delay,
		})
	}
	return updates
}

// NormalizeTransit combines the per-feed payloads into one record.
func NormalizeTransit(alerts, vehicles, updates RawTransitFeed) TransitRecord {
	return TransitRecord{
		DataAvailable:    true,
		Alerts:           NormalizeTransitAlerts(alerts),
		VehiclePositions: NormalizeVehiclePositions(vehicles),
		TripUpdates:      NormalizeTripUpdates(updates),
		Timestamp:        time.Now().UTC(),
	}
}

func englishText(tt RawTranslatedText) string {
	for _, tr := range tt.Translation {
		if tr.Language == "en" || tr.Language == "" {
			return tr.Text
		}
	}
	return ""
}
