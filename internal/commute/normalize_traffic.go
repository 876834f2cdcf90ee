package commute

import "time"

// RawTrafficFlow mirrors the TomTom flow-segment response.
type RawTrafficFlow struct {
	FlowSegmentData struct {
		CurrentSpeed       *float64 `json:"currentSpeed"`
		FreeFlowSpeed      *float64 `json:"freeFlowSpeed"`
		CurrentTravelTime  *float64 `json:"currentTravelTime"`
		FreeFlowTravelTime *float64 `json:"freeFlowTravelTime"`
		RoadClosure        bool     `json:"roadClosure"`
	} `json:"flowSegmentData"`
}

// RawTrafficIncidents mirrors the TomTom incident-details response.
type RawTrafficIncidents struct {
	Incidents []RawIncident `json:"incidents"`
}

// RawIncident is one GeoJSON-style incident feature.
type RawIncident struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Description      string `json:"description"`
		MagnitudeOfDelay int    `json:"magnitudeOfDelay"`
		StartTime        string `json:"startTime"`
		EndTime          string `json:"endTime"`
	} `json:"properties"`
}

// Congestion classification thresholds on current/free-flow speed ratio.
const (
	congestionLowRatio      = 0.85
	congestionModerateRatio = 0.65
	congestionHighRatio     = 0.30
)

// NormalizeTrafficFlow converts a raw flow payload into the canonical flow
// shape. A zero or absent free-flow speed yields a nil ratio and nil
// congestion level rather than an error.
func NormalizeTrafficFlow(raw RawTrafficFlow) *TrafficFlow {
	seg := raw.FlowSegmentData

	flow := &TrafficFlow{
		CurrentSpeed:       seg.CurrentSpeed,
		FreeFlowSpeed:      seg.FreeFlowSpeed,
		CurrentTravelTime:  seg.CurrentTravelTime,
		FreeFlowTravelTime: seg.FreeFlowTravelTime,
		RoadClosure:        seg.RoadClosure,
	}

	if seg.CurrentSpeed != nil && seg.FreeFlowSpeed != nil && *seg.FreeFlowSpeed > 0 {
		ratio := *seg.CurrentSpeed / *seg.FreeFlowSpeed
		flow.SpeedRatio = &ratio
		level := classifyCongestion(ratio)
		flow.CongestionLevel = &level
	}

	return flow
}

func classifyCongestion(ratio float64) string {
	switch {
	case ratio >= congestionLowRatio:
		return "low"
	case ratio >= congestionModerateRatio:
		return "moderate"
	case ratio >= congestionHighRatio:
		return "high"
	default:
		return "severe"
	}
}

// NormalizeTrafficIncidents maps raw incident features to the canonical
// shape. Malformed timestamps degrade to a nil duration, never an error.
func NormalizeTrafficIncidents(raw RawTrafficIncidents) []TrafficIncident {
	incidents := make([]TrafficIncident, 0, len(raw.Incidents))

	for _, in := range raw.Incidents {
		incident := TrafficIncident{
			Type:        in.Type,
			Description: in.Properties.Description,
			Magnitude:   in.Properties.MagnitudeOfDelay,
			StartTime:   in.Properties.StartTime,
			EndTime:     in.Properties.EndTime,
		}

		if in.Geometry.Type == "Point" && len(in.Geometry.Coordinates) >= 2 {
			incident.Coordinates = &Coordinates{
				Lon: in.Geometry.Coordinates[0],
				Lat: in.Geometry.Coordinates[1],
			}
		}

		incident.DurationMinutes = durationMinutes(in.Properties.StartTime, in.Properties.EndTime)
		incidents = append(incidents, incident)
	}

	return incidents
}

// durationMinutes computes the incident duration from ISO timestamps when
// both parse; otherwise nil.
func durationMinutes(start, end string) *int {
	if start == "" || end == "" {
		return nil
	}
	startTS, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil
	}
	endTS, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return nil
	}
	minutes := int(endTS.Sub(startTS).Minutes())
	return &minutes
}

// NormalizeTraffic combines flow and incident payloads into one record.
func NormalizeTraffic(flow RawTrafficFlow, incidents RawTrafficIncidents) TrafficRecord {
	return TrafficRecord{
		DataAvailable: true,
		Flow:          NormalizeTrafficFlow(flow),
		Incidents:     NormalizeTrafficIncidents(incidents),
		Timestamp:     time.Now().UTC(),
	}
}
