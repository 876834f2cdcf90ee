package commute

import "fmt"

// Temperature advisory thresholds, in Fahrenheit (86F = 30C, 32F = 0C).
const (
	heatAdvisoryF = 86.0
	iceAdvisoryF  = 32.0
)

// severeConditions are weather conditions that always warrant a warning.
var severeConditions = map[string]bool{
	"Rain":         true,
	"Snow":         true,
	"Thunderstorm": true,
}

// disruptiveEffects are transit effects severe enough for an alert.
var disruptiveEffects = map[string]bool{
	"NO_SERVICE":         true,
	"REDUCED_SERVICE":    true,
	"SIGNIFICANT_DELAYS": true,
}

// Recommend derives commute-impact recommendations from a merged result.
// Rules are ordered and every matching rule emits; when nothing matches the
// output is a single all-clear notice.
func Recommend(res *AggregateResult) []Recommendation {
	recs := []Recommendation{}

	if w := res.Weather; w != nil && w.DataAvailable {
		if severeConditions[w.Condition] {
			recs = append(recs, Recommendation{
				Type:     "weather",
				Severity: "warning",
				Message:  fmt.Sprintf("%s expected, allow extra travel time", w.Condition),
			})
		}
		if w.Temperature != nil && *w.Temperature > heatAdvisoryF {
			recs = append(recs, Recommendation{
				Type:     "weather",
				Severity: "info",
				Message:  "High temperatures today, stay hydrated",
			})
		}
		if w.Temperature != nil && *w.Temperature < iceAdvisoryF {
			recs = append(recs, Recommendation{
				Type:     "weather",
				Severity: "warning",
				Message:  "Freezing temperatures, watch for ice on roads",
			})
		}
	}

	if t := res.Traffic; t != nil && t.DataAvailable {
		if len(t.Incidents) > 0 {
			severity := "info"
			for _, incident := range t.Incidents {
				if incident.Magnitude >= 3 {
					severity = "alert"
					break
				}
			}
			recs = append(recs, Recommendation{
				Type:     "traffic",
				Severity: severity,
				Message:  fmt.Sprintf("%d traffic incident(s) reported on your route", len(t.Incidents)),
			})
		}
		if t.Flow != nil && t.Flow.CongestionLevel != nil {
			switch *t.Flow.CongestionLevel {
			case "severe":
				recs = append(recs, Recommendation{
					Type:     "traffic",
					Severity: "alert",
					Message:  "Severe congestion, consider an alternate route or transit",
				})
			case "high":
				recs = append(recs, Recommendation{
					Type:     "traffic",
					Severity: "warning",
					Message:  "Heavy congestion, expect delays",
				})
			}
		}
	}

	if tr := res.Transit; tr != nil && tr.DataAvailable && len(tr.Alerts) > 0 {
		severity := "info"
		for _, alert := range tr.Alerts {
			if disruptiveEffects[alert.Effect] {
				severity = "alert"
				break
			}
		}
		recs = append(recs, Recommendation{
			Type:     "transit",
			Severity: severity,
			Message:  fmt.Sprintf("%d transit alert(s) affecting service", len(tr.Alerts)),
		})
	}

	if allSourcesFailed(res) {
		recs = append(recs, Recommendation{
			Type:     "general",
			Severity: "warning",
			Message:  "Live commute data is temporarily unavailable, showing last known conditions",
		})
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Type:     "general",
			Severity: "info",
			Message:  "No significant commute issues detected",
		})
	}

	return recs
}

func allSourcesFailed(res *AggregateResult) bool {
	available := 0
	requested := 0
	if res.Weather != nil {
		requested++
		if res.Weather.DataAvailable {
			available++
		}
	}
	if res.Traffic != nil {
		requested++
		if res.Traffic.DataAvailable {
			available++
		}
	}
	if res.Transit != nil {
		requested++
		if res.Transit.DataAvailable {
			available++
		}
	}
	return requested > 0 && available == 0
}
