package commute

import "time"

// RawWeather is the subset of an OpenWeatherMap-style current-conditions
// payload that normalization needs. Pointer fields distinguish absent values
// from zeroes.
type RawWeather struct {
	Error   string `json:"error,omitempty"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Humidity  *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Dt int64 `json:"dt"`
}

// kelvinFloor: plausible Celsius/Fahrenheit readings never exceed this, so
// larger values are treated as Kelvin.
const kelvinFloor = 200

// NormalizeWeather converts a raw weather payload into the canonical record.
// Missing fields stay nil; an error payload yields data_available=false. The
// function is pure and never panics on malformed input.
func NormalizeWeather(raw RawWeather) WeatherRecord {
	if raw.Error != "" {
		return WeatherRecord{
			DataAvailable: false,
			Error:         raw.Error,
			Timestamp:     time.Now().UTC(),
		}
	}

	rec := WeatherRecord{
		DataAvailable: true,
		Condition:     "Unknown",
		Temperature:   convertKelvin(raw.Main.Temp),
		FeelsLike:     convertKelvin(raw.Main.FeelsLike),
		Humidity:      raw.Main.Humidity,
		WindSpeed:     raw.Wind.Speed,
		WindDirection: raw.Wind.Deg,
	}

	if len(raw.Weather) > 0 {
		if raw.Weather[0].Main != "" {
			rec.Condition = raw.Weather[0].Main
		}
		rec.Description = raw.Weather[0].Description
	}

	if raw.Dt > 0 {
		rec.Timestamp = time.Unix(raw.Dt, 0).UTC()
	} else {
		rec.Timestamp = time.Now().UTC()
	}

	return rec
}

// convertKelvin detects Kelvin-scale temperatures (some upstreams default to
// standard units) and converts them to Fahrenheit, rounded to one decimal.
func convertKelvin(temp *float64) *float64 {
	if temp == nil {
		return nil
	}
	v := *temp
	if v > kelvinFloor {
		v = roundTo1((v-273.15)*9/5 + 32)
	}
	return &v
}

func roundTo1(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
