package weather

import (
	"net/url"
	"time"

	"github.com/tphakala/coughdetect/internal/errors"
)

const (
	DefaultEndpoint = "https://api.openweathermap.org/data/2.5/weather"
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 30 * time.Minute
	UserAgent       = "coughdetect https://github.com/tphakala/coughdetect"

	// requestsPerMinute stays well inside the OpenWeather free tier
	requestsPerMinute = 30
	requestBurst      = 2
)

// newWeatherError creates a standardized weather error with common fields
func newWeatherError(err error, category errors.ErrorCategory, operation string) error {
	return errors.New(err).
		Component("weather").
		Category(category).
		Context("operation", operation).
		Context("provider", "openweather").
		Build()
}

// Temperature conversion constants
const (
	celsiusToFahrenheitScale  = 9.0 / 5.0
	celsiusToFahrenheitOffset = 32.0
	kelvinOffset              = 273.15
)

// FahrenheitToCelsius converts a temperature from Fahrenheit to Celsius.
func FahrenheitToCelsius(f float64) float64 {
	return (f - celsiusToFahrenheitOffset) / celsiusToFahrenheitScale
}

// KelvinToCelsius converts a temperature from Kelvin to Celsius.
func KelvinToCelsius(k float64) float64 {
	return k - kelvinOffset
}

// toCelsius converts a temperature reported in the given OpenWeather units
func toCelsius(value float64, units string) float64 {
	switch units {
	case "imperial":
		return FahrenheitToCelsius(value)
	case "metric":
		return value
	default:
		return KelvinToCelsius(value)
	}
}

// maskAPIKey hides the value of keyParam in rawURL so it can be logged
func maskAPIKey(rawURL, keyParam string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if !q.Has(keyParam) {
		return rawURL
	}
	q.Set(keyParam, "***MASKED***")
	u.RawQuery = q.Encode()
	return u.String()
}
