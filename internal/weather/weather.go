// Package weather provides current weather conditions for detection events.
package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// Provider represents a weather data provider interface
type Provider interface {
	FetchWeather(ctx context.Context, lat, lon float64) (*WeatherData, error)
}

// WeatherData is the current conditions at one location. Temperatures are
// in Celsius regardless of the requested units.
type WeatherData struct {
	Time        time.Time `json:"time"`
	City        string    `json:"city,omitempty"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	WindSpeed   float64   `json:"windSpeed"`
	WindDeg     int       `json:"windDeg"`
	Clouds      int       `json:"clouds"`
	Pressure    int       `json:"pressure"`
	Humidity    int       `json:"humidity"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
}

// Summary renders the conditions as a short human readable string
func (w *WeatherData) Summary() string {
	return fmt.Sprintf("%s, %.1f°C, %d%% humidity", w.Description, w.Temperature, w.Humidity)
}

type cachedWeather struct {
	data      *WeatherData
	fetchedAt time.Time
}

// Service caches provider results per location. Entries are fresh for the
// TTL; after that a failed refresh serves the last known value.
type Service struct {
	provider Provider
	cache    *cache.Cache
	ttl      time.Duration
	metrics  *metrics.EnrichmentMetrics
	now      func() time.Time
}

// NewService creates a weather service around provider
func NewService(provider Provider, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		provider: provider,
		// entries never expire so a stale value is available when the provider fails
		cache: cache.New(cache.NoExpiration, 0),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetMetrics attaches enrichment metrics
func (s *Service) SetMetrics(m *metrics.EnrichmentMetrics) {
	s.metrics = m
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", lat, lon)
}

// Current returns the conditions at lat/lon from cache or the provider.
func (s *Service) Current(ctx context.Context, lat, lon float64) (*WeatherData, error) {
	key := cacheKey(lat, lon)

	var stale *cachedWeather
	if v, found := s.cache.Get(key); found {
		entry := v.(*cachedWeather)
		if s.now().Sub(entry.fetchedAt) < s.ttl {
			s.metrics.RecordCacheLookup("weather", "hit")
			return entry.data, nil
		}
		stale = entry
	}

	start := time.Now()
	data, err := s.provider.FetchWeather(ctx, lat, lon)
	if err != nil {
		s.metrics.RecordWeatherFetch(metrics.StatusError, time.Since(start).Seconds())
		if stale != nil {
			s.metrics.RecordCacheLookup("weather", "stale")
			GetLogger().Warn("weather fetch failed, using cached data",
				logger.String("location", key),
				logger.Time("fetched_at", stale.fetchedAt),
				logger.Error(err))
			return stale.data, nil
		}
		s.metrics.RecordCacheLookup("weather", "miss")
		return nil, err
	}
	s.metrics.RecordWeatherFetch(metrics.StatusSuccess, time.Since(start).Seconds())
	s.metrics.RecordCacheLookup("weather", "miss")

	s.cache.Set(key, &cachedWeather{data: data, fetchedAt: s.now()}, cache.NoExpiration)
	return data, nil
}

// Flush drops all cached conditions
func (s *Service) Flush() {
	s.cache.Flush()
}
