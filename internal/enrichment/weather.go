package enrichment

import (
	"context"
	"sync"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/weather"
)

// WeatherPlugin reports current conditions at the station location.
// Results are cached for the configured TTL; when the provider fails the
// last known conditions are reported.
type WeatherPlugin struct {
	settings conf.Provider
	service  *weather.Service

	// newProvider builds the provider for the current weather settings
	newProvider func(*conf.WeatherSettings) (weather.Provider, error)

	mu        sync.Mutex
	provider  weather.Provider
	clientCfg conf.WeatherSettings
}

// NewWeatherPlugin creates the weather plugin backed by OpenWeather
func NewWeatherPlugin() *WeatherPlugin {
	return &WeatherPlugin{
		newProvider: func(s *conf.WeatherSettings) (weather.Provider, error) {
			return weather.NewOpenWeatherClient(s)
		},
	}
}

// Name returns the extension key
func (p *WeatherPlugin) Name() string { return "weather" }

// Initialize sets up the cached weather service
func (p *WeatherPlugin) Initialize(env Environment) error {
	if env.Settings == nil {
		return errors.Newf("weather plugin requires settings").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p.settings = env.Settings

	ttl := weather.DefaultCacheTTL
	if s := env.Settings.Settings(); s != nil && s.Enrichment.Weather.CacheTTL > 0 {
		ttl = s.Enrichment.Weather.CacheTTL
	}
	p.service = weather.NewService(p, ttl)
	p.service.SetMetrics(env.Metrics)
	return nil
}

// Process returns the current weather as JSON
func (p *WeatherPlugin) Process(ctx context.Context, _ *datastore.EventRecord) (string, error) {
	settings := p.settings.Settings()
	if !settings.Enrichment.Weather.Enabled {
		return "", ErrPluginDisabled
	}

	loc := settings.Enrichment.Location
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return "", errors.Newf("station location not configured").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}

	p.mu.Lock()
	err := p.ensureProvider(&settings.Enrichment.Weather)
	p.mu.Unlock()
	if err != nil {
		return "", err
	}

	data, err := p.service.Current(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return "", err
	}
	return marshalPayload(data)
}

// FetchWeather lets the plugin act as the service's provider so settings
// changes swap the client without dropping the cache.
func (p *WeatherPlugin) FetchWeather(ctx context.Context, lat, lon float64) (*weather.WeatherData, error) {
	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()
	if provider == nil {
		return nil, errors.Newf("weather provider not configured").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return provider.FetchWeather(ctx, lat, lon)
}

// ensureProvider rebuilds the provider when the weather settings changed.
// Caller holds p.mu.
func (p *WeatherPlugin) ensureProvider(cfg *conf.WeatherSettings) error {
	if p.provider != nil && p.clientCfg == *cfg {
		return nil
	}
	provider, err := p.newProvider(cfg)
	if err != nil {
		return err
	}
	p.provider = provider
	p.clientCfg = *cfg
	return nil
}
