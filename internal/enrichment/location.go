package enrichment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// LocationCacheTTL is how long a resolved location is reused
const LocationCacheTTL = 5 * time.Minute

const locationCacheKey = "location"

// Location is the payload contributed by the location plugin
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds of the fix
}

// LocationPlugin reports the configured station coordinates.
type LocationPlugin struct {
	settings conf.Provider
	metrics  *metrics.EnrichmentMetrics
	cache    *cache.Cache
	now      func() time.Time
}

// NewLocationPlugin creates the location plugin
func NewLocationPlugin() *LocationPlugin {
	return &LocationPlugin{now: time.Now}
}

// Name returns the extension key
func (p *LocationPlugin) Name() string { return "location" }

// Initialize stores the environment
func (p *LocationPlugin) Initialize(env Environment) error {
	if env.Settings == nil {
		return errors.Newf("location plugin requires settings").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p.settings = env.Settings
	p.metrics = env.Metrics
	// no janitor goroutine, expired entries are skipped by Get
	p.cache = cache.New(LocationCacheTTL, 0)
	return nil
}

// Process returns the location as JSON
func (p *LocationPlugin) Process(_ context.Context, _ *datastore.EventRecord) (string, error) {
	settings := p.settings.Settings().Enrichment.Location
	if !settings.Enabled {
		return "", ErrPluginDisabled
	}

	current := Location{
		Latitude:  settings.Latitude,
		Longitude: settings.Longitude,
		Accuracy:  settings.Accuracy,
	}
	if v, found := p.cache.Get(locationCacheKey); found {
		cached := v.(Location)
		// coordinate changes invalidate the cached fix
		if cached.Latitude == current.Latitude && cached.Longitude == current.Longitude && cached.Accuracy == current.Accuracy {
			p.metrics.RecordCacheLookup(p.Name(), "hit")
			return marshalPayload(cached)
		}
	}
	p.metrics.RecordCacheLookup(p.Name(), "miss")

	current.Timestamp = p.now().UnixMilli()
	p.cache.Set(locationCacheKey, current, cache.DefaultExpiration)
	return marshalPayload(current)
}

func marshalPayload(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
