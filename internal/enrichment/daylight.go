package enrichment

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/suncalc"
)

// Daylight is the payload contributed by the daylight plugin
type Daylight struct {
	Phase   suncalc.Phase `json:"phase"`
	Sunrise time.Time     `json:"sunrise"`
	Sunset  time.Time     `json:"sunset"`
}

// DaylightPlugin reports the sun phase at the time of the event.
type DaylightPlugin struct {
	settings conf.Provider

	mu   sync.Mutex
	calc *suncalc.SunCalc
	lat  float64
	lon  float64
}

// NewDaylightPlugin creates the daylight plugin
func NewDaylightPlugin() *DaylightPlugin {
	return &DaylightPlugin{}
}

// Name returns the extension key
func (p *DaylightPlugin) Name() string { return "daylight" }

// Initialize stores the environment
func (p *DaylightPlugin) Initialize(env Environment) error {
	if env.Settings == nil {
		return errors.Newf("daylight plugin requires settings").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}
	p.settings = env.Settings
	return nil
}

// Process returns the daylight phase of the record timestamp as JSON
func (p *DaylightPlugin) Process(_ context.Context, record *datastore.EventRecord) (string, error) {
	settings := p.settings.Settings()
	if !settings.Enrichment.Daylight.Enabled {
		return "", ErrPluginDisabled
	}

	loc := settings.Enrichment.Location
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return "", errors.Newf("station location not configured").
			Component("enrichment").
			Category(errors.CategoryConfiguration).
			Build()
	}

	times, err := p.calculator(loc.Latitude, loc.Longitude).GetSunEventTimes(record.Timestamp)
	if err != nil {
		return "", err
	}

	return marshalPayload(Daylight{
		Phase:   times.PhaseAt(record.Timestamp),
		Sunrise: times.Sunrise,
		Sunset:  times.Sunset,
	})
}

// calculator returns a SunCalc for lat/lon, replacing it when the station moved
func (p *DaylightPlugin) calculator(lat, lon float64) *suncalc.SunCalc {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calc == nil || p.lat != lat || p.lon != lon {
		p.calc = suncalc.NewSunCalc(lat, lon)
		p.lat, p.lon = lat, lon
	}
	return p.calc
}
