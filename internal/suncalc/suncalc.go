// Package suncalc calculates sun event times and the daylight phase for a
// fixed observer location.
package suncalc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// Phase is the daylight phase at a moment in time
type Phase string

const (
	PhaseNight Phase = "night"
	PhaseDawn  Phase = "dawn" // civil dawn to sunrise
	PhaseDay   Phase = "day"
	PhaseDusk  Phase = "dusk" // sunset to civil dusk
)

// SunEventTimes holds the calculated sun event times in the location of the
// requested date
type SunEventTimes struct {
	CivilDawn time.Time
	Sunrise   time.Time
	Sunset    time.Time
	CivilDusk time.Time
}

// SunCalc handles caching and calculation of sun event times
type SunCalc struct {
	cache    map[string]SunEventTimes // keyed by calendar date and zone
	lock     sync.RWMutex
	observer astral.Observer
}

// NewSunCalc creates a new SunCalc instance
func NewSunCalc(latitude, longitude float64) *SunCalc {
	return &SunCalc{
		cache:    make(map[string]SunEventTimes),
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
	}
}

// GetSunEventTimes returns the sun event times for the calendar day of date,
// using cache if available
func (sc *SunCalc) GetSunEventTimes(date time.Time) (SunEventTimes, error) {
	dateKey := date.Format("2006-01-02 MST")

	sc.lock.RLock()
	times, exists := sc.cache[dateKey]
	sc.lock.RUnlock()
	if exists {
		return times, nil
	}

	times, err := sc.calculateSunEventTimes(date)
	if err != nil {
		return SunEventTimes{}, err
	}

	sc.lock.Lock()
	sc.cache[dateKey] = times
	sc.lock.Unlock()

	return times, nil
}

// calculateSunEventTimes calculates the sun event times for a given date.
// Polar day and night have no sunrise or sunset and return an error.
func (sc *SunCalc) calculateSunEventTimes(date time.Time) (SunEventTimes, error) {
	loc := date.Location()
	day := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)

	civilDawn, err := astral.Dawn(sc.observer, day, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate civil dawn: %w", err)
	}

	sunrise, err := astral.Sunrise(sc.observer, day)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate sunrise: %w", err)
	}

	sunset, err := astral.Sunset(sc.observer, day)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate sunset: %w", err)
	}

	civilDusk, err := astral.Dusk(sc.observer, day, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate civil dusk: %w", err)
	}

	return SunEventTimes{
		CivilDawn: civilDawn.In(loc),
		Sunrise:   sunrise.In(loc),
		Sunset:    sunset.In(loc),
		CivilDusk: civilDusk.In(loc),
	}, nil
}

// GetSunriseTime returns the sunrise time for a given date
func (sc *SunCalc) GetSunriseTime(date time.Time) (time.Time, error) {
	sunEventTimes, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get sun event times: %w", err)
	}
	return sunEventTimes.Sunrise, nil
}

// GetSunsetTime returns the sunset time for a given date
func (sc *SunCalc) GetSunsetTime(date time.Time) (time.Time, error) {
	sunEventTimes, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get sun event times: %w", err)
	}
	return sunEventTimes.Sunset, nil
}

// GetPhase returns the daylight phase at t
func (sc *SunCalc) GetPhase(t time.Time) (Phase, error) {
	times, err := sc.GetSunEventTimes(t)
	if err != nil {
		return "", err
	}
	return times.PhaseAt(t), nil
}

// PhaseAt classifies t against the event times of its day
func (s SunEventTimes) PhaseAt(t time.Time) Phase {
	switch {
	case t.Before(s.CivilDawn):
		return PhaseNight
	case t.Before(s.Sunrise):
		return PhaseDawn
	case t.Before(s.Sunset):
		return PhaseDay
	case t.Before(s.CivilDusk):
		return PhaseDusk
	default:
		return PhaseNight
	}
}
