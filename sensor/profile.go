// Package sensor models simulated sensors: their categories and value
// profiles, the identities registered with the inventory service, the readings
// they emit and the periodic task that publishes them.
package sensor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/c360/sensorsim/errors"
)

// Category is the kind of quantity a sensor measures
type Category string

// Known sensor categories, spelled as the inventory service stores them.
const (
	Temperature Category = "Temperature"
	Humidity    Category = "Humidity"
	Pressure    Category = "Pressure"
	WindSpeed   Category = "WindSpeed"
)

// Categories lists the known categories in fleet order.
func Categories() []Category {
	return []Category{Temperature, Humidity, Pressure, WindSpeed}
}

// ParseCategory matches s against the known categories, ignoring case.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errors.ErrUnknownCategory, s)
}

// ShortName is the four-letter lowercase prefix used in display names.
func (c Category) ShortName() string {
	s := strings.ToLower(string(c))
	if len(s) > 4 {
		return s[:4]
	}
	return s
}

// Profile is the value range and emission rate for one category
type Profile struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Rate float64 `json:"rate" yaml:"rate"` // readings per minute
}

// maxPeriodNanos bounds the periods a time.Duration can hold.
const maxPeriodNanos = float64(math.MaxInt64)

func periodNanos(rate float64) float64 {
	return 60 / rate * float64(time.Second)
}

// Validate checks that the range is finite with min < max, and that the rate
// is finite, positive and slow enough for its period to fit a time.Duration.
func (p Profile) Validate() error {
	if math.IsInf(p.Min, 0) || math.IsInf(p.Max, 0) || !(p.Min < p.Max) {
		return fmt.Errorf("%w: min %v must be below max %v", errors.ErrInvalidConfig, p.Min, p.Max)
	}
	if !(p.Rate > 0) || math.IsInf(p.Rate, 1) {
		return fmt.Errorf("%w: rate %v must be positive and finite", errors.ErrInvalidConfig, p.Rate)
	}
	if periodNanos(p.Rate) >= maxPeriodNanos {
		return fmt.Errorf("%w: rate %v gives a period longer than %v", errors.ErrInvalidConfig, p.Rate, time.Duration(math.MaxInt64))
	}
	return nil
}

// Period is the interval between readings, 60/rate seconds. Rates without a
// representable period yield the longest duration; the result is never below
// one nanosecond.
func (p Profile) Period() time.Duration {
	ns := periodNanos(p.Rate)
	switch {
	case !(ns > 0) || ns >= maxPeriodNanos:
		return time.Duration(math.MaxInt64)
	case ns < 1:
		return time.Nanosecond
	}
	return time.Duration(ns)
}

// Value maps u in [0, 1) onto [Min, Max).
func (p Profile) Value(u float64) float64 {
	return p.Min + u*(p.Max-p.Min)
}

// Registry maps categories to profiles. It is read-only after construction.
type Registry struct {
	profiles map[Category]Profile
}

// DefaultProfiles returns the stock profile table.
func DefaultProfiles() map[Category]Profile {
	return map[Category]Profile{
		Temperature: {Min: -20, Max: 50, Rate: 3},
		Humidity:    {Min: 0, Max: 100, Rate: 2},
		Pressure:    {Min: 900, Max: 1100, Rate: 3},
		WindSpeed:   {Min: 0, Max: 150, Rate: 2},
	}
}

// DefaultRegistry returns a registry over DefaultProfiles.
func DefaultRegistry() *Registry {
	return &Registry{profiles: DefaultProfiles()}
}

// NewRegistry starts from the defaults and applies overrides. Every resulting
// profile is validated.
func NewRegistry(overrides map[Category]Profile) (*Registry, error) {
	profiles := DefaultProfiles()
	for c, p := range overrides {
		parsed, err := ParseCategory(string(c))
		if err != nil {
			return nil, errors.WrapInvalid(err, "Registry", "NewRegistry", "override category")
		}
		profiles[parsed] = p
	}
	for c, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, errors.WrapInvalid(err, "Registry", "NewRegistry", fmt.Sprintf("profile %s", c))
		}
	}
	return &Registry{profiles: profiles}, nil
}

// Lookup returns the profile for a category name as reported by the inventory.
func (r *Registry) Lookup(category string) (Profile, error) {
	c, err := ParseCategory(category)
	if err != nil {
		return Profile{}, err
	}
	p, ok := r.profiles[c]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q has no profile", errors.ErrUnknownCategory, category)
	}
	return p, nil
}

// Categories returns the registered categories, sorted.
func (r *Registry) Categories() []Category {
	out := make([]Category, 0, len(r.profiles))
	for c := range r.profiles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
