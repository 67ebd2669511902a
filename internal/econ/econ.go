// Package econ is the read boundary to the economic-simulation engine.
// The engine itself is an external collaborator: it writes indicator
// rows, this package only reads (and, for instructor tooling, appends)
// them. No simulation logic lives here.
package econ

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidIndicator = errors.New("econ: invalid indicator")
	ErrNotFound         = errors.New("econ: not found")
)

// Indicator is one simulation output observation for a country.
type Indicator struct {
	ID         string    `json:"id"`
	Country    string    `json:"country"`
	Name       string    `json:"name"`
	Period     string    `json:"period"`
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// Service reads the simulation output table. Both storage engines
// implement it alongside the auth store so one handle serves a process.
type Service interface {
	ListIndicators(ctx context.Context, country string, limit int) ([]Indicator, error)
	RecordIndicator(ctx context.Context, ind Indicator) (Indicator, error)
}

// Validate checks the fields required before an indicator is recorded.
func (i Indicator) Validate() error {
	if i.Country == "" || i.Name == "" || i.Period == "" {
		return ErrInvalidIndicator
	}
	return nil
}
