package config

import (
	"fmt"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/window"
)

// Policy builds and validates the window policy described by w.
func (w WindowConfig) Policy() (window.Policy, error) {
	var p window.Policy

	switch window.Mode(w.Mode) {
	case window.ModeTime:
		unit, err := window.ParseUnit(w.Unit)
		if err != nil {
			return p, err
		}
		p = window.TimePolicy(w.Step, unit, w.Overlap)
	case window.ModeCount:
		p = window.CountPolicy(w.Count, w.Overlap)
	case window.ModeSize:
		p = window.SizePolicy(w.MaxBytes, w.Overlap)
	default:
		return p, fmt.Errorf("%w: unknown mode %q", window.ErrInvalidPolicy, w.Mode)
	}

	return p, p.Validate()
}

// ToleranceDuration parses the out-of-order tolerance. Empty means none.
func (w WindowConfig) ToleranceDuration() (time.Duration, error) {
	return parseDuration("window.tolerance", w.Tolerance)
}

// Params returns the sampling parameters that feed the generation fingerprint.
func (g GenerationConfig) Params() llm.Params {
	return llm.Params{
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
		Seed:        g.Seed,
	}
}

// TimeoutDuration parses the per-request generation timeout.
func (g GenerationConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("generation.timeout", g.Timeout)
}

// BackoffDurations parses the base and maximum retry backoff.
func (p PipelineConfig) BackoffDurations() (time.Duration, time.Duration, error) {
	base, err := parseDuration("pipeline.backoff", p.Backoff)
	if err != nil {
		return 0, 0, err
	}
	limit, err := parseDuration("pipeline.max_backoff", p.MaxBackoff)
	if err != nil {
		return 0, 0, err
	}
	return base, limit, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid value for %s: must not be negative", key)
	}
	return d, nil
}
