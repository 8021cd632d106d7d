// Package generator provides code generators for materialisation: an
// OpenAI-backed one and an offline template renderer.
package generator

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"genomeforge/internal/materialise"
	"genomeforge/pkg/genome"
)

const (
	EnvDriver = "GENOMEFORGE_GENERATOR"
	// EnvRateLimit caps generator calls per second across all jobs.
	EnvRateLimit = "GENOMEFORGE_GENERATOR_RPS"
)

const (
	DriverOpenAI   = "openai"
	DriverTemplate = "template"
)

// Throttled wraps a generator with a token bucket shared by every caller.
type Throttled struct {
	next    materialise.Generator
	limiter *rate.Limiter
}

// Throttle limits next to rps calls per second with the given burst. A
// non-positive rps returns next unchanged.
func Throttle(next materialise.Generator, rps float64, burst int) materialise.Generator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *Throttled) Generate(ctx context.Context, blockType string, props genome.Props, zone string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generator throttle: %w", err)
	}
	return t.next.Generate(ctx, blockType, props, zone)
}

// Config selects and tunes a generator.
type Config struct {
	Driver    string       `yaml:"driver"`
	RateLimit float64      `yaml:"rate_limit"`
	Burst     int          `yaml:"burst"`
	OpenAI    OpenAIConfig `yaml:"openai"`
}

// Open builds the configured generator. An empty driver picks openai when an
// API key is present and the template renderer otherwise.
func Open(cfg Config) (materialise.Generator, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverTemplate
		if cfg.OpenAI.APIKey != "" || os.Getenv(EnvOpenAIKey) != "" {
			driver = DriverOpenAI
		}
	}
	var gen materialise.Generator
	switch driver {
	case DriverTemplate:
		gen = NewTemplate()
	case DriverOpenAI:
		oa, err := NewOpenAI(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		gen = oa
	default:
		return nil, fmt.Errorf("unknown generator driver %q", driver)
	}
	return Throttle(gen, cfg.RateLimit, cfg.Burst), nil
}
