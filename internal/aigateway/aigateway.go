// Package aigateway fronts the external model service that produces content
// risk analyses. Failures stay inside the gateway: callers see either a
// Result or ErrGatewayUnavailable.
package aigateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrGatewayUnavailable   = errors.New("analysis gateway unavailable")
	ErrInvalidGatewayConfig = errors.New("invalid gateway configuration")
)

// Result is one sanitized analysis. RiskScore is always within 0..100.
type Result struct {
	Summary         string   `json:"summary"`
	RiskScore       int64    `json:"score_risk"`
	Tags            []string `json:"tags"`
	Recommendations []string `json:"recommendations"`
}

// Analyzer produces risk analyses for uploaded content.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imageData []byte, mimeType string, instruction string) (Result, error)
	AnalyzeText(ctx context.Context, text string) (Result, error)
}

// Config controls the model client.
type Config struct {
	APIKey      string
	VisionModel string
	TextModel   string
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
}

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
	defaultRetries = 2
	defaultBackoff = 1200 * time.Millisecond
)

// Validate applies defaults and rejects unusable values.
func (config *Config) Validate() error {
	if config.VisionModel == "" {
		config.VisionModel = defaultModel
	}
	if config.TextModel == "" {
		config.TextModel = defaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Retries < 0 {
		config.Retries = defaultRetries
	}
	if config.Backoff <= 0 {
		config.Backoff = defaultBackoff
	}
	return nil
}
