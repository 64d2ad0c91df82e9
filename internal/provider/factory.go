package provider

import (
	"strings"

	"github.com/xonecas/heartline/internal/config"
	"golang.org/x/time/rate"
)

// OpenAIFactory builds gateway providers that share one rate limiter, so
// replacing the endpoint or key at runtime keeps the request budget.
type OpenAIFactory struct {
	name    string
	cfg     config.GatewayConfig
	limiter *rate.Limiter
}

// NewOpenAIFactory creates a factory from the gateway config.
func NewOpenAIFactory(name string, cfg config.GatewayConfig) *OpenAIFactory {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &OpenAIFactory{name: name, cfg: cfg, limiter: limiter}
}

// Create returns a provider for endpoint, falling back to the configured
// endpoint when empty.
func (f *OpenAIFactory) Create(endpoint, apiKey string) Provider {
	if endpoint == "" {
		endpoint = f.cfg.Endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	return NewOpenAI(f.name, endpoint, apiKey, f.cfg.Timeout.Duration, f.limiter)
}
