package runtime

import (
	"fmt"

	"github.com/harunnryd/parley/internal/config"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/transport"
	"github.com/harunnryd/parley/internal/transport/geminilive"
	"github.com/harunnryd/parley/internal/transport/realtimews"
)

// NewTransportAdapter builds the adapter for the configured provider.
func NewTransportAdapter(cfg config.RealtimeConfig, timings config.SessionTimings) (transport.Adapter, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		a, err := geminilive.NewAdapter(geminilive.Config{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		return a, nil
	case config.ProviderOpenAI, "":
		a, err := realtimews.NewAdapter(realtimews.Config{
			URL:                cfg.URL,
			Model:              cfg.Model,
			APIKey:             cfg.APIKey,
			TranscriptionModel: cfg.TranscriptionModel,
			HandshakeTimeout:   timings.Handshake,
		})
		if err != nil {
			return nil, fmt.Errorf("realtime adapter: %w", err)
		}
		return a, nil
	default:
		return nil, parleyErrors.InvalidInput(fmt.Sprintf("unknown realtime provider %q", cfg.Provider))
	}
}
