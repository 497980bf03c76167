package imagery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/backyonatan-alt/sitewatch/internal/config"
	"github.com/backyonatan-alt/sitewatch/internal/imagery/earthengine"
	"github.com/backyonatan-alt/sitewatch/internal/imagery/sentinelhub"
)

// New builds the provider selected by cfg. onFallback may be nil.
func New(ctx context.Context, cfg config.Imagery, uploader Uploader, onFallback func(source string, err error)) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderMock:
		slog.Info("imagery provider", "provider", cfg.Provider, "delay", cfg.MockDelay)
		return NewMock(WithMockDelay(cfg.MockDelay)), nil

	case config.ProviderEarthEngine:
		if uploader == nil {
			return nil, errors.New("earth engine provider requires an uploader")
		}
		ee, err := earthengine.New(ctx, cfg.EarthEngine.Project, cfg.EarthEngine.ServiceAccountKey)
		if err != nil {
			return nil, fmt.Errorf("earth engine client: %w", err)
		}
		slog.Info("imagery provider", "provider", cfg.Provider, "project", cfg.EarthEngine.Project, "window_days", cfg.WindowDays)
		return NewComposite(ee, uploader,
			WithWindowDays(cfg.WindowDays),
			WithFallbackHook(onFallback),
		), nil

	case config.ProviderSentinelHub:
		if uploader == nil {
			return nil, errors.New("sentinel hub provider requires an uploader")
		}
		sh := cfg.SentinelHub
		tokens := sentinelhub.NewTokenCache(sentinelhub.ClientCredentials(sh.ClientID, sh.ClientSecret, sh.TokenURL))
		slog.Info("imagery provider", "provider", cfg.Provider, "base_url", sh.BaseURL, "rps", sh.RPS)
		return NewSentinelHub(sentinelhub.New(sh.BaseURL, tokens, sh.RPS), uploader, cfg.WindowDays), nil
	}
	return nil, fmt.Errorf("unknown imagery provider %q", cfg.Provider)
}
