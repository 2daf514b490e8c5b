package policy

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog"
)

// ChatModelFactory builds the chat model the rails run on.
type ChatModelFactory func(ctx context.Context) (model.ChatModel, error)

// Load initialises the rails engine from the file at path. Any failure is
// logged once and collapses into Unavailable; nothing is retried later.
func Load(ctx context.Context, path string, newModel ChatModelFactory, logger zerolog.Logger) Generator {
	if path == "" {
		logger.Warn().Msg("policy engine not configured, continuing with lexical filter and direct model calls")
		return Unavailable{Reason: ErrNotConfigured}
	}

	cfg, err := LoadRailsConfig(path)
	if err != nil {
		return unavailable(logger, path, err)
	}

	if newModel == nil {
		return unavailable(logger, path, errors.New("policy: no chat model factory"))
	}
	chatModel, err := newModel(ctx)
	if err != nil {
		return unavailable(logger, path, err)
	}

	rails, err := NewRails(ctx, cfg, chatModel, logger)
	if err != nil {
		return unavailable(logger, path, err)
	}

	logger.Info().
		Str("config", path).
		Int("input_rails", len(rails.input)).
		Int("output_rails", len(rails.output)).
		Msg("policy engine initialized")
	return rails
}

func unavailable(logger zerolog.Logger, path string, err error) Generator {
	logger.Error().Err(err).Str("config", path).Msg("failed to initialize policy engine, continuing without it")
	return Unavailable{Reason: err}
}
