package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// Rails is the available policy engine: input rails, an eino chat chain
// primed with the rails instructions, then output rails.
type Rails struct {
	instructions string
	input        []rail
	output       []rail
	historyLimit int
	chain        compose.Runnable[map[string]any, *schema.Message]
	logger       zerolog.Logger
}

// NewRails compiles the rails chain on top of chatModel.
func NewRails(ctx context.Context, cfg RailsConfig, chatModel model.BaseChatModel, logger zerolog.Logger) (*Rails, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("policy: chat model is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	input, err := compileRails(cfg.InputRails)
	if err != nil {
		return nil, err
	}
	output, err := compileRails(cfg.OutputRails)
	if err != nil {
		return nil, err
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instructions}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile rails chain: %w", err)
	}

	return &Rails{
		instructions: cfg.Instructions,
		input:        input,
		output:       output,
		historyLimit: cfg.historyLimit(),
		chain:        runnable,
		logger:       logger,
	}, nil
}

// Available always reports true.
func (r *Rails) Available() bool { return true }

// TryGenerate runs the rails over the conversation.
func (r *Rails) TryGenerate(ctx context.Context, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrNoTurns
	}

	last := turns[len(turns)-1]
	if hit, ok := matchRail(r.input, last.Content); ok {
		r.logger.Info().Str("rail", hit.name).Msg("input rail triggered")
		return hit.response, nil
	}

	msg, err := r.chain.Invoke(ctx, map[string]any{
		"instructions": r.instructions,
		"history":      r.historyMessages(turns),
	})
	if err != nil {
		return "", fmt.Errorf("policy: rails generation failed: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(msg.Content)

	if hit, ok := matchRail(r.output, content); ok {
		r.logger.Info().Str("rail", hit.name).Msg("output rail triggered")
		if hit.response == "" {
			return "", fmt.Errorf("%w: %s", ErrOutputRejected, hit.name)
		}
		return hit.response, nil
	}

	return content, nil
}

func (r *Rails) historyMessages(turns []Turn) []*schema.Message {
	start := 0
	if len(turns) > r.historyLimit {
		start = len(turns) - r.historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-start)
	for _, t := range turns[start:] {
		if t.Role == RoleUser {
			history = append(history, schema.UserMessage(t.Content))
		} else {
			history = append(history, schema.AssistantMessage(t.Content, nil))
		}
	}
	return history
}
