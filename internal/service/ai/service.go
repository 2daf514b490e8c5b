package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/medchat/backend/internal/analysis/contentfilter"
	"github.com/zhouzirui/medchat/backend/internal/model/chat"
	"github.com/zhouzirui/medchat/backend/internal/observability/metrics"
	"github.com/zhouzirui/medchat/backend/internal/service/llm"
	"github.com/zhouzirui/medchat/backend/internal/service/policy"
)

// Token budgets per call purpose.
const (
	ResponseMaxTokens         = 500
	ImprovedResponseMaxTokens = 700
)

// User-facing replies used when the model cannot be reached.
const (
	ApologyMessage         = "I'm sorry, I'm having trouble processing your request. Please try again later."
	FeedbackApologyMessage = "I'm sorry, I'm having trouble processing your feedback request. Please try again later."
)

var aiTracer = otel.Tracer("medchat.internal.service.ai")

// ContentFilter is the lexical gate consulted before any generation.
type ContentFilter interface {
	Filter(text string) contentfilter.Decision
}

// Service sequences filter, policy engine and model for every reply. It
// holds no mutable state and is safe for concurrent use.
type Service struct {
	filter  ContentFilter
	policy  policy.Generator
	model   llm.Completer
	metrics *metrics.PipelineMetrics
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics records pipeline outcomes.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires the pipeline. A nil policy engine is treated as unavailable.
func NewService(filter ContentFilter, policyEngine policy.Generator, model llm.Completer, opts ...Option) *Service {
	if filter == nil {
		panic("ai: content filter cannot be nil")
	}
	if model == nil {
		panic("ai: completer cannot be nil")
	}
	if policyEngine == nil {
		policyEngine = policy.Unavailable{Reason: policy.ErrNotConfigured}
	}

	s := &Service{
		filter: filter,
		policy: policyEngine,
		model:  model,
		logger: zerolog.Nop(),
		tracer: aiTracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateResponse answers the latest turn of the conversation. It always
// returns a displayable string: a refusal, a policy engine reply, a model
// reply, or ApologyMessage.
func (s *Service) GenerateResponse(ctx context.Context, messages []chat.Message) (reply string) {
	ctx, span := s.tracer.Start(ctx, "ai.generate_response")
	defer span.End()

	path := metrics.PathApology
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("response pipeline panicked")
			reply, path = ApologyMessage, metrics.PathApology
		}
		span.SetAttributes(attribute.String("chat.response_path", path))
		s.metrics.ObserveResponse(path)
	}()

	gc := buildGenerationContext(messages)

	if gc.hasUserMessage {
		if decision := s.filter.Filter(gc.lastUserMessage); decision.Blocked {
			s.logger.Info().Msg("content filter blocked a request for joke content")
			path = metrics.PathFilter
			return decision.Response
		}
	}

	if gc.lastIsUser && s.policy.Available() {
		if content, ok := s.tryPolicy(ctx, messages); ok {
			path = metrics.PathPolicy
			return content
		}
	}

	content, err := s.complete(ctx, metrics.PurposeFresh, buildResponsePrompt(gc.transcript), ResponseMaxTokens)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("failed to generate response")
		return ApologyMessage
	}

	path = metrics.PathModel
	return content
}

// GenerateImprovedResponse regenerates originalResponse in light of the
// user's feedback. Filter and policy engine are not consulted: the content
// being improved already passed them once.
func (s *Service) GenerateImprovedResponse(ctx context.Context, messages []chat.Message, originalResponse, feedback string) (reply string) {
	ctx, span := s.tracer.Start(ctx, "ai.generate_improved_response")
	defer span.End()

	path := metrics.PathApology
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("improvement pipeline panicked")
			reply, path = FeedbackApologyMessage, metrics.PathApology
		}
		span.SetAttributes(attribute.String("chat.response_path", path))
		s.metrics.ObserveResponse(path)
	}()

	gc := buildGenerationContext(messages)
	prompt := buildImprovementPrompt(gc.transcript, originalResponse, feedback)

	content, err := s.complete(ctx, metrics.PurposeImproved, prompt, ImprovedResponseMaxTokens)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("failed to generate improved response")
		return FeedbackApologyMessage
	}

	path = metrics.PathModel
	return content
}

func (s *Service) tryPolicy(ctx context.Context, messages []chat.Message) (string, bool) {
	turns := make([]policy.Turn, 0, len(messages))
	for _, msg := range messages {
		role := policy.RoleAssistant
		if msg.FromUser() {
			role = policy.RoleUser
		}
		turns = append(turns, policy.Turn{Role: role, Content: msg.Content})
	}

	content, err := s.policy.TryGenerate(ctx, turns)
	if err == nil && content == "" {
		err = policy.ErrEmptyResponse
	}
	if err != nil {
		s.metrics.ObservePolicyError()
		s.logger.Error().Err(err).Msg("policy engine failed, falling back to direct model call")
		return "", false
	}

	s.logger.Info().Msg("response generated through policy engine")
	return content, true
}

func (s *Service) complete(ctx context.Context, purpose, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	content, err := s.model.Complete(ctx, systemInstruction, prompt, maxTokens)
	content = strings.TrimSpace(content)
	if err == nil && content == "" {
		err = llm.ErrEmptyCompletion
	}
	s.metrics.ObserveModelLatency(purpose, err != nil, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("ai: %s completion: %w", purpose, err)
	}
	return content, nil
}
