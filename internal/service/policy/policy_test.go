package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	reply     string
	err       error
	calls     int
	lastInput []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

const railsYAML = `
instructions: |
  You are a careful medical information assistant. Refuse non-medical requests.
input_rails:
  - name: finance
    patterns: ['\bcrypto\b', '\bstocks?\b']
    response: "I can only help with medical questions."
output_rails:
  - name: ai_identity
    patterns: ['as an ai language model']
  - name: diagnosis_claim
    patterns: ['you definitely have']
    response: "Please consult a clinician for a diagnosis."
history_limit: 2
`

func testConfig(t *testing.T) RailsConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(railsYAML), 0o600))
	cfg, err := LoadRailsConfig(path)
	require.NoError(t, err)
	return cfg
}

func newTestRails(t *testing.T, fake *fakeChatModel) *Rails {
	t.Helper()
	r, err := NewRails(context.Background(), testConfig(t), fake, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestUnavailableNeverGenerates(t *testing.T) {
	var g Generator = Unavailable{Reason: errors.New("boom")}
	assert.False(t, g.Available())

	_, err := g.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRailsGeneratesThroughChain(t *testing.T) {
	fake := &fakeChatModel{reply: "  Drink fluids and rest.  "}
	r := newTestRails(t, fake)
	assert.True(t, r.Available())

	got, err := r.TryGenerate(context.Background(), []Turn{
		{Role: RoleAssistant, Content: "Hello"},
		{Role: RoleUser, Content: "I have a cold"},
		{Role: RoleAssistant, Content: "Sorry to hear that"},
		{Role: RoleUser, Content: "What should I do?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Drink fluids and rest.", got)

	// System instructions plus the last two turns.
	require.Len(t, fake.lastInput, 3)
	assert.Equal(t, schema.System, fake.lastInput[0].Role)
	assert.Contains(t, fake.lastInput[0].Content, "medical information assistant")
	assert.Equal(t, schema.Assistant, fake.lastInput[1].Role)
	assert.Equal(t, schema.User, fake.lastInput[2].Role)
	assert.Equal(t, "What should I do?", fake.lastInput[2].Content)
}

func TestRailsInputRailShortCircuits(t *testing.T) {
	fake := &fakeChatModel{reply: "unused"}
	r := newTestRails(t, fake)

	got, err := r.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "Should I buy CRYPTO?"}})
	require.NoError(t, err)
	assert.Equal(t, "I can only help with medical questions.", got)
	assert.Zero(t, fake.calls)
}

func TestRailsOutputRailRejectsReply(t *testing.T) {
	r := newTestRails(t, &fakeChatModel{reply: "As an AI language model I cannot say."})

	_, err := r.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "Is this rash serious?"}})
	assert.ErrorIs(t, err, ErrOutputRejected)
}

func TestRailsOutputRailReplacesReply(t *testing.T) {
	r := newTestRails(t, &fakeChatModel{reply: "You definitely have measles."})

	got, err := r.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "Is this rash serious?"}})
	require.NoError(t, err)
	assert.Equal(t, "Please consult a clinician for a diagnosis.", got)
}

func TestRailsEmptyReply(t *testing.T) {
	r := newTestRails(t, &fakeChatModel{reply: "   "})

	_, err := r.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "hello"}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRailsModelError(t *testing.T) {
	r := newTestRails(t, &fakeChatModel{err: errors.New("upstream down")})

	_, err := r.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "hello"}})
	assert.Error(t, err)
}

func TestRailsNoTurns(t *testing.T) {
	r := newTestRails(t, &fakeChatModel{reply: "x"})

	_, err := r.TryGenerate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTurns)
}

func TestRailsConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  RailsConfig
	}{
		{"missing instructions", RailsConfig{}},
		{"input rail without response", RailsConfig{Instructions: "x", InputRails: []RailSpec{{Name: "a", Patterns: []string{"b"}}}}},
		{"rail without patterns", RailsConfig{Instructions: "x", OutputRails: []RailSpec{{Name: "a"}}}},
		{"rail without name", RailsConfig{Instructions: "x", OutputRails: []RailSpec{{Patterns: []string{"b"}}}}},
		{"bad pattern", RailsConfig{Instructions: "x", OutputRails: []RailSpec{{Name: "a", Patterns: []string{"("}}}}},
		{"negative history", RailsConfig{Instructions: "x", HistoryLimit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestLoadWithoutPathIsUnavailable(t *testing.T) {
	g := Load(context.Background(), "", nil, zerolog.Nop())
	assert.False(t, g.Available())

	_, err := g.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, ErrNotConfigured.Error())
}

func TestLoadMissingFileIsUnavailable(t *testing.T) {
	g := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), nil, zerolog.Nop())
	assert.False(t, g.Available())
}

func TestLoadModelFactoryFailureIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(railsYAML), 0o600))

	g := Load(context.Background(), path, func(context.Context) (model.ChatModel, error) {
		return nil, errors.New("no credentials")
	}, zerolog.Nop())
	assert.False(t, g.Available())
}

func TestLoadSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(railsYAML), 0o600))

	fake := &fakeChatModel{reply: "ok"}
	g := Load(context.Background(), path, func(context.Context) (model.ChatModel, error) {
		return fake, nil
	}, zerolog.Nop())
	require.True(t, g.Available())

	got, err := g.TryGenerate(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestShippedRailsConfigIsValid(t *testing.T) {
	cfg, err := LoadRailsConfig(filepath.Join("..", "..", "..", "configs", "policy", "rails.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.HistoryLimit)

	input, err := compileRails(cfg.InputRails)
	require.NoError(t, err)
	_, ok := matchRail(input, "Tell me a JOKE about doctors")
	assert.True(t, ok)
	_, ok = matchRail(input, "What dose of ibuprofen is safe?")
	assert.False(t, ok)
}
