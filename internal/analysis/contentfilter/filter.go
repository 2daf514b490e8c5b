// Package contentfilter screens user messages for requests the assistant
// must refuse before any model is consulted.
package contentfilter

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Decision is the outcome of screening one message.
type Decision struct {
	Blocked  bool
	Response string
}

// jokePatterns cover humor solicitation. Every alternative is bounded by \b,
// so "jokester" or "punish" do not match.
var jokePatterns = []string{
	`\bjoke[s]?\b`,
	`\bfunny\b`,
	`\bhumor\b`,
	`\bcomedy\b`,
	`\blaugh\b`,
	`\bpun[s]?\b`,
	`\bjest\b`,
	`\bcomical\b`,
	`\bhilarious\b`,
	`\bhumorous\b`,
	`\bentertain me\b`,
	`\bmake me laugh\b`,
	`\bstand[-\s]?up\b`,
	`\bhumor me\b`,
	`\btell me something funny\b`,
	`\bcheer me up\b`,
	`\btell me a joke\b`,
	`\bknow any jokes\b`,
	`\bgot any jokes\b`,
	`\bshare a joke\b`,
}

var jokePattern = regexp.MustCompile(`(?i)` + strings.Join(jokePatterns, "|"))

var refusalTemplates = []string{
	"I'm sorry, I'm designed to provide information on medical topics. I'm not able to share jokes or humor content. Is there a medical topic I can help you with instead?",
	"As a medical information assistant, I focus on providing helpful information on health and medical topics, not entertainment content like jokes. How can I assist you with a medical question instead?",
	"I'm programmed to focus on medical information rather than humor or jokes. Is there a medical topic you'd like to learn about?",
	"I don't provide jokes or humor content. I'm here to help with medical information and questions. What medical topic would you like to explore?",
}

// Responses returns a copy of the refusal pool.
func Responses() []string {
	return append([]string(nil), refusalTemplates...)
}

// Selector picks the index of the refusal to send out of n candidates.
type Selector interface {
	Pick(n int) int
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(n int) int

// Pick calls f(n).
func (f SelectorFunc) Pick(n int) int { return f(n) }

// RandomSelector picks uniformly. Safe for concurrent use.
func RandomSelector() Selector {
	return SelectorFunc(rand.IntN)
}

// FixedSelector always picks the same index, wrapping around the pool size.
func FixedSelector(index int) Selector {
	return SelectorFunc(func(n int) int {
		if index < 0 {
			return 0
		}
		return index % n
	})
}

// Filter is the lexical gate in front of generation. It holds no mutable
// state after construction.
type Filter struct {
	pattern   *regexp.Regexp
	responses []string
	selector  Selector
	logger    zerolog.Logger
}

// Option customises a Filter.
type Option func(*Filter)

// WithSelector replaces the refusal selection strategy.
func WithSelector(s Selector) Option {
	return func(f *Filter) {
		if s != nil {
			f.selector = s
		}
	}
}

// WithLogger attaches a logger used when a request is blocked.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Filter) {
		f.logger = l
	}
}

// New returns a Filter with the built-in pattern set and refusal pool.
func New(opts ...Option) *Filter {
	f := &Filter{
		pattern:   jokePattern,
		responses: refusalTemplates,
		selector:  RandomSelector(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ContainsJokeRequest reports whether text asks for humor content.
func (f *Filter) ContainsJokeRequest(text string) bool {
	return f.pattern.MatchString(text)
}

// Filter screens text and, when blocked, returns one of the refusals.
func (f *Filter) Filter(text string) Decision {
	match := f.pattern.FindString(text)
	if match == "" {
		return Decision{}
	}

	f.logger.Info().
		Str("match", strings.ToLower(match)).
		Int("length", len(text)).
		Msg("blocked joke content request")

	return Decision{Blocked: true, Response: f.refusal()}
}

func (f *Filter) refusal() string {
	idx := f.selector.Pick(len(f.responses))
	if idx < 0 || idx >= len(f.responses) {
		idx = 0
	}
	return f.responses[idx]
}
