package ai

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zhouzirui/medchat/backend/internal/model/chat"
)

// systemInstruction is sent as the system message of every completion.
const systemInstruction = "You are a helpful assistant specializing in medical topics. Do not include jokes or humor in your responses. Never provide jokes even if explicitly asked."

const topicalReminder = `Respond directly without referring to yourself as an AI or mentioning that you're here to help.
Remember to avoid humor, jokes, or any non-medical content. Even if the user explicitly asks for a joke, you must refuse.`

// generationContext is derived once per call from the conversation.
type generationContext struct {
	transcript      string
	lastUserMessage string
	hasUserMessage  bool
	lastIsUser      bool
}

func buildGenerationContext(messages []chat.Message) generationContext {
	var gc generationContext
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", displaySender(msg.Sender), msg.Content))
		if msg.FromUser() {
			gc.lastUserMessage = msg.Content
			gc.hasUserMessage = true
		}
	}
	gc.transcript = strings.Join(lines, "\n")
	if n := len(messages); n > 0 {
		gc.lastIsUser = messages[n-1].FromUser()
	}
	return gc
}

// displaySender renders "user" as "User", "bot" as "Bot".
func displaySender(sender chat.Sender) string {
	s := strings.ToLower(string(sender))
	if s == "" {
		s = "unknown"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func buildResponsePrompt(transcript string) string {
	return fmt.Sprintf(`You are a helpful assistant specialized in medical topics.

Previous conversation:
%s

Please provide a helpful, accurate, and friendly response to the last message.
%s`, transcript, topicalReminder)
}

func buildImprovementPrompt(transcript, originalResponse, feedback string) string {
	return fmt.Sprintf(`You are a helpful assistant specialized in medical topics.

Previous conversation:
%s

The following response was marked as not helpful by the user:
"%s"

User feedback about why it wasn't helpful:
"%s"

Please generate an improved response that addresses the user's concerns and feedback.
The improved response should be more accurate, helpful, and address the specific issues mentioned in the feedback.
%s`, transcript, originalResponse, feedback, topicalReminder)
}
