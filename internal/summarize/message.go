package summarize

import (
	"strings"

	"omnicortex/internal/types"
)

// AnalyzeMessage computes the stored statistics and tone indicators for a
// captured user message. Counts are derived from content so the two can
// never drift apart.
func AnalyzeMessage(content string) types.UserMessage {
	msg := types.UserMessage{
		Content:   content,
		WordCount: len(strings.Fields(content)),
		CharCount: len([]rune(content)),
		LineCount: strings.Count(content, "\n") + 1,
	}
	if content == "" {
		msg.LineCount = 0
	}

	msg.HasCodeBlocks = strings.Contains(content, "```")
	msg.HasQuestions = strings.Contains(content, "?")

	lower := strings.ToLower(content)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "$ ") || strings.HasPrefix(trimmed, "/") {
			msg.HasCommands = true
			break
		}
	}

	msg.ToneIndicators = detectTones(lower, msg)
	return msg
}

// Tone detection is keyword heuristics, not sentiment analysis. Good enough
// for the style adapter, cheap enough to run on every message.
func detectTones(lower string, msg types.UserMessage) []string {
	var tones []string
	add := func(tone string, hit bool) {
		if hit {
			tones = append(tones, tone)
		}
	}

	add(types.ToneUrgent, containsAny(lower, "urgent", "asap", "immediately", "right now", "!!"))
	add(types.TonePolite, containsAny(lower, "please", "thank you", "thanks", "could you", "would you"))
	add(types.ToneDirect, startsWithAny(lower, "fix ", "add ", "remove ", "change ", "update ", "write ", "delete ", "implement ", "stop "))
	add(types.ToneInquisitive, msg.HasQuestions || startsWithAny(lower, "why ", "how ", "what ", "where ", "when ", "can "))
	add(types.ToneTechnical, msg.HasCodeBlocks || containsAny(lower, "function", "error", "stack trace", "compile", "struct", "api", "`"))
	add(types.ToneCasual, containsAny(lower, "lol", "btw", "hey", "gonna", "kinda"))

	return tones
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func startsWithAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
