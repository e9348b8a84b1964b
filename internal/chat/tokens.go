package chat

import (
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
)

// TokenBudget bounds how much context is sent to the model per turn.
type TokenBudget struct {
	MaxHistoryTokens int // Budget for conversation history
	MaxContextTokens int // Budget for injected retrieval passages
}

// DefaultTokenBudget returns defaults that leave ample room for the
// system prompt and the model's response within common context windows.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		MaxHistoryTokens: 4000,
		MaxContextTokens: 4000,
	}
}

// estimateTokens approximates token count as runes/2. Crude but cheap,
// and errs on the generous side for CJK text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 2
	if n < 1 {
		return 1
	}
	return n
}

func estimateMessageTokens(msg *ai.Message) int {
	if msg == nil {
		return 0
	}
	total := 0
	for _, p := range msg.Content {
		if p != nil && p.IsText() {
			total += estimateTokens(p.Text)
		}
	}
	return total
}

func estimateMessagesTokens(msgs []*ai.Message) int {
	total := 0
	for _, msg := range msgs {
		total += estimateMessageTokens(msg)
	}
	return total
}

// truncateHistory drops messages until the history fits the budget.
// System messages are always kept; among the rest, newer messages win,
// and an oversized message in the middle is skipped rather than
// blocking everything older than it. Chronological order is preserved.
func (a *Agent) truncateHistory(msgs []*ai.Message, budget int) []*ai.Message {
	if len(msgs) == 0 || budget <= 0 {
		return msgs
	}
	if estimateMessagesTokens(msgs) <= budget {
		return msgs
	}

	used := 0
	keep := make([]bool, len(msgs))
	for i, msg := range msgs {
		if msg != nil && msg.Role == ai.RoleSystem {
			keep[i] = true
			used += estimateMessageTokens(msg)
		}
	}

	// Newest first within the remaining budget.
	for i := len(msgs) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		cost := estimateMessageTokens(msgs[i])
		if used+cost > budget {
			continue
		}
		keep[i] = true
		used += cost
	}

	out := make([]*ai.Message, 0, len(msgs))
	for i, msg := range msgs {
		if keep[i] {
			out = append(out, msg)
		}
	}

	dropped := len(msgs) - len(out)
	if dropped > 0 {
		a.logger.Debug("truncated history",
			"dropped", dropped,
			"kept", len(out),
			"estimated_tokens", used)
	}
	return out
}
