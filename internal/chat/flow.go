package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/quill-chat/quill/internal/session"
)

// InputMessage is one entry of the conversation array clients send.
type InputMessage struct {
	Role    string `json:"role"`    // "user" | "assistant" | "system"
	Content string `json:"content"` // Plain text
}

// Input is the request payload for the chat flow. The agent answers
// the most recent user message; client-supplied assistant turns are
// ignored because the server keeps its own history per session.
type Input struct {
	Messages  []InputMessage `json:"messages"`
	SessionID string         `json:"sessionId"`
}

// Output is the response payload from the chat flow.
type Output struct {
	Response  string   `json:"response"`
	SessionID string   `json:"sessionId"`
	Sources   []Source `json:"sources,omitempty"`
}

// StreamChunk is the streaming output type: partial text ready to
// display.
type StreamChunk struct {
	Text string `json:"text"`
}

// FlowName is the registered name of the chat flow in Genkit.
const FlowName = "quill/chat"

// Flow is the chat agent's Genkit streaming flow type.
type Flow = core.Flow[Input, Output, StreamChunk]

// Package-level singleton: genkit.DefineStreamingFlow panics on
// re-registration.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the chat flow singleton, initializing it on first
// call. Subsequent calls return the existing flow.
func NewFlow(g *genkit.Genkit, agent *Agent) *Flow {
	flowOnce.Do(func() {
		flow = agent.DefineFlow(g)
	})
	return flow
}

// ResetFlowForTesting resets the singleton so tests can register with
// different configurations. Not safe for concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// LastUserMessage extracts the text of the most recent user entry.
// Returns ErrEmptyQuery when none exists or the text is blank.
func LastUserMessage(messages []InputMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != session.RoleUser {
			continue
		}
		text := strings.TrimSpace(messages[i].Content)
		if text == "" {
			return "", fmt.Errorf("%w: last user message is blank", ErrEmptyQuery)
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: no user message in request", ErrEmptyQuery)
}

// DefineFlow registers the Genkit streaming flow for the agent.
// Use NewFlow instead of calling this directly; registering twice
// panics inside Genkit.
func (a *Agent) DefineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, StreamChunk) error) (Output, error) {
			sessionID, err := uuid.Parse(input.SessionID)
			if err != nil {
				return Output{SessionID: input.SessionID}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
			}

			query, err := LastUserMessage(input.Messages)
			if err != nil {
				return Output{SessionID: input.SessionID}, err
			}

			var agentCallback StreamCallback
			if streamCb != nil {
				agentCallback = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
					if chunk == nil {
						return nil
					}
					for _, part := range chunk.Content {
						if part.Text == "" {
							continue
						}
						if streamErr := streamCb(ctx, StreamChunk{Text: part.Text}); streamErr != nil {
							return streamErr
						}
					}
					return nil
				}
			}

			resp, err := a.ExecuteStream(ctx, sessionID, query, agentCallback)
			if err != nil {
				return Output{SessionID: input.SessionID}, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
			}

			return Output{
				Response:  resp.FinalText,
				SessionID: input.SessionID,
				Sources:   resp.Sources,
			}, nil
		},
	)
}
