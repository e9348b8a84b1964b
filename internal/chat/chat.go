// Package chat implements the conversational agent: retrieval-augmented
// generation over the knowledge base with session history and tool
// calling.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/session"
)

const (
	// PromptName is the Dotprompt file for the agent
	// (prompts/quill.prompt). The system instructions live there.
	PromptName = "quill"

	// retrievalTimeout limits how long passage retrieval may take per
	// request. Retrieval failure degrades the answer, it must not
	// block it.
	retrievalTimeout = 5 * time.Second

	// fallbackResponseMessage is returned when the model produces an
	// empty response.
	fallbackResponseMessage = "I couldn't generate a response. Please try rephrasing your question."

	// snippetMaxLen bounds source snippets returned to clients.
	snippetMaxLen = 200
)

// Sentinel errors for agent operations.
var (
	// ErrInvalidSession indicates the session ID is invalid or malformed.
	ErrInvalidSession = errors.New("invalid session")

	// ErrEmptyQuery indicates the request carried no user message.
	ErrEmptyQuery = errors.New("empty query")

	// ErrExecutionFailed indicates agent execution failed.
	ErrExecutionFailed = errors.New("execution failed")
)

// Source identifies a retrieved passage that grounded the answer.
type Source struct {
	ID         string  `json:"id"`
	FileName   string  `json:"file_name,omitempty"`
	FilePath   string  `json:"file_path,omitempty"`
	Snippet    string  `json:"snippet"`
	Similarity float32 `json:"similarity"`
}

// Response is the complete result of an agent execution.
type Response struct {
	FinalText    string
	Sources      []Source
	ToolRequests []*ai.ToolRequest
}

// StreamCallback is called for each chunk of a streaming response.
// Return an error to abort the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// Searcher retrieves passages from the knowledge base.
// knowledge.Store satisfies this.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Config contains all required parameters for the agent.
type Config struct {
	Genkit   *genkit.Genkit
	Sessions *session.Store
	Searcher Searcher
	Logger   log.Logger
	Tools    []ai.Tool

	ModelName  string // Provider-qualified model name
	MaxTurns   int    // Maximum agentic loop turns
	Language   string // Response language preference
	TopK       int    // Passages retrieved per query
	MaxHistory int32  // History messages loaded per turn

	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
	RateLimiter          *rate.Limiter
	TokenBudget          TokenBudget
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Searcher == nil {
		return errors.New("searcher is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Agent answers questions grounded in the knowledge base.
//
// All configuration is captured immutably at construction, so a single
// Agent is safe for concurrent requests.
type Agent struct {
	modelName      string
	languagePrompt string
	maxTurns       int
	topK           int
	maxHistory     int32

	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter
	tokenBudget    TokenBudget

	g        *genkit.Genkit
	sessions *session.Store
	searcher Searcher
	logger   log.Logger
	tools    []ai.Tool
	toolRefs []ai.ToolRef
	prompt   ai.Prompt
}

// New creates an Agent.
//
// Retrieved passages are injected into the prompt for every turn; the
// search_documents tool additionally lets the model search on its own
// when the injected context is not enough.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}

	languagePrompt := cfg.Language
	if languagePrompt == "" || languagePrompt == "auto" {
		languagePrompt = "the same language as the user's input (auto-detect)"
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	cbConfig := cfg.CircuitBreakerConfig
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}
	tokenBudget := cfg.TokenBudget
	if tokenBudget.MaxHistoryTokens == 0 {
		tokenBudget = DefaultTokenBudget()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	a := &Agent{
		modelName:      cfg.ModelName,
		languagePrompt: languagePrompt,
		maxTurns:       maxTurns,
		topK:           topK,
		maxHistory:     maxHistory,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		rateLimiter:    rl,
		tokenBudget:    tokenBudget,
		g:              cfg.Genkit,
		sessions:       cfg.Sessions,
		searcher:       cfg.Searcher,
		logger:         cfg.Logger,
		tools:          cfg.Tools,
		toolRefs:       toolRefs,
	}

	a.prompt = genkit.LookupPrompt(a.g, PromptName)
	if a.prompt == nil {
		return nil, fmt.Errorf("dotprompt %q not found: ensure the prompts directory is configured", PromptName)
	}

	a.logger.Info("chat agent initialized",
		"model", a.modelName,
		"tools", len(a.tools),
		"max_turns", a.maxTurns,
		"top_k", a.topK)
	return a, nil
}

// Execute runs the agent without streaming.
func (a *Agent) Execute(ctx context.Context, sessionID uuid.UUID, input string) (*Response, error) {
	return a.ExecuteStream(ctx, sessionID, input, nil)
}

// ExecuteStream runs the agent, invoking callback per chunk when
// non-nil. History loading and passage retrieval run in parallel before
// generation.
func (a *Agent) ExecuteStream(ctx context.Context, sessionID uuid.UUID, input string, callback StreamCallback) (*Response, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyQuery
	}

	a.logger.Debug("executing chat agent",
		"session_id", sessionID,
		"streaming", callback != nil)

	type historyResult struct {
		msgs []*ai.Message
		err  error
	}
	type retrievalResult struct {
		results []knowledge.Result
		err     error
	}

	// Buffered so the goroutines never block if we return early.
	historyCh := make(chan historyResult, 1)
	retrievalCh := make(chan retrievalResult, 1)

	go func() {
		msgs, err := a.sessions.History(ctx, sessionID, int(a.maxHistory))
		historyCh <- historyResult{msgs, err}
	}()
	go func() {
		searchCtx, cancel := context.WithTimeout(ctx, retrievalTimeout)
		defer cancel()
		results, err := a.searcher.Search(searchCtx, input,
			knowledge.WithTopK(a.topK),
			knowledge.WithFilter("source_type", knowledge.SourceTypeFile))
		retrievalCh <- retrievalResult{results, err}
	}()

	hr := <-historyCh
	if hr.err != nil {
		return nil, fmt.Errorf("loading history: %w", hr.err)
	}

	rr := <-retrievalCh
	if rr.err != nil {
		// Degrade to an answer without retrieved context.
		a.logger.Warn("passage retrieval failed", "error", rr.err)
	}

	resp, err := a.generateResponse(ctx, input, hr.msgs, rr.results, callback)
	if err != nil {
		return nil, err
	}

	responseText := resp.Text()
	if strings.TrimSpace(responseText) == "" && len(resp.ToolRequests()) == 0 {
		a.logger.Warn("model returned empty response", "session_id", sessionID)
		responseText = fallbackResponseMessage
	}

	newMessages := []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart(input)),
		ai.NewModelMessage(ai.NewTextPart(responseText)),
	}
	if err := a.sessions.Append(ctx, sessionID, newMessages); err != nil {
		// Best effort: a failed save must not fail the answer.
		a.logger.Warn("appending messages to history", "error", err)
	}

	return &Response{
		FinalText:    responseText,
		Sources:      resultsToSources(rr.results),
		ToolRequests: resp.ToolRequests(),
	}, nil
}

// generateResponse renders the prompt with retrieved context and
// executes it behind the circuit breaker and retry loop.
func (a *Agent) generateResponse(ctx context.Context, input string, history []*ai.Message, retrieved []knowledge.Result, callback StreamCallback) (*ai.ModelResponse, error) {
	// Deep copy: Genkit mutates message content in place during
	// rendering, and history slices are shared across requests.
	messages := deepCopyMessages(history)
	messages = a.truncateHistory(messages, a.tokenBudget.MaxHistoryTokens)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	promptInput := map[string]any{
		"language":     a.languagePrompt,
		"current_date": time.Now().Format("2006-01-02"),
	}
	if contextText := formatContext(retrieved, a.tokenBudget.MaxContextTokens); contextText != "" {
		promptInput["context"] = contextText
	}

	opts := []ai.PromptExecuteOption{
		ai.WithInput(promptInput),
		ai.WithMessagesFn(func(_ context.Context, _ any) ([]*ai.Message, error) {
			return messages, nil
		}),
		ai.WithMaxTurns(a.maxTurns),
	}
	if len(a.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(a.toolRefs...))
	}
	if a.modelName != "" {
		opts = append(opts, ai.WithModelName(a.modelName))
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(ai.ModelStreamCallback(callback)))
	}

	if err := a.circuitBreaker.Allow(); err != nil {
		a.logger.Warn("circuit breaker open, rejecting request",
			"state", a.circuitBreaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	resp, err := a.executeWithRetry(ctx, opts)
	if err != nil {
		a.circuitBreaker.Failure()
		return nil, err
	}
	a.circuitBreaker.Success()
	return resp, nil
}

// formatContext renders retrieved passages for prompt injection,
// dropping passages once the token budget is spent.
func formatContext(results []knowledge.Result, maxTokens int) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	used := 0
	for i, r := range results {
		passage := fmt.Sprintf("[%d] %s\n%s\n", i+1, r.Document.Metadata["file_name"], r.Document.Content)
		cost := estimateTokens(passage)
		if maxTokens > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		sb.WriteString(passage)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func resultsToSources(results []knowledge.Result) []Source {
	if len(results) == 0 {
		return nil
	}
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		snippet := r.Document.Content
		if len(snippet) > snippetMaxLen {
			snippet = snippet[:snippetMaxLen] + "…"
		}
		sources = append(sources, Source{
			ID:         r.Document.ID,
			FileName:   r.Document.Metadata["file_name"],
			FilePath:   r.Document.Metadata["file_path"],
			Snippet:    snippet,
			Similarity: r.Similarity,
		})
	}
	return sources
}

// GenerateTitle produces a short session title from the first user
// message. Falls back to a truncation of the message on any failure.
func (a *Agent) GenerateTitle(ctx context.Context, userMessage string) string {
	const maxTitleLen = 60

	fallback := strings.TrimSpace(userMessage)
	if len(fallback) > maxTitleLen {
		fallback = fallback[:maxTitleLen]
	}

	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithPrompt("Generate a concise title (max 60 characters) for a chat session that starts with this message. Reply with the title only.\n\nMessage: %s", userMessage),
	)
	if err != nil {
		a.logger.Debug("title generation failed", "error", err)
		return fallback
	}

	title := strings.Trim(strings.TrimSpace(resp.Text()), `"`)
	if title == "" || len(title) > maxTitleLen*2 {
		return fallback
	}
	return title
}

// deepCopyMessages copies messages and their parts so concurrent
// executions never share mutable state.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		if msg == nil {
			continue
		}
		parts := make([]*ai.Part, len(msg.Content))
		for j, p := range msg.Content {
			if p == nil {
				continue
			}
			cp := *p
			parts[j] = &cp
		}
		out[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: msg.Metadata,
		}
	}
	return out
}
