package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/expand"
	"github.com/recaphq/recap/internal/mention"
	"github.com/recaphq/recap/internal/optimize"
	"github.com/recaphq/recap/internal/retrieval"
)

var (
	// ErrPollTimeout indicates the caller's poll budget ran out. The turn
	// itself keeps running in the background; a later poll can still find
	// the reply.
	ErrPollTimeout = errors.New("poll timed out")
	// ErrTurnNotFound indicates an unknown turn id.
	ErrTurnNotFound = errors.New("turn not found")
	// ErrEmptyMessage indicates a submit with no content.
	ErrEmptyMessage = errors.New("empty message")
)

const answerSystemPrompt = `You are a helpful workspace assistant. Answer the user's question using the provided context excerpts from their meetings, projects, and documents. When the context does not cover the question, say so rather than inventing details. Be concise.`

// Resolver resolves entity mentions into candidates. *mention.Resolver
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, userID string, mentions []mention.Mention) []retrieval.Candidate
}

// Expander expands a query into alternates. *expand.Expander satisfies it.
type Expander interface {
	Expand(ctx context.Context, q expand.Query, n int) expand.Set
}

// Retriever searches the index for an expanded query set.
// *retrieval.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, set expand.Set, scope retrieval.Scope) ([]retrieval.Candidate, error)
}

// Optimizer selects the final context. *optimize.Optimizer satisfies it.
type Optimizer interface {
	Optimize(ctx context.Context, query string, history []string, candidates []retrieval.Candidate) (optimize.Set, error)
	Fallback(candidates []retrieval.Candidate) optimize.Set
}

// Completer generates the assistant reply. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config contains the required parameters for Coordinator.
type Config struct {
	History   conversation.Store
	Resolver  Resolver
	Expander  Expander
	Retriever Retriever
	Optimizer Optimizer
	LLM       Completer

	// ExpansionCount is the alternates requested per query expansion.
	ExpansionCount int
	// HistoryTailLimit is how many recent messages enter judge and
	// completion prompts.
	HistoryTailLimit int32

	Logger *slog.Logger
}

// Coordinator owns turn execution. Submissions return immediately after the
// user message is durable; the pipeline runs on a background context that
// outlives the submit request, so a disconnected client does not abort a
// turn in flight.
type Coordinator struct {
	history   conversation.Store
	resolver  Resolver
	expander  Expander
	retriever Retriever
	optimizer Optimizer
	llm       Completer

	expansionCount   int
	historyTailLimit int32
	logger           *slog.Logger

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	turns map[uuid.UUID]*Turn
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.History == nil:
		return nil, errors.New("history store is required")
	case cfg.Resolver == nil:
		return nil, errors.New("mention resolver is required")
	case cfg.Expander == nil:
		return nil, errors.New("query expander is required")
	case cfg.Retriever == nil:
		return nil, errors.New("retriever is required")
	case cfg.Optimizer == nil:
		return nil, errors.New("optimizer is required")
	case cfg.LLM == nil:
		return nil, errors.New("llm completer is required")
	}
	if cfg.ExpansionCount < 1 {
		return nil, fmt.Errorf("expansion count must be >= 1, got %d", cfg.ExpansionCount)
	}
	if cfg.HistoryTailLimit < 1 {
		return nil, fmt.Errorf("history tail limit must be >= 1, got %d", cfg.HistoryTailLimit)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		history:          cfg.History,
		resolver:         cfg.Resolver,
		expander:         cfg.Expander,
		retriever:        cfg.Retriever,
		optimizer:        cfg.Optimizer,
		llm:              cfg.LLM,
		expansionCount:   cfg.ExpansionCount,
		historyTailLimit: cfg.HistoryTailLimit,
		logger:           cfg.Logger,
		bgCtx:            bgCtx,
		cancel:           cancel,
		turns:            make(map[uuid.UUID]*Turn),
	}, nil
}

// Submit validates the message, durably appends it to history, and starts
// the pipeline in the background. It returns once the user message is
// stored; the returned Turn is in StateSubmitted.
func (c *Coordinator) Submit(ctx context.Context, conversationID uuid.UUID, userID, content string, mentions []mention.Mention) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if err := mention.ValidateAll(mentions, len(content)); err != nil {
		return nil, err
	}

	// The user message must survive even if everything after this fails.
	userMsg, err := c.history.Append(ctx, conversationID, conversation.RoleUser, content)
	if err != nil {
		return nil, fmt.Errorf("appending user message: %w", err)
	}

	t := newTurn(userMsg)
	c.mu.Lock()
	c.turns[t.id] = t
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(t, userID, content, mentions)
	}()

	c.logger.Info("turn submitted",
		"turn_id", t.id,
		"conversation_id", conversationID,
		"sequence", userMsg.Sequence,
		"mentions", len(mentions),
	)
	return t, nil
}

// searchResult carries the retrieval branch outcome across the fan-out.
type searchResult struct {
	candidates []retrieval.Candidate
	err        error
}

// run executes the pipeline for one turn on the coordinator's background
// context.
func (c *Coordinator) run(t *Turn, userID, content string, mentions []mention.Mention) {
	ctx := c.bgCtx
	t.setGenerating()
	start := time.Now()

	mentionCh := make(chan []retrieval.Candidate, 1)
	searchCh := make(chan searchResult, 1)
	historyCh := make(chan []conversation.Message, 1)

	go func() {
		mentionCh <- c.resolver.Resolve(ctx, userID, mentions)
	}()
	go func() {
		set := c.expander.Expand(ctx, expand.Query{Text: content}, c.expansionCount)
		candidates, err := c.retriever.Retrieve(ctx, set, retrieval.Scope{UserID: userID})
		searchCh <- searchResult{candidates: candidates, err: err}
	}()
	go func() {
		tail, err := c.history.Tail(ctx, t.conversationID, c.historyTailLimit)
		if err != nil {
			c.logger.Warn("history tail unavailable, answering without it",
				"turn_id", t.id, "error", err)
			tail = nil
		}
		historyCh <- tail
	}()

	mentionCands := <-mentionCh
	search := <-searchCh
	tail := <-historyCh

	if search.err != nil {
		c.failTurn(t, fmt.Errorf("retrieval: %w", search.err))
		return
	}

	// Mentions first so score ties resolve in their favor.
	merged := retrieval.Merge(mentionCands, search.candidates)
	historyLines := formatHistory(tail, t.userMessage.Sequence)

	set, err := c.optimizer.Optimize(ctx, content, historyLines, merged)
	if err != nil {
		c.logger.Warn("context judge failed, using score-ordered fallback",
			"turn_id", t.id, "error", err)
		set = c.optimizer.Fallback(merged)
	}

	reply, err := c.llm.Complete(ctx, answerSystemPrompt, buildAnswerPrompt(content, set, historyLines))
	if err != nil {
		c.failTurn(t, fmt.Errorf("completion: %w", err))
		return
	}

	assistant, err := c.history.Append(ctx, t.conversationID, conversation.RoleAssistant, reply)
	if err != nil {
		c.failTurn(t, fmt.Errorf("appending assistant message: %w", err))
		return
	}

	t.succeed(assistant, set)
	c.logger.Info("turn ready",
		"turn_id", t.id,
		"conversation_id", t.conversationID,
		"context_chunks", len(set.Candidates),
		"context_chars", set.TotalChars,
		"duration", time.Since(start),
	)
}

func (c *Coordinator) failTurn(t *Turn, err error) {
	t.fail(err)
	c.logger.Error("turn failed",
		"turn_id", t.id,
		"conversation_id", t.conversationID,
		"error", err,
	)
}

// Turn returns a previously submitted turn.
func (c *Coordinator) Turn(id uuid.UUID) (*Turn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.turns[id]
	if !ok {
		return nil, fmt.Errorf("turn %s: %w", id, ErrTurnNotFound)
	}
	return t, nil
}

// Poll waits for an assistant message with a sequence after afterSequence to
// appear in the conversation, checking every interval. It gives up with
// ErrPollTimeout after timeout; the background turn is unaffected and a
// repeated Poll with the same arguments may still succeed. Safe to call from
// any number of clients concurrently.
func (c *Coordinator) Poll(ctx context.Context, conversationID uuid.UUID, afterSequence int32, interval, timeout time.Duration) (conversation.Message, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		tail, err := c.history.Tail(ctx, conversationID, c.historyTailLimit)
		if err != nil {
			return conversation.Message{}, fmt.Errorf("polling history: %w", err)
		}
		for _, m := range tail {
			if m.Role == conversation.RoleAssistant && m.Sequence > afterSequence {
				return m, nil
			}
		}

		select {
		case <-ctx.Done():
			return conversation.Message{}, ctx.Err()
		case <-deadline.C:
			return conversation.Message{}, ErrPollTimeout
		case <-tick.C:
		}
	}
}

// Close stops background work and waits for in-flight turns to wind down.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// formatHistory renders the tail as role-prefixed lines for prompts,
// excluding the message that started the current turn.
func formatHistory(tail []conversation.Message, currentSequence int32) []string {
	var lines []string
	for _, m := range tail {
		if m.Sequence >= currentSequence {
			continue
		}
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return lines
}

// buildAnswerPrompt assembles the completion prompt: context excerpts,
// recent conversation, then the question.
func buildAnswerPrompt(content string, set optimize.Set, historyLines []string) string {
	var sb strings.Builder

	if len(set.Candidates) > 0 {
		sb.WriteString("Context excerpts:\n\n")
		for _, c := range set.Candidates {
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", c.ID(), c.Text)
		}
	}

	if len(historyLines) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, line := range historyLines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Question: ")
	sb.WriteString(content)
	return sb.String()
}
