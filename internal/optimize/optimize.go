// Package optimize selects which retrieval candidates actually enter the
// completion prompt.
//
// Selection is a model judgment call with a strict parse: the judge response
// must decode as JSON naming candidates we actually offered. Anything else is
// an ErrJudgeFailed so the caller (the turn coordinator) decides whether to
// fall back to Fallback's deterministic score ordering. The character budget
// is enforced here in both paths; it is the one invariant a model cannot
// override.
package optimize

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/recaphq/recap/internal/retrieval"
)

// ErrJudgeFailed indicates the judge call failed or returned an unusable
// response. The candidates are fine; only the ranking opinion is missing.
var ErrJudgeFailed = errors.New("context judge failed")

// previewChars caps how much of each candidate the judge sees. The judge
// ranks relevance from previews; full text only enters the final prompt.
const previewChars = 600

const judgeSystemPrompt = `You select context for a question-answering assistant. Given a user question, recent conversation, and a list of candidate text chunks, choose the chunks that would most help answer the question. Respond with only a JSON array, most relevant first: [{"id": "<chunk id>", "reason": "<short reason>"}]. Choose only from the listed ids. Do not add commentary.`

// Completer is the text-generation capability the judge needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config contains the required parameters for Optimizer.
type Config struct {
	LLM Completer
	// MaxCount is the maximum number of selected candidates.
	MaxCount int
	// CharBudget is the total character budget across selected candidate
	// texts.
	CharBudget int
	Logger     *slog.Logger
}

// Optimizer ranks candidates with a judge model and packs the result into
// the configured budget.
type Optimizer struct {
	llm        Completer
	maxCount   int
	charBudget int
	logger     *slog.Logger
}

// New creates an Optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.LLM == nil {
		return nil, errors.New("llm completer is required")
	}
	if cfg.MaxCount < 1 {
		return nil, fmt.Errorf("max count must be >= 1, got %d", cfg.MaxCount)
	}
	if cfg.CharBudget < 1 {
		return nil, fmt.Errorf("char budget must be >= 1, got %d", cfg.CharBudget)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Optimizer{
		llm:        cfg.LLM,
		maxCount:   cfg.MaxCount,
		charBudget: cfg.CharBudget,
		logger:     cfg.Logger,
	}, nil
}

// Set is an optimized context set: the selected candidates in final order,
// re-ranked 0..n-1, with their total text size.
type Set struct {
	Candidates []retrieval.Candidate
	TotalChars int
}

// judgment is one entry of the judge's JSON response.
type judgment struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Optimize asks the judge to rank candidates for the query and packs its
// selection into the budget. An empty candidate list is a valid empty Set.
// Judge failures (call error, undecodable response, or a response naming no
// offered candidate) return ErrJudgeFailed; the caller chooses the fallback.
func (o *Optimizer) Optimize(ctx context.Context, query string, history []string, candidates []retrieval.Candidate) (Set, error) {
	if len(candidates) == 0 {
		return Set{Candidates: []retrieval.Candidate{}}, nil
	}

	prompt, err := o.buildJudgePrompt(query, history, candidates)
	if err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrJudgeFailed, err)
	}

	raw, err := o.llm.Complete(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrJudgeFailed, err)
	}

	var judgments []judgment
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &judgments); err != nil {
		o.logger.Warn("judge response is not valid JSON", "error", err)
		return Set{}, fmt.Errorf("%w: undecodable response", ErrJudgeFailed)
	}

	byID := make(map[string]retrieval.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID()] = c
	}

	var selected []retrieval.Candidate
	seen := make(map[string]struct{}, len(judgments))
	for _, j := range judgments {
		c, ok := byID[j.ID]
		if !ok {
			o.logger.Warn("judge selected unknown candidate", "id", j.ID)
			continue
		}
		if _, dup := seen[j.ID]; dup {
			continue
		}
		seen[j.ID] = struct{}{}
		selected = append(selected, c)
	}

	if len(selected) == 0 {
		return Set{}, fmt.Errorf("%w: no offered candidate selected", ErrJudgeFailed)
	}

	set := o.pack(selected)
	o.logger.Debug("context optimized",
		"offered", len(candidates),
		"judged", len(selected),
		"selected", len(set.Candidates),
		"chars", set.TotalChars,
	)
	return set, nil
}

// Fallback deterministically selects the highest-scored candidates within
// the budget. It never fails and calls no model.
func (o *Optimizer) Fallback(candidates []retrieval.Candidate) Set {
	ordered := make([]retrieval.Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})
	return o.pack(ordered)
}

// pack greedily keeps up to maxCount candidates whose texts fit the char
// budget, preserving input order. A candidate that would overflow is skipped,
// not fatal; later smaller candidates may still fit.
func (o *Optimizer) pack(ordered []retrieval.Candidate) Set {
	set := Set{Candidates: []retrieval.Candidate{}}
	for _, c := range ordered {
		if len(set.Candidates) == o.maxCount {
			break
		}
		if set.TotalChars+len(c.Text) > o.charBudget {
			continue
		}
		c.Rank = len(set.Candidates)
		set.Candidates = append(set.Candidates, c)
		set.TotalChars += len(c.Text)
	}
	return set
}

// buildJudgePrompt renders the judge input with nonce delimiters around
// untrusted text so candidate content cannot pose as instructions.
func (o *Optimizer) buildJudgePrompt(query string, history []string, candidates []retrieval.Candidate) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question (between %s markers):\n<%s>\n%s\n</%s>\n\n", nonce, nonce, query, nonce)

	if len(history) > 0 {
		fmt.Fprintf(&sb, "Recent conversation:\n<%s>\n", nonce)
		for _, line := range history {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "</%s>\n\n", nonce)
	}

	sb.WriteString("Candidates:\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "id=%s origin=%s score=%.3f\n<%s>\n%s\n</%s>\n\n",
			c.ID(), c.Origin, c.Score, nonce, preview(c.Text), nonce)
	}
	return sb.String(), nil
}

// preview truncates text for the judge prompt.
func preview(text string) string {
	if len(text) <= previewChars {
		return text
	}
	return text[:previewChars] + "…"
}

// newNonce returns a random hex delimiter token.
func newNonce() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return "ctx-" + hex.EncodeToString(b[:]), nil
}

// stripCodeFences removes a surrounding markdown code fence, if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
