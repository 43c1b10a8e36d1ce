// Package expand widens retrieval recall by generating alternate phrasings
// of a user query.
//
// Expansion is strictly best-effort: any model failure or unparseable
// response degrades to the original query alone. Nothing in this package
// returns an error to its caller.
package expand

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Query is an immutable query text with an optional scope: the entity id the
// query is anchored to. Never mutated after creation.
type Query struct {
	Text  string
	Scope string
}

// Set is an ordered expanded query set. The first element is always the
// original query; a Set is never empty.
type Set []Query

// Original returns the query the set was expanded from.
func (s Set) Original() Query {
	return s[0]
}

// maxResponseBytes caps the expansion model response before parsing (8 KB).
const maxResponseBytes = 8 * 1024

const systemPrompt = `You rewrite search queries. Given a query, produce alternate phrasings that preserve its meaning but vary the wording, so a semantic search can match documents that phrase things differently. Output one phrasing per line with no numbering, bullets, or commentary.`

// Completer is the text-generation capability the expander needs.
// *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Expander produces expanded query sets via a completion call.
type Expander struct {
	llm    Completer
	logger *slog.Logger
}

// New creates an Expander.
func New(llm Completer, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{llm: llm, logger: logger}
}

// Expand returns a query set containing q followed by up to n alternate
// phrasings. n must be >= 1; smaller values are treated as 1.
//
// Guarantees: the result always contains q as its first element, expansion
// order is preserved as generated, and failures never propagate; the worst
// case is the singleton set.
func (e *Expander) Expand(ctx context.Context, q Query, n int) Set {
	if n < 1 {
		n = 1
	}

	prompt := fmt.Sprintf("Produce %d alternate phrasings of this query, one per line:\n\n%s", n, q.Text)

	raw, err := e.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		e.logger.Debug("query expansion failed, using original only", "error", err)
		return Set{q}
	}
	if len(raw) > maxResponseBytes {
		e.logger.Debug("expansion response too large, using original only", "bytes", len(raw))
		return Set{q}
	}

	set := Set{q}
	seen := map[string]struct{}{normalize(q.Text): {}}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		if _, dup := seen[normalize(line)]; dup {
			continue
		}
		seen[normalize(line)] = struct{}{}
		set = append(set, Query{Text: line, Scope: q.Scope})
		if len(set) > n {
			break
		}
	}

	e.logger.Debug("expanded query", "alternates", len(set)-1, "requested", n)
	return set
}

// normalize folds case and whitespace for duplicate detection.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
