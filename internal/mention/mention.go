// Package mention resolves explicit entity references in a user message into
// context candidates.
//
// A mention is user intent, so resolved mention content carries a fixed score
// above anything similarity search can produce and is favored during context
// selection. Resolution is per-mention best-effort: an entity that is missing
// or not readable by the requesting user is dropped with a log line, never an
// error, so one bad reference cannot sink the turn.
package mention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recaphq/recap/internal/retrieval"
)

// Entity types a mention may reference.
const (
	EntityMeeting  = "meeting"
	EntityProject  = "project"
	EntityDocument = "document"
)

// Score is the raw score assigned to mention-origin candidates. Cosine
// similarity tops out at 1.0, so explicit mentions always outrank search
// results until the selection stage makes the final call.
const Score float32 = 2.0

var (
	// ErrNotFound indicates the mentioned entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrForbidden indicates the requesting user may not read the entity.
	ErrForbidden = errors.New("entity access denied")
	// ErrInvalidSpan indicates mention offsets that do not address a valid
	// range of the message text.
	ErrInvalidSpan = errors.New("invalid mention span")
	// ErrInvalidEntityType indicates an unrecognized entity type.
	ErrInvalidEntityType = errors.New("invalid entity type")
)

// Mention is an explicit entity reference with its character span in the
// message text. Start is inclusive, End exclusive.
type Mention struct {
	EntityType string
	EntityID   string
	Start      int
	End        int
}

// Validate checks the mention against the message it annotates.
func (m Mention) Validate(messageLen int) error {
	switch m.EntityType {
	case EntityMeeting, EntityProject, EntityDocument:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, m.EntityType)
	}
	if m.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidEntityType)
	}
	if m.Start < 0 || m.End > messageLen || m.Start >= m.End {
		return fmt.Errorf("%w: [%d,%d) in message of length %d",
			ErrInvalidSpan, m.Start, m.End, messageLen)
	}
	return nil
}

// ValidateAll validates every mention against the message text.
func ValidateAll(mentions []Mention, messageLen int) error {
	for i, m := range mentions {
		if err := m.Validate(messageLen); err != nil {
			return fmt.Errorf("mention %d: %w", i, err)
		}
	}
	return nil
}

// SourceID returns the candidate source id for the mentioned entity.
func (m Mention) SourceID() string {
	return m.EntityType + ":" + m.EntityID
}

// ContentSource fetches the primary content of an entity, enforcing read
// access for the given user. Implementations return ErrNotFound or
// ErrForbidden (possibly wrapped) for the corresponding failures.
type ContentSource interface {
	LookupContent(ctx context.Context, entityType, entityID, userID string) (string, error)
}

// Resolver turns validated mentions into mention-origin candidates.
type Resolver struct {
	source ContentSource
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by the given content source.
func NewResolver(source ContentSource, logger *slog.Logger) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("content source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, logger: logger}, nil
}

// Resolve looks up each mentioned entity and returns one candidate per
// successfully resolved mention, in mention order. Lookup failures drop the
// mention; Resolve never fails as a whole. Duplicate mentions of the same
// entity produce one candidate.
func (r *Resolver) Resolve(ctx context.Context, userID string, mentions []Mention) []retrieval.Candidate {
	candidates := make([]retrieval.Candidate, 0, len(mentions))
	seen := make(map[string]struct{}, len(mentions))

	for _, m := range mentions {
		if _, dup := seen[m.SourceID()]; dup {
			continue
		}
		seen[m.SourceID()] = struct{}{}

		content, err := r.source.LookupContent(ctx, m.EntityType, m.EntityID, userID)
		if err != nil {
			r.logger.Warn("dropping unresolvable mention",
				"entity_type", m.EntityType,
				"entity_id", m.EntityID,
				"error", err,
			)
			continue
		}

		candidates = append(candidates, retrieval.Candidate{
			SourceID: m.SourceID(),
			Chunk:    0,
			Text:     content,
			Origin:   retrieval.OriginMention,
			Score:    Score,
		})
	}

	r.logger.Debug("resolved mentions",
		"requested", len(mentions),
		"resolved", len(candidates),
	)
	return candidates
}
