// Package retrieval turns an expanded query set into a ranked, deduplicated
// candidate list via vector similarity search.
package retrieval

import (
	"sort"
	"strconv"
)

// Origin records how a candidate entered the pipeline.
type Origin string

const (
	// OriginMention marks candidates injected from explicit entity mentions.
	OriginMention Origin = "mention"
	// OriginSearch marks candidates found by similarity search.
	OriginSearch Origin = "search"
)

// Candidate is a scored context chunk. Identity is (SourceID, Chunk): the
// same chunk reached through different queries is the same candidate.
type Candidate struct {
	SourceID string
	Chunk    int
	Text     string
	Origin   Origin
	Score    float32
	Rank     int
}

// Identity is the deduplication key for a candidate.
type Identity struct {
	SourceID string
	Chunk    int
}

// Identity returns the candidate's deduplication key.
func (c Candidate) Identity() Identity {
	return Identity{SourceID: c.SourceID, Chunk: c.Chunk}
}

// ID returns a stable string form of the identity, used to address
// candidates in judge prompts and logs.
func (c Candidate) ID() string {
	return c.SourceID + "#" + strconv.Itoa(c.Chunk)
}

// Merge deduplicates candidates across lists by identity, keeping the
// maximum score seen for each, then sorts by score descending. Equal scores
// keep first-seen order (lists are visited in argument order), so results
// from earlier queries win ties.
//
// Rank is assigned 0..n-1 on the merged result. Input slices are not
// modified.
func Merge(lists ...[]Candidate) []Candidate {
	var merged []Candidate
	index := make(map[Identity]int)

	for _, list := range lists {
		for _, c := range list {
			i, seen := index[c.Identity()]
			if !seen {
				index[c.Identity()] = len(merged)
				merged = append(merged, c)
				continue
			}
			if c.Score > merged[i].Score {
				merged[i].Score = c.Score
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	for i := range merged {
		merged[i].Rank = i
	}
	return merged
}
