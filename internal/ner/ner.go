// Package ner implements the graph-update half of the Knowledge Graph
// Builder (spec §4.4, C4): named-entity and relationship extraction over
// memory content, feeding internal/graph's UpsertEntities/
// UpsertRelationships. Grounded on internal/classifier's optional-LLM,
// defensive-JSON-parse shape (same "never fail the pipeline on a parse
// error" posture as core/ai_model_management.go's listing parser) so the
// two extraction concerns share one idiom.
package ner

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/sealwallet/pdw-core/internal/graph"
)

const defaultConfidence = 0.5

// LLM is the optional extraction backend; nil falls back to a
// deterministic capitalized-token heuristic.
type LLM interface {
	// Extract returns a raw JSON document shaped like llmResponse, or an
	// error if the backend itself could not be reached.
	Extract(ctx context.Context, text string) ([]byte, error)
}

type llmEntity struct {
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type llmRelationship struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type llmResponse struct {
	Entities      []llmEntity       `json:"entities"`
	Relationships []llmRelationship `json:"relationships"`
}

// Extractor implements pipeline.GraphExtractor.
type Extractor struct {
	llm           LLM
	minConfidence float64
	heuristicSkip map[string]bool
}

// New builds an Extractor. A nil llm makes Extract always fall back to the
// capitalized-token heuristic (spec §4.4 "extraction itself may be
// skipped" covers the disabled case; this covers the no-backend case).
func New(llm LLM, minConfidence float64) *Extractor {
	return &Extractor{
		llm:           llm,
		minConfidence: minConfidence,
		heuristicSkip: map[string]bool{"The": true, "A": true, "An": true, "I": true},
	}
}

// Extract derives entities and relationships from text. It never returns
// an error from the heuristic path; an LLM backend error or malformed
// response degrades to the heuristic rather than failing the pipeline's
// graph_update step outright (the caller still decides fatal-vs-skip per
// skip_failed_steps).
func (e *Extractor) Extract(ctx context.Context, text string) ([]graph.Entity, []graph.Relationship, error) {
	if e.llm == nil {
		return e.heuristic(text), nil, nil
	}

	raw, err := e.llm.Extract(ctx, text)
	if err != nil {
		return e.heuristic(text), nil, nil
	}

	var parsed llmResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return e.heuristic(text), nil, nil
	}

	entities := make([]graph.Entity, 0, len(parsed.Entities))
	for _, en := range parsed.Entities {
		if en.Confidence < e.minConfidence {
			continue
		}
		entities = append(entities, graph.Entity{
			ID:         entityID(en.Label, en.Type),
			Label:      en.Label,
			Type:       en.Type,
			Confidence: en.Confidence,
		})
	}

	rels := make([]graph.Relationship, 0, len(parsed.Relationships))
	for _, r := range parsed.Relationships {
		if r.Confidence < e.minConfidence {
			continue
		}
		rels = append(rels, graph.Relationship{
			ID:         relationshipID(r.Source, r.Target, r.Type),
			Source:     r.Source,
			Target:     r.Target,
			Type:       r.Type,
			Confidence: r.Confidence,
		})
	}
	return entities, rels, nil
}

// heuristic extracts capitalized tokens as Unknown-typed entities with no
// relationships, a deterministic stand-in for a real NER model.
func (e *Extractor) heuristic(text string) []graph.Entity {
	var out []graph.Entity
	for _, word := range strings.Fields(text) {
		trimmed := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
		if trimmed == "" || e.heuristicSkip[trimmed] {
			continue
		}
		if !unicode.IsUpper(rune(trimmed[0])) {
			continue
		}
		out = append(out, graph.Entity{
			ID:         entityID(trimmed, "Unknown"),
			Label:      trimmed,
			Type:       "Unknown",
			Confidence: defaultConfidence,
		})
	}
	return out
}

func entityID(label, typ string) string {
	return strings.ToLower(typ) + ":" + strings.ToLower(label)
}

func relationshipID(source, target, typ string) string {
	return source + "->" + target + ":" + strings.ToLower(typ)
}
