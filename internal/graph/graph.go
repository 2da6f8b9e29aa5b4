// Package graph implements the per-user Knowledge Graph Store (spec §4.4,
// C4): two flat, deduplicated collections of entities and relationships
// with an adjacency map rebuilt on deserialize rather than owned pointers
// (spec §9 design note, "no parent pointers, no owned cycles"), the same
// flat-collection-plus-rebuilt-index shape the teacher uses for its
// content node graph (core/content_node.go builds a peer adjacency map
// from a flat peer list rather than storing live pointers).
package graph

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// Entity is a named node extracted from memory content (spec §3).
type Entity struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Relationship is a directed edge between two entities (spec §3). Cycles
// are permitted; the graph never enforces acyclicity.
type Relationship struct {
	ID       string  `json:"id"`
	Source   string  `json:"source_entity_id"`
	Target   string  `json:"target_entity_id"`
	Type     string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

func entityKey(label, typ string) string {
	return strings.ToLower(strings.TrimSpace(label)) + "\x00" + typ
}

func relKey(source, target, typ string) string {
	return source + "\x00" + target + "\x00" + typ
}

// Graph is a per-user knowledge graph. Safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	minConfidence float64

	entities      map[string]*Entity // by ID
	entityDedup   map[string]string  // entityKey -> ID
	relationships map[string]*Relationship
	relDedup      map[string]string // relKey -> ID

	// adjacency[entityID] = outgoing relationship ids, extended as each new
	// relationship is added and rebuilt on Deserialize (spec §9: "auxiliary
	// adjacency map built at deserialize time").
	adjacency map[string][]string
}

// New builds an empty graph. minConfidence filters both UpsertEntities and
// UpsertRelationships (spec §4.4: "confidence below a configurable
// threshold filtered out").
func New(minConfidence float64) *Graph {
	return &Graph{
		minConfidence: minConfidence,
		entities:      make(map[string]*Entity),
		entityDedup:   make(map[string]string),
		relationships: make(map[string]*Relationship),
		relDedup:      make(map[string]string),
		adjacency:     make(map[string][]string),
	}
}

// UpsertEntities merges entities into the graph, deduplicating on
// (label_lowercased, type) and dropping anything below minConfidence.
// Returns the number actually applied.
func (g *Graph) UpsertEntities(entities []Entity) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	applied := 0
	for _, e := range entities {
		if e.Confidence < g.minConfidence {
			continue
		}
		key := entityKey(e.Label, e.Type)
		if existingID, ok := g.entityDedup[key]; ok {
			existing := g.entities[existingID]
			if e.Confidence > existing.Confidence {
				existing.Confidence = e.Confidence
			}
			applied++
			continue
		}
		if e.ID == "" {
			continue
		}
		copyE := e
		g.entities[e.ID] = &copyE
		g.entityDedup[key] = e.ID
		applied++
	}
	return applied
}

// UpsertRelationships merges relationships into the graph, deduplicating
// on (source, target, type) and dropping anything below minConfidence or
// referencing unknown entities.
func (g *Graph) UpsertRelationships(rels []Relationship) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	applied := 0
	for _, r := range rels {
		if r.Confidence < g.minConfidence {
			continue
		}
		if _, ok := g.entities[r.Source]; !ok {
			continue
		}
		if _, ok := g.entities[r.Target]; !ok {
			continue
		}
		key := relKey(r.Source, r.Target, r.Type)
		if existingID, ok := g.relDedup[key]; ok {
			existing := g.relationships[existingID]
			if r.Confidence > existing.Confidence {
				existing.Confidence = r.Confidence
			}
			applied++
			continue
		}
		if r.ID == "" {
			continue
		}
		copyR := r
		g.relationships[r.ID] = &copyR
		g.relDedup[key] = r.ID
		g.adjacency[r.Source] = append(g.adjacency[r.Source], r.ID)
		applied++
	}
	return applied
}

// Neighbors returns the distinct entity ids reachable from entityID within
// depth hops along directed edges (depth is clamped to [0,3] per spec
// §4.4). The starting entity is never included in the result.
func (g *Graph) Neighbors(entityID string, depth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if depth > 3 {
		depth = 3
	}
	if depth < 0 {
		depth = 0
	}

	visited := map[string]struct{}{entityID: {}}
	frontier := []string{entityID}
	var out []string

	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			for _, relID := range g.adjacency[id] {
				rel := g.relationships[relID]
				if rel == nil {
					continue
				}
				if _, seen := visited[rel.Target]; seen {
					continue
				}
				visited[rel.Target] = struct{}{}
				out = append(out, rel.Target)
				next = append(next, rel.Target)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return out
}

// Entity looks up an entity by id.
func (g *Graph) Entity(id string) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// EntityCount and RelationshipCount report graph size, used by telemetry
// and pipeline execution records.
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

func (g *Graph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

type wireFormat struct {
	MinConfidence float64        `json:"min_confidence"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Serialize encodes the graph as JSON (spec §4.4), suitable for the same
// blob-store round trip as the vector index's binary format — JSON here
// since the graph is small, human-auditable, and has no hot-path decode
// requirement.
func (g *Graph) Serialize() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	w := wireFormat{MinConfidence: g.minConfidence}
	for _, e := range g.entities {
		w.Entities = append(w.Entities, *e)
	}
	for _, r := range g.relationships {
		w.Relationships = append(w.Relationships, *r)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, pdwerr.Wrap("graph.Serialize", pdwerr.Internal, err)
	}
	return data, nil
}

// Deserialize reconstructs a Graph from Serialize's output, rebuilding the
// adjacency map and dedup indices rather than trusting any embedded index.
func Deserialize(data []byte) (*Graph, error) {
	var w wireFormat
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, pdwerr.Wrap("graph.Deserialize", pdwerr.Tampered, err)
	}
	g := New(w.MinConfidence)
	for _, e := range w.Entities {
		copyE := e
		g.entities[e.ID] = &copyE
		g.entityDedup[entityKey(e.Label, e.Type)] = e.ID
	}
	for _, r := range w.Relationships {
		copyR := r
		g.relationships[r.ID] = &copyR
		g.relDedup[relKey(r.Source, r.Target, r.Type)] = r.ID
		g.adjacency[r.Source] = append(g.adjacency[r.Source], r.ID)
	}
	return g, nil
}
