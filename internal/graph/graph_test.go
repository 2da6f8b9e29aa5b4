package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertEntitiesDedupesByLabelAndType(t *testing.T) {
	g := New(0.3)
	n := g.UpsertEntities([]Entity{
		{ID: "e1", Label: "Zephyr", Type: "pet", Confidence: 0.8},
		{ID: "e2", Label: "zephyr", Type: "pet", Confidence: 0.9},
	})
	require.Equal(t, 2, n)
	require.Equal(t, 1, g.EntityCount())
}

func TestUpsertEntitiesFiltersLowConfidence(t *testing.T) {
	g := New(0.5)
	n := g.UpsertEntities([]Entity{{ID: "e1", Label: "x", Type: "t", Confidence: 0.1}})
	require.Equal(t, 0, n)
	require.Equal(t, 0, g.EntityCount())
}

func TestUpsertRelationshipsRequiresKnownEntities(t *testing.T) {
	g := New(0)
	g.UpsertEntities([]Entity{{ID: "a", Label: "A", Type: "t", Confidence: 1}})
	n := g.UpsertRelationships([]Relationship{{ID: "r1", Source: "a", Target: "missing", Type: "knows", Confidence: 1}})
	require.Equal(t, 0, n)
}

func TestUpsertRelationshipsDedupesByTriplet(t *testing.T) {
	g := New(0)
	g.UpsertEntities([]Entity{
		{ID: "a", Label: "A", Type: "t", Confidence: 1},
		{ID: "b", Label: "B", Type: "t", Confidence: 1},
	})
	n1 := g.UpsertRelationships([]Relationship{{ID: "r1", Source: "a", Target: "b", Type: "knows", Confidence: 0.5}})
	n2 := g.UpsertRelationships([]Relationship{{ID: "r2", Source: "a", Target: "b", Type: "knows", Confidence: 0.9}})
	require.Equal(t, 1, n1)
	require.Equal(t, 1, n2)
	require.Equal(t, 1, g.RelationshipCount())
}

func TestNeighborsRespectsDepth(t *testing.T) {
	g := New(0)
	g.UpsertEntities([]Entity{
		{ID: "a", Label: "A", Type: "t", Confidence: 1},
		{ID: "b", Label: "B", Type: "t", Confidence: 1},
		{ID: "c", Label: "C", Type: "t", Confidence: 1},
		{ID: "d", Label: "D", Type: "t", Confidence: 1},
	})
	g.UpsertRelationships([]Relationship{
		{ID: "r1", Source: "a", Target: "b", Type: "knows", Confidence: 1},
		{ID: "r2", Source: "b", Target: "c", Type: "knows", Confidence: 1},
		{ID: "r3", Source: "c", Target: "d", Type: "knows", Confidence: 1},
	})

	require.ElementsMatch(t, []string{"b"}, g.Neighbors("a", 1))
	require.ElementsMatch(t, []string{"b", "c"}, g.Neighbors("a", 2))
	require.ElementsMatch(t, []string{"b", "c", "d"}, g.Neighbors("a", 3))
	require.ElementsMatch(t, []string{"b", "c", "d"}, g.Neighbors("a", 10))
}

func TestNeighborsIgnoresCycles(t *testing.T) {
	g := New(0)
	g.UpsertEntities([]Entity{
		{ID: "a", Label: "A", Type: "t", Confidence: 1},
		{ID: "b", Label: "B", Type: "t", Confidence: 1},
	})
	g.UpsertRelationships([]Relationship{
		{ID: "r1", Source: "a", Target: "b", Type: "knows", Confidence: 1},
		{ID: "r2", Source: "b", Target: "a", Type: "knows", Confidence: 1},
	})
	require.ElementsMatch(t, []string{"b"}, g.Neighbors("a", 3))
}

func TestSerializeRoundTrip(t *testing.T) {
	g := New(0.2)
	g.UpsertEntities([]Entity{
		{ID: "a", Label: "A", Type: "t", Confidence: 1},
		{ID: "b", Label: "B", Type: "t", Confidence: 1},
	})
	g.UpsertRelationships([]Relationship{{ID: "r1", Source: "a", Target: "b", Type: "knows", Confidence: 0.9}})

	blob, err := g.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(blob)
	require.NoError(t, err)
	require.Equal(t, g.EntityCount(), restored.EntityCount())
	require.Equal(t, g.RelationshipCount(), restored.RelationshipCount())
	require.ElementsMatch(t, g.Neighbors("a", 2), restored.Neighbors("a", 2))
}
