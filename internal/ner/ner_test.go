package ner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractHeuristicFindsCapitalizedTokens(t *testing.T) {
	e := New(nil, 0.3)
	entities, rels, err := e.Extract(context.Background(), "Alice met Bob at the conference")
	require.NoError(t, err)
	require.Nil(t, rels)

	var labels []string
	for _, en := range entities {
		labels = append(labels, en.Label)
	}
	require.Contains(t, labels, "Alice")
	require.Contains(t, labels, "Bob")
}

func TestExtractHeuristicSkipsSentenceLeadWords(t *testing.T) {
	e := New(nil, 0.3)
	entities, _, err := e.Extract(context.Background(), "The weather is nice today")
	require.NoError(t, err)
	for _, en := range entities {
		require.NotEqual(t, "The", en.Label)
	}
}

type fakeLLM struct {
	raw []byte
	err error
}

func (f fakeLLM) Extract(ctx context.Context, text string) ([]byte, error) {
	return f.raw, f.err
}

func TestExtractUsesLLMWhenAvailable(t *testing.T) {
	raw := []byte(`{
		"entities": [{"label":"Acme Corp","type":"Organization","confidence":0.9}],
		"relationships": [{"source":"organization:acme corp","target":"unknown:alice","type":"employs","confidence":0.8}]
	}`)
	e := New(fakeLLM{raw: raw}, 0.5)
	entities, rels, err := e.Extract(context.Background(), "Alice works at Acme Corp")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "Acme Corp", entities[0].Label)
	require.Len(t, rels, 1)
	require.Equal(t, "employs", rels[0].Type)
	require.NotEmpty(t, rels[0].ID)
}

func TestExtractFallsBackToHeuristicOnLLMError(t *testing.T) {
	e := New(fakeLLM{err: context.DeadlineExceeded}, 0.5)
	entities, rels, err := e.Extract(context.Background(), "Alice likes Go")
	require.NoError(t, err)
	require.Nil(t, rels)
	require.NotEmpty(t, entities)
}

func TestExtractDropsLowConfidenceLLMEntities(t *testing.T) {
	raw := []byte(`{"entities":[{"label":"Maybe","type":"Thing","confidence":0.1}]}`)
	e := New(fakeLLM{raw: raw}, 0.5)
	entities, _, err := e.Extract(context.Background(), "text")
	require.NoError(t, err)
	require.Empty(t, entities)
}
