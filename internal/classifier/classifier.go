// Package classifier implements the Content Classifier (spec §4.2, C2):
// category/topic/importance/sentiment derivation, defaulting deterministically
// when no LLM is configured and defensively parsing the LLM's JSON result
// when one is, the same "never fail the pipeline on a parse error" posture
// the teacher takes for its AI marketplace listing parser
// (core/ai_model_management.go unmarshals defensively and only logs on
// failure rather than aborting the caller).
package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sealwallet/pdw-core/internal/model"
)

const (
	defaultCategory   = "general"
	defaultImportance = 5
	defaultConfidence = 0.5
)

// Result is the classifier's output (spec §4.2).
type Result struct {
	Categories []string
	Topics     []string
	Importance int
	Sentiment  model.Sentiment
	Confidence float64
}

// LLM is the optional model backend; nil means "always use defaults".
type LLM interface {
	// Classify returns a raw JSON document shaped like llmResponse, or an
	// error if the backend itself could not be reached.
	Classify(ctx context.Context, text string) ([]byte, error)
}

// Classifier assigns category/topic/importance/sentiment to a memory.
type Classifier struct {
	llm LLM
}

// New builds a Classifier. Passing a nil LLM makes Classify always return
// deterministic defaults (spec §4.2).
func New(llm LLM) *Classifier {
	return &Classifier{llm: llm}
}

type llmResponse struct {
	Categories []string `json:"categories"`
	Topics     []string `json:"topics"`
	Importance int      `json:"importance"`
	Sentiment  string   `json:"sentiment"`
	Confidence float64  `json:"confidence"`
}

// Classify derives classification metadata for text. It never returns an
// error: an unreachable or malformed LLM response degrades to the
// deterministic defaults rather than failing the pipeline step.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	if c.llm == nil {
		return defaults()
	}

	raw, err := c.llm.Classify(ctx, text)
	if err != nil {
		return defaults()
	}

	var parsed llmResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return defaults()
	}

	res := defaults()
	if len(parsed.Categories) > 0 {
		res.Categories = parsed.Categories
	}
	res.Topics = parsed.Topics
	if parsed.Importance >= 1 && parsed.Importance <= 10 {
		res.Importance = parsed.Importance
	}
	if s := normalizeSentiment(parsed.Sentiment); s != "" {
		res.Sentiment = s
	}
	if parsed.Confidence > 0 && parsed.Confidence <= 1 {
		res.Confidence = parsed.Confidence
	}
	return res
}

func defaults() Result {
	return Result{
		Categories: []string{defaultCategory},
		Importance: defaultImportance,
		Sentiment:  model.SentimentNeutral,
		Confidence: defaultConfidence,
	}
}

func normalizeSentiment(s string) model.Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pos", "positive":
		return model.SentimentPositive
	case "neg", "negative":
		return model.SentimentNegative
	case "neu", "neutral":
		return model.SentimentNeutral
	default:
		return ""
	}
}
