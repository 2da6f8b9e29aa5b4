package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sealwallet/pdw-core/internal/batch"
	"github.com/sealwallet/pdw-core/internal/blobstore"
	"github.com/sealwallet/pdw-core/internal/classifier"
	"github.com/sealwallet/pdw-core/internal/embedding"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
)

func record(rec *ExecutionRecord, step string, started time.Time, err error, skipped bool) {
	status := "ok"
	if skipped {
		status = "skipped"
	} else if err != nil {
		status = "failed"
	}
	rec.Steps = append(rec.Steps, StepRecord{
		Step: step, StartedAt: started, EndedAt: time.Now(), Status: status, Err: err,
	})
}

// runClassify is non-fatal by construction: classifier.Classify never
// returns an error (spec §4.2), so this step can only succeed.
func (o *Orchestrator) runClassify(ctx context.Context, rec *ExecutionRecord, mem model.Memory) classifier.Result {
	started := time.Now()
	res := o.deps.Classifier.Classify(ctx, mem.Content)
	record(rec, StepClassify, started, nil, false)
	return res
}

// runEmbed retries idempotent RateLimited/Unavailable failures up to
// MaxRetryAttempts before failing the step (spec §4.10).
func (o *Orchestrator) runEmbed(ctx context.Context, rec *ExecutionRecord, mem model.Memory) ([]float32, error) {
	started := time.Now()
	vec, err := withRetry(ctx, o.cfg.MaxRetryAttempts, StepEmbed, func() ([]float32, error) {
		return o.deps.Embedder.Embed(ctx, mem.Content, embedding.KindDocument)
	})
	record(rec, StepEmbed, started, err, false)
	return vec, err
}

func (o *Orchestrator) runVectorEnqueue(ctx context.Context, rec *ExecutionRecord, mem model.Memory, vec []float32) (uint64, error) {
	started := time.Now()
	vectorID, err := o.deps.VectorIDs.NextVectorID(ctx, mem.Owner)
	if err != nil {
		record(rec, StepVectorIndex, started, err, false)
		return 0, err
	}
	o.deps.Enqueuer.Enqueue(mem.Owner, batch.Entry{
		VectorID: vectorID,
		MemoryID: mem.ID,
		Vector:   vec,
	})
	record(rec, StepVectorIndex, started, nil, false)
	return vectorID, nil
}

// runGraphUpdate is skipped entirely (and never recorded as failed) when
// graph extraction is disabled (spec §4.4 "may be skipped per pipeline
// config"). An extractor error is returned to the caller, which under
// skip_failed_steps tolerates it and proceeds (spec §4.10: "non-critical
// ... graph extraction").
func (o *Orchestrator) runGraphUpdate(ctx context.Context, rec *ExecutionRecord, mem model.Memory) error {
	started := time.Now()
	if !o.cfg.EnableGraph || o.deps.Graph == nil {
		record(rec, StepGraphUpdate, started, nil, true)
		return nil
	}
	entities, rels, err := o.deps.Graph.Extract(ctx, mem.Content)
	if err != nil {
		record(rec, StepGraphUpdate, started, err, false)
		return err
	}
	if len(entities) > 0 || len(rels) > 0 {
		o.deps.Enqueuer.Enqueue(mem.Owner, batch.Entry{
			VectorID:           0,
			Tombstone:          false,
			GraphEntities:      entities,
			GraphRelationships: rels,
		})
	}
	record(rec, StepGraphUpdate, started, nil, false)
	return nil
}

func (o *Orchestrator) runEncrypt(ctx context.Context, rec *ExecutionRecord, mem model.Memory) ([]byte, error) {
	started := time.Now()
	if !o.cfg.EnableEncryption || o.deps.Encryption == nil {
		record(rec, StepEncrypt, started, nil, true)
		return []byte(mem.Content), nil
	}
	ct, _, err := o.deps.Encryption.Encrypt(ctx, []byte(mem.Content), mem.Owner.Bytes())
	record(rec, StepEncrypt, started, err, false)
	return ct, err
}

func (o *Orchestrator) runBlobPut(ctx context.Context, rec *ExecutionRecord, mem model.Memory, ciphertext []byte) (string, error) {
	started := time.Now()
	blobID, err := withRetry(ctx, o.cfg.MaxRetryAttempts, StepBlobPut, func() (string, error) {
		return o.deps.Blobs.Put(ctx, ciphertext, mem.Owner.Hex(), 0, blobstore.Tags{
			ContentType: "application/octet-stream",
			Category:    mem.Category,
			Owner:       mem.Owner.Hex(),
		})
	})
	record(rec, StepBlobPut, started, err, false)
	return blobID, err
}

func (o *Orchestrator) runRecordCreate(ctx context.Context, rec *ExecutionRecord, mem model.Memory, cls classifier.Result, vectorID uint64, blobID string) error {
	started := time.Now()
	category := mem.Category
	if category == "" && len(cls.Categories) > 0 {
		category = cls.Categories[0]
	}
	plaintextHash := sha256.Sum256([]byte(mem.Content))
	tx := registry.BuildCreateMemoryRecord(category, vectorID, blobID, model.MemoryMetadata{
		ContentType: "text/plain",
		ContentSize: uint64(len(mem.Content)),
		ContentHash: hex.EncodeToString(plaintextHash[:]),
		Category:    category,
		Topic:       mem.Topic,
		Importance:  cls.Importance,
		CreatedTS:   mem.CreatedAt.Unix(),
	})
	err := o.deps.Submitter.Submit(ctx, tx)
	record(rec, StepRecordCreate, started, err, false)
	return err
}

// withRetry bounds an idempotent step's attempts at maxAttempts, retrying
// only Retryable outcomes (spec §4.10: "only idempotent steps ... are
// retried without compensation").
func withRetry[T any](ctx context.Context, maxAttempts int, step string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !idempotentSteps[step] || !pdwerr.Retryable(pdwerr.KindOf(err)) {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, pdwerr.Wrap("pipeline.withRetry", pdwerr.Canceled, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return zero, lastErr
}
