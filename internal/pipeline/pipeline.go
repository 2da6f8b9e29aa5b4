// Package pipeline implements the Pipeline Orchestrator (spec §4.10, C10):
// a fixed step list run per memory with per-step timing/outcome records,
// rollback or skip-failed-step partial-failure policy, and bounded retries
// for idempotent steps. Grounded on the teacher's execution-record pattern
// in core/resource_management.go (JobStatus with started/completed
// timestamps per stage) and its compensating-action style in
// core/transactions.go (pool eviction on failed broadcast).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sealwallet/pdw-core/internal/batch"
	"github.com/sealwallet/pdw-core/internal/blobstore"
	"github.com/sealwallet/pdw-core/internal/classifier"
	"github.com/sealwallet/pdw-core/internal/embedding"
	"github.com/sealwallet/pdw-core/internal/graph"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
)

// Step names, in fixed order (spec §4.10).
const (
	StepClassify     = "classify"
	StepEmbed        = "embed"
	StepVectorIndex  = "vector_index_enqueue"
	StepGraphUpdate  = "graph_update"
	StepEncrypt      = "encrypt"
	StepBlobPut      = "blob_put"
	StepRecordCreate = "record_create"
)

var idempotentSteps = map[string]bool{
	StepClassify:    true,
	StepEmbed:       true,
	StepBlobPut:     true, // content-addressed; re-put of identical bytes is a no-op
}

// StepRecord is one step's outcome within an ExecutionRecord.
type StepRecord struct {
	Step      string
	StartedAt time.Time
	EndedAt   time.Time
	Status    string // ok|failed|skipped
	Err       error
}

// ExecutionRecord is the per-memory audit trail spec §4.10 describes.
type ExecutionRecord struct {
	MemoryID   string
	Owner      model.Address
	Steps      []StepRecord
	Success    bool
	RolledBack bool
	VectorID   uint64
	BlobID     string
}

// Config mirrors spec §6 pipeline.* plus the enable switches §4.4/§4.5
// expose for skipping graph extraction or encryption in dev.
type Config struct {
	RollbackOnFailure bool
	SkipFailedSteps   bool
	MaxRetryAttempts  int
	EnableGraph       bool
	EnableEncryption  bool
}

// VectorIDSource hands out the next per-user vector id (spec §4.3
// "vector_id must be unique per logical index version"). A concrete
// implementation combines the registry's current MemoryIndexRoot with the
// batch coordinator's in-flight journal length; kept as a seam here the
// same way internal/batch keeps Submitter a seam rather than embedding a
// concrete chain client.
type VectorIDSource interface {
	NextVectorID(ctx context.Context, user model.Address) (uint64, error)
}

// GraphExtractor performs NER + relation extraction over memory content.
// A nil Extractor (or Config.EnableGraph=false) skips the graph_update
// step entirely, per spec §4.4 ("extraction itself may be skipped").
type GraphExtractor interface {
	Extract(ctx context.Context, text string) ([]graph.Entity, []graph.Relationship, error)
}

// Encryptor is the subset of ibe.Engine.Encrypt the orchestrator needs.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext, identity []byte) (ciphertext, backupKey []byte, err error)
}

// Submitter signs and submits the create_memory_record transaction; the
// orchestrator never holds a key, matching internal/registry and
// internal/batch's submit boundary.
type Submitter interface {
	Submit(ctx context.Context, tx registry.Tx) error
}

// Deps bundles every collaborator a run needs.
type Deps struct {
	Classifier *classifier.Classifier
	Embedder   *embedding.Client
	VectorIDs  VectorIDSource
	Enqueuer   *batch.Coordinator
	Graph      GraphExtractor
	Encryption Encryptor
	Blobs      blobstore.BlobStore
	Submitter  Submitter
}

// Orchestrator runs the fixed step list over memories (C10).
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	mu         sync.Mutex
	lastN      []ExecutionRecord
	lastNLimit int
}

// New builds an Orchestrator. lastNLimit bounds the in-memory history
// LastExecutions retains (0 disables history entirely).
func New(cfg Config, deps Deps, lastNLimit int) *Orchestrator {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		log:        logrus.WithField("component", "pipeline"),
		lastNLimit: lastNLimit,
	}
}

// Run executes the step list for a single memory (spec §4.10).
func (o *Orchestrator) Run(ctx context.Context, mem model.Memory) (ExecutionRecord, error) {
	rec := ExecutionRecord{MemoryID: mem.ID, Owner: mem.Owner}

	cls := o.runClassify(ctx, &rec, mem)

	vec, err := o.runEmbed(ctx, &rec, mem)
	if err != nil {
		return o.finish(rec, false, err)
	}

	vectorID, err := o.runVectorEnqueue(ctx, &rec, mem, vec)
	if err != nil {
		return o.finish(rec, false, err)
	}
	rec.VectorID = vectorID

	if err := o.runGraphUpdate(ctx, &rec, mem); err != nil && !o.cfg.SkipFailedSteps {
		return o.compensate(ctx, rec, vectorID, "")
	}

	ciphertext, err := o.runEncrypt(ctx, &rec, mem)
	if err != nil {
		return o.compensate(ctx, rec, vectorID, "")
	}

	blobID, err := o.runBlobPut(ctx, &rec, mem, ciphertext)
	if err != nil {
		return o.compensate(ctx, rec, vectorID, "")
	}
	rec.BlobID = blobID

	if err := o.runRecordCreate(ctx, &rec, mem, cls, vectorID, blobID); err != nil {
		return o.compensate(ctx, rec, vectorID, blobID)
	}

	return o.finish(rec, true, nil)
}

// RunBatch runs the pipeline over many memories, optionally bounding
// concurrency (spec §4.10 "batch mode ... optionally in parallel with a
// concurrency cap"). progress, if non-nil, is invoked once per completed
// execution (success or failure).
func (o *Orchestrator) RunBatch(ctx context.Context, memories []model.Memory, concurrency int, progress func(ExecutionRecord, error)) []ExecutionRecord {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]ExecutionRecord, len(memories))
	errs := make([]error, len(memories))

	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(memories))
	for i, m := range memories {
		sem <- struct{}{}
		go func(i int, m model.Memory) {
			defer func() { <-sem; done <- i }()
			rec, err := o.Run(ctx, m)
			results[i] = rec
			errs[i] = err
		}(i, m)
	}
	for range memories {
		i := <-done
		if progress != nil {
			progress(results[i], errs[i])
		}
	}
	return results
}

// LastExecutions returns up to n of the most recently completed
// execution records, most recent last.
func (o *Orchestrator) LastExecutions(n int) []ExecutionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > len(o.lastN) {
		n = len(o.lastN)
	}
	if n <= 0 {
		return nil
	}
	return append([]ExecutionRecord(nil), o.lastN[len(o.lastN)-n:]...)
}

func (o *Orchestrator) finish(rec ExecutionRecord, success bool, err error) (ExecutionRecord, error) {
	rec.Success = success
	if o.lastNLimit > 0 {
		o.mu.Lock()
		o.lastN = append(o.lastN, rec)
		if len(o.lastN) > o.lastNLimit {
			o.lastN = o.lastN[len(o.lastN)-o.lastNLimit:]
		}
		o.mu.Unlock()
	}
	return rec, err
}

// compensate implements rollback_on_failure (spec §4.10): tombstone the
// vector and surface the failure without publishing a record. Blob
// deletion is best-effort-logged only: C6's content-addressed store
// exposes no delete primitive (spec §4.6), so "delete the new blob" means
// letting the orphaned blob age out rather than an active removal call.
func (o *Orchestrator) compensate(ctx context.Context, rec ExecutionRecord, vectorID uint64, blobID string) (ExecutionRecord, error) {
	var causeErr error
	for i := range rec.Steps {
		if rec.Steps[i].Status == "failed" {
			causeErr = rec.Steps[i].Err
		}
	}
	if !o.cfg.RollbackOnFailure {
		return o.finish(rec, false, causeErr)
	}
	if o.deps.Enqueuer != nil {
		o.deps.Enqueuer.Enqueue(rec.Owner, batch.Entry{VectorID: vectorID, Tombstone: true})
	}
	if blobID != "" {
		o.log.WithField("blob_id", blobID).Warn("rollback: orphaned blob left for C6's retention sweep, no delete primitive")
	}
	rec.RolledBack = true
	return o.finish(rec, false, causeErr)
}
