// Package batch implements the Batch Coordinator (spec §4.9, C9): a
// per-user in-memory journal of pending vector/graph mutations, a
// debounced flusher that republishes a new MemoryIndexRoot instead of one
// per memory, and read-your-writes resolution for C11. The per-user
// single-writer discipline is enforced via internal/store.UserState's
// WriterMu (spec §5), the same per-entity mutex-before-mutate pattern the
// teacher's TxPool uses around its pending queue
// (synnergy-network/core/transactions.go's sync.Mutex-guarded pool).
package batch

import (
	"strconv"
	"sync"
	"time"

	"github.com/sealwallet/pdw-core/internal/graph"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// Entry is one pending mutation enqueued by the pipeline (spec §4.9
// enqueue(user, vector_id, vector, graph_delta?)).
type Entry struct {
	VectorID  uint64
	MemoryID  string
	Vector    []float32
	Tombstone bool

	GraphEntities      []graph.Entity
	GraphRelationships []graph.Relationship

	EnqueuedAt time.Time
}

// Config mirrors spec §6 batch.* options.
type Config struct {
	MaxPending    int
	MaxDelayMS    int
	MaxCASRetries int
}

type userJournal struct {
	mu             sync.Mutex
	pending        []Entry
	vectorToMemory map[uint64]string
	timer          *time.Timer
}

// Coordinator is the Batch Coordinator (C9).
type Coordinator struct {
	cfg Config

	onFlushDue func(user model.Address)

	mu       sync.Mutex
	journals map[model.Address]*userJournal
}

// New builds a Coordinator. onFlushDue is invoked (from a timer or
// directly) whenever a user's journal should be flushed; callers
// typically wire it to call Flush with their own Submitter.
func New(cfg Config, onFlushDue func(user model.Address)) *Coordinator {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 100
	}
	if cfg.MaxDelayMS <= 0 {
		cfg.MaxDelayMS = 2000
	}
	if cfg.MaxCASRetries <= 0 {
		cfg.MaxCASRetries = 5
	}
	return &Coordinator{cfg: cfg, onFlushDue: onFlushDue, journals: make(map[model.Address]*userJournal)}
}

func (c *Coordinator) journalFor(user model.Address) *userJournal {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.journals[user]
	if !ok {
		j = &userJournal{vectorToMemory: make(map[uint64]string)}
		c.journals[user] = j
	}
	return j
}

// Enqueue appends a pending mutation for user (spec §4.9). Triggers an
// immediate flush callback when max_pending is reached, or arms a
// max_delay_ms debounce timer if one is not already pending.
func (c *Coordinator) Enqueue(user model.Address, e Entry) {
	e.EnqueuedAt = time.Now()
	j := c.journalFor(user)

	j.mu.Lock()
	j.pending = append(j.pending, e)
	if !e.Tombstone {
		j.vectorToMemory[e.VectorID] = e.MemoryID
	}
	due := len(j.pending) >= c.cfg.MaxPending
	if !due && j.timer == nil {
		j.timer = time.AfterFunc(time.Duration(c.cfg.MaxDelayMS)*time.Millisecond, func() {
			j.mu.Lock()
			j.timer = nil
			j.mu.Unlock()
			if c.onFlushDue != nil {
				c.onFlushDue(user)
			}
		})
	}
	j.mu.Unlock()

	if due && c.onFlushDue != nil {
		c.onFlushDue(user)
	}
}

// ResolveMemoryID answers C11's vector_id -> memory_id lookup from the
// journal's local cache before C7 is consulted (spec §4.11 step 3).
func (c *Coordinator) ResolveMemoryID(user model.Address, vectorID uint64) (string, bool) {
	j := c.journalFor(user)
	j.mu.Lock()
	defer j.mu.Unlock()
	id, ok := j.vectorToMemory[vectorID]
	return id, ok
}

// PendingVectors returns a snapshot of the journal's still-unflushed
// entries for read-your-writes search (spec §4.9: "Reads from C11 always
// consult the in-memory journal before falling back to the last
// persisted snapshot").
func (c *Coordinator) PendingVectors(user model.Address) []Entry {
	j := c.journalFor(user)
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.pending))
	copy(out, j.pending)
	return out
}

// drain returns a snapshot of every currently pending entry without
// removing them, so a failed flush attempt can retry against the same
// set plus whatever was enqueued concurrently in between.
func (j *userJournal) drain() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.pending))
	copy(out, j.pending)
	return out
}

func (j *userJournal) removeFlushed(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n >= len(j.pending) {
		j.pending = nil
		return
	}
	j.pending = append([]Entry(nil), j.pending[n:]...)
}

// errConflictExhausted wraps pdwerr.Conflict with the bounded-retries
// message spec §4.9/§7 describe ("surfaces ConflictExhausted"); the
// closed Kind taxonomy has no separate kind for it, so callers check the
// message or simply treat any returned Conflict from Flush as exhausted.
func errConflictExhausted(attempts int) error {
	return pdwerr.New("batch.Coordinator.Flush", pdwerr.Conflict,
		"ConflictExhausted: CAS update failed after "+strconv.Itoa(attempts)+" attempts")
}
