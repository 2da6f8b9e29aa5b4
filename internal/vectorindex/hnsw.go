// Package vectorindex implements the per-user HNSW vector index (spec
// §4.3, C3): cosine space, fixed dimension, configurable M/efConstruction,
// integer vector ids, soft-delete tombstones, and binary
// serialize/deserialize round-tripping to identical search behavior.
//
// The graph construction follows the standard HNSW algorithm (Malkov &
// Yashunin): each inserted point draws a random layer from an exponential
// distribution, greedy-descends from the top entry point to find a good
// starting node at its own layer, then connects to its M nearest
// neighbors at every layer from there down to 0, pruning each neighbor
// list back to a maximum degree. Distances are cosine distance
// (1 - cosine similarity); spec §3 has the embedding client normalize to
// unit vectors at ingest so cosine distance reduces to 1 - dot product,
// but Search does not assume normalization.
package vectorindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

const binaryMagic uint32 = 0x484e5357 // "HNSW"
const binaryVersion uint32 = 1

// Config configures a fresh index (spec §6 vector.*).
type Config struct {
	Dimension      int
	MaxElements    int
	M              int
	EfConstruction int
}

// Neighbor is a single search hit.
type Neighbor struct {
	VectorID uint64
	Distance float64
}

type node struct {
	id        uint64
	vector    []float32
	level     int
	neighbors [][]uint64 // neighbors[layer] = neighbor ids, insertion order until pruneNeighbors sorts them by distance
}

// Index is a per-user HNSW index. All exported methods are safe for
// concurrent use; callers (internal/batch) still serialize mutations
// behind a per-user writer lock per spec §5, but Search never requires it.
type Index struct {
	mu sync.RWMutex

	dimension      int
	maxElements    int
	m              int
	mMax0          int
	efConstruction int
	levelMult      float64

	nodes      map[uint64]*node
	tombstones map[uint64]struct{}
	entryPoint uint64
	maxLevel   int
	hasEntry   bool

	nextVectorID uint64

	rng *rand.Rand
}

// New builds an empty index from cfg.
func New(cfg Config) *Index {
	m := cfg.M
	if m <= 0 {
		m = 16
	}
	ef := cfg.EfConstruction
	if ef <= 0 {
		ef = 200
	}
	return &Index{
		dimension:      cfg.Dimension,
		maxElements:    cfg.MaxElements,
		m:              m,
		mMax0:          2 * m,
		efConstruction: ef,
		levelMult:      1.0 / math.Log(float64(m)),
		nodes:          make(map[uint64]*node),
		tombstones:     make(map[uint64]struct{}),
		rng:            rand.New(rand.NewSource(1)),
	}
}

// NextVectorID returns the next monotonically-assigned vector id without
// consuming it (callers assign ids explicitly via Add so the batch
// coordinator can order them against its journal, per spec §5).
func (idx *Index) NextVectorID() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nextVectorID
}

// Dimension reports the index's fixed dimension.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Add inserts vector at vectorID. vectorID must be unique within this
// logical index version (spec §4.3); reuse is not detected defensively
// here since the batch coordinator already guarantees monotonic
// assignment (spec §5).
func (idx *Index) Add(vectorID uint64, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dimension == 0 {
		idx.dimension = len(vector)
	}
	if len(vector) != idx.dimension {
		return pdwerr.New("vectorindex.Add", pdwerr.InvalidInput, "vector dimension mismatch")
	}
	if idx.maxElements > 0 && len(idx.nodes) >= idx.maxElements {
		return pdwerr.New("vectorindex.Add", pdwerr.InvalidInput, "index at max_elements capacity")
	}

	level := idx.randomLevel()
	n := &node{id: vectorID, vector: append([]float32(nil), vector...), level: level, neighbors: make([][]uint64, level+1)}
	idx.nodes[vectorID] = n

	if vectorID >= idx.nextVectorID {
		idx.nextVectorID = vectorID + 1
	}

	if !idx.hasEntry {
		idx.entryPoint = vectorID
		idx.maxLevel = level
		idx.hasEntry = true
		return nil
	}

	cur := idx.entryPoint
	curDist := idx.distance(vector, idx.nodes[cur].vector)
	for l := idx.maxLevel; l > level; l-- {
		cur, curDist = idx.greedyDescend(cur, curDist, vector, l)
	}

	for l := min(level, idx.maxLevel); l >= 0; l-- {
		candidates := idx.searchLayer(vector, cur, idx.efConstruction, l, nil)
		selected := selectNeighbors(candidates, idx.m)
		for _, c := range selected {
			idx.connect(n, idx.nodes[c.VectorID], l)
			idx.pruneNeighbors(idx.nodes[c.VectorID], l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].VectorID
		}
	}

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryPoint = vectorID
	}
	return nil
}

func (idx *Index) connect(a, b *node, layer int) {
	if a.id == b.id {
		return
	}
	a.neighbors[layer] = appendUnique(a.neighbors[layer], b.id)
	if layer < len(b.neighbors) {
		b.neighbors[layer] = appendUnique(b.neighbors[layer], a.id)
	}
}

func appendUnique(list []uint64, id uint64) []uint64 {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func (idx *Index) pruneNeighbors(n *node, layer int) {
	maxDeg := idx.m
	if layer == 0 {
		maxDeg = idx.mMax0
	}
	if len(n.neighbors[layer]) <= maxDeg {
		return
	}
	type scored struct {
		id   uint64
		dist float64
	}
	scoredList := make([]scored, 0, len(n.neighbors[layer]))
	for _, id := range n.neighbors[layer] {
		other := idx.nodes[id]
		if other == nil {
			continue
		}
		scoredList = append(scoredList, scored{id, idx.distance(n.vector, other.vector)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })
	if len(scoredList) > maxDeg {
		scoredList = scoredList[:maxDeg]
	}
	kept := make([]uint64, len(scoredList))
	for i, s := range scoredList {
		kept[i] = s.id
	}
	n.neighbors[layer] = kept
}

// greedyDescend performs a single-candidate (ef=1) greedy walk at layer,
// used to find a good entry point for the next layer down.
func (idx *Index) greedyDescend(entry uint64, entryDist float64, query []float32, layer int) (uint64, float64) {
	improved := true
	cur, curDist := entry, entryDist
	for improved {
		improved = false
		n := idx.nodes[cur]
		if n == nil || layer >= len(n.neighbors) {
			break
		}
		for _, nb := range n.neighbors[layer] {
			other := idx.nodes[nb]
			if other == nil {
				continue
			}
			d := idx.distance(query, other.vector)
			if d < curDist {
				curDist = d
				cur = nb
				improved = true
			}
		}
	}
	return cur, curDist
}

// searchLayer performs a best-first search at layer with beam width ef,
// returning up to ef candidates sorted by ascending distance. visited, if
// non-nil, pre-seeds the visited set (used by Search to dedupe across
// layer transitions; Add always passes nil).
func (idx *Index) searchLayer(query []float32, entry uint64, ef int, layer int, visited map[uint64]struct{}) []Neighbor {
	if visited == nil {
		visited = make(map[uint64]struct{})
	}
	type cand struct {
		id   uint64
		dist float64
	}

	entryNode := idx.nodes[entry]
	if entryNode == nil {
		return nil
	}
	entryDist := idx.distance(query, entryNode.vector)
	visited[entry] = struct{}{}

	candidateHeap := []cand{{entry, entryDist}}
	result := []cand{{entry, entryDist}}

	for len(candidateHeap) > 0 {
		sort.Slice(candidateHeap, func(i, j int) bool { return candidateHeap[i].dist < candidateHeap[j].dist })
		c := candidateHeap[0]
		candidateHeap = candidateHeap[1:]

		sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
		if len(result) >= ef && c.dist > result[len(result)-1].dist {
			break
		}

		n := idx.nodes[c.id]
		if n == nil || layer >= len(n.neighbors) {
			continue
		}
		for _, nbID := range n.neighbors[layer] {
			if _, seen := visited[nbID]; seen {
				continue
			}
			visited[nbID] = struct{}{}
			other := idx.nodes[nbID]
			if other == nil {
				continue
			}
			d := idx.distance(query, other.vector)
			candidateHeap = append(candidateHeap, cand{nbID, d})
			result = append(result, cand{nbID, d})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].dist != result[j].dist {
			return result[i].dist < result[j].dist
		}
		return result[i].id < result[j].id
	})
	if len(result) > ef {
		result = result[:ef]
	}
	out := make([]Neighbor, len(result))
	for i, c := range result {
		out[i] = Neighbor{VectorID: c.id, Distance: c.dist}
	}
	return out
}

func selectNeighbors(candidates []Neighbor, m int) []Neighbor {
	if len(candidates) <= m {
		return candidates
	}
	return candidates[:m]
}

// Search returns up to k non-tombstoned ids sorted by ascending cosine
// distance, ties broken by smaller vector id (spec §4.3). An empty index
// returns an empty slice, never an error. efSearch<=0 uses
// max(k, Config.EfConstruction).
func (idx *Index) Search(query []float32, k int, efSearch int) ([]Neighbor, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k <= 0 || !idx.hasEntry {
		return []Neighbor{}, nil
	}
	if idx.dimension != 0 && len(query) != idx.dimension {
		return nil, pdwerr.New("vectorindex.Search", pdwerr.InvalidInput, "query dimension mismatch")
	}
	if efSearch <= 0 {
		efSearch = k
		if idx.efConstruction > efSearch {
			efSearch = idx.efConstruction
		}
	}
	if efSearch < k {
		efSearch = k
	}

	cur := idx.entryPoint
	curDist := idx.distance(query, idx.nodes[cur].vector)
	for l := idx.maxLevel; l > 0; l-- {
		cur, curDist = idx.greedyDescend(cur, curDist, query, l)
	}
	_ = curDist

	candidates := idx.searchLayer(query, cur, efSearch*2+k, 0, nil)

	out := make([]Neighbor, 0, k)
	for _, c := range candidates {
		if _, dead := idx.tombstones[c.VectorID]; dead {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// MarkDelete soft-deletes vectorID; future searches exclude it. Ids are
// never reclaimed (spec §4.3, §9 open question on compaction).
func (idx *Index) MarkDelete(vectorID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tombstones[vectorID] = struct{}{}
}

// Size returns the count of non-tombstoned entries.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes) - len(idx.tombstones)
}

// Tombstones returns a copy of the tombstone set, for sidecar persistence.
func (idx *Index) Tombstones() map[uint64]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[uint64]struct{}, len(idx.tombstones))
	for k := range idx.tombstones {
		out[k] = struct{}{}
	}
	return out
}

// Compact is the documented-but-unimplemented compaction hook (spec §9
// open question: "a compaction pass is unspecified. Implementers should
// leave a well-documented hook rather than invent one."). It always
// returns rebuilt=false; a future product-level decision may replace this
// with an actual tombstone-reclaiming rebuild.
func (idx *Index) Compact() (rebuilt bool, err error) {
	return false, nil
}

func (idx *Index) distance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

func (idx *Index) randomLevel() int {
	r := idx.rng.Float64()
	if r <= 0 {
		r = 1e-12
	}
	return int(math.Floor(-math.Log(r) * idx.levelMult))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Serialize encodes the index to an opaque binary blob (spec §4.3).
func (idx *Index) Serialize() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	writeU32(w, binaryMagic)
	writeU32(w, binaryVersion)
	writeU32(w, uint32(idx.dimension))
	writeU32(w, uint32(idx.maxElements))
	writeU32(w, uint32(idx.m))
	writeU32(w, uint32(idx.efConstruction))
	writeU64(w, idx.nextVectorID)
	writeBool(w, idx.hasEntry)
	writeU64(w, idx.entryPoint)
	writeU32(w, uint32(idx.maxLevel))

	writeU32(w, uint32(len(idx.tombstones)))
	tombIDs := make([]uint64, 0, len(idx.tombstones))
	for id := range idx.tombstones {
		tombIDs = append(tombIDs, id)
	}
	sort.Slice(tombIDs, func(i, j int) bool { return tombIDs[i] < tombIDs[j] })
	for _, id := range tombIDs {
		writeU64(w, id)
	}

	nodeIDs := make([]uint64, 0, len(idx.nodes))
	for id := range idx.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	writeU32(w, uint32(len(nodeIDs)))
	for _, id := range nodeIDs {
		n := idx.nodes[id]
		writeU64(w, n.id)
		writeU32(w, uint32(n.level))
		for _, v := range n.vector {
			writeF32(w, v)
		}
		for l := 0; l <= n.level; l++ {
			writeU32(w, uint32(len(n.neighbors[l])))
			for _, nb := range n.neighbors[l] {
				writeU64(w, nb)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return nil, pdwerr.Wrap("vectorindex.Serialize", pdwerr.Internal, err)
	}
	return buf.Bytes(), nil
}

// Deserialize reconstructs an Index from Serialize's output. A dimension
// mismatch against the caller's expected dimension is fatal per spec §4.3;
// pass expectedDimension<=0 to skip that check (e.g. for a brand-new user).
func Deserialize(data []byte, expectedDimension int) (*Index, error) {
	r := bytes.NewReader(data)

	magic, err := readU32(r)
	if err != nil || magic != binaryMagic {
		return nil, pdwerr.New("vectorindex.Deserialize", pdwerr.Tampered, "bad magic")
	}
	if _, err := readU32(r); err != nil {
		return nil, pdwerr.Wrap("vectorindex.Deserialize", pdwerr.Tampered, err)
	}

	dim, _ := readU32(r)
	maxElements, _ := readU32(r)
	m, _ := readU32(r)
	ef, _ := readU32(r)
	nextID, _ := readU64(r)
	hasEntry, _ := readBool(r)
	entry, _ := readU64(r)
	maxLevel, _ := readU32(r)

	if expectedDimension > 0 && int(dim) != expectedDimension {
		return nil, pdwerr.New("vectorindex.Deserialize", pdwerr.InvalidInput, fmt.Sprintf("dimension mismatch: index has %d, expected %d", dim, expectedDimension))
	}

	idx := New(Config{Dimension: int(dim), MaxElements: int(maxElements), M: int(m), EfConstruction: int(ef)})
	idx.nextVectorID = nextID
	idx.hasEntry = hasEntry
	idx.entryPoint = entry
	idx.maxLevel = int(maxLevel)

	tombCount, _ := readU32(r)
	for i := uint32(0); i < tombCount; i++ {
		id, _ := readU64(r)
		idx.tombstones[id] = struct{}{}
	}

	nodeCount, _ := readU32(r)
	for i := uint32(0); i < nodeCount; i++ {
		id, _ := readU64(r)
		level, _ := readU32(r)
		vec := make([]float32, dim)
		for j := range vec {
			vec[j], _ = readF32(r)
		}
		n := &node{id: id, vector: vec, level: int(level), neighbors: make([][]uint64, int(level)+1)}
		for l := 0; l <= int(level); l++ {
			cnt, _ := readU32(r)
			nbs := make([]uint64, cnt)
			for k := range nbs {
				nbs[k], _ = readU64(r)
			}
			n.neighbors[l] = nbs
		}
		idx.nodes[id] = n
	}
	return idx, nil
}

func writeU32(w *bufio.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}
func writeU64(w *bufio.Writer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}
func writeF32(w *bufio.Writer, v float32) {
	writeU32(w, math.Float32bits(v))
}
func writeBool(w *bufio.Writer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
func readF32(r *bytes.Reader) (float32, error) {
	v, err := readU32(r)
	return math.Float32frombits(v), err
}
func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b == 1, err
}
