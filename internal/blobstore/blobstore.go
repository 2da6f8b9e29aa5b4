// Package blobstore implements the Blob Store Client (spec §4.6, C6):
// content-addressed put/get/exists with a remote-gateway-then-local-disk
// fallback shape, directly grounded on the teacher's own Storage type
// (synnergy-network/core/storage.go), which pins to an IPFS gateway with a
// disk LRU cache in front of Retrieve. Content identifiers here are plain
// hex SHA-256 digests rather than CIDv1 multihashes, since the memory
// engine's blob_id only needs to be content-addressed, not
// IPFS-interoperable.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

const localPrefix = "local_"

// Tags annotate a blob at put time (spec §6 PUT /blobs tags).
type Tags struct {
	Owner       string
	ContentType string
	Category    string
}

// BlobStore is the shared client surface; RemoteBlobStore and
// LocalBlobStore both implement it, selected by storage.network (spec §6).
type BlobStore interface {
	Put(ctx context.Context, data []byte, owner string, retentionEpochs int, tags Tags) (string, error)
	Get(ctx context.Context, blobID string) ([]byte, error)
	Exists(ctx context.Context, blobID string) (bool, error)
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// contentCache is the process-wide content LRU (spec §4.6: "bounded
// entries, per-entry TTL ... only small utf-8 content is cached").
type contentCache struct {
	cache   *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	data    []byte
	storeAt time.Time
}

func newContentCache(maxEntries int, ttl time.Duration) *contentCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c, _ := lru.New[string, cacheEntry](maxEntries)
	return &contentCache{cache: c, ttl: ttl, maxSize: 64 * 1024}
}

func (c *contentCache) maybePut(blobID string, data []byte) {
	if len(data) > c.maxSize || !utf8.Valid(data) {
		return
	}
	c.cache.Add(blobID, cacheEntry{data: data, storeAt: time.Now()})
}

func (c *contentCache) get(blobID string) ([]byte, bool) {
	entry, ok := c.cache.Get(blobID)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.storeAt) > c.ttl {
		c.cache.Remove(blobID)
		return nil, false
	}
	return entry.data, true
}

// RemoteBlobStore PUTs/GETs against an HTTP gateway (spec §6: "PUT /blobs
// ... GET /blobs/{blob_id} ... HEAD for exists"), the same request/cache
// shape as the teacher's Storage.Pin/Retrieve.
type RemoteBlobStore struct {
	Endpoint   string
	HTTPClient *http.Client
	cache      *contentCache
}

// NewRemoteBlobStore builds a RemoteBlobStore with its own content cache.
func NewRemoteBlobStore(endpoint string, cacheMaxEntries int, cacheTTL time.Duration) *RemoteBlobStore {
	return &RemoteBlobStore{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		cache:      newContentCache(cacheMaxEntries, cacheTTL),
	}
}

func (r *RemoteBlobStore) Put(ctx context.Context, data []byte, owner string, retentionEpochs int, tags Tags) (string, error) {
	blobID := contentHash(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.Endpoint+"/blobs", bytes.NewReader(data))
	if err != nil {
		return "", pdwerr.Wrap("blobstore.RemoteBlobStore.Put", pdwerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Owner", owner)
	req.Header.Set("X-Content-Type", tags.ContentType)
	req.Header.Set("X-Category", tags.Category)
	req.Header.Set("X-Retention-Epochs", fmt.Sprintf("%d", retentionEpochs))

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", pdwerr.Wrap("blobstore.RemoteBlobStore.Put", pdwerr.Unavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", pdwerr.New("blobstore.RemoteBlobStore.Put", pdwerr.Unavailable, "gateway error")
	}
	if resp.StatusCode >= 400 {
		return "", pdwerr.New("blobstore.RemoteBlobStore.Put", pdwerr.InvalidInput, "gateway rejected put")
	}

	r.cache.maybePut(blobID, data)
	return blobID, nil
}

func (r *RemoteBlobStore) Get(ctx context.Context, blobID string) ([]byte, error) {
	if data, ok := r.cache.get(blobID); ok {
		return data, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+"/blobs/"+blobID, nil)
	if err != nil {
		return nil, pdwerr.Wrap("blobstore.RemoteBlobStore.Get", pdwerr.Internal, err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, pdwerr.Wrap("blobstore.RemoteBlobStore.Get", pdwerr.Unavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, pdwerr.New("blobstore.RemoteBlobStore.Get", pdwerr.NotFound, "blob not found")
	}
	if resp.StatusCode >= 500 {
		return nil, pdwerr.New("blobstore.RemoteBlobStore.Get", pdwerr.Unavailable, "gateway error")
	}
	if resp.StatusCode >= 400 {
		return nil, pdwerr.New("blobstore.RemoteBlobStore.Get", pdwerr.InvalidInput, "gateway rejected get")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pdwerr.Wrap("blobstore.RemoteBlobStore.Get", pdwerr.Internal, err)
	}
	r.cache.maybePut(blobID, data)
	return data, nil
}

func (r *RemoteBlobStore) Exists(ctx context.Context, blobID string) (bool, error) {
	if _, ok := r.cache.get(blobID); ok {
		return true, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.Endpoint+"/blobs/"+blobID, nil)
	if err != nil {
		return false, pdwerr.Wrap("blobstore.RemoteBlobStore.Exists", pdwerr.Internal, err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return false, pdwerr.Wrap("blobstore.RemoteBlobStore.Exists", pdwerr.Unavailable, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// LocalBlobStore is the filesystem fallback used when the remote gateway
// is unavailable or storage.network=local (spec §4.6: "local ids are
// prefixed so the read path can route correctly").
type LocalBlobStore struct {
	Root  string
	cache *contentCache
}

// NewLocalBlobStore builds a LocalBlobStore rooted at dir.
func NewLocalBlobStore(dir string, cacheMaxEntries int, cacheTTL time.Duration) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pdwerr.Wrap("blobstore.NewLocalBlobStore", pdwerr.Internal, err)
	}
	return &LocalBlobStore{Root: dir, cache: newContentCache(cacheMaxEntries, cacheTTL)}, nil
}

func (l *LocalBlobStore) path(blobID string) string {
	id := blobID
	if len(id) > len(localPrefix) && id[:len(localPrefix)] == localPrefix {
		id = id[len(localPrefix):]
	}
	return filepath.Join(l.Root, id)
}

func (l *LocalBlobStore) Put(ctx context.Context, data []byte, owner string, retentionEpochs int, tags Tags) (string, error) {
	hash := contentHash(data)
	blobID := localPrefix + hash
	if err := os.WriteFile(l.path(blobID), data, 0o644); err != nil {
		return "", pdwerr.Wrap("blobstore.LocalBlobStore.Put", pdwerr.Internal, err)
	}
	l.cache.maybePut(blobID, data)
	return blobID, nil
}

func (l *LocalBlobStore) Get(ctx context.Context, blobID string) ([]byte, error) {
	if data, ok := l.cache.get(blobID); ok {
		return data, nil
	}
	data, err := os.ReadFile(l.path(blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pdwerr.New("blobstore.LocalBlobStore.Get", pdwerr.NotFound, "blob not found")
		}
		return nil, pdwerr.Wrap("blobstore.LocalBlobStore.Get", pdwerr.Internal, err)
	}
	l.cache.maybePut(blobID, data)
	return data, nil
}

func (l *LocalBlobStore) Exists(ctx context.Context, blobID string) (bool, error) {
	if _, ok := l.cache.get(blobID); ok {
		return true, nil
	}
	_, err := os.Stat(l.path(blobID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, pdwerr.Wrap("blobstore.LocalBlobStore.Exists", pdwerr.Internal, err)
}

// IsLocalID reports whether blobID was minted by a LocalBlobStore.
func IsLocalID(blobID string) bool {
	return len(blobID) > len(localPrefix) && blobID[:len(localPrefix)] == localPrefix
}

// FallbackStore tries primary first and falls back to secondary on
// Unavailable, the same "remote gateway, disk cache fallback" posture
// spec §4.6 describes and storage.go's cache-then-gateway Retrieve models
// in miniature.
type FallbackStore struct {
	Primary   BlobStore
	Secondary BlobStore
}

func (f *FallbackStore) Put(ctx context.Context, data []byte, owner string, retentionEpochs int, tags Tags) (string, error) {
	id, err := f.Primary.Put(ctx, data, owner, retentionEpochs, tags)
	if err == nil {
		return id, nil
	}
	if !pdwerr.Is(err, pdwerr.Unavailable) {
		return "", err
	}
	return f.Secondary.Put(ctx, data, owner, retentionEpochs, tags)
}

func (f *FallbackStore) Get(ctx context.Context, blobID string) ([]byte, error) {
	if IsLocalID(blobID) {
		return f.Secondary.Get(ctx, blobID)
	}
	data, err := f.Primary.Get(ctx, blobID)
	if err == nil {
		return data, nil
	}
	if !pdwerr.Is(err, pdwerr.Unavailable) {
		return nil, err
	}
	return f.Secondary.Get(ctx, blobID)
}

func (f *FallbackStore) Exists(ctx context.Context, blobID string) (bool, error) {
	if IsLocalID(blobID) {
		return f.Secondary.Exists(ctx, blobID)
	}
	ok, err := f.Primary.Exists(ctx, blobID)
	if err == nil {
		return ok, nil
	}
	if !pdwerr.Is(err, pdwerr.Unavailable) {
		return false, err
	}
	return f.Secondary.Exists(ctx, blobID)
}
