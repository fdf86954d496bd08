package s3

import (
	"context"
	"io"
	"sync"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
)

// cacheKey identifies one shared block cache: (bucket, key, share_key)
// per spec.md §4.6. share_key lets callers opt multiple logical readers
// into (or out of) sharing the same cache instance explicitly.
type cacheKey struct {
	bucket, key, shareKey string
}

// sharedCacheRegistry is the process-wide registry of block caches,
// protected by a mutex (spec.md §5 "Shared resources").
type sharedCacheRegistry struct {
	mu     sync.Mutex
	caches map[cacheKey]*sharedBlockCache
}

func newSharedCacheRegistry() *sharedCacheRegistry {
	return &sharedCacheRegistry{caches: make(map[cacheKey]*sharedBlockCache)}
}

// acquire returns the shared cache for key, creating it on first use, and
// bumps its reader count. Callers MUST call release exactly once per
// acquire.
func (reg *sharedCacheRegistry) acquire(api backend.S3API, bucket, key, shareKey string, cfg Config) (*sharedBlockCache, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	ck := cacheKey{bucket: bucket, key: key, shareKey: shareKey}
	if c, ok := reg.caches[ck]; ok {
		c.readerCount++
		return c, nil
	}

	meta, err := api.HeadObject(bucket, key)
	if err != nil {
		return nil, translateSDKErr("open", bucket+"/"+key, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &sharedBlockCache{
		api: api, bucket: bucket, key: key, cfg: cfg, size: meta.Size,
		blocks: newBlockIndexMap(), workers: make(chan struct{}, cfg.FetchConcurrency),
		ctx: ctx, cancel: cancel, readerCount: 1,
	}
	reg.caches[ck] = c
	return c, nil
}

// release decrements the reader count for key; when it reaches zero the
// cache is torn down and removed from the registry (spec.md §4.6
// "Closing the last reader releases the cache").
func (reg *sharedCacheRegistry) release(bucket, key, shareKey string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	ck := cacheKey{bucket: bucket, key: key, shareKey: shareKey}
	c, ok := reg.caches[ck]
	if !ok {
		return
	}
	c.readerCount--
	if c.readerCount <= 0 {
		c.cancel()
		delete(reg.caches, ck)
	}
}

// sharedBlockCache is the cache instance multiple sharedReaders consult.
// It reuses the same fetch-and-window-schedule logic as prefetchReader,
// but blocks carry a reference count: a block held by any reader (refs >
// 0) cannot be evicted even if it falls outside one particular reader's
// own window (spec.md §4.6 "reference-counted" eviction).
type sharedBlockCache struct {
	api    backend.S3API
	bucket string
	key    string
	cfg    Config
	size   int64

	mu          sync.Mutex
	blocks      *blockIndexMap
	workers     chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	readerCount int
}

func (c *sharedBlockCache) blockOf(offset int64) int64 { return offset / c.cfg.BlockSize }

func (c *sharedBlockCache) acquireBlock(idx int64) *blockState {
	c.mu.Lock()
	state, created := c.blocks.getOrCreate(idx)
	state.refs++
	c.mu.Unlock()
	if created {
		go c.fetchWorker(idx, state)
	}
	return state
}

// releaseBlock drops a reader's hold on idx; if no reader holds it and it
// falls outside every reader's plausible forward window, it becomes
// eligible for the next prune pass triggered by scheduleWindow.
func (c *sharedBlockCache) releaseBlock(idx int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.blocks.get(idx); ok {
		state.refs--
	}
}

func (c *sharedBlockCache) fetchWorker(idx int64, state *blockState) {
	select {
	case c.workers <- struct{}{}:
	case <-c.ctx.Done():
		state.resolve(nil, c.ctx.Err())
		return
	}
	defer func() { <-c.workers }()

	start := idx * c.cfg.BlockSize
	end := start + c.cfg.BlockSize - 1
	if end >= c.size {
		end = c.size - 1
	}
	rc, _, err := c.api.GetObject(c.bucket, c.key, rangeHeaderFor(start, end))
	if err != nil {
		state.resolve(nil, err)
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	state.resolve(data, err)
}

// pruneUnreferenced evicts every block with refs<=0 outside
// [keepFrom, keepTo], bounding resident memory to roughly MaxBufferBlocks.
func (c *sharedBlockCache) pruneUnreferenced(keepFrom, keepTo int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := int64(0); i < keepFrom-int64(c.cfg.MaxBufferBlocks); i++ {
		if state, ok := c.blocks.get(i); ok && state.refs <= 0 {
			c.blocks.evict(i)
		}
	}
}

// sharedReader is one logical reader's view over a sharedBlockCache: its
// own position, but fetches/evictions are delegated to the shared cache.
type sharedReader struct {
	cache    *sharedBlockCache
	registry *sharedCacheRegistry
	bucket   string
	key      string
	shareKey string

	mu      sync.Mutex
	pos     int64
	heldIdx int64
	holding bool
	closed  bool
}

// OpenShared opens a reader over (bucket, key) sharing blocks with any
// other reader using the same shareKey (spec.md §4.6).
func OpenShared(reg *sharedCacheRegistry, api backend.S3API, bucket, key, shareKey string, cfg Config) (backend.ReadSeekCloser, error) {
	cfg = cfg.withDefaults()
	c, err := reg.acquire(api, bucket, key, shareKey, cfg)
	if err != nil {
		return nil, err
	}
	return &sharedReader{cache: c, registry: reg, bucket: bucket, key: key, shareKey: shareKey}, nil
}

func (r *sharedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if r.pos >= r.cache.size {
		r.mu.Unlock()
		return 0, io.EOF
	}
	idx := r.cache.blockOf(r.pos)
	if !r.holding || r.heldIdx != idx {
		if r.holding {
			r.cache.releaseBlock(r.heldIdx)
		}
		r.mu.Unlock()
		state := r.cache.acquireBlock(idx)
		r.mu.Lock()
		r.heldIdx = idx
		r.holding = true
		r.mu.Unlock()

		data, err := state.wait()
		if err != nil {
			return 0, mscerr.New(mscerr.Transport, "read", r.key, err)
		}
		return r.copyFrom(idx, data, p)
	}
	r.mu.Unlock()

	state, _ := r.cache.blocks.get(idx)
	data, err := state.wait()
	if err != nil {
		return 0, mscerr.New(mscerr.Transport, "read", r.key, err)
	}
	return r.copyFrom(idx, data, p)
}

func (r *sharedReader) copyFrom(idx int64, data []byte, p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blockStart := idx * r.cache.cfg.BlockSize
	offsetInBlock := r.pos - blockStart
	if offsetInBlock < 0 || offsetInBlock >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[offsetInBlock:])
	r.pos += int64(n)
	r.cache.pruneUnreferenced(idx-int64(r.cache.cfg.Backward), idx+int64(r.cache.cfg.Forward))
	return n, nil
}

func (r *sharedReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.cache.size + offset
	default:
		return 0, mscerr.New(mscerr.Unsupported, "seek", r.key, nil)
	}
	if newPos < 0 {
		return 0, mscerr.New(mscerr.Unsupported, "seek", r.key, nil)
	}
	r.pos = newPos
	return newPos, nil
}

func (r *sharedReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	holding, heldIdx := r.holding, r.heldIdx
	r.mu.Unlock()

	if holding {
		r.cache.releaseBlock(heldIdx)
	}
	r.registry.release(r.bucket, r.key, r.shareKey)
	return nil
}

var _ backend.ReadSeekCloser = (*sharedReader)(nil)
