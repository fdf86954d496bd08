package s3

import (
	"context"
	"io"
	"sync"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/mscerr"
	"github.com/NVIDIA/mscfile/retry"
)

// prefetchReader is the C8 block-parallel reader: the object is logically
// partitioned into fixed-size blocks, an ordered map tracks block_index ->
// future<bytes>, and up to Config.FetchConcurrency workers fetch blocks
// ahead of the read cursor.
type prefetchReader struct {
	api    backend.S3API
	bucket string
	key    string
	cfg    Config
	size   int64

	mu      sync.Mutex
	pos     int64
	blocks  *blockIndexMap
	workers chan struct{} // counting semaphore bounding in-flight fetches
	closed  bool
	cancel  context.CancelFunc
	ctx     context.Context
}

func newPrefetchReader(api backend.S3API, bucket, key string, cfg Config) (*prefetchReader, error) {
	meta, err := api.HeadObject(bucket, key)
	if err != nil {
		return nil, translateSDKErr("open", bucket+"/"+key, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &prefetchReader{
		api: api, bucket: bucket, key: key, cfg: cfg, size: meta.Size,
		blocks: newBlockIndexMap(), workers: make(chan struct{}, cfg.FetchConcurrency),
		ctx: ctx, cancel: cancel,
	}
	r.scheduleWindow(0)
	return r, nil
}

func (r *prefetchReader) blockOf(offset int64) int64 { return offset / r.cfg.BlockSize }

// scheduleWindow schedules fetches for blocks [blockOf(pos) .. +forward]
// and evicts blocks strictly before blockOf(pos)-backward, per spec.md
// §4.5. Must be called with r.mu held.
func (r *prefetchReader) scheduleWindowLocked(pos int64) {
	cur := r.blockOf(pos)
	for i := cur; i <= cur+int64(r.cfg.Forward); i++ {
		if i*r.cfg.BlockSize >= r.size {
			break
		}
		r.fetchBlockLocked(i)
	}
	evictBefore := cur - int64(r.cfg.Backward)
	for i := evictBefore - int64(r.cfg.MaxBufferBlocks); i < evictBefore; i++ {
		if i < 0 {
			continue
		}
		r.blocks.evict(i)
	}
}

func (r *prefetchReader) scheduleWindow(pos int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleWindowLocked(pos)
}

// fetchBlockLocked installs a future for block idx if one doesn't already
// exist (the "at most one in-flight worker per block index" invariant) and
// launches its fetch worker.
func (r *prefetchReader) fetchBlockLocked(idx int64) {
	state, created := r.blocks.getOrCreate(idx)
	if !created {
		return
	}
	go r.fetchWorker(idx, state)
}

func (r *prefetchReader) fetchWorker(idx int64, state *blockState) {
	select {
	case r.workers <- struct{}{}:
	case <-r.ctx.Done():
		state.resolve(nil, r.ctx.Err())
		return
	}
	defer func() { <-r.workers }()

	start := idx * r.cfg.BlockSize
	end := start + r.cfg.BlockSize - 1
	if end >= r.size {
		end = r.size - 1
	}
	rangeHeader := rangeHeaderFor(start, end)

	var data []byte
	policy := retry.Policy{MaxAttempts: 4, Classify: func(err error) retry.Disposition { return retry.Transient }}
	err := retry.Do(r.ctx, "s3-get-block", policy, nil, func(ctx context.Context) error {
		rc, _, ferr := r.api.GetObject(r.bucket, r.key, rangeHeader)
		if ferr != nil {
			return ferr
		}
		defer rc.Close()
		buf, rerr := io.ReadAll(rc)
		if rerr != nil {
			return rerr
		}
		data = buf
		return nil
	})
	state.resolve(data, err)
}

func rangeHeaderFor(start, end int64) string {
	return "bytes=" + itoa(start) + "-" + itoa(end)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Read implements io.Reader: blocks the caller until the block(s) covering
// the current position are resolved.
func (r *prefetchReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if r.pos >= r.size {
		r.mu.Unlock()
		return 0, io.EOF
	}

	idx := r.blockOf(r.pos)
	state, created := r.blocks.getOrCreate(idx)
	if created {
		go r.fetchWorker(idx, state)
	}
	r.mu.Unlock()

	data, err := state.wait()
	if err != nil {
		return 0, mscerr.New(mscerr.Transport, "read", r.key, err)
	}

	r.mu.Lock()
	blockStart := idx * r.cfg.BlockSize
	offsetInBlock := r.pos - blockStart
	if offsetInBlock < 0 || offsetInBlock >= int64(len(data)) {
		r.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(p, data[offsetInBlock:])
	r.pos += int64(n)
	newPos := r.pos
	r.scheduleWindowLocked(newPos)
	r.mu.Unlock()

	return n, nil
}

// Seek implements io.Seeker. A seek outside the current prefetch window
// discards stale blocks and schedules a fresh one at the new position
// (spec.md §4.5 "Random seeks").
func (r *prefetchReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.size + offset
	default:
		return 0, mscerr.New(mscerr.Unsupported, "seek", r.key, nil)
	}
	if newPos < 0 {
		return 0, mscerr.New(mscerr.Unsupported, "seek", r.key, nil)
	}

	oldBlock := r.blockOf(r.pos)
	newBlock := r.blockOf(newPos)
	r.pos = newPos
	if newBlock < oldBlock-int64(r.cfg.Backward) || newBlock > oldBlock+int64(r.cfg.Forward) {
		r.scheduleWindowLocked(newPos)
	}
	return newPos, nil
}

// Close cancels all pending fetches and releases buffers (spec.md §4.5
// "Closing the reader cancels all pending fetches, joins workers").
func (r *prefetchReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cancel()
	return nil
}

var (
	_ backend.ReadSeekCloser = (*prefetchReader)(nil)
)
