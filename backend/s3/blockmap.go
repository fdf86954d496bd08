package s3

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/sortedmap"
)

// blockState is the value stored per block index in a blockIndexMap: the
// future the prefetch reader (C8) waits on, and (once resolved) its bytes
// or error.
type blockState struct {
	ready chan struct{}
	data  []byte
	err   error
	// refs is the shared-cache reader's (C9) reference count: the block
	// cannot be evicted while refs > 0.
	refs int
}

func newBlockState() *blockState {
	return &blockState{ready: make(chan struct{})}
}

func (b *blockState) resolve(data []byte, err error) {
	b.data, b.err = data, err
	close(b.ready)
}

func (b *blockState) wait() ([]byte, error) {
	<-b.ready
	return b.data, b.err
}

// blockIndexMap is the ordered `block_index -> future<bytes>` map spec.md
// §4.5 describes, implemented atop the teacher's sortedmap.LLRBTree
// (llrb.go's stringToUint64MapStruct pattern, generalized to int64 keys
// and *blockState values instead of strings/uint64s).
type blockIndexMap struct {
	llrb sortedmap.LLRBTree
}

func newBlockIndexMap() *blockIndexMap {
	m := &blockIndexMap{}
	m.llrb = sortedmap.NewLLRBTree(compareBlockIndex, m)
	return m
}

// compareBlockIndex orders int64 block indices, matching the signature of
// sortedmap.CompareString so blockIndexMap can plug into the same
// LLRBTree machinery the teacher uses for string keys.
func compareBlockIndex(key1, key2 sortedmap.Key) (int, error) {
	i1, ok := key1.(int64)
	if !ok {
		return 0, errors.New("key1.(int64) returned !ok")
	}
	i2, ok := key2.(int64)
	if !ok {
		return 0, errors.New("key2.(int64) returned !ok")
	}
	switch {
	case i1 < i2:
		return -1, nil
	case i1 > i2:
		return 1, nil
	default:
		return 0, nil
	}
}

func (m *blockIndexMap) DumpKey(key sortedmap.Key) (string, error) {
	i, ok := key.(int64)
	if !ok {
		return "", errors.New("key.(int64) returned !ok")
	}
	return fmt.Sprintf("%d", i), nil
}

func (m *blockIndexMap) DumpValue(value sortedmap.Value) (string, error) {
	return "blockState", nil
}

// getOrCreate returns the existing *blockState for idx, or installs and
// returns a fresh one, plus whether it was freshly created (the caller
// should schedule a fetch only when created is true, preserving the "at
// most one in-flight worker per block index" invariant).
func (m *blockIndexMap) getOrCreate(idx int64) (state *blockState, created bool) {
	if v, ok, err := m.llrb.GetByKey(idx); err == nil && ok {
		return v.(*blockState), false
	}
	state = newBlockState()
	if ok, err := m.llrb.Put(idx, state); err != nil || !ok {
		// Lost a race with another goroutine inserting the same index;
		// fall back to whatever is now present.
		if v, ok2, err2 := m.llrb.GetByKey(idx); err2 == nil && ok2 {
			return v.(*blockState), false
		}
	}
	return state, true
}

func (m *blockIndexMap) get(idx int64) (*blockState, bool) {
	v, ok, err := m.llrb.GetByKey(idx)
	if err != nil || !ok {
		return nil, false
	}
	return v.(*blockState), true
}

func (m *blockIndexMap) evict(idx int64) {
	_, _ = m.llrb.DeleteByKey(idx)
}

func (m *blockIndexMap) len() int {
	n, err := m.llrb.Len()
	if err != nil {
		return 0
	}
	return n
}
