package core

// Per-contract key/value storage. Contracts see an ordered byte map with
// range scans, so the backing structure is a btree rather than a hash map.
// Iterator handles live on the per-sandbox view, not on the shared map.

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// Record is one key/value pair of a contract store.
type Record struct {
	Key   []byte
	Value []byte
}

// Order selects scan direction. Values match the contract ABI.
type Order int32

const (
	OrderAscending  Order = 1
	OrderDescending Order = 2
)

const storageDegree = 32

func recordLess(a, b Record) bool { return bytes.Compare(a.Key, b.Key) < 0 }

// ContractStorage is the ordered byte→byte map holding one contract's state.
// It is shared between the state store and any live sandbox views, so all
// access goes through the lock.
type ContractStorage struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Record]
}

// NewContractStorage returns an empty store.
func NewContractStorage() *ContractStorage {
	return &ContractStorage{tree: btree.NewG(storageDegree, recordLess)}
}

// Get returns a copy of the value for key, or nil when absent.
func (s *ContractStorage) Get(key []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tree.Get(Record{Key: key})
	if !ok {
		return nil
	}
	return append([]byte(nil), rec.Value...)
}

// Has reports whether key is present.
func (s *ContractStorage) Has(key []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tree.Get(Record{Key: key})
	return ok
}

// Set stores a copy of key and value.
func (s *ContractStorage) Set(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(Record{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
}

// Remove deletes key; removing an absent key is a no-op.
func (s *ContractStorage) Remove(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(Record{Key: key})
}

// Len returns the number of records.
func (s *ContractStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Range materializes the records in [start, end) in the given order. A nil
// bound is open. start > end yields an empty slice, mirroring how scans of
// inverted ranges are treated as empty rather than as errors.
func (s *ContractStorage) Range(start, end []byte, order Order) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	collect := func(rec Record) bool {
		out = append(out, Record{
			Key:   append([]byte(nil), rec.Key...),
			Value: append([]byte(nil), rec.Value...),
		})
		return true
	}
	switch {
	case start != nil && end != nil:
		if bytes.Compare(start, end) > 0 {
			return nil
		}
		s.tree.AscendRange(Record{Key: start}, Record{Key: end}, collect)
	case start != nil:
		s.tree.AscendGreaterOrEqual(Record{Key: start}, collect)
	case end != nil:
		s.tree.AscendLessThan(Record{Key: end}, collect)
	default:
		s.tree.Ascend(collect)
	}
	if order == OrderDescending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// All returns every record in ascending order.
func (s *ContractStorage) All() []Record { return s.Range(nil, nil, OrderAscending) }

// SetAll replaces the whole store from records.
func (s *ContractStorage) SetAll(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = btree.NewG(storageDegree, recordLess)
	for _, rec := range records {
		s.tree.ReplaceOrInsert(Record{
			Key:   append([]byte(nil), rec.Key...),
			Value: append([]byte(nil), rec.Value...),
		})
	}
}

// Clone returns a deep copy, used by the snapshot machinery.
func (s *ContractStorage) Clone() *ContractStorage {
	out := NewContractStorage()
	out.SetAll(s.All())
	return out
}

//---------------------------------------------------------------------
// Per-sandbox view
//---------------------------------------------------------------------

// SandboxStorage is the storage surface handed to one sandbox instance. It
// shares the underlying ContractStorage but owns the iterator table; handle
// numbering restarts at zero for every instance.
type SandboxStorage struct {
	inner *ContractStorage

	iterators map[uint32]*iteratorState
	nextID    uint32
}

type iteratorState struct {
	records []Record
	index   int
}

// NewSandboxStorage wraps inner for a fresh instance.
func NewSandboxStorage(inner *ContractStorage) *SandboxStorage {
	return &SandboxStorage{inner: inner, iterators: make(map[uint32]*iteratorState)}
}

// Inner exposes the shared store for raw reads.
func (s *SandboxStorage) Inner() *ContractStorage { return s.inner }

// Get reads through to the shared store.
func (s *SandboxStorage) Get(key []byte) []byte { return s.inner.Get(key) }

// Set writes through to the shared store.
func (s *SandboxStorage) Set(key, value []byte) { s.inner.Set(key, value) }

// Remove deletes through to the shared store.
func (s *SandboxStorage) Remove(key []byte) { s.inner.Remove(key) }

// Scan opens an iterator over [start, end) and returns its handle.
func (s *SandboxStorage) Scan(start, end []byte, order Order) uint32 {
	id := s.nextID
	s.nextID++
	s.iterators[id] = &iteratorState{records: s.inner.Range(start, end, order)}
	return id
}

// Next advances the iterator. It returns nil after exhaustion and an error
// for handles that were never issued.
func (s *SandboxStorage) Next(id uint32) (*Record, error) {
	it, ok := s.iterators[id]
	if !ok {
		return nil, errBackend("iterator does not exist: %d", id)
	}
	if it.index >= len(it.records) {
		return nil, nil
	}
	rec := it.records[it.index]
	it.index++
	return &rec, nil
}
