package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"jctledger/storage"
)

var (
	recordPrefix = []byte("ledger/schedule/record/")
	headPrefix   = []byte("ledger/schedule/head/")
	indexKey     = []byte("ledger/schedule/index")
)

// KVStore keeps versions in a storage.Database as rlp records with a head
// pointer per schedule and an issuance-ordered index.
type KVStore struct {
	db storage.Database
	mu sync.RWMutex
}

func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func buildRecordKey(linearID string, sequence uint64) []byte {
	key := make([]byte, 0, len(recordPrefix)+len(linearID)+9)
	key = append(key, recordPrefix...)
	key = append(key, linearID...)
	key = append(key, '/')
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	return append(key, seq[:]...)
}

func buildHeadKey(linearID string) []byte {
	return append(append([]byte(nil), headPrefix...), linearID...)
}

func (s *KVStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store not initialised")
	}
	return nil
}

func (s *KVStore) Head(ctx context.Context, linearID string) (*Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok, err := s.headSequence(linearID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.get(linearID, seq)
}

func (s *KVStore) History(ctx context.Context, linearID string) ([]*Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	head, ok, err := s.headSequence(linearID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*Record, 0, head+1)
	for seq := uint64(0); seq <= head; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.get(linearID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *KVStore) Append(ctx context.Context, rec *Record) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec == nil || rec.LinearID == "" {
		return fmt.Errorf("ledger: record requires a linear id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok, err := s.headSequence(rec.LinearID)
	if err != nil {
		return err
	}
	switch {
	case !ok && rec.Sequence != 0:
		return fmt.Errorf("%w: %s has no history, got sequence %d", ErrConflict, rec.LinearID, rec.Sequence)
	case ok && rec.Sequence != head+1:
		return fmt.Errorf("%w: %s head is %d, got sequence %d", ErrConflict, rec.LinearID, head, rec.Sequence)
	}

	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], rec.Sequence)

	batch := new(storage.Batch)
	batch.Put(buildRecordKey(rec.LinearID, rec.Sequence), encoded)
	batch.Put(buildHeadKey(rec.LinearID), seq[:])
	if !ok {
		ids, err := s.loadIndex()
		if err != nil {
			return err
		}
		ids = append(ids, rec.LinearID)
		index, err := rlp.EncodeToBytes(ids)
		if err != nil {
			return err
		}
		batch.Put(indexKey, index)
	}
	return s.db.Write(batch)
}

func (s *KVStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	filter = filter.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	matches := make([]*Record, 0, filter.Limit)
	skipped := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq, ok, err := s.headSequence(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, err := s.get(id, seq)
		if err != nil {
			return nil, err
		}
		if !rec.hasParticipant(filter.Party) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		matches = append(matches, rec)
		if len(matches) >= filter.Limit {
			break
		}
	}
	return matches, nil
}

func (s *KVStore) Close() error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *KVStore) headSequence(linearID string) (uint64, bool, error) {
	data, err := s.db.Get(buildHeadKey(linearID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("ledger: corrupt head pointer for %s", linearID)
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func (s *KVStore) get(linearID string, sequence uint64) (*Record, error) {
	data, err := s.db.Get(buildRecordKey(linearID, sequence))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s@%d", ErrNotFound, linearID, sequence)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *KVStore) loadIndex() ([]string, error) {
	data, err := s.db.Get(indexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
