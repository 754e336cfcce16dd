package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"jctledger/native/schedule"
)

var (
	// ErrNotFound is returned when no version exists for a linear id.
	ErrNotFound = errors.New("ledger: schedule not found")
	// ErrConflict is returned by Store.Append when the record does not extend
	// the current head.
	ErrConflict = errors.New("ledger: sequence conflict")
	// ErrStaleHead is returned when a proposal was signed against a version
	// that is no longer the head.
	ErrStaleHead = errors.New("ledger: proposal built on a stale head")
	// ErrAlreadyIssued is returned when issuing a linear id that already has
	// history.
	ErrAlreadyIssued = errors.New("ledger: schedule already issued")
	// ErrInvalidSignature is returned when a signature cannot be attributed.
	ErrInvalidSignature = errors.New("ledger: invalid signature")
)

// DefaultPageLimit bounds List when no limit is requested.
const DefaultPageLimit = 50

// Record is the persisted form of one schedule version. State and Command
// hold canonical JSON so every backend stores byte-identical payloads.
type Record struct {
	LinearID     string
	Sequence     uint64
	State        []byte
	Command      []byte
	Participants []string
	Authorizers  []string
	Signatures   [][]byte
	Hash         [32]byte
	PrevHash     [32]byte
	RecordedAt   uint64
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.State = append([]byte(nil), r.State...)
	clone.Command = append([]byte(nil), r.Command...)
	clone.Participants = append([]string(nil), r.Participants...)
	clone.Authorizers = append([]string(nil), r.Authorizers...)
	clone.Signatures = make([][]byte, len(r.Signatures))
	for i, sig := range r.Signatures {
		clone.Signatures[i] = append([]byte(nil), sig...)
	}
	return &clone
}

// ListFilter narrows List results. Party matches any participant.
type ListFilter struct {
	Party  string
	Offset int
	Limit  int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (r *Record) hasParticipant(party string) bool {
	if party == "" {
		return true
	}
	for _, p := range r.Participants {
		if p == party {
			return true
		}
	}
	return false
}

// Store persists the hash-chained history of every schedule. Implementations
// must be safe for concurrent use.
type Store interface {
	// Head returns the latest version or ErrNotFound.
	Head(ctx context.Context, linearID string) (*Record, error)
	// History returns every version in sequence order or ErrNotFound.
	History(ctx context.Context, linearID string) ([]*Record, error)
	// Append stores rec if it directly extends the current head (sequence 0
	// for a new schedule) and returns ErrConflict otherwise.
	Append(ctx context.Context, rec *Record) error
	// List returns the head of each schedule in issuance order.
	List(ctx context.Context, filter ListFilter) ([]*Record, error)
	Close() error
}

// Version is a decoded schedule version.
type Version struct {
	LinearID    uuid.UUID
	Sequence    uint64
	State       *schedule.ScheduleEscrowState
	Command     schedule.Command
	Authorizers []schedule.Party
	Signatures  [][]byte
	Hash        [32]byte
	PrevHash    [32]byte
	RecordedAt  time.Time
}

// DecodeVersion parses a stored record.
func DecodeVersion(rec *Record) (*Version, error) {
	if rec == nil {
		return nil, ErrNotFound
	}
	state, err := schedule.DecodeState(rec.State)
	if err != nil {
		return nil, err
	}
	var cmd schedule.Command
	if err := cmd.UnmarshalJSON(rec.Command); err != nil {
		return nil, err
	}
	authorizers := make([]schedule.Party, len(rec.Authorizers))
	for i, a := range rec.Authorizers {
		authorizers[i] = schedule.Party(a)
	}
	return &Version{
		LinearID:    state.LinearID(),
		Sequence:    rec.Sequence,
		State:       state,
		Command:     cmd,
		Authorizers: authorizers,
		Signatures:  rec.Clone().Signatures,
		Hash:        rec.Hash,
		PrevHash:    rec.PrevHash,
		RecordedAt:  time.Unix(0, int64(rec.RecordedAt)).UTC(),
	}, nil
}
