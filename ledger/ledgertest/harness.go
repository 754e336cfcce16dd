package ledgertest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"jctledger/core/events"
	"jctledger/crypto"
	"jctledger/ledger"
	"jctledger/native/schedule"
	"jctledger/storage"
)

// Signer is a generated participant key.
type Signer struct {
	Key   *crypto.PrivateKey
	Party schedule.Party
}

// Harness bootstraps an in-memory ledger with generated participant keys.
type Harness struct {
	t           testing.TB
	Ledger      *ledger.Ledger
	Hub         *events.Hub
	Employers   []Signer
	Contractors []Signer
}

// Options tune New.
type Options struct {
	Employers   int
	Contractors int
	Store       ledger.Store
	Ledger      []ledger.Option
}

// New returns a harness with one employer and one contractor unless opts say
// otherwise. The ledger is closed when the test finishes.
func New(t testing.TB, opts ...Options) *Harness {
	t.Helper()
	cfg := Options{Employers: 1, Contractors: 1}
	if len(opts) > 0 {
		cfg = opts[0]
		if cfg.Employers <= 0 {
			cfg.Employers = 1
		}
		if cfg.Contractors <= 0 {
			cfg.Contractors = 1
		}
	}
	store := cfg.Store
	if store == nil {
		store = ledger.NewKVStore(storage.NewMemDB())
	}
	hub := events.NewHub()
	ledgerOpts := append([]ledger.Option{
		ledger.WithEmitter(hub),
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, cfg.Ledger...)

	h := &Harness{
		t:      t,
		Ledger: ledger.New(store, ledgerOpts...),
		Hub:    hub,
	}
	for i := 0; i < cfg.Employers; i++ {
		h.Employers = append(h.Employers, newSigner(t))
	}
	for i := 0; i < cfg.Contractors; i++ {
		h.Contractors = append(h.Contractors, newSigner(t))
	}
	t.Cleanup(func() { _ = h.Ledger.Close() })
	return h
}

func newSigner(t testing.TB) Signer {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Signer{Key: key, Party: schedule.Party(key.PubKey().Address().String())}
}

// Signers returns employers followed by contractors.
func (h *Harness) Signers() []Signer {
	out := make([]Signer, 0, len(h.Employers)+len(h.Contractors))
	out = append(out, h.Employers...)
	return append(out, h.Contractors...)
}

func parties(signers []Signer) []schedule.Party {
	out := make([]schedule.Party, len(signers))
	for i, s := range signers {
		out[i] = s.Party
	}
	return out
}

// Origin builds an unstarted schedule owned by the harness parties with a
// single job worth contractSum and the given retention percentage.
func (h *Harness) Origin(contractSum, retentionPct string) *schedule.ScheduleEscrowState {
	h.t.Helper()
	end, err := schedule.ParseDate("2026-12-31")
	if err != nil {
		h.t.Fatalf("parse date: %v", err)
	}
	job, err := schedule.NewJob(schedule.JobParams{
		Reference:       "job-1",
		Description:     "main works",
		Amount:          schedule.MustMoney(contractSum, "GBP"),
		ExpectedEndDate: end,
	})
	if err != nil {
		h.t.Fatalf("new job: %v", err)
	}
	state, err := schedule.NewScheduleEscrowState(schedule.StateParams{
		Employers:           parties(h.Employers),
		Contractors:         parties(h.Contractors),
		ContractSum:         schedule.MustMoney(contractSum, "GBP"),
		RetentionPercentage: schedule.MustRat(retentionPct),
		Jobs:                []schedule.Job{job},
	})
	if err != nil {
		h.t.Fatalf("new state: %v", err)
	}
	return state
}

// Sign returns signatures from signers over the digest binding state to
// prevHash under cmd.
func (h *Harness) Sign(prevHash [32]byte, state *schedule.ScheduleEscrowState, cmd schedule.Command, signers ...Signer) [][]byte {
	h.t.Helper()
	digest, err := ledger.SigningDigest(prevHash, state, cmd)
	if err != nil {
		h.t.Fatalf("signing digest: %v", err)
	}
	sigs := make([][]byte, 0, len(signers))
	for _, s := range signers {
		sig, err := s.Key.Sign(digest)
		if err != nil {
			h.t.Fatalf("sign: %v", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

// Issue records state signed by every participant and fails the test on error.
func (h *Harness) Issue(state *schedule.ScheduleEscrowState) *ledger.Version {
	h.t.Helper()
	var zero [32]byte
	cmd := schedule.Command{Type: schedule.CommandIssue}
	version, err := h.Ledger.Issue(h.context(), ledger.IssueRequest{
		State:      state,
		Signatures: h.Sign(zero, state, cmd, h.Signers()...),
	})
	if err != nil {
		h.t.Fatalf("issue: %v", err)
	}
	return version
}

// Propose submits next on top of head signed by signers, or by every
// participant when signers is empty.
func (h *Harness) Propose(head *ledger.Version, cmd schedule.Command, next *schedule.ScheduleEscrowState, signers ...Signer) (*ledger.Version, error) {
	h.t.Helper()
	if len(signers) == 0 {
		signers = h.Signers()
	}
	return h.Ledger.Propose(h.context(), ledger.Proposal{
		Command:      cmd,
		State:        next,
		ExpectedPrev: head.Hash,
		Signatures:   h.Sign(head.Hash, next, cmd, signers...),
	})
}

func (h *Harness) context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}
