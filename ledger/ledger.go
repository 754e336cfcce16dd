package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"jctledger/core/events"
	"jctledger/native/schedule"
	"jctledger/observability"
	"jctledger/observability/logging"
	jctotel "jctledger/observability/otel"
)

const lockStripes = 64

// Ledger is a single-node notary for schedule versions. It serialises
// proposals per linear id, authenticates signatures, runs the transition
// rules and appends accepted versions to the store.
type Ledger struct {
	store     Store
	validator *schedule.Validator
	emitter   events.Emitter
	logger    *slog.Logger
	metrics   *observability.ScheduleMetrics
	otlp      *jctotel.ScheduleInstruments
	tracer    trace.Tracer
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

// Option customises a Ledger.
type Option func(*Ledger)

func WithValidator(v *schedule.Validator) Option {
	return func(l *Ledger) {
		if v != nil {
			l.validator = v
		}
	}
}

func WithEmitter(e events.Emitter) Option {
	return func(l *Ledger) {
		if e != nil {
			l.emitter = e
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for ledger spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithInstruments overrides the OTLP schedule instruments.
func WithInstruments(inst *jctotel.ScheduleInstruments) Option {
	return func(l *Ledger) {
		if inst != nil {
			l.otlp = inst
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		validator: schedule.NewValidator(),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		metrics:   observability.Schedule(),
		tracer:    jctotel.Tracer(),
		now:       time.Now,
	}
	if inst, err := jctotel.NewScheduleInstruments(nil); err == nil {
		l.otlp = inst
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = l.logger.With(slog.String("component", "ledger"))
	return l
}

// Validator returns the validator used for every proposal.
func (l *Ledger) Validator() *schedule.Validator { return l.validator }

// Close releases the underlying store.
func (l *Ledger) Close() error { return l.store.Close() }

func (l *Ledger) lockFor(linearID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(linearID))
	return &l.locks[h.Sum32()%lockStripes]
}

// IssueRequest carries the first version of a schedule and the participants'
// signatures over its signing digest.
type IssueRequest struct {
	State      *schedule.ScheduleEscrowState
	Signatures [][]byte
}

// Proposal carries a successor version. ExpectedPrev, when non-zero, must be
// the hash of the current head.
type Proposal struct {
	Command      schedule.Command
	State        *schedule.ScheduleEscrowState
	ExpectedPrev [32]byte
	Signatures   [][]byte
}

// Issue records the first version of a schedule.
func (l *Ledger) Issue(ctx context.Context, req IssueRequest) (*Version, error) {
	if req.State == nil {
		return nil, &schedule.Rejection{Reason: schedule.ReasonMissingState, Message: "issued state required"}
	}
	linearID := req.State.LinearID().String()
	cmd := schedule.Command{Type: schedule.CommandIssue}
	ctx, span := jctotel.StartSchedule(ctx, l.tracer, "ledger.Issue", linearID, string(cmd.Type))
	defer span.End()

	mu := l.lockFor(linearID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := l.store.Head(ctx, linearID); err == nil {
		return nil, l.fail(span, fmt.Errorf("%w: %s", ErrAlreadyIssued, linearID))
	} else if !errors.Is(err, ErrNotFound) {
		return nil, l.fail(span, err)
	}

	var zero [32]byte
	authorizers, err := l.authenticate(zero, req.State, cmd, req.Signatures)
	if err != nil {
		return nil, l.fail(span, err)
	}
	started := l.now()
	if r := l.validator.Verify(cmd, nil, req.State, authorizers); r != nil {
		l.reject(ctx, span, linearID, cmd, r, l.now().Sub(started))
		return nil, r
	}
	elapsed := l.now().Sub(started)

	version, err := l.append(ctx, zero, 0, req.State, cmd, authorizers, req.Signatures)
	if err != nil {
		return nil, l.fail(span, err)
	}
	l.recordTransition(ctx, cmd, "", elapsed)
	jctotel.MarkRecorded(span, version.Sequence)
	l.emit(events.ScheduleIssued{
		LinearID:     linearID,
		Sequence:     version.Sequence,
		Hash:         version.Hash,
		Currency:     req.State.Currency(),
		ContractSum:  schedule.FormatRat(req.State.ContractSum().Amount()),
		Participants: len(req.State.Participants()),
		Jobs:         req.State.JobCount(),
	})
	l.logger.InfoContext(ctx, "schedule issued",
		slog.String("linearId", linearID),
		slog.Int("participants", len(req.State.Participants())),
		slog.Int("jobs", req.State.JobCount()))
	return version, nil
}

// Propose validates p against the current head and appends it when accepted.
// A rejected proposal returns a *schedule.Rejection.
func (l *Ledger) Propose(ctx context.Context, p Proposal) (*Version, error) {
	if p.State == nil {
		return nil, &schedule.Rejection{Reason: schedule.ReasonMissingState, Message: "proposed state required"}
	}
	linearID := p.State.LinearID().String()
	ctx, span := jctotel.StartSchedule(ctx, l.tracer, "ledger.Propose", linearID, string(p.Command.Type))
	defer span.End()

	if p.Command.Type == schedule.CommandIssue {
		r := &schedule.Rejection{Reason: schedule.ReasonInvalidCommand, Message: "use Issue for the first version"}
		l.reject(ctx, span, linearID, p.Command, r, 0)
		return nil, r
	}

	mu := l.lockFor(linearID)
	mu.Lock()
	defer mu.Unlock()

	headRec, err := l.store.Head(ctx, linearID)
	if err != nil {
		return nil, l.fail(span, err)
	}
	if p.ExpectedPrev != ([32]byte{}) && p.ExpectedPrev != headRec.Hash {
		return nil, l.fail(span, fmt.Errorf("%w: head of %s is at sequence %d", ErrStaleHead, linearID, headRec.Sequence))
	}
	head, err := DecodeVersion(headRec)
	if err != nil {
		return nil, l.fail(span, err)
	}
	authorizers, err := l.authenticate(headRec.Hash, p.State, p.Command, p.Signatures)
	if err != nil {
		return nil, l.fail(span, err)
	}
	started := l.now()
	if r := l.validator.Verify(p.Command, head.State, p.State, authorizers); r != nil {
		l.reject(ctx, span, linearID, p.Command, r, l.now().Sub(started))
		return nil, r
	}
	elapsed := l.now().Sub(started)

	version, err := l.append(ctx, headRec.Hash, headRec.Sequence+1, p.State, p.Command, authorizers, p.Signatures)
	if err != nil {
		return nil, l.fail(span, err)
	}
	l.recordTransition(ctx, p.Command, "", elapsed)
	jctotel.MarkRecorded(span, version.Sequence)
	l.emit(events.ScheduleTransitioned{
		LinearID: linearID,
		Sequence: version.Sequence,
		Hash:     version.Hash,
		Command:  string(p.Command.Type),
		JobIndex: p.Command.JobIndex,
		Gross:    p.State.GrossCumulativeAmount().String(),
		Net:      p.State.NetCumulativeValue().String(),
	})
	l.logger.InfoContext(ctx, "schedule transitioned",
		slog.String("linearId", linearID),
		slog.String("command", string(p.Command.Type)),
		slog.Uint64("sequence", version.Sequence),
		logging.MaskField("authorizers", joinParties(version.Authorizers)))
	return version, nil
}

// DryRun runs the checks Propose would run without appending anything.
func (l *Ledger) DryRun(ctx context.Context, p Proposal) (schedule.Decision, error) {
	if p.State == nil {
		return schedule.Decision{Reason: schedule.ReasonMissingState, Message: "proposed state required"}, nil
	}
	var (
		prevHash [32]byte
		old      *schedule.ScheduleEscrowState
	)
	if p.Command.Type != schedule.CommandIssue {
		headRec, err := l.store.Head(ctx, p.State.LinearID().String())
		if err != nil {
			return schedule.Decision{}, err
		}
		head, err := DecodeVersion(headRec)
		if err != nil {
			return schedule.Decision{}, err
		}
		prevHash, old = headRec.Hash, head.State
	}
	authorizers, err := l.authenticate(prevHash, p.State, p.Command, p.Signatures)
	if err != nil {
		return schedule.Decision{}, err
	}
	r := l.validator.Verify(p.Command, old, p.State, authorizers)
	if r == nil {
		return schedule.Decision{Accepted: true}, nil
	}
	return schedule.Decision{Reason: r.Reason, Message: r.Message}, nil
}

// SigningDigest returns the digest participants must sign for state to
// become the next version under cmd.
func (l *Ledger) SigningDigest(ctx context.Context, state *schedule.ScheduleEscrowState, cmd schedule.Command) ([]byte, [32]byte, error) {
	var prevHash [32]byte
	if cmd.Type != schedule.CommandIssue {
		headRec, err := l.store.Head(ctx, state.LinearID().String())
		if err != nil {
			return nil, prevHash, err
		}
		prevHash = headRec.Hash
	}
	digest, err := SigningDigest(prevHash, state, cmd)
	return digest, prevHash, err
}

// Head returns the latest version of a schedule.
func (l *Ledger) Head(ctx context.Context, linearID string) (*Version, error) {
	rec, err := l.store.Head(ctx, linearID)
	if err != nil {
		return nil, err
	}
	return DecodeVersion(rec)
}

// History returns every version of a schedule in sequence order.
func (l *Ledger) History(ctx context.Context, linearID string) ([]*Version, error) {
	recs, err := l.store.History(ctx, linearID)
	if err != nil {
		return nil, err
	}
	out := make([]*Version, 0, len(recs))
	for _, rec := range recs {
		v, err := DecodeVersion(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// List returns the head version of each schedule matching filter.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]*Version, error) {
	recs, err := l.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Version, 0, len(recs))
	for _, rec := range recs {
		v, err := DecodeVersion(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// VerifyChain recomputes every hash in a schedule's history.
func (l *Ledger) VerifyChain(ctx context.Context, linearID string) error {
	recs, err := l.store.History(ctx, linearID)
	if err != nil {
		return err
	}
	var prev [32]byte
	for _, rec := range recs {
		if rec.PrevHash != prev {
			return fmt.Errorf("ledger: %s@%d does not link to its predecessor", linearID, rec.Sequence)
		}
		if VersionHash(rec.PrevHash, rec.Sequence, rec.State, rec.Command) != rec.Hash {
			return fmt.Errorf("ledger: %s@%d hash mismatch", linearID, rec.Sequence)
		}
		prev = rec.Hash
	}
	return nil
}

func (l *Ledger) authenticate(prevHash [32]byte, state *schedule.ScheduleEscrowState, cmd schedule.Command, signatures [][]byte) ([]schedule.Party, error) {
	digest, err := SigningDigest(prevHash, state, cmd)
	if err != nil {
		return nil, err
	}
	return RecoverAuthorizers(digest, signatures)
}

func (l *Ledger) append(ctx context.Context, prevHash [32]byte, sequence uint64, state *schedule.ScheduleEscrowState,
	cmd schedule.Command, authorizers []schedule.Party, signatures [][]byte) (*Version, error) {
	stateJSON, err := schedule.EncodeState(state)
	if err != nil {
		return nil, err
	}
	commandJSON, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	participants := state.Participants()
	rec := &Record{
		LinearID:     state.LinearID().String(),
		Sequence:     sequence,
		State:        stateJSON,
		Command:      commandJSON,
		Participants: make([]string, len(participants)),
		Authorizers:  make([]string, len(authorizers)),
		Signatures:   make([][]byte, len(signatures)),
		Hash:         VersionHash(prevHash, sequence, stateJSON, commandJSON),
		PrevHash:     prevHash,
		RecordedAt:   uint64(l.now().UTC().UnixNano()),
	}
	for i, p := range participants {
		rec.Participants[i] = string(p)
	}
	for i, a := range authorizers {
		rec.Authorizers[i] = string(a)
	}
	for i, sig := range signatures {
		rec.Signatures[i] = append([]byte(nil), sig...)
	}
	if err := l.store.Append(ctx, rec); err != nil {
		return nil, err
	}
	return DecodeVersion(rec)
}

func (l *Ledger) reject(ctx context.Context, span trace.Span, linearID string, cmd schedule.Command, r *schedule.Rejection, elapsed time.Duration) {
	jctotel.MarkRejected(span, string(r.Reason))
	l.recordTransition(ctx, cmd, string(r.Reason), elapsed)
	l.emit(events.ScheduleRejected{
		LinearID: linearID,
		Command:  string(cmd.Type),
		Reason:   string(r.Reason),
		Message:  r.Message,
	})
	l.logger.WarnContext(ctx, "schedule transition rejected",
		slog.String("linearId", linearID),
		slog.String("command", string(cmd.Type)),
		slog.String("reason", string(r.Reason)),
		slog.String("detail", r.Message))
}

func (l *Ledger) fail(span trace.Span, err error) error {
	jctotel.MarkFailed(span, err)
	return err
}

func (l *Ledger) recordTransition(ctx context.Context, cmd schedule.Command, reason string, elapsed time.Duration) {
	l.metrics.RecordTransition(string(cmd.Type), reason, elapsed)
	l.otlp.RecordTransition(ctx, string(cmd.Type), reason, elapsed)
}

func joinParties(parties []schedule.Party) string {
	out := make([]string, len(parties))
	for i, p := range parties {
		out[i] = string(p)
	}
	return strings.Join(out, ",")
}

func (l *Ledger) emit(evt events.Event) {
	l.metrics.RecordEvent(evt.EventType())
	l.emitter.Emit(evt)
}
