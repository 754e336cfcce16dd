package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"jctledger/integrations/exports"
	"jctledger/ledger"
	"jctledger/native/schedule"
)

type scheduleIssueParams struct {
	State      json.RawMessage `json:"state"`
	Signatures []string        `json:"signatures"`
}

type scheduleProposeParams struct {
	Command      schedule.Command `json:"command"`
	State        json.RawMessage  `json:"state"`
	ExpectedPrev string           `json:"expectedPrev,omitempty"`
	Signatures   []string         `json:"signatures"`
}

type scheduleIDParams struct {
	LinearID string `json:"linearId"`
}

type scheduleListParams struct {
	Party  string `json:"party,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type scheduleValidateParams struct {
	Command     *schedule.Command `json:"command,omitempty"`
	OldState    json.RawMessage   `json:"oldState,omitempty"`
	NewState    json.RawMessage   `json:"newState"`
	Authorizers []string          `json:"authorizers"`
}

type scheduleDigestParams struct {
	Command schedule.Command `json:"command"`
	State   json.RawMessage  `json:"state"`
}

type scheduleExportParams struct {
	LinearID string `json:"linearId"`
	Format   string `json:"format"`
}

func decodeParams(params []json.RawMessage, out interface{}) *RPCError {
	if len(params) != 1 {
		return invalidParams("expected single parameter object", nil)
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func decodeState(raw json.RawMessage, field string) (*schedule.ScheduleEscrowState, *RPCError) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, invalidParams(field+" is required", nil)
	}
	state, err := schedule.DecodeState(raw)
	if err != nil {
		if rpcErr := ledgerError(err); rpcErr.Code != codeServerError {
			return nil, rpcErr
		}
		return nil, invalidParams("invalid "+field, err.Error())
	}
	return state, nil
}

func parseLinearID(value string) (string, *RPCError) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", invalidParams("invalid linearId", err.Error())
	}
	return id.String(), nil
}

func (s *Server) handleScheduleIssue(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleIssueParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	state, rpcErr := decodeState(p.State, "state")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sigs, err := decodeSignatures(p.Signatures)
	if err != nil {
		return nil, invalidParams("invalid signatures", err.Error())
	}
	version, err := s.ledger.Issue(ctx, ledger.IssueRequest{State: state, Signatures: sigs})
	if err != nil {
		return nil, ledgerError(err)
	}
	res, err := versionResult(version)
	if err != nil {
		return nil, ledgerError(err)
	}
	return res, nil
}

func (s *Server) handleSchedulePropose(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleProposeParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	state, rpcErr := decodeState(p.State, "state")
	if rpcErr != nil {
		return nil, rpcErr
	}
	expected, err := ParseHash(p.ExpectedPrev)
	if err != nil {
		return nil, invalidParams("invalid expectedPrev", err.Error())
	}
	sigs, err := decodeSignatures(p.Signatures)
	if err != nil {
		return nil, invalidParams("invalid signatures", err.Error())
	}
	version, err := s.ledger.Propose(ctx, ledger.Proposal{
		Command:      p.Command,
		State:        state,
		ExpectedPrev: expected,
		Signatures:   sigs,
	})
	if err != nil {
		return nil, ledgerError(err)
	}
	res, err := versionResult(version)
	if err != nil {
		return nil, ledgerError(err)
	}
	return res, nil
}

// handleScheduleDryRun authenticates and validates a proposal against the
// current head without appending it.
func (s *Server) handleScheduleDryRun(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleProposeParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	state, rpcErr := decodeState(p.State, "state")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sigs, err := decodeSignatures(p.Signatures)
	if err != nil {
		return nil, invalidParams("invalid signatures", err.Error())
	}
	decision, err := s.ledger.DryRun(ctx, ledger.Proposal{Command: p.Command, State: state, Signatures: sigs})
	if err != nil {
		return nil, ledgerError(err)
	}
	return decisionResult(decision), nil
}

func (s *Server) handleScheduleGet(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleIDParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseLinearID(p.LinearID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	version, err := s.ledger.Head(ctx, id)
	if err != nil {
		return nil, ledgerError(err)
	}
	res, err := versionResult(version)
	if err != nil {
		return nil, ledgerError(err)
	}
	return res, nil
}

func (s *Server) handleScheduleHistory(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleIDParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseLinearID(p.LinearID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	versions, err := s.ledger.History(ctx, id)
	if err != nil {
		return nil, ledgerError(err)
	}
	res, err := versionResults(versions)
	if err != nil {
		return nil, ledgerError(err)
	}
	return res, nil
}

func (s *Server) handleScheduleList(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleListParams
	if len(params) > 0 {
		if rpcErr := decodeParams(params, &p); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if p.Offset < 0 || p.Limit < 0 {
		return nil, invalidParams("offset and limit must be non-negative", nil)
	}
	versions, err := s.ledger.List(ctx, ledger.ListFilter{Party: strings.TrimSpace(p.Party), Offset: p.Offset, Limit: p.Limit})
	if err != nil {
		return nil, ledgerError(err)
	}
	res, err := versionResults(versions)
	if err != nil {
		return nil, ledgerError(err)
	}
	return res, nil
}

// handleScheduleValidate runs the validator over caller-supplied states and
// authorizers. Nothing is read from or written to the ledger.
func (s *Server) handleScheduleValidate(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleValidateParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	newState, rpcErr := decodeState(p.NewState, "newState")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var oldState *schedule.ScheduleEscrowState
	if len(p.OldState) > 0 && strings.TrimSpace(string(p.OldState)) != "null" {
		if oldState, rpcErr = decodeState(p.OldState, "oldState"); rpcErr != nil {
			return nil, rpcErr
		}
	}
	authorizers := make([]schedule.Party, len(p.Authorizers))
	for i, a := range p.Authorizers {
		authorizers[i] = schedule.Party(a)
	}

	validator := s.ledger.Validator()
	var rejection *schedule.Rejection
	switch {
	case p.Command != nil:
		rejection = validator.Verify(*p.Command, oldState, newState, authorizers)
	case oldState == nil:
		rejection = validator.VerifyIssuance(newState, authorizers)
	default:
		rejection = validator.Validate(oldState, newState, authorizers)
	}
	if rejection == nil {
		return DecisionResult{Accepted: true}, nil
	}
	return DecisionResult{Reason: string(rejection.Reason), Message: rejection.Message}, nil
}

func (s *Server) handleScheduleSigningDigest(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleDigestParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Command.Type == "" {
		return nil, invalidParams("command is required", nil)
	}
	state, rpcErr := decodeState(p.State, "state")
	if rpcErr != nil {
		return nil, rpcErr
	}
	digest, prevHash, err := s.ledger.SigningDigest(ctx, state, p.Command)
	if err != nil {
		return nil, ledgerError(err)
	}
	var digestHash [32]byte
	copy(digestHash[:], digest)
	return DigestResult{Digest: hexHash(digestHash), PrevHash: hexHash(prevHash)}, nil
}

func (s *Server) handleScheduleExport(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	var p scheduleExportParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseLinearID(p.LinearID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(p.Format) == "" {
		p.Format = string(exports.FormatCSV)
	}
	format, err := exports.ParseFormat(p.Format)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	versions, err := s.ledger.History(ctx, id)
	if err != nil {
		return nil, ledgerError(err)
	}
	data, checksum, err := exports.History(format, versions)
	if err != nil {
		return nil, ledgerError(err)
	}
	return ExportResult{Format: string(format), Data: data, Checksum: checksum}, nil
}
