package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"jctledger/ledger"
	"jctledger/native/schedule"
)

// VersionResult summarises a recorded schedule version for RPC consumers.
type VersionResult struct {
	LinearID    string          `json:"linearId"`
	Sequence    uint64          `json:"sequence"`
	Command     json.RawMessage `json:"command"`
	State       json.RawMessage `json:"state"`
	Authorizers []string        `json:"authorizers"`
	Hash        string          `json:"hash"`
	PrevHash    string          `json:"prevHash"`
	RecordedAt  string          `json:"recordedAt"`
}

// DecisionResult reports the outcome of a validation without recording it.
type DecisionResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// DigestResult is the payload participants sign for a proposal.
type DigestResult struct {
	Digest   string `json:"digest"`
	PrevHash string `json:"prevHash"`
}

// ExportResult carries an encoded history export.
type ExportResult struct {
	Format   string `json:"format"`
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

func decisionResult(d schedule.Decision) DecisionResult {
	return DecisionResult{Accepted: d.Accepted, Reason: string(d.Reason), Message: d.Message}
}

func versionResult(v *ledger.Version) (*VersionResult, error) {
	state, err := schedule.EncodeState(v.State)
	if err != nil {
		return nil, err
	}
	cmd, err := json.Marshal(v.Command)
	if err != nil {
		return nil, err
	}
	authorizers := make([]string, len(v.Authorizers))
	for i, a := range v.Authorizers {
		authorizers[i] = a.String()
	}
	return &VersionResult{
		LinearID:    v.LinearID.String(),
		Sequence:    v.Sequence,
		Command:     cmd,
		State:       state,
		Authorizers: authorizers,
		Hash:        hexHash(v.Hash),
		PrevHash:    hexHash(v.PrevHash),
		RecordedAt:  v.RecordedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func versionResults(versions []*ledger.Version) ([]*VersionResult, error) {
	out := make([]*VersionResult, 0, len(versions))
	for _, v := range versions {
		res, err := versionResult(v)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// hexHash formats a hash as a 0x-prefixed hexadecimal string.
func hexHash(h [32]byte) string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHash decodes a 0x-prefixed 32-byte hash. An empty string yields the
// zero hash.
func ParseHash(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("hash must be %d bytes", len(out))
	}
	copy(out[:], raw)
	return out, nil
}

func decodeSignatures(values []string) ([][]byte, error) {
	out := make([][]byte, 0, len(values))
	for i, value := range values {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// EncodeSignatures hex encodes raw signatures for the wire.
func EncodeSignatures(sigs [][]byte) []string {
	out := make([]string, len(sigs))
	for i, sig := range sigs {
		out[i] = "0x" + hex.EncodeToString(sig)
	}
	return out
}
