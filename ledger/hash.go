package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"

	"jctledger/crypto"
	"jctledger/native/schedule"
)

// SigningDomain separates schedule signatures from any other use of a key.
const SigningDomain = "JCT_SCHEDULE_V1"

// StateHash is the blake3 digest of the canonical state encoding.
func StateHash(state *schedule.ScheduleEscrowState) ([32]byte, error) {
	encoded, err := schedule.EncodeState(state)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

func encodeCommand(cmd schedule.Command) ([]byte, error) {
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return encoded, nil
}

// VersionHash chains a version to its predecessor:
// blake3(prevHash || sequence || state || command).
func VersionHash(prevHash [32]byte, sequence uint64, stateJSON, commandJSON []byte) [32]byte {
	hasher := blake3.New(32, nil)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	hasher.Write(prevHash[:])
	hasher.Write(seq[:])
	hasher.Write(stateJSON)
	hasher.Write(commandJSON)
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

// SigningDigest is the 32-byte message every participant signs to authorise
// a version: keccak256(domain || prevHash || stateHash || command).
func SigningDigest(prevHash [32]byte, state *schedule.ScheduleEscrowState, cmd schedule.Command) ([]byte, error) {
	stateHash, err := StateHash(state)
	if err != nil {
		return nil, err
	}
	command, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte(SigningDomain), prevHash[:], stateHash[:], command), nil
}

// RecoverAuthorizers maps each signature to the party that produced it.
// Duplicate signers are collapsed.
func RecoverAuthorizers(digest []byte, signatures [][]byte) ([]schedule.Party, error) {
	parties := make([]schedule.Party, 0, len(signatures))
	seen := make(map[schedule.Party]struct{}, len(signatures))
	for i, sig := range signatures {
		addr, err := crypto.RecoverAddress(digest, sig)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrInvalidSignature, i, err)
		}
		party := schedule.Party(addr.String())
		if _, ok := seen[party]; ok {
			continue
		}
		seen[party] = struct{}{}
		parties = append(parties, party)
	}
	return parties, nil
}
