package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"jctledger/ledger"
)

type jsonlRow struct {
	LinearID     string   `json:"linear_id"`
	Sequence     uint64   `json:"sequence"`
	Command      string   `json:"command"`
	JobIndex     int      `json:"job_index"`
	Currency     string   `json:"currency"`
	ContractSum  string   `json:"contract_sum"`
	Gross        string   `json:"gross"`
	Retention    string   `json:"retention"`
	Net          string   `json:"net"`
	Previous     string   `json:"previous"`
	JobsComplete int      `json:"jobs_complete"`
	Jobs         int      `json:"jobs"`
	Authorizers  []string `json:"authorizers"`
	Hash         string   `json:"hash"`
	PrevHash     string   `json:"prev_hash"`
	RecordedAt   string   `json:"recorded_at"`
}

// HistoryJSONL builds a JSON Lines export for the supplied versions and
// returns the serialised payload alongside a checksum.
func HistoryJSONL(versions []*ledger.Version) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range Rows(versions) {
		authorizers := []string{}
		if row.Authorizers != "" {
			authorizers = splitAuthorizers(row.Authorizers)
		}
		payload := jsonlRow{
			LinearID:     row.LinearID,
			Sequence:     row.Sequence,
			Command:      row.Command,
			JobIndex:     row.JobIndex,
			Currency:     row.Currency,
			ContractSum:  row.ContractSum,
			Gross:        row.Gross,
			Retention:    row.Retention,
			Net:          row.Net,
			Previous:     row.Previous,
			JobsComplete: row.JobsComplete,
			Jobs:         row.Jobs,
			Authorizers:  authorizers,
			Hash:         row.Hash,
			PrevHash:     row.PrevHash,
			RecordedAt:   row.RecordedAt,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
