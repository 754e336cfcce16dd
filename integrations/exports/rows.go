package exports

import (
	"encoding/hex"
	"strings"
	"time"

	"jctledger/ledger"
	"jctledger/native/schedule"
)

// Row is the flattened form of one schedule version shared by every export
// format. Amounts are exact decimal strings.
type Row struct {
	LinearID     string
	Sequence     uint64
	Command      string
	JobIndex     int
	Currency     string
	ContractSum  string
	Gross        string
	Retention    string
	Net          string
	Previous     string
	JobsComplete int
	Jobs         int
	Authorizers  string
	Hash         string
	PrevHash     string
	RecordedAt   string
}

var header = []string{
	"linear_id", "sequence", "command", "job_index", "currency", "contract_sum",
	"gross", "retention", "net", "previous", "jobs_complete", "jobs",
	"authorizers", "hash", "prev_hash", "recorded_at",
}

// Rows flattens versions, skipping nil entries.
func Rows(versions []*ledger.Version) []Row {
	rows := make([]Row, 0, len(versions))
	for _, v := range versions {
		if v == nil || v.State == nil {
			continue
		}
		state := v.State
		complete := 0
		for _, job := range state.Jobs() {
			if job.Status() == schedule.JobStatusComplete {
				complete++
			}
		}
		authorizers := make([]string, len(v.Authorizers))
		for i, a := range v.Authorizers {
			authorizers[i] = string(a)
		}
		recorded := v.RecordedAt
		if recorded.IsZero() {
			recorded = time.Now().UTC()
		}
		rows = append(rows, Row{
			LinearID:     v.LinearID.String(),
			Sequence:     v.Sequence,
			Command:      string(v.Command.Type),
			JobIndex:     v.Command.JobIndex,
			Currency:     state.Currency(),
			ContractSum:  schedule.FormatRat(state.ContractSum().Amount()),
			Gross:        schedule.FormatRat(state.GrossCumulativeAmount().Amount()),
			Retention:    schedule.FormatRat(state.RetentionAmount().Amount()),
			Net:          schedule.FormatRat(state.NetCumulativeValue().Amount()),
			Previous:     schedule.FormatRat(state.PreviousCumulativeValue().Amount()),
			JobsComplete: complete,
			Jobs:         state.JobCount(),
			Authorizers:  strings.Join(authorizers, ";"),
			Hash:         "0x" + hex.EncodeToString(v.Hash[:]),
			PrevHash:     "0x" + hex.EncodeToString(v.PrevHash[:]),
			RecordedAt:   recorded.UTC().Format(time.RFC3339Nano),
		})
	}
	return rows
}

func splitAuthorizers(value string) []string {
	return strings.Split(value, ";")
}
