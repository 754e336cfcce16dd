package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"

	"jctledger/ledger"
)

// HistoryCSV builds a CSV export for the supplied versions and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func HistoryCSV(versions []*ledger.Version) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range Rows(versions) {
		record := []string{
			row.LinearID,
			strconv.FormatUint(row.Sequence, 10),
			row.Command,
			strconv.Itoa(row.JobIndex),
			row.Currency,
			row.ContractSum,
			row.Gross,
			row.Retention,
			row.Net,
			row.Previous,
			strconv.Itoa(row.JobsComplete),
			strconv.Itoa(row.Jobs),
			row.Authorizers,
			row.Hash,
			row.PrevHash,
			row.RecordedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
