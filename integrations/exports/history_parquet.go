package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"jctledger/ledger"
)

type parquetRow struct {
	LinearID     string `parquet:"name=linear_id, type=UTF8"`
	Sequence     int64  `parquet:"name=sequence, type=INT64"`
	Command      string `parquet:"name=command, type=UTF8"`
	JobIndex     int32  `parquet:"name=job_index, type=INT32"`
	Currency     string `parquet:"name=currency, type=UTF8"`
	ContractSum  string `parquet:"name=contract_sum, type=UTF8"`
	Gross        string `parquet:"name=gross, type=UTF8"`
	Retention    string `parquet:"name=retention, type=UTF8"`
	Net          string `parquet:"name=net, type=UTF8"`
	Previous     string `parquet:"name=previous, type=UTF8"`
	JobsComplete int32  `parquet:"name=jobs_complete, type=INT32"`
	Jobs         int32  `parquet:"name=jobs, type=INT32"`
	Authorizers  string `parquet:"name=authorizers, type=UTF8"`
	Hash         string `parquet:"name=hash, type=UTF8"`
	PrevHash     string `parquet:"name=prev_hash, type=UTF8"`
	RecordedAt   string `parquet:"name=recorded_at, type=UTF8"`
}

// HistoryParquet builds a snappy-compressed Parquet export for the supplied
// versions and returns the file bytes alongside a checksum.
func HistoryParquet(versions []*ledger.Version) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range Rows(versions) {
		pr := &parquetRow{
			LinearID:     row.LinearID,
			Sequence:     int64(row.Sequence),
			Command:      row.Command,
			JobIndex:     int32(row.JobIndex),
			Currency:     row.Currency,
			ContractSum:  row.ContractSum,
			Gross:        row.Gross,
			Retention:    row.Retention,
			Net:          row.Net,
			Previous:     row.Previous,
			JobsComplete: int32(row.JobsComplete),
			Jobs:         int32(row.Jobs),
			Authorizers:  row.Authorizers,
			Hash:         row.Hash,
			PrevHash:     row.PrevHash,
			RecordedAt:   row.RecordedAt,
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
