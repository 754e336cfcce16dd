package exports

import (
	"fmt"
	"strings"

	"jctledger/ledger"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a case-insensitive format name.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSONL, "ndjson":
		return FormatJSONL, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("exports: unknown format %q", value)
	}
}

// History encodes versions in the requested format.
func History(format Format, versions []*ledger.Version) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return HistoryCSV(versions)
	case FormatJSONL:
		return HistoryJSONL(versions)
	case FormatParquet:
		return HistoryParquet(versions)
	default:
		return nil, "", fmt.Errorf("exports: unknown format %q", format)
	}
}
