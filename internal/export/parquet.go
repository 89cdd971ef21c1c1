// Package export writes successful query results to the object store as
// Parquet files, one row per result row with the row encoded as JSON.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/storage"
)

const contentType = "application/vnd.apache.parquet"

type Encoded struct {
	Data        []byte
	RecordCount int64
}

type parquetRow struct {
	RowNumber   int64  `parquet:"row_number"`
	PayloadJSON string `parquet:"payload_json"`
}

// EncodeResult encodes every row as {"column": value, ...}. Duplicate column
// names keep the last value.
func EncodeResult(result query.Result) (Encoded, error) {
	if len(result.Columns) == 0 {
		return Encoded{}, fmt.Errorf("result has no columns")
	}

	rows := make([]parquetRow, 0, len(result.Rows))
	for i, values := range result.Rows {
		if len(values) != len(result.Columns) {
			return Encoded{}, fmt.Errorf("row %d has %d values for %d columns", i+1, len(values), len(result.Columns))
		}
		record := make(map[string]any, len(values))
		for j, column := range result.Columns {
			record[column] = values[j]
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return Encoded{}, fmt.Errorf("marshal row %d: %w", i+1, err)
		}
		rows = append(rows, parquetRow{RowNumber: int64(i + 1), PayloadJSON: string(payload)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return Encoded{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Encoded{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return Encoded{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}

type Exporter struct {
	Store storage.ObjectStore
}

func NewExporter(store storage.ObjectStore) *Exporter {
	return &Exporter{Store: store}
}

// Export stores result under exports/<session>/<turn>.parquet and returns the key.
func (e *Exporter) Export(ctx context.Context, sessionID string, turn int64, result query.Result) (string, error) {
	if e == nil || e.Store == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	key, err := storage.BuildExportPath(sessionID, turn)
	if err != nil {
		return "", fmt.Errorf("build export path: %w", err)
	}
	encoded, err := EncodeResult(result)
	if err != nil {
		return "", fmt.Errorf("encode result to parquet: %w", err)
	}
	if _, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put parquet object: %w", err)
	}
	return key, nil
}
