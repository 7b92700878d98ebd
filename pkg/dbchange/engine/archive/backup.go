package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// ConnectionSource resolves named storage connections.
type ConnectionSource interface {
	GetConnection(ctx context.Context, name string) (storage.Connection, error)
}

// backupWriter uploads each batch that is about to be deleted as one parquet object:
// <prefix>/<job>/<table>/part-<seq>.parquet.
type backupWriter struct {
	conn   storage.Connection
	bucket string
	prefix string
	codec  parquet.CompressionCodec
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "ZSTD":
		return parquet.CompressionCodec_ZSTD, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

// schemaFor describes every column as an optional UTF8 string.
func schemaFor(cols []string) (string, error) {
	type field struct {
		Tag string `json:"Tag"`
	}
	fields := make([]field, len(cols))
	for i, c := range cols {
		if strings.ContainsAny(c, ",=") {
			return "", fmt.Errorf("column name %q cannot be stored in a parquet backup", c)
		}
		fields[i] = field{Tag: fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)}
	}
	b, err := json.Marshal(struct {
		Tag    string  `json:"Tag"`
		Fields []field `json:"Fields"`
	}{Tag: "name=undertow_backup, repetitiontype=REQUIRED", Fields: fields})
	return string(b), err
}

// encode renders rows as a parquet file.
func (b *backupWriter) encode(cols []string, rows []database.Row) (buf *bytes.Buffer, err error) {
	schema, err := schemaFor(cols)
	if err != nil {
		return nil, err
	}
	buf = new(bytes.Buffer)
	pw, err := writer.NewJSONWriterFromWriter(schema, buf, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = b.codec

	for _, r := range rows {
		rec := make(map[string]interface{}, len(cols))
		for _, c := range cols {
			if v := r[c]; v != nil {
				rec[c] = normalizeValue(v)
			} else {
				rec[c] = nil
			}
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := pw.Write(string(line)); err != nil {
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked while finishing: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return buf, nil
}

// Write uploads rows and returns the object name.
func (b *backupWriter) Write(ctx context.Context, jobID, table string, seq int, cols []string, rows []database.Row) (string, error) {
	buf, err := b.encode(cols, rows)
	if err != nil {
		return "", exception.NewJobError(moduleName, exception.KindFatal, "failed to encode backup of "+table, err)
	}
	object := path.Join(b.prefix, jobID, database.BareName(table), fmt.Sprintf("part-%06d.parquet", seq))
	if err := b.conn.Upload(ctx, b.bucket, object, buf, "application/octet-stream"); err != nil {
		return "", exception.NewJobError(moduleName, exception.KindTransient, "failed to upload backup "+object, err)
	}
	logger.Debugf("[archive] backed up %d row(s) of %s to %s", len(rows), table, object)
	return object, nil
}

func normalizeValue(v interface{}) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return database.ToString(v)
}
