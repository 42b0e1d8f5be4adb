// Package export turns materialized result sets into portable artifacts.
//
// A fully fetched []session.Row is immutable, so it can be encoded and
// shipped to an object store without coordinating with the connection that
// produced it. Sinks (MinIO, …) implement the Sink interface; callers depend
// only on this package.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/koustreak/conduit/internal/errs"
	"github.com/koustreak/conduit/internal/logger"
	"github.com/koustreak/conduit/internal/session"
)

// Format selects the encoding of an exported result set.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == FormatJSON || f == FormatCSV
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Encode serializes rows in the given format. JSON output is an array of
// column-name → value objects; CSV output starts with a header row.
func Encode(rows []session.Row, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return encodeJSON(rows)
	case FormatCSV:
		return encodeCSV(rows)
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported export format %q", f)
	}
}

func encodeJSON(rows []session.Row) ([]byte, error) {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r.Map()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot encode rows as JSON", err)
	}
	return data, nil
}

func encodeCSV(rows []session.Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if len(rows) > 0 {
		if err := w.Write(rows[0].Columns()); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot write CSV header", err)
		}
		for _, r := range rows {
			record := make([]string, r.Len())
			for i, v := range r.Values() {
				record[i] = formatValue(v)
			}
			if err := w.Write(record); err != nil {
				return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot write CSV record", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot flush CSV", err)
	}
	return buf.Bytes(), nil
}

// formatValue renders a single cell. NULL becomes the empty string, raw
// bytes become text, everything else goes through fmt.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Sink is a destination for encoded result sets.
type Sink interface {
	// Put stores data under key with the given content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Exporter encodes result sets and hands them to a Sink under a fresh key.
type Exporter struct {
	sink Sink
	log  *logger.Logger
}

// NewExporter builds an Exporter writing to sink.
func NewExporter(sink Sink, log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Exporter{sink: sink, log: log.Named("export")}
}

// Export encodes rows as f and stores the result, returning the object key.
func (e *Exporter) Export(ctx context.Context, rows []session.Row, f Format) (string, error) {
	data, err := Encode(rows, f)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("exports/%s.%s", uuid.NewString(), f)
	if err := e.sink.Put(ctx, key, data, f.ContentType()); err != nil {
		return "", err
	}

	e.log.Str("key", key).Infof("exported %d rows (%d bytes)", len(rows), len(data))
	return key, nil
}
