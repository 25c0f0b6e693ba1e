// Package sink writes enriched order tables to their destination. A sink
// either stores the whole table or nothing.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
)

// Sink receives the final output of a successful run.
type Sink interface {
	Name() string
	Write(ctx context.Context, rows []enrich.EnrichedOrderRecord) error
}

// JSONLSink writes one JSON object per line. The file is replaced atomically.
type JSONLSink struct {
	path string
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) Name() string { return "jsonl:" + s.path }

func (s *JSONLSink) Write(ctx context.Context, rows []enrich.EnrichedOrderRecord) (err error) {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for i := range rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := enc.Encode(&rows[i]); err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Discard drops rows. Used when a run has no configured output.
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) Write(context.Context, []enrich.EnrichedOrderRecord) error { return nil }
