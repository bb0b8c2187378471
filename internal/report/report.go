// Package report renders adjudication results as output files and ZIP archives.
package report

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opensource-finance/loadguard/internal/domain"
)

// File names inside a result archive.
const (
	OutputFile = "output.txt"
	AuditFile  = "audit.txt"
	CSVFile    = "output.csv"
)

// WriteDecisions writes one {id, customer_id, accepted} JSON line per result.
func WriteDecisions(w io.Writer, results []domain.ProcessingResult) error {
	enc := json.NewEncoder(w)
	for i := range results {
		if err := enc.Encode(results[i].Decision()); err != nil {
			return fmt.Errorf("failed to encode decision %s: %w", results[i].ID, err)
		}
	}
	return nil
}

// WriteAudit writes the full result, rule outcomes included, as JSON lines.
func WriteAudit(w io.Writer, results []domain.ProcessingResult) error {
	enc := json.NewEncoder(w)
	for i := range results {
		if err := enc.Encode(&results[i]); err != nil {
			return fmt.Errorf("failed to encode audit record %s: %w", results[i].ID, err)
		}
	}
	return nil
}

// WriteCSV writes id, customer_id, original amount and ACCEPTED/REJECTED per result.
func WriteCSV(w io.Writer, results []domain.ProcessingResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "customer_id", "load_amount", "status"}); err != nil {
		return err
	}
	for i := range results {
		r := &results[i]
		if err := cw.Write([]string{r.ID, r.CustomerID, r.OriginalAmount, r.Status()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Archive builds a ZIP holding output.txt, audit.txt and output.csv.
func Archive(results []domain.ProcessingResult) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name  string
		write func(io.Writer, []domain.ProcessingResult) error
	}{
		{OutputFile, WriteDecisions},
		{AuditFile, WriteAudit},
		{CSVFile, WriteCSV},
	}

	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", f.name, err)
		}
		if err := f.write(w, results); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
