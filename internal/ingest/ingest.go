// Package ingest decodes fund-load files (JSON lines or CSV) into transactions.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/loadguard/internal/domain"
)

// ErrUnsupportedFormat is returned for files whose extension is not accepted.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Format is an input encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// AllowedExtensions lists the upload extensions the API accepts.
var AllowedExtensions = []string{".txt", ".jsonl", ".json", ".csv"}

// CheckExtension returns ErrUnsupportedFormat when name has no accepted extension.
func CheckExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFormat, ext, strings.Join(AllowedExtensions, ", "))
}

// DetectFormat inspects the first non-empty line: a JSON object means JSON
// lines, a comma means CSV, anything else falls back to JSON lines.
func DetectFormat(data []byte) Format {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return FormatJSONL
		}
		if strings.Contains(line, ",") {
			return FormatCSV
		}
		return FormatJSONL
	}
	return FormatJSONL
}

// Read decodes all transactions from r, detecting the format.
func Read(r io.Reader) ([]domain.Transaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return Decode(data, DetectFormat(data))
}

// ReadFile decodes all transactions from the file at path.
func ReadFile(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	txs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txs, nil
}

// Decode decodes data in the given format.
func Decode(data []byte, format Format) ([]domain.Transaction, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(data)
	case FormatJSONL:
		return decodeJSONL(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func decodeJSONL(data []byte) ([]domain.Transaction, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var txs []domain.Transaction
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var tx domain.Transaction
		if err := json.Unmarshal(line, &tx); err != nil {
			return nil, fmt.Errorf("JSON parsing error on line %d: %w", lineNum, err)
		}
		txs = append(txs, tx)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan input: %w", err)
	}
	return txs, nil
}

// field resolves a CSV header to a transaction field. Unknown headers return "".
func field(header string) string {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "amount", "load_amount", "transaction_amount":
		return "load_amount"
	case "customer_id", "customerid", "customer":
		return "customer_id"
	case "id", "transaction_id", "transactionid":
		return "id"
	case "time", "timestamp", "date", "datetime":
		return "time"
	default:
		return ""
	}
}

func decodeCSV(data []byte) ([]domain.Transaction, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var txs []domain.Transaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV record: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if blank(record) {
			continue
		}
		if len(record) != len(headers) {
			return nil, fmt.Errorf("CSV line %d has %d values but expected %d", line, len(record), len(headers))
		}

		var tx domain.Transaction
		for i, h := range headers {
			value := strings.TrimSpace(record[i])
			switch field(h) {
			case "load_amount":
				tx.LoadAmount = value
			case "customer_id":
				tx.CustomerID = value
			case "id":
				tx.ID = value
			case "time":
				tx.Time = value
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
