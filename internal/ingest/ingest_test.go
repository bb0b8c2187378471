package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Format
	}{
		{"JSONL", `{"id":"1","customer_id":"2","load_amount":"$1","time":"2023-01-01T00:00:00Z"}`, FormatJSONL},
		{"CSV", "id,customer_id,load_amount,time\n", FormatCSV},
		{"LeadingBlank", "\n\n  \nid,customer_id\n", FormatCSV},
		{"Unknown", "hello\n", FormatJSONL},
		{"Empty", "", FormatJSONL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat([]byte(tt.data)); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReadJSONL(t *testing.T) {
	input := `{"id":"15887","customer_id":"528","load_amount":"$3318.47","time":"2000-01-01T00:00:00Z"}

{"id":"30081","customer_id":"154","load_amount":"$1413.18","time":"2000-01-01T01:01:22Z"}
`
	txs, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[1].ID != "30081" || txs[1].CustomerID != "154" || txs[1].LoadAmount != "$1413.18" {
		t.Errorf("unexpected transaction: %+v", txs[1])
	}
}

func TestReadJSONLBadLine(t *testing.T) {
	input := `{"id":"1","customer_id":"528","load_amount":"$1","time":"2000-01-01T00:00:00Z"}
{"id": broken}
`
	_, err := Read(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line number in error, got %v", err)
	}
}

func TestReadCSVAliases(t *testing.T) {
	input := "transaction_id,Customer,amount,timestamp,note\n" +
		"15887, 528 ,\"$3,318.47\",2000-01-01T00:00:00Z,first\n" +
		",,,,\n" +
		"30081,154,$1413.18,2000-01-01T01:01:22Z,second\n"

	txs, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}

	first := txs[0]
	if first.ID != "15887" || first.CustomerID != "528" || first.LoadAmount != "$3,318.47" || first.Time != "2000-01-01T00:00:00Z" {
		t.Errorf("unexpected transaction: %+v", first)
	}
}

func TestReadCSVWrongColumnCount(t *testing.T) {
	input := "id,customer_id,load_amount,time\n1,2,$3\n"

	_, err := Read(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line number in error, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	content := `{"id":"1","customer_id":"528","load_amount":"$1","time":"2000-01-01T00:00:00Z"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}

	txs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCheckExtension(t *testing.T) {
	for _, name := range []string{"input.txt", "LOADS.CSV", "a.jsonl", "b.json"} {
		if err := CheckExtension(name); err != nil {
			t.Errorf("CheckExtension(%q) failed: %v", name, err)
		}
	}

	err := CheckExtension("payload.exe")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
