package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "17"})
	if err != nil {
		t.Fatalf("parseIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 17 {
		t.Fatalf("ids = %v", ids)
	}
	for _, bad := range []string{"0", "-1", "abc", ""} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Errorf("parseIDs(%q) accepted", bad)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2025-03-10")
	if err != nil {
		t.Fatalf("parseDate: %v", err)
	}
	if !d.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", d)
	}
	if _, err := parseDate("10/03/2025"); err == nil {
		t.Fatalf("expected layout error")
	}
	today, err := parseDate("")
	if err != nil {
		t.Fatalf("parseDate(empty): %v", err)
	}
	if today.Hour() != 0 || today.Location() != time.UTC {
		t.Fatalf("today not truncated: %v", today)
	}
}

func TestWriteJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := writeJSON(map[string]int{"authorized": 2}, path, zerolog.Nop()); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["authorized"] != 2 {
		t.Fatalf("unexpected output %s", raw)
	}
}
