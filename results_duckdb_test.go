package blinkbench

import (
	"context"
	"path/filepath"
	"testing"
)

func TestDuckResultLog_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDuckResultLog(filepath.Join(t.TempDir(), "results.duckdb"))
	if err != nil {
		t.Fatalf("OpenDuckResultLog failed: %v", err)
	}
	defer db.Close()

	written := sampleResults(4)
	for _, r := range written {
		if err := db.Append(ctx, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	read, err := db.Results(ctx)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if len(read) != len(written) {
		t.Fatalf("expected %d records, got %d", len(written), len(read))
	}
	for i := range written {
		w, r := written[i], read[i]
		if !w.Timestamp.Equal(r.Timestamp) {
			t.Errorf("record %d timestamp: wrote %v, read %v", i, w.Timestamp, r.Timestamp)
		}
		if w.Pattern != r.Pattern || w.Outcome != r.Outcome || w.Artifact != r.Artifact {
			t.Errorf("record %d: wrote %+v, read %+v", i, w, r)
		}
		if w.Percentage != r.Percentage || w.Window != r.Window {
			t.Errorf("record %d numbers: wrote %v/%v, read %v/%v", i, w.Percentage, w.Window, r.Percentage, r.Window)
		}
	}
}
