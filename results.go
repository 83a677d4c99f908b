package blinkbench

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// TimestampLayout is the bench log's timestamp format.
const TimestampLayout = "2006-01-02_15_04_05"

const (
	noArtifact      = "None"
	resultFieldsLen = 7
)

type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
)

// TrialResult is one completed candidate trial. Artifact is empty when no
// evidence was captured.
type TrialResult struct {
	Timestamp  time.Time
	Pattern    string
	Outcome    Outcome
	Percentage float64
	Threshold  float64
	Window     time.Duration
	Artifact   string
}

// Record renders the result as a CSV row:
// timestamp, pattern, outcome, percentage, threshold, window_seconds, artifact.
func (r TrialResult) Record() []string {
	artifact := r.Artifact
	if artifact == "" {
		artifact = noArtifact
	}
	return []string{
		r.Timestamp.Format(TimestampLayout),
		r.Pattern,
		string(r.Outcome),
		strconv.FormatFloat(r.Percentage, 'f', -1, 64),
		strconv.FormatFloat(r.Threshold, 'f', -1, 64),
		strconv.FormatFloat(r.Window.Seconds(), 'f', -1, 64),
		artifact,
	}
}

func parseRecord(rec []string) (TrialResult, error) {
	if len(rec) != resultFieldsLen {
		return TrialResult{}, fmt.Errorf("expected %d fields, got %d", resultFieldsLen, len(rec))
	}
	ts, err := time.ParseInLocation(TimestampLayout, rec[0], time.Local)
	if err != nil {
		return TrialResult{}, fmt.Errorf("timestamp: %w", err)
	}
	outcome := Outcome(rec[2])
	if outcome != OutcomePass && outcome != OutcomeFail {
		return TrialResult{}, fmt.Errorf("unknown outcome %q", rec[2])
	}
	pct, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return TrialResult{}, fmt.Errorf("percentage: %w", err)
	}
	threshold, err := strconv.ParseFloat(rec[4], 64)
	if err != nil {
		return TrialResult{}, fmt.Errorf("threshold: %w", err)
	}
	secs, err := strconv.ParseFloat(rec[5], 64)
	if err != nil {
		return TrialResult{}, fmt.Errorf("window: %w", err)
	}
	artifact := rec[6]
	if artifact == noArtifact {
		artifact = ""
	}
	return TrialResult{
		Timestamp:  ts,
		Pattern:    rec[1],
		Outcome:    outcome,
		Percentage: pct,
		Threshold:  threshold,
		Window:     time.Duration(math.Round(secs * float64(time.Second))),
		Artifact:   artifact,
	}, nil
}

// ReadResults parses a results log in write order.
func ReadResults(r io.Reader) ([]TrialResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = resultFieldsLen

	var results []TrialResult
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading results line %d: %w", line, err)
		}
		res, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("parsing results line %d: %w", line, err)
		}
		results = append(results, res)
	}
}

// ReadResultsFile reads the log at path. A missing file is an empty log.
func ReadResultsFile(path string) ([]TrialResult, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadResults(f)
}

// CSVResultLog appends one line per trial and syncs after every write.
type CSVResultLog struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func OpenCSVResultLog(path string) (*CSVResultLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating results directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results log: %w", err)
	}
	return &CSVResultLog{file: f, w: csv.NewWriter(f)}, nil
}

func (l *CSVResultLog) Append(ctx context.Context, r TrialResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Write(r.Record()); err != nil {
		return err
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *CSVResultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// multiSink fans one result out to every sink in order.
type multiSink []ResultSink

func (s multiSink) Append(ctx context.Context, r TrialResult) error {
	for _, sink := range s {
		if err := sink.Append(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
