package blinkbench

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrEndOfSource = errors.New("end of bitstream source")

// BitstreamReader yields one candidate pattern per line, single pass.
type BitstreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

func NewBitstreamReader(r io.Reader) *BitstreamReader {
	return &BitstreamReader{scanner: bufio.NewScanner(r)}
}

func OpenBitstreamFile(path string) (*BitstreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bitstream file: %w", err)
	}
	br := NewBitstreamReader(f)
	br.closer = f
	return br, nil
}

func (b *BitstreamReader) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !b.scanner.Scan() {
		if err := b.scanner.Err(); err != nil {
			return "", fmt.Errorf("reading line %d: %w", b.line+1, err)
		}
		return "", ErrEndOfSource
	}
	b.line++
	return strings.TrimRight(b.scanner.Text(), "\r"), nil
}

// Line is the number of lines consumed so far.
func (b *BitstreamReader) Line() int {
	return b.line
}

func (b *BitstreamReader) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

type CandidateIssue struct {
	Line    int
	Pattern string
	Problem string
}

type CandidateReport struct {
	Lines    int
	Runnable int
	Issues   []CandidateIssue
}

// CheckCandidates walks a candidate source the way a run would. It reports
// short lines that cut a run off before later candidates, and candidates
// that are not made of 0 and 1.
func CheckCandidates(ctx context.Context, src *BitstreamReader) (CandidateReport, error) {
	var (
		report   CandidateReport
		stop     *CandidateIssue
		reported bool
	)
	for {
		pattern, err := src.Next(ctx)
		if errors.Is(err, ErrEndOfSource) {
			return report, nil
		}
		if err != nil {
			return report, err
		}
		report.Lines++

		if len(pattern) <= minCandidateLength {
			if stop == nil {
				stop = &CandidateIssue{Line: src.Line(), Pattern: pattern, Problem: "too short, a run ends here"}
			}
			continue
		}
		if strings.Trim(pattern, "01") != "" {
			report.Issues = append(report.Issues, CandidateIssue{
				Line:    src.Line(),
				Pattern: pattern,
				Problem: "contains characters other than 0 and 1",
			})
		}
		if stop == nil {
			report.Runnable++
			continue
		}
		if !reported {
			report.Issues = append(report.Issues, *stop)
			reported = true
		}
		report.Issues = append(report.Issues, CandidateIssue{
			Line:    src.Line(),
			Pattern: pattern,
			Problem: "never tested, follows an end-of-run line",
		})
	}
}
