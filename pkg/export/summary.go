package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/crm-export/pkg/client"
	"github.com/Sternrassler/crm-export/pkg/csvfile"
	"github.com/Sternrassler/crm-export/pkg/pagination"
	"github.com/Sternrassler/crm-export/pkg/ratelimit"
	"github.com/jszwec/csvutil"
)

// Result is the outcome of one object type.
type Result struct {
	Object   string
	Records  int
	Path     string
	Err      error
	Duration time.Duration
}

// OK reports whether the object was exported.
func (r Result) OK() bool {
	return r.Err == nil
}

// Summary is the outcome of one run.
type Summary struct {
	RunID    string
	Results  []Result
	Duration time.Duration
}

// Failed returns the names of the objects that failed, in run order.
func (s Summary) Failed() []string {
	var out []string
	for _, r := range s.Results {
		if !r.OK() {
			out = append(out, r.Object)
		}
	}
	return out
}

// Records returns the number of records written across all objects.
func (s Summary) Records() int {
	n := 0
	for _, r := range s.Results {
		n += r.Records
	}
	return n
}

// ReportRow is one line of the run report.
type ReportRow struct {
	RunID      string `csv:"run_id"`
	Object     string `csv:"object"`
	Status     string `csv:"status"`
	Records    int    `csv:"records"`
	Path       string `csv:"path,omitempty"`
	Reason     string `csv:"reason,omitempty"`
	Error      string `csv:"error,omitempty"`
	DurationMS int64  `csv:"duration_ms"`
}

// Rows converts the summary into report rows.
func (s Summary) Rows() []ReportRow {
	rows := make([]ReportRow, 0, len(s.Results))
	for _, r := range s.Results {
		row := ReportRow{
			RunID:      s.RunID,
			Object:     r.Object,
			Status:     "ok",
			Records:    r.Records,
			Path:       r.Path,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			row.Status = "failed"
			row.Reason = Diagnose(r.Err)
			row.Error = r.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// Report writes the summary as CSV, one row per object.
func (s Summary) Report(w io.Writer) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	rows := s.Rows()
	if len(rows) == 0 {
		if err := enc.EncodeHeader(ReportRow{}); err != nil {
			return fmt.Errorf("encode report header: %w", err)
		}
	} else if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// Diagnose returns a short reason for an object failure.
func Diagnose(err error) string {
	if err == nil {
		return ""
	}

	var (
		httpErr    *client.HTTPError
		timeoutErr *client.TimeoutError
		netErr     *client.NetworkError
		writeErr   *csvfile.WriteError
		limitErr   *pagination.PageLimitError
		loopErr    *pagination.CursorLoopError
	)

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Reason()
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &writeErr):
		return "write failed"
	case errors.As(err, &limitErr):
		return "page limit exceeded"
	case errors.As(err, &loopErr):
		return "cursor loop"
	case errors.Is(err, ratelimit.ErrDailyLimitExhausted):
		return "daily limit exhausted"
	case errors.As(err, &netErr):
		return "network error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
