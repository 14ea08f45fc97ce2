package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lememe/leme/db"
	"github.com/lememe/leme/logger"
	"github.com/lememe/leme/pkg/metrics"
)

// ErrQueryTimeout is returned when a report query exceeds the query timeout.
var ErrQueryTimeout = errors.New("report query timed out")

// Querier is the part of a pool handle a report needs.
type Querier interface {
	QueryRows(ctx context.Context, sql string, args ...any) ([]db.Row, error)
}

// Runner executes reports with a per-query timeout.
type Runner struct {
	timeout time.Duration
}

func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// Run executes rep on q. The result is never nil on success.
func (r *Runner) Run(ctx context.Context, q Querier, rep Report) ([]db.Row, error) {
	qctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := q.QueryRows(qctx, strings.TrimSpace(rep.SQL))
	elapsed := time.Since(start)
	metrics.ReportQueryDuration.WithLabelValues(rep.Name).Observe(elapsed.Seconds())

	if err != nil {
		status := "error"
		if errors.Is(qctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
			err = fmt.Errorf("%w after %s: %w", ErrQueryTimeout, r.timeout, err)
		}
		metrics.ReportQueriesTotal.WithLabelValues(rep.Name, status).Inc()
		logger.WarnContext(ctx, "Report query failed", "component", "REPORTS", "report", rep.Name,
			"status", status, "duration", elapsed, "error", err)
		return nil, err
	}

	if rows == nil {
		rows = []db.Row{}
	}
	metrics.ReportQueriesTotal.WithLabelValues(rep.Name, "ok").Inc()
	metrics.ReportRows.WithLabelValues(rep.Name).Observe(float64(len(rows)))
	logger.Debug("Report query completed", "component", "REPORTS", "report", rep.Name,
		"rows", len(rows), "duration", elapsed)
	return rows, nil
}
