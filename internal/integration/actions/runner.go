package actions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/audit"
	"github.com/kubilitics/kubilitics-insight/internal/metrics"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// FailedOutput is the output recorded for an action that did not complete.
const FailedOutput = "action failed"

// Runner executes the actions a query requires.
type Runner struct {
	executor Executor
	auditLog audit.Logger
	logger   *zap.Logger
}

// NewRunner creates a runner. A nil executor makes Run a no-op.
func NewRunner(executor Executor, auditLog audit.Logger, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}
	return &Runner{executor: executor, auditLog: auditLog, logger: logger}
}

// Enabled reports whether an executor is configured.
func (r *Runner) Enabled() bool { return r != nil && r.executor != nil }

// Run executes ids concurrently, bounded by budget, and returns one result per
// id in input order. Actions still running when the budget expires are
// reported as failed and their late output is discarded.
func (r *Runner) Run(ctx context.Context, queryID string, ids []string, params map[string]string, budget time.Duration) []models.ActionResult {
	if !r.Enabled() || len(ids) == 0 {
		return nil
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	type outcome struct {
		index  int
		result models.ActionResult
	}
	// Buffered so abandoned goroutines never block.
	ch := make(chan outcome, len(ids))
	for i, id := range ids {
		go func() {
			ch <- outcome{index: i, result: r.runOne(ctx, queryID, id, params)}
		}()
	}

	results := make([]models.ActionResult, len(ids))
	done := make([]bool, len(ids))
	for received := 0; received < len(ids); received++ {
		select {
		case o := <-ch:
			results[o.index], done[o.index] = o.result, true
		case <-ctx.Done():
			for i, id := range ids {
				if !done[i] {
					results[i] = models.ActionResult{ID: id, Output: FailedOutput}
				}
			}
			return results
		}
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, queryID, id string, params map[string]string) (res models.ActionResult) {
	start := time.Now()
	res = models.ActionResult{ID: id, Output: FailedOutput}
	defer func() {
		if p := recover(); p != nil {
			res = models.ActionResult{ID: id, Output: FailedOutput, Duration: time.Since(start)}
			r.record(ctx, queryID, id, res.Duration, fmt.Errorf("action panicked: %v", p))
		}
	}()

	out, err := r.executor.Execute(ctx, id, params)
	res.Duration = time.Since(start)
	if ctx.Err() != nil && err == nil {
		err = ctx.Err()
	}
	r.record(ctx, queryID, id, res.Duration, err)
	if err != nil {
		return res
	}
	res.Output, res.Success = out, true
	return res
}

func (r *Runner) record(ctx context.Context, queryID, id string, d time.Duration, err error) {
	if err != nil {
		metrics.ActionExecutions.WithLabelValues(id, "error").Inc()
		r.logger.Warn("action failed", zap.String("query_id", queryID), zap.String("action", id), zap.Error(err))
		_ = r.auditLog.LogActionFailed(context.WithoutCancel(ctx), queryID, id, err)
		return
	}
	metrics.ActionExecutions.WithLabelValues(id, "success").Inc()
	_ = r.auditLog.LogActionExecuted(ctx, queryID, id, d)
}
