package mode

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/metrics"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/query/analyzer"
)

type record struct {
	mode       models.Mode
	confidence int
	forced     bool
	at         time.Time
}

type modeManager struct {
	opts        Options
	defaultMode models.Mode
	logger      *zap.Logger

	mu      sync.Mutex
	history []record
	next    int
	filled  bool
	total   int
}

// NewManager validates the budgets and returns a mode manager.
// Invalid budgets or an unknown default mode are configuration errors.
func NewManager(opts Options, logger *zap.Logger) (Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultMode, err := models.ParseMode(opts.Default)
	if err != nil {
		return nil, fmt.Errorf("invalid default mode: %w", err)
	}
	if opts.Threshold < 1 {
		return nil, fmt.Errorf("mode threshold must be at least 1, got %d", opts.Threshold)
	}
	if errs := config.ValidateModeBudgets(opts.Basic, opts.Advanced); len(errs) > 0 {
		return nil, config.JoinValidationErrors(errs)
	}
	if opts.HistorySize < 1 {
		opts.HistorySize = 100
	}
	return &modeManager{
		opts:        opts,
		defaultMode: defaultMode,
		logger:      logger,
		history:     make([]record, opts.HistorySize),
	}, nil
}

func (m *modeManager) SelectMode(q *models.SmartQuery, override models.Mode) Decision {
	score := 0
	if q != nil {
		score = q.ModeDetection.Score
	}

	var d Decision
	switch {
	case override == models.ModeBasic || override == models.ModeAdvanced:
		d = Decision{
			Mode:       override,
			Reasoning:  fmt.Sprintf("mode %s forced by caller (trigger score %d)", override, score),
			Confidence: 100,
			Forced:     true,
		}
	case m.defaultMode != "":
		d = Decision{
			Mode:       m.defaultMode,
			Reasoning:  fmt.Sprintf("configured default mode %s (trigger score %d)", m.defaultMode, score),
			Confidence: 100,
		}
	case score >= m.opts.Threshold:
		d = Decision{
			Mode:       models.ModeAdvanced,
			Reasoning:  fmt.Sprintf("trigger score %d >= threshold %d", score, m.opts.Threshold),
			Confidence: analyzer.ModeConfidence(score, m.opts.Threshold),
		}
	default:
		d = Decision{
			Mode:       models.ModeBasic,
			Reasoning:  fmt.Sprintf("trigger score %d < threshold %d", score, m.opts.Threshold),
			Confidence: analyzer.ModeConfidence(score, m.opts.Threshold),
		}
	}
	d.Score = score
	d.Config = m.Config(d.Mode)

	m.record(d)
	metrics.ModeSelections.WithLabelValues(string(d.Mode), strconv.FormatBool(d.Forced)).Inc()
	m.logger.Debug("mode selected",
		zap.String("mode", string(d.Mode)),
		zap.Int("score", score),
		zap.Bool("forced", d.Forced),
	)
	return d
}

func (m *modeManager) Config(mode models.Mode) models.ModeConfig {
	if mode == models.ModeAdvanced {
		return m.opts.Advanced
	}
	return m.opts.Basic
}

func (m *modeManager) record(d Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[m.next] = record{mode: d.Mode, confidence: d.Confidence, forced: d.Forced, at: time.Now()}
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.filled = true
	}
	m.total++
}

func (m *modeManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.filled {
		n = len(m.history)
	}
	s := Stats{
		Total:        m.total,
		Window:       n,
		Distribution: map[models.Mode]int{models.ModeBasic: 0, models.ModeAdvanced: 0},
	}
	sum := 0
	for i := 0; i < n; i++ {
		r := m.history[i]
		s.Distribution[r.mode]++
		sum += r.confidence
		if r.forced {
			s.Forced++
		}
		if r.at.After(s.LastDecision) {
			s.LastDecision = r.at
		}
	}
	if n > 0 {
		s.AverageConfidence = float64(sum) / float64(n)
	}
	return s
}
