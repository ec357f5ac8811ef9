package docsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package docsource provides the document sources the index is built from.
//
// Responsibilities:
//   - HTTPSource: pull documents from a knowledge service (GET {base}/documents)
//   - KubernetesSource: read documents from labelled ConfigMaps
//   - MultiSource: merge several sources and tolerate partial failure
//
// Every source reports a short Name() that ends up as the Source field of the
// indexed documents. The SQLite knowledge store in internal/db is a source too.

// Source lists raw documents.
type Source interface {
	ListDocuments(ctx context.Context) ([]models.SourceDocument, error)
	Name() string
}

// MultiSource lists several sources concurrently and concatenates their
// documents in source order. The first document wins when two sources
// return the same path. It fails only when every source fails.
type MultiSource struct {
	sources []Source
	logger  *zap.Logger
}

// NewMultiSource creates a merged source.
func NewMultiSource(logger *zap.Logger, sources ...Source) *MultiSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiSource{sources: sources, logger: logger}
}

func (m *MultiSource) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m *MultiSource) ListDocuments(ctx context.Context) ([]models.SourceDocument, error) {
	if len(m.sources) == 0 {
		return nil, nil
	}

	lists := make([][]models.SourceDocument, len(m.sources))
	errs := make([]error, len(m.sources))
	var wg sync.WaitGroup
	for i, s := range m.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lists[i], errs[i] = s.ListDocuments(ctx)
		}()
	}
	wg.Wait()

	var failures []error
	var docs []models.SourceDocument
	seen := make(map[string]bool)
	for i, s := range m.sources {
		if errs[i] != nil {
			m.logger.Warn("document source failed", zap.String("source", s.Name()), zap.Error(errs[i]))
			failures = append(failures, fmt.Errorf("%s: %w", s.Name(), errs[i]))
			continue
		}
		for _, d := range lists[i] {
			if seen[d.Path] {
				continue
			}
			seen[d.Path] = true
			docs = append(docs, d)
		}
	}
	if len(failures) == len(m.sources) {
		return nil, errors.Join(failures...)
	}
	return docs, nil
}
