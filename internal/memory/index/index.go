package index

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/config"
	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// Package index builds and serves the analyzed document index.
//
// Responsibilities:
//   - Pull raw documents from a Source and analyze each one into a DocumentContext
//     (keywords, relevance score, links, embedding)
//   - Publish the analyzed set as an immutable snapshot swapped atomically
//   - Fall back to the built-in knowledge set when the source fails or is empty
//   - Collapse concurrent rebuild requests into a single build
//   - Optionally rebuild on a fixed interval
//
// Consistency:
//   Readers always see one complete snapshot. A rebuild never exposes a
//   half-built index; Documents() before the first build returns an empty set.
//
// Failure handling:
//   - A failing document becomes a minimal record (no keywords, relevance 0)
//   - A failing or empty source yields the fallback knowledge set
//   - Build never returns an error; outcomes are reported in BuildReport

// Source lists raw documents to index.
type Source interface {
	ListDocuments(ctx context.Context) ([]models.SourceDocument, error)
}

// BuildReport describes the outcome of one index build.
type BuildReport struct {
	Documents   int           `json:"documents"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Fallback    bool          `json:"fallback"`
	SourceError string        `json:"source_error,omitempty"`
	Duration    time.Duration `json:"duration"`
	BuiltAt     time.Time     `json:"built_at"`
}

// Stats summarizes the index.
type Stats struct {
	Documents int         `json:"documents"`
	Fallback  bool        `json:"fallback"`
	Builds    int64       `json:"builds"`
	LastBuild BuildReport `json:"last_build"`
}

// Manager owns the document index.
type Manager interface {
	// Build rebuilds the index from the source and swaps it in.
	Build(ctx context.Context) BuildReport

	// Get returns a document by ID.
	Get(id string) (models.DocumentContext, bool)

	// Documents returns the current snapshot. Callers must not modify entries.
	Documents() []models.DocumentContext

	// Size returns the number of indexed documents.
	Size() int

	Stats() Stats

	// Start launches periodic rebuilds when a refresh interval is configured.
	// It returns immediately; rebuilds stop when ctx is done.
	Start(ctx context.Context)
}

// Options configures the index manager.
type Options struct {
	MaxContentChars  int
	MaxKeywords      int
	EnableEmbeddings bool
	BuildTimeout     time.Duration
	RefreshInterval  time.Duration
	PrimaryLanguage  models.Language
}

// OptionsFromConfig builds index options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxContentChars:  cfg.Index.MaxContentChars,
		MaxKeywords:      cfg.Index.MaxKeywords,
		EnableEmbeddings: cfg.Index.EnableEmbeddings,
		BuildTimeout:     time.Duration(cfg.Index.BuildTimeoutSeconds) * time.Second,
		RefreshInterval:  time.Duration(cfg.Index.RefreshIntervalMinutes) * time.Minute,
		PrimaryLanguage:  cfg.PrimaryLanguage(),
	}
}

// DefaultOptions returns index options from the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}
