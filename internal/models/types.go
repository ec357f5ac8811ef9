package models

import (
	"fmt"
	"strings"
	"time"
)

// Package models defines the core data types that flow through the query pipeline.
//
// Lifetimes:
//   - DocumentContext lives in the index snapshot and is replaced, never mutated.
//   - EngineStats is owned by the orchestrator and updated after every invocation.
//   - SmartQuery, ScoredDocument, HybridAnalysisResult, Answer and QueryResponse
//     are created and discarded within a single query.

// Language identifies the script a query was written in.
type Language string

const (
	LanguageKorean  Language = "ko"
	LanguageEnglish Language = "en"
)

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentAnalysis        Intent = "analysis"
	IntentSearch          Intent = "search"
	IntentPrediction      Intent = "prediction"
	IntentOptimization    Intent = "optimization"
	IntentTroubleshooting Intent = "troubleshooting"
)

// Mode is a named bundle of processing budgets.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeAdvanced Mode = "advanced"
)

// ParseMode converts a configured or requested mode name into a Mode.
// An empty name or "auto" yields the empty Mode, meaning "let the selector decide".
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return "", nil
	case string(ModeBasic):
		return ModeBasic, nil
	case string(ModeAdvanced):
		return ModeAdvanced, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected basic, advanced or auto)", name)
}

// TriggerCategory groups trigger phrases used for intent and mode scoring.
type TriggerCategory string

const (
	CategoryIncident     TriggerCategory = "incident"
	CategoryReport       TriggerCategory = "report"
	CategoryPrediction   TriggerCategory = "prediction"
	CategoryCorrelation  TriggerCategory = "correlation"
	CategoryOptimization TriggerCategory = "optimization"
	CategoryGeneric      TriggerCategory = "generic"
)

// CategoryPriority is the tie-break order for trigger categories, highest first.
var CategoryPriority = []TriggerCategory{
	CategoryIncident,
	CategoryReport,
	CategoryPrediction,
	CategoryCorrelation,
	CategoryOptimization,
	CategoryGeneric,
}

// SearchType tags how a search result was found.
type SearchType string

const (
	SearchTypeVector  SearchType = "vector"
	SearchTypeKeyword SearchType = "keyword"
	SearchTypeHybrid  SearchType = "hybrid"
)

// ModeDetection carries the analyzer's mode signal.
type ModeDetection struct {
	Score      int      `json:"score"`
	Confidence int      `json:"confidence"` // 0-100
	Triggers   []string `json:"triggers"`
	Reasoning  string   `json:"reasoning"`
}

// SmartQuery is the analyzed form of a raw operator question.
// It is read-only once the analyzer returns it.
type SmartQuery struct {
	Original          string                  `json:"original"`
	Normalized        string                  `json:"normalized"`
	Language          Language                `json:"language"`
	Intent            Intent                  `json:"intent"`
	Keywords          []string                `json:"keywords"`
	RequiredDocuments []string                `json:"required_documents"`
	RequiredActions   []string                `json:"required_actions"`
	RequiredEngines   []string                `json:"required_engines"`
	ModeDetection     ModeDetection           `json:"mode_detection"`
	CategoryScores    map[TriggerCategory]int `json:"category_scores,omitempty"`
	Fallback          bool                    `json:"fallback"`
}

// RequiresEngine reports whether name is among the required engines.
func (q *SmartQuery) RequiresEngine(name string) bool {
	for _, e := range q.RequiredEngines {
		if e == name {
			return true
		}
	}
	return false
}

// SourceDocument is a raw document as returned by a document source.
type SourceDocument struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
}

// DocumentContext is an analyzed, indexed document.
type DocumentContext struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	Category       string    `json:"category,omitempty"`
	Content        string    `json:"content"`
	Keywords       []string  `json:"keywords"`
	RelevanceScore float64   `json:"relevance_score"` // 0.0-5.0
	Embedding      []float32 `json:"-"`
	Links          []string  `json:"links,omitempty"`
	Source         string    `json:"source"`
	Fallback       bool      `json:"fallback"`
	IndexedAt      time.Time `json:"indexed_at"`
}

// VectorSearchResult describes why a document matched a query.
type VectorSearchResult struct {
	DocumentID      string     `json:"document_id"`
	Similarity      float64    `json:"similarity"` // 0-1
	RelevanceScore  float64    `json:"relevance_score"`
	MatchedKeywords []string   `json:"matched_keywords"`
	SearchType      SearchType `json:"search_type"`
}

// ScoredDocument pairs a document with its search result.
type ScoredDocument struct {
	Document DocumentContext    `json:"document"`
	Result   VectorSearchResult `json:"result"`
}

// ResponseDepth controls how much per-engine detail an answer carries.
type ResponseDepth string

const (
	DepthSummary  ResponseDepth = "summary"
	DepthDetailed ResponseDepth = "detailed"
)

// ModeConfig is the budget bundle attached to a mode.
type ModeConfig struct {
	MaxProcessingTime time.Duration `json:"max_processing_time"`
	MaxContextSize    int           `json:"max_context_size"`
	ResponseDepth     ResponseDepth `json:"response_depth"`
	EnablePredictive  bool          `json:"enable_predictive"`
	EnableCorrelation bool          `json:"enable_correlation"`
	MaxResponseLength int           `json:"max_response_length"`
}

// EngineState is the lifecycle state of an analysis engine.
type EngineState string

const (
	EngineUninitialized EngineState = "uninitialized"
	EngineInitializing  EngineState = "initializing"
	EngineReady         EngineState = "ready"
	EngineFailed        EngineState = "failed"
)

// EngineStats is the per-engine health record.
type EngineStats struct {
	Name         string        `json:"name"`
	State        EngineState   `json:"state"`
	Initialized  bool          `json:"initialized"`
	Deferred     bool          `json:"deferred"`
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	SkippedCount int64         `json:"skipped_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
	LastError    string        `json:"last_error,omitempty"`
	LastUsed     time.Time     `json:"last_used,omitempty"`
}

// EngineResult is one engine's contribution to an analysis.
type EngineResult struct {
	Engine          string                 `json:"engine"`
	Summary         string                 `json:"summary"`
	Findings        []string               `json:"findings,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Confidence      float64                `json:"confidence"` // 0-1
	Latency         time.Duration          `json:"latency"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// EngineUsedNone and EngineUsedHybrid are the non-engine values of HybridAnalysisResult.EngineUsed.
const (
	EngineUsedNone   = "none"
	EngineUsedHybrid = "hybrid"
)

// MaxConfidence caps every aggregated confidence value.
const MaxConfidence = 0.95

// HybridAnalysisResult is the merged output of one orchestrated analysis.
type HybridAnalysisResult struct {
	Results        map[string]*EngineResult `json:"results"`
	Confidence     float64                  `json:"confidence"`
	EngineUsed     string                   `json:"engine_used"`
	Attempted      []string                 `json:"attempted"`
	Failed         []string                 `json:"failed,omitempty"`
	Skipped        []string                 `json:"skipped,omitempty"`
	ProcessingTime time.Duration            `json:"processing_time"`
}

// Best returns the highest-confidence engine result, or nil when none succeeded.
// Ties resolve by engine name so the choice is stable.
func (r *HybridAnalysisResult) Best() *EngineResult {
	if r == nil {
		return nil
	}
	var best *EngineResult
	for _, res := range r.Results {
		if res == nil {
			continue
		}
		if best == nil || res.Confidence > best.Confidence ||
			(res.Confidence == best.Confidence && res.Engine < best.Engine) {
			best = res
		}
	}
	return best
}

// ActionResult is the textual outcome of an external action.
type ActionResult struct {
	ID       string        `json:"id"`
	Output   string        `json:"output"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// Answer is the synthesized response.
type Answer struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
	Sources    []string `json:"sources"`
}

// QueryResponse is what the pipeline hands back to callers.
type QueryResponse struct {
	QueryID          string   `json:"query_id"`
	SessionID        string   `json:"session_id,omitempty"`
	Success          bool     `json:"success"`
	Answer           string   `json:"answer"`
	Confidence       float64  `json:"confidence"`
	Sources          []string `json:"sources"`
	EngineUsed       string   `json:"engine_used"`
	Mode             Mode     `json:"mode"`
	Intent           Intent   `json:"intent"`
	Language         Language `json:"language"`
	Reasoning        []string `json:"reasoning"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}
