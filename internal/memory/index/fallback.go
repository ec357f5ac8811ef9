package index

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// FallbackSource is the Source name recorded on built-in knowledge entries.
const FallbackSource = "builtin"

//go:embed fallback_knowledge.yaml
var fallbackKnowledge []byte

type fallbackDocument struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
	Content  string   `yaml:"content"`
}

type fallbackFile struct {
	Documents []fallbackDocument `yaml:"documents"`
}

// loadFallbackDocuments parses the embedded knowledge set.
func loadFallbackDocuments() ([]fallbackDocument, error) {
	var f fallbackFile
	if err := yaml.Unmarshal(fallbackKnowledge, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fallback knowledge: %w", err)
	}
	if len(f.Documents) == 0 {
		return nil, fmt.Errorf("fallback knowledge is empty")
	}
	return f.Documents, nil
}

// fallbackContexts analyzes the built-in knowledge set. Curated keywords
// lead, extracted keywords fill the remaining slots.
func fallbackContexts(opts Options) ([]models.DocumentContext, error) {
	docs, err := loadFallbackDocuments()
	if err != nil {
		return nil, err
	}
	out := make([]models.DocumentContext, 0, len(docs))
	for _, d := range docs {
		src := models.SourceDocument{Path: d.ID, Content: d.Content, Title: d.Title, Category: d.Category}
		dc, err := analyzeDocument(src, opts)
		if err != nil {
			dc = minimalDocument(src, opts)
		}
		dc.Keywords = mergeKeywords(d.Keywords, dc.Keywords, opts.MaxKeywords)
		dc.Source = FallbackSource
		dc.Fallback = true
		out = append(out, dc)
	}
	return out, nil
}

func mergeKeywords(primary, secondary []string, limit int) []string {
	seen := make(map[string]bool, len(primary)+len(secondary))
	out := make([]string, 0, len(primary)+len(secondary))
	for _, list := range [][]string{primary, secondary} {
		for _, k := range list {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
