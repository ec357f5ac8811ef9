package docsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

const maxResponseBytes = 32 << 20

// HTTPSource pulls documents from a knowledge service.
//
// The service answers GET {base}/documents with either a JSON array of
// documents or an object {"documents": [...]}.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPSource creates an HTTP source. A zero timeout means 30 seconds.
func NewHTTPSource(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) ListDocuments(ctx context.Context) ([]models.SourceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/documents", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	docs, err := decodeDocuments(body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("listed documents", zap.String("source", s.Name()), zap.Int("documents", len(docs)))
	return docs, nil
}

func decodeDocuments(body []byte) ([]models.SourceDocument, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var docs []models.SourceDocument
		if err := json.Unmarshal(body, &docs); err != nil {
			return nil, fmt.Errorf("failed to decode documents: %w", err)
		}
		return docs, nil
	}
	var envelope struct {
		Documents []models.SourceDocument `json:"documents"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return envelope.Documents, nil
}
