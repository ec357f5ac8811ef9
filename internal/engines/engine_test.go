package engines

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-1))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
	assert.Equal(t, 0.5, ClampConfidence(0.5))
	assert.Equal(t, 1.0, ClampConfidence(3))
}

func TestNotConfigured(t *testing.T) {
	err := NotConfigured("llm", "engines.llm.api_key")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Contains(t, err.Error(), "engines.llm.api_key")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", Excerpt("short   text", 50))
	assert.Equal(t, "disk usage…", Excerpt("disk usage is above ninety percent", 12))
	assert.Equal(t, "", Excerpt("", 10))
}

func TestRequestKorean(t *testing.T) {
	var nilReq *Request
	assert.False(t, nilReq.Korean())
	assert.False(t, (&Request{}).Korean())
	assert.True(t, (&Request{Query: &models.SmartQuery{Language: models.LanguageKorean}}).Korean())
}
