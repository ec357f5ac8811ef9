package docsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

type staticSource struct {
	name string
	docs []models.SourceDocument
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) ListDocuments(context.Context) ([]models.SourceDocument, error) {
	return s.docs, s.err
}

func TestHTTPSource(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[{"path":"runbooks/cpu.md","content":"cpu"},{"path":"runbooks/disk.md","content":"disk"}]`},
		{"envelope", `{"documents":[{"path":"runbooks/cpu.md","content":"cpu"},{"path":"runbooks/disk.md","content":"disk"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var auth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/kb/documents" {
					http.NotFound(w, r)
					return
				}
				auth = r.Header.Get("Authorization")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := NewHTTPSource(srv.URL+"/kb/", "secret", time.Second, nil)
			docs, err := s.ListDocuments(context.Background())
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "runbooks/cpu.md", docs[0].Path)
			assert.Equal(t, "Bearer secret", auth)
		})
	}
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "", time.Second, nil).ListDocuments(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = decodeDocuments([]byte(`{not json`))
	assert.Error(t, err)
}

func TestKubernetesSource(t *testing.T) {
	client := fake.NewSimpleClientset(
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name: "disk-runbook", Namespace: "ops",
				Labels:      map[string]string{"insight.kubilitics.io/knowledge": "true"},
				Annotations: map[string]string{AnnotationTitle: "Disk runbook", AnnotationCategory: "runbooks"},
			},
			Data: map[string]string{"disk.md": "# Disk\nclean up logs"},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name: "alerts", Namespace: "ops",
				Labels: map[string]string{"insight.kubilitics.io/knowledge": "true"},
			},
			Data: map[string]string{"b.md": "second", "a.md": "first", "empty.md": "  "},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: "ops"},
			Data:       map[string]string{"x": "ignored"},
		},
	)

	docs, err := NewKubernetesSource(client, "ops", "", nil).ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "configmap/ops/alerts/a.md", docs[0].Path)
	assert.Equal(t, "configmap/ops/alerts/b.md", docs[1].Path)
	assert.Empty(t, docs[0].Title)
	assert.Equal(t, "configmap/ops/disk-runbook/disk.md", docs[2].Path)
	assert.Equal(t, "Disk runbook", docs[2].Title)
	assert.Equal(t, "runbooks", docs[2].Category)
}

func TestMultiSource(t *testing.T) {
	a := staticSource{name: "a", docs: []models.SourceDocument{{Path: "x.md", Content: "from a"}, {Path: "y.md"}}}
	b := staticSource{name: "b", docs: []models.SourceDocument{{Path: "x.md", Content: "from b"}, {Path: "z.md"}}}
	broken := staticSource{name: "broken", err: errors.New("down")}

	m := NewMultiSource(nil, a, broken, b)
	assert.Equal(t, "a+broken+b", m.Name())

	docs, err := m.ListDocuments(context.Background())
	require.NoError(t, err, "partial failure is tolerated")
	require.Len(t, docs, 3)
	assert.Equal(t, "from a", docs[0].Content)
	assert.Equal(t, "z.md", docs[2].Path)

	_, err = NewMultiSource(nil, broken, broken).ListDocuments(context.Background())
	assert.Error(t, err)

	docs, err = NewMultiSource(nil).ListDocuments(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, docs)
}
