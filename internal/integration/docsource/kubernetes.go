package docsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// ConfigMap annotations that override the derived title and category.
const (
	AnnotationTitle    = "insight.kubilitics.io/title"
	AnnotationCategory = "insight.kubilitics.io/category"

	// DefaultLabelSelector selects knowledge ConfigMaps.
	DefaultLabelSelector = "insight.kubilitics.io/knowledge=true"
)

// KubernetesSource reads documents from ConfigMaps selected by label.
// Every data key of a ConfigMap is one document with the path
// configmap/<namespace>/<name>/<key>.
type KubernetesSource struct {
	client        kubernetes.Interface
	namespace     string
	labelSelector string
	logger        *zap.Logger
}

// NewKubernetesSource creates a source over an existing clientset.
// An empty namespace lists all namespaces.
func NewKubernetesSource(client kubernetes.Interface, namespace, labelSelector string, logger *zap.Logger) *KubernetesSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if labelSelector == "" {
		labelSelector = DefaultLabelSelector
	}
	return &KubernetesSource{client: client, namespace: namespace, labelSelector: labelSelector, logger: logger}
}

// NewKubernetesSourceFromKubeconfig builds the clientset from a kubeconfig
// file. An empty path tries the in-cluster config, then ~/.kube/config.
func NewKubernetesSourceFromKubeconfig(kubeconfigPath, namespace, labelSelector string, logger *zap.Logger) (*KubernetesSource, error) {
	cfg, err := restConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return NewKubernetesSource(clientset, namespace, labelSelector, logger), nil
}

func restConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
		if home, _ := os.UserHomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}
	return cfg, nil
}

func (s *KubernetesSource) Name() string { return "kubernetes" }

func (s *KubernetesSource) ListDocuments(ctx context.Context) ([]models.SourceDocument, error) {
	list, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: s.labelSelector})
	if err != nil {
		return nil, fmt.Errorf("failed to list configmaps: %w", err)
	}

	items := list.Items
	sort.Slice(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].Name < items[j].Name
	})

	var docs []models.SourceDocument
	for i := range items {
		docs = append(docs, configMapDocuments(&items[i])...)
	}
	s.logger.Debug("listed documents",
		zap.String("source", s.Name()),
		zap.Int("configmaps", len(items)),
		zap.Int("documents", len(docs)))
	return docs, nil
}

func configMapDocuments(cm *corev1.ConfigMap) []models.SourceDocument {
	keys := make([]string, 0, len(cm.Data))
	for k := range cm.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	docs := make([]models.SourceDocument, 0, len(keys))
	for _, k := range keys {
		content := cm.Data[k]
		if strings.TrimSpace(content) == "" {
			continue
		}
		doc := models.SourceDocument{
			Path:     fmt.Sprintf("configmap/%s/%s/%s", cm.Namespace, cm.Name, k),
			Content:  content,
			Category: cm.Annotations[AnnotationCategory],
		}
		// A title annotation only makes sense for single-document ConfigMaps.
		if len(keys) == 1 {
			doc.Title = cm.Annotations[AnnotationTitle]
		}
		docs = append(docs, doc)
	}
	return docs
}
