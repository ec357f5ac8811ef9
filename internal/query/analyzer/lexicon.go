package analyzer

import "github.com/kubilitics/kubilitics-insight/internal/models"

// Trigger phrases per category. Phrases containing Hangul match at a word
// boundary: a word that starts with the phrase (particles and endings follow
// it) or whose stem ends with it (compounds such as 서버다운). Latin phrases
// match whole tokens or whole token sequences.
var triggerPhrases = map[models.TriggerCategory][]string{
	models.CategoryIncident: {
		"장애", "에러", "오류", "다운", "긴급", "중단", "먹통", "크래시", "경보", "알람", "타임아웃", "응답없음",
		"incident", "outage", "error", "errors", "critical", "down", "crash", "crashed",
		"alert", "urgent", "broken", "emergency", "unavailable", "timeout", "oom",
	},
	models.CategoryReport: {
		"보고서", "리포트", "분석", "요약", "현황", "정리",
		"report", "analyze", "analyse", "analysis", "summary", "summarize", "overview",
	},
	models.CategoryPrediction: {
		"예측", "전망", "추세", "향후", "예상", "위험도",
		"predict", "prediction", "forecast", "trend", "future", "risk", "capacity planning",
	},
	models.CategoryCorrelation: {
		"상관", "연관", "관계", "원인", "비교", "영향",
		"correlate", "correlation", "relationship", "compare", "root cause", "impact", "related",
	},
	models.CategoryOptimization: {
		"최적화", "개선", "튜닝", "절감", "비용", "효율",
		"optimize", "optimization", "improve", "tune", "tuning", "reduce", "cost", "efficiency", "rightsizing",
	},
	models.CategoryGeneric: {
		"사용률", "메모리", "디스크", "네트워크", "서버", "지연", "로그", "상태", "노드", "클러스터",
		"데이터베이스", "서비스", "트래픽", "부하", "프로세스", "컨테이너", "메트릭",
		"cpu", "memory", "disk", "network", "server", "usage", "latency", "log", "logs", "status",
		"pod", "node", "cluster", "database", "db", "service", "traffic", "load", "process",
		"container", "kubernetes", "k8s", "metric", "metrics",
	},
}

// Words that start with a Hangul trigger but mean something else.
var triggerExclusions = map[string][]string{
	"다운": {"다운로드", "다운그레이드"},
	"상관": {"상관없"},
}

var categoryIntent = map[models.TriggerCategory]models.Intent{
	models.CategoryIncident:     models.IntentTroubleshooting,
	models.CategoryReport:       models.IntentAnalysis,
	models.CategoryPrediction:   models.IntentPrediction,
	models.CategoryCorrelation:  models.IntentAnalysis,
	models.CategoryOptimization: models.IntentOptimization,
	models.CategoryGeneric:      models.IntentSearch,
}

// Korean particles stripped from token ends, longest first.
var koreanParticles = []string{
	"에서는", "으로는", "에서", "으로", "에게", "까지", "부터", "이나", "에는",
	"은", "는", "이", "가", "을", "를", "의", "에", "로", "와", "과", "도", "만",
}

var stopWords = map[models.Language]map[string]bool{
	models.LanguageKorean: toSet(
		"찾아주세요", "알려주세요", "보여주세요", "해주세요", "주세요", "알려줘", "보여줘", "찾아줘", "해줘",
		"어떻게", "무엇", "뭐", "좀", "그리고", "및", "있는", "있나요", "인가요", "있는지", "어떤", "모든",
		"현재", "지금", "대한", "관련", "하는", "해서", "합니다", "입니다", "하세요", "할", "수", "것",
	),
	models.LanguageEnglish: toSet(
		"the", "a", "an", "is", "are", "was", "were", "of", "for", "to", "in", "on", "at", "by",
		"and", "or", "with", "what", "how", "why", "which", "who", "show", "me", "please", "find",
		"my", "our", "this", "that", "it", "be", "can", "could", "you", "do", "does", "give", "tell",
		"about", "from", "all", "any", "there", "get", "i", "we", "list", "current", "currently",
	),
}

// technicalTerms are ranked as primary keywords.
var technicalTerms = toSet(triggerPhrases[models.CategoryGeneric]...)

// IsTechnicalTerm reports whether token is a known infrastructure term.
func IsTechnicalTerm(token string) bool {
	return technicalTerms[token]
}

// Required documents keyed by keyword. Identifiers name entries of the
// built-in knowledge set; other identifiers resolve only when a source provides them.
var documentTable = map[string][]string{
	"cpu":     {"fallback/cpu-high-usage"},
	"사용률":     {"fallback/cpu-high-usage"},
	"memory":  {"fallback/memory-pressure"},
	"메모리":     {"fallback/memory-pressure"},
	"oom":     {"fallback/memory-pressure"},
	"disk":    {"fallback/disk-capacity"},
	"디스크":     {"fallback/disk-capacity"},
	"network": {"fallback/network-latency"},
	"네트워크":    {"fallback/network-latency"},
	"latency": {"fallback/network-latency"},
	"지연":      {"fallback/network-latency"},
	"log":     {"fallback/log-analysis"},
	"logs":    {"fallback/log-analysis"},
	"로그":      {"fallback/log-analysis"},
}

var intentDocuments = map[models.Intent][]string{
	models.IntentTroubleshooting: {"fallback/incident-response"},
	models.IntentPrediction:      {"fallback/capacity-forecasting"},
	models.IntentOptimization:    {"fallback/resource-optimization"},
}

// Action identifiers understood by the action-execution service.
const (
	ActionCollectServerMetrics = "collect_server_metrics"
	ActionCheckServiceStatus   = "check_service_status"
	ActionQueryRecentLogs      = "query_recent_logs"
	ActionListActiveAlerts     = "list_active_alerts"
)

var actionTable = map[string]string{
	"cpu":    ActionCollectServerMetrics,
	"사용률":    ActionCollectServerMetrics,
	"memory": ActionCollectServerMetrics,
	"메모리":    ActionCollectServerMetrics,
	"disk":   ActionCollectServerMetrics,
	"디스크":    ActionCollectServerMetrics,
	"status": ActionCheckServiceStatus,
	"상태":     ActionCheckServiceStatus,
	"log":    ActionQueryRecentLogs,
	"logs":   ActionQueryRecentLogs,
	"로그":     ActionQueryRecentLogs,
}

func toSet(items ...string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
