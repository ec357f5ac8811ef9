package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Package analytics provides the statistical toolkit behind the predictive engine.
//
// IMPORTANT: This package uses ONLY pure statistical methods. NO machine learning.
//
// Core Capabilities:
//   - Descriptive statistics (mean, standard deviation, percentiles)
//   - Z-score anomaly detection
//   - Trend analysis (least-squares linear regression over time)
//   - Threshold-breach forecasting from the fitted trend
//
// Integration Points:
//   - Predictive engine: feeds metric series pulled from Prometheus
//   - Response synthesis: findings and recommendations are plain text

// MetricKind names the resource a series measures.
type MetricKind string

const (
	MetricCPU    MetricKind = "cpu"
	MetricMemory MetricKind = "memory"
	MetricDisk   MetricKind = "disk"
)

// DataPoint is a single observation.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is an ordered set of observations for one metric and instance.
type Series struct {
	Kind     MetricKind  `json:"kind"`
	Instance string      `json:"instance"`
	Points   []DataPoint `json:"points"`
}

// Statistics summarizes a series.
type Statistics struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	Last   float64 `json:"last"`
	Count  int     `json:"count"`
}

// Anomaly is a point whose z-score exceeds the configured threshold.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"z_score"`
	Direction string    `json:"direction"` // spike, drop
	Severity  string    `json:"severity"`  // critical, high, medium
}

// Trend is a least-squares fit of value over time.
type Trend struct {
	Direction     string  `json:"direction"`       // increasing, decreasing, stable
	SlopePerHour  float64 `json:"slope_per_hour"`  // value units per hour
	RSquared      float64 `json:"r_squared"`       // goodness of fit, 0-1
	FittedCurrent float64 `json:"fitted_current"`  // fitted value at the last point
}

// Forecast projects when a series crosses a threshold.
type Forecast struct {
	Threshold  float64       `json:"threshold"`
	Current    float64       `json:"current"`
	WillBreach bool          `json:"will_breach"`
	BreachIn   time.Duration `json:"breach_in"` // 0 when already breached
	Horizon    time.Duration `json:"horizon"`
	Confidence float64       `json:"confidence"` // 0-1
	Trend      Trend         `json:"trend"`
}

const (
	// MinPoints is the smallest series the toolkit analyzes.
	MinPoints = 3

	stableSlopePerHour = 0.1
)

// Analyzer runs statistical analysis on metric series.
type Analyzer struct {
	zScoreThreshold float64
}

// NewAnalyzer creates an analyzer. A non-positive threshold defaults to 3.0.
func NewAnalyzer(zScoreThreshold float64) *Analyzer {
	if zScoreThreshold <= 0 {
		zScoreThreshold = 3.0
	}
	return &Analyzer{zScoreThreshold: zScoreThreshold}
}

// Statistics computes descriptive statistics.
func (a *Analyzer) Statistics(points []DataPoint) (Statistics, error) {
	if len(points) == 0 {
		return Statistics{}, fmt.Errorf("no data points provided")
	}
	values := make([]float64, len(points))
	var sum float64
	for i, p := range points {
		values[i] = p.Value
		sum += p.Value
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Statistics{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P50:    percentile(sorted, 50),
		P95:    percentile(sorted, 95),
		Last:   values[len(values)-1],
		Count:  len(values),
	}, nil
}

// Anomalies returns points more than the z-score threshold away from the mean.
// A zero-variance series has no anomalies.
func (a *Analyzer) Anomalies(points []DataPoint) []Anomaly {
	if len(points) < MinPoints {
		return nil
	}
	stats, _ := a.Statistics(points)
	if stats.StdDev == 0 {
		return nil
	}
	var out []Anomaly
	for _, p := range points {
		z := (p.Value - stats.Mean) / stats.StdDev
		if math.Abs(z) <= a.zScoreThreshold {
			continue
		}
		direction := "spike"
		if z < 0 {
			direction = "drop"
		}
		out = append(out, Anomaly{
			Timestamp: p.Timestamp,
			Value:     p.Value,
			ZScore:    z,
			Direction: direction,
			Severity:  severity(math.Abs(z), a.zScoreThreshold),
		})
	}
	return out
}

// Trend fits value = slope·hours + intercept with hours measured from the first point.
func (a *Analyzer) Trend(points []DataPoint) (Trend, error) {
	if len(points) < 2 {
		return Trend{}, fmt.Errorf("insufficient data for trend analysis (need at least 2 points, got %d)", len(points))
	}
	origin := points[0].Timestamp
	n := float64(len(points))
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		x := p.Timestamp.Sub(origin).Hours()
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return Trend{}, fmt.Errorf("trend analysis needs distinct timestamps")
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range points {
		fitted := slope*p.Timestamp.Sub(origin).Hours() + intercept
		ssTot += (p.Value - meanY) * (p.Value - meanY)
		ssRes += (p.Value - fitted) * (p.Value - fitted)
	}
	rSquared := 1.0
	if ssTot > 0 {
		rSquared = math.Max(0, 1-ssRes/ssTot)
	}

	direction := "stable"
	switch {
	case slope > stableSlopePerHour:
		direction = "increasing"
	case slope < -stableSlopePerHour:
		direction = "decreasing"
	}

	lastX := points[len(points)-1].Timestamp.Sub(origin).Hours()
	return Trend{
		Direction:     direction,
		SlopePerHour:  slope,
		RSquared:      rSquared,
		FittedCurrent: slope*lastX + intercept,
	}, nil
}

// Forecast projects the trend forward and reports whether the threshold is
// crossed within the horizon.
func (a *Analyzer) Forecast(points []DataPoint, threshold float64, horizon time.Duration) (Forecast, error) {
	if len(points) < MinPoints {
		return Forecast{}, fmt.Errorf("insufficient data for forecast (need at least %d points, got %d)", MinPoints, len(points))
	}
	trend, err := a.Trend(points)
	if err != nil {
		return Forecast{}, err
	}
	current := points[len(points)-1].Value
	f := Forecast{
		Threshold:  threshold,
		Current:    current,
		Horizon:    horizon,
		Confidence: trend.RSquared,
		Trend:      trend,
	}
	switch {
	case current >= threshold:
		f.WillBreach = true
	case trend.Direction == "increasing":
		hours := (threshold - trend.FittedCurrent) / trend.SlopePerHour
		if hours < 0 {
			hours = 0
		}
		f.BreachIn = time.Duration(hours * float64(time.Hour))
		f.WillBreach = f.BreachIn <= horizon
	}
	return f, nil
}

// RiskLevel grades a forecast: critical (breached or breach within a day),
// high (within the horizon), medium (rising but beyond it), low otherwise.
func RiskLevel(f Forecast) string {
	switch {
	case f.WillBreach && f.BreachIn <= 24*time.Hour:
		return "critical"
	case f.WillBreach:
		return "high"
	case f.Trend.Direction == "increasing":
		return "medium"
	}
	return "low"
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	w := rank - float64(lower)
	return sorted[lower]*(1-w) + sorted[upper]*w
}

// severity maps a z-score to a level relative to the threshold.
func severity(z, threshold float64) string {
	ratio := z / threshold
	switch {
	case ratio > 2.0:
		return "critical"
	case ratio > 1.5:
		return "high"
	}
	return "medium"
}
