package analytics

import (
	"math"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func series(values ...float64) []DataPoint {
	points := make([]DataPoint, len(values))
	for i, v := range values {
		points[i] = DataPoint{Timestamp: epoch.Add(time.Duration(i) * time.Hour), Value: v}
	}
	return points
}

func TestNewAnalyzerDefaults(t *testing.T) {
	a := NewAnalyzer(0)
	if a.zScoreThreshold != 3.0 {
		t.Errorf("Expected default zScoreThreshold 3.0, got %.2f", a.zScoreThreshold)
	}
}

func TestStatistics(t *testing.T) {
	a := NewAnalyzer(3)
	stats, err := a.Statistics(series(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	if err != nil {
		t.Fatalf("Statistics() error: %v", err)
	}
	if math.Abs(stats.Mean-5.5) > 0.01 {
		t.Errorf("Expected mean 5.5, got %.2f", stats.Mean)
	}
	if math.Abs(stats.P50-5.5) > 0.01 {
		t.Errorf("Expected median 5.5, got %.2f", stats.P50)
	}
	if stats.Min != 1 || stats.Max != 10 || stats.Last != 10 {
		t.Errorf("Unexpected min/max/last: %.1f/%.1f/%.1f", stats.Min, stats.Max, stats.Last)
	}
	if stats.Count != 10 {
		t.Errorf("Expected count 10, got %d", stats.Count)
	}

	if _, err := a.Statistics(nil); err == nil {
		t.Error("Expected error for empty series")
	}
}

func TestAnomaliesSpikeAndDrop(t *testing.T) {
	a := NewAnalyzer(2.5)

	anomalies := a.Anomalies(series(10, 10, 10, 10, 10, 10, 10, 10, 10, 100))
	if len(anomalies) != 1 {
		t.Fatalf("Expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Direction != "spike" || anomalies[0].Value != 100 {
		t.Errorf("Expected spike at 100, got %s at %.1f", anomalies[0].Direction, anomalies[0].Value)
	}

	anomalies = a.Anomalies(series(100, 100, 100, 100, 100, 100, 100, 100, 100, 10))
	if len(anomalies) != 1 || anomalies[0].Direction != "drop" {
		t.Fatalf("Expected one drop, got %+v", anomalies)
	}
}

func TestAnomaliesFlatOrShortSeries(t *testing.T) {
	a := NewAnalyzer(3)
	if got := a.Anomalies(series(5, 5, 5, 5)); len(got) != 0 {
		t.Errorf("Expected no anomalies for flat series, got %d", len(got))
	}
	if got := a.Anomalies(series(1, 100)); len(got) != 0 {
		t.Errorf("Expected no anomalies for short series, got %d", len(got))
	}
}

func TestTrend(t *testing.T) {
	a := NewAnalyzer(3)

	trend, err := a.Trend(series(10, 12, 14, 16, 18))
	if err != nil {
		t.Fatalf("Trend() error: %v", err)
	}
	if trend.Direction != "increasing" {
		t.Errorf("Expected increasing, got %s", trend.Direction)
	}
	if math.Abs(trend.SlopePerHour-2) > 1e-9 {
		t.Errorf("Expected slope 2/h, got %.4f", trend.SlopePerHour)
	}
	if math.Abs(trend.RSquared-1) > 1e-9 {
		t.Errorf("Expected R² 1, got %.4f", trend.RSquared)
	}
	if math.Abs(trend.FittedCurrent-18) > 1e-9 {
		t.Errorf("Expected fitted current 18, got %.4f", trend.FittedCurrent)
	}

	trend, _ = a.Trend(series(50, 50, 50))
	if trend.Direction != "stable" {
		t.Errorf("Expected stable, got %s", trend.Direction)
	}

	trend, _ = a.Trend(series(90, 80, 70))
	if trend.Direction != "decreasing" {
		t.Errorf("Expected decreasing, got %s", trend.Direction)
	}

	same := []DataPoint{{Timestamp: epoch, Value: 1}, {Timestamp: epoch, Value: 2}}
	if _, err := a.Trend(same); err == nil {
		t.Error("Expected error for identical timestamps")
	}
}

func TestForecast(t *testing.T) {
	a := NewAnalyzer(3)

	// +2 per hour from 80: crosses 90 five hours after the last point.
	f, err := a.Forecast(series(72, 74, 76, 78, 80), 90, 24*time.Hour)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if !f.WillBreach {
		t.Fatal("Expected breach within horizon")
	}
	if f.BreachIn != 5*time.Hour {
		t.Errorf("Expected breach in 5h, got %s", f.BreachIn)
	}
	if RiskLevel(f) != "critical" {
		t.Errorf("Expected critical risk, got %s", RiskLevel(f))
	}

	f, _ = a.Forecast(series(10, 11, 12), 90, 24*time.Hour)
	if f.WillBreach {
		t.Error("Expected no breach within horizon")
	}
	if RiskLevel(f) != "medium" {
		t.Errorf("Expected medium risk, got %s", RiskLevel(f))
	}

	f, _ = a.Forecast(series(95, 95, 95), 90, time.Hour)
	if !f.WillBreach || f.BreachIn != 0 {
		t.Errorf("Expected already breached, got %+v", f)
	}

	f, _ = a.Forecast(series(40, 40, 40), 90, time.Hour)
	if RiskLevel(f) != "low" {
		t.Errorf("Expected low risk, got %s", RiskLevel(f))
	}

	if _, err := a.Forecast(series(1, 2), 90, time.Hour); err == nil {
		t.Error("Expected error for short series")
	}
}
