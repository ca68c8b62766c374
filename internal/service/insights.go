package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// Prediction is one forecast point of hourly energy use.
type Prediction struct {
	Timestamp  time.Time `json:"timestamp"`
	Predicted  float64   `json:"predicted"`
	Confidence float64   `json:"confidence"`
}

type Anomaly struct {
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
}

type Recommendation struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Effort      string `json:"effort"`
	Savings     string `json:"savings"`
}

// AIAction is an entry in the assistant's activity log.
type AIAction struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Confidence string    `json:"confidence"`
	Details    string    `json:"details"`
}

type PredictionSource interface {
	Predict(ctx context.Context, deviceID string, from, to time.Time) ([]Prediction, error)
}

type AnomalySource interface {
	Anomalies(ctx context.Context, deviceID string, from, to time.Time) ([]Anomaly, error)
}

type RecommendationSource interface {
	Recommendations(ctx context.Context, deviceID string) ([]Recommendation, error)
}

type HistorySource interface {
	History(ctx context.Context, deviceID string, from, to time.Time) ([]AIAction, error)
}

// InsightSources are the pluggable providers behind the AI panel.
type InsightSources struct {
	Predictions     PredictionSource
	Anomalies       AnomalySource
	Recommendations RecommendationSource
	History         HistorySource
}

// MockSources wires MockInsights into every slot.
func MockSources(m *MockInsights) InsightSources {
	return InsightSources{Predictions: m, Anomalies: m, Recommendations: m, History: m}
}

// AIPanel is the placeholder analytics block of the insights page.
type AIPanel struct {
	Predictions     []Prediction     `json:"predictions"`
	Anomalies       []Anomaly        `json:"anomalies"`
	Recommendations []Recommendation `json:"recommendations"`
	History         []AIAction       `json:"history"`
}

// InsightsView is everything the insights page needs for its first render.
type InsightsView struct {
	DeviceID       string               `json:"deviceId"`
	DeviceIDs      []string             `json:"deviceIds"`
	EnergyByDevice []domain.EnergyUsage `json:"energyByDevice"`
	ByType         map[string]int       `json:"byType"`
	ByStatus       map[string]int       `json:"byStatus"`
	AI             AIPanel              `json:"ai"`
	Username       string               `json:"username,omitempty"`
}

// Insights builds the insights page model. Device ids are the registry's
// followed by the configured demo ids, without duplicates. AI provider
// errors leave their section empty.
func (s *QueryService) Insights(ctx context.Context, deviceID string) (InsightsView, error) {
	if deviceID == "" {
		deviceID = domain.AllDevices
	}
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return InsightsView{}, err
	}
	now := s.now().UTC()
	since := now.Add(-s.window)
	energy, err := s.EnergyByDevice(ctx, since)
	if err != nil {
		return InsightsView{}, err
	}

	view := InsightsView{
		DeviceID:       deviceID,
		DeviceIDs:      mergeIDs(deviceIDs(devices), s.demo),
		EnergyByDevice: energy,
		ByType:         map[string]int{},
		ByStatus:       map[string]int{},
		AI:             s.aiPanel(ctx, deviceID, since, now),
	}
	for _, d := range devices {
		view.ByType[string(d.Type)]++
		view.ByStatus[string(d.Status)]++
	}
	return view, nil
}

func (s *QueryService) aiPanel(ctx context.Context, deviceID string, from, to time.Time) AIPanel {
	src := s.sources
	panel := AIPanel{
		Predictions:     []Prediction{},
		Anomalies:       []Anomaly{},
		Recommendations: []Recommendation{},
		History:         []AIAction{},
	}
	warn := func(source string, err error) {
		s.log.Warn().Err(err).Str("source", source).Str("device_id", deviceID).Msg("insight source failed")
	}
	if src.Predictions != nil {
		if p, err := src.Predictions.Predict(ctx, deviceID, from, to); err != nil {
			warn("predictions", err)
		} else if p != nil {
			panel.Predictions = p
		}
	}
	if src.Anomalies != nil {
		if a, err := src.Anomalies.Anomalies(ctx, deviceID, from, to); err != nil {
			warn("anomalies", err)
		} else if a != nil {
			panel.Anomalies = a
		}
	}
	if src.Recommendations != nil {
		if r, err := src.Recommendations.Recommendations(ctx, deviceID); err != nil {
			warn("recommendations", err)
		} else if r != nil {
			panel.Recommendations = r
		}
	}
	if src.History != nil {
		if h, err := src.History.History(ctx, deviceID, from, to); err != nil {
			warn("history", err)
		} else if h != nil {
			panel.History = h
		}
	}
	return panel
}

// MockInsights is a stand-in for a real analytics backend. Every value it
// returns is synthetic.
type MockInsights struct {
	now  func() time.Time
	rand randSource
}

func NewMockInsights(now func() time.Time) *MockInsights {
	if now == nil {
		now = time.Now
	}
	return &MockInsights{now: now, rand: defaultRand}
}

// Predict returns 24 hourly points following a daily sine curve.
func (m *MockInsights) Predict(_ context.Context, _ string, _, _ time.Time) ([]Prediction, error) {
	rng := m.rand()
	now := m.now().UTC()
	out := make([]Prediction, 0, 24)
	for i := 0; i < 24; i++ {
		noise := (rng.Float64() - 0.5) * 0.3
		out = append(out, Prediction{
			Timestamp:  now.Add(time.Duration(i) * time.Hour),
			Predicted:  2.5 + math.Sin(float64(i)*0.3)*0.8 + noise,
			Confidence: math.Max(0.6, 0.9-math.Abs(noise)*2),
		})
	}
	return out, nil
}

var mockAnomalies = []struct{ kind, severity, noun string }{
	{"Power Spike", "high", "power spike"},
	{"Voltage Drop", "medium", "voltage drop"},
	{"Energy Surge", "low", "energy surge"},
}

func (m *MockInsights) Anomalies(_ context.Context, deviceID string, _, _ time.Time) ([]Anomaly, error) {
	now := m.now().UTC()
	out := make([]Anomaly, 0, len(mockAnomalies))
	for i, a := range mockAnomalies {
		ts := now.Add(-time.Duration(i+1) * 2 * time.Hour)
		dev := deviceID
		if dev == "" || dev == domain.AllDevices {
			dev = fmt.Sprintf("DEV-%03d", i+1)
		}
		out = append(out, Anomaly{
			Timestamp:   ts,
			DeviceID:    dev,
			Type:        a.kind,
			Severity:    a.severity,
			Description: fmt.Sprintf("Detected %s at %s", a.noun, ts.Format(time.RFC1123)),
		})
	}
	return out, nil
}

func (m *MockInsights) Recommendations(context.Context, string) ([]Recommendation, error) {
	return []Recommendation{
		{ID: "opt-1", Title: "Schedule AC for Off-Peak Hours", Description: "Move AC usage to 10 PM - 6 AM to save 15% on energy costs", Impact: "high", Effort: "low", Savings: "$45/month"},
		{ID: "opt-2", Title: "Optimize Water Heater Temperature", Description: "Reduce water heater temperature by 10°F to save energy", Impact: "medium", Effort: "low", Savings: "$20/month"},
		{ID: "opt-3", Title: "Install Smart Thermostat", Description: "Smart thermostat can reduce heating/cooling costs by 20%", Impact: "high", Effort: "high", Savings: "$60/month"},
	}, nil
}

var mockActions = []struct{ action, confidence, analysis string }{
	{"Prediction Generated", "high", "prediction"},
	{"Anomaly Detected", "medium", "anomaly detection"},
	{"Recommendation Applied", "low", "optimization"},
}

func (m *MockInsights) History(context.Context, string, time.Time, time.Time) ([]AIAction, error) {
	now := m.now().UTC()
	out := make([]AIAction, 0, 10)
	for i := 0; i < 10; i++ {
		a := mockActions[i%len(mockActions)]
		out = append(out, AIAction{
			Timestamp:  now.Add(-time.Duration(i) * 24 * time.Hour),
			Action:     a.action,
			Confidence: a.confidence,
			Details:    fmt.Sprintf("AI performed %s analysis", a.analysis),
		})
	}
	return out, nil
}
