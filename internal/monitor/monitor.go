// Package monitor tracks per-request timing and outcome. Completed requests
// are kept in a fixed-size ring, oldest dropped first.
package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/google/uuid"
)

const DefaultCapacity = 1000

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// StatusOf maps an outcome error onto a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case domain.CodeOf(err) == domain.CodeTimeout:
		return StatusTimeout
	default:
		return StatusError
	}
}

// Metric is one completed request.
type Metric struct {
	RequestID string           `json:"request_id"`
	Provider  string           `json:"provider"`
	Model     string           `json:"model"`
	Start     time.Time        `json:"start"`
	Duration  time.Duration    `json:"duration"`
	Status    Status           `json:"status"`
	Tokens    int              `json:"tokens,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode domain.ErrorCode `json:"error_code,omitempty"`
}

// Filter narrows queries. Empty fields match everything.
type Filter struct {
	Provider string
	Model    string
}

func (f Filter) match(m Metric) bool {
	return (f.Provider == "" || f.Provider == m.Provider) &&
		(f.Model == "" || f.Model == m.Model)
}

type Stats struct {
	Total          int           `json:"total"`
	Success        int           `json:"success"`
	Errors         int           `json:"errors"`
	Timeouts       int           `json:"timeouts"`
	SuccessRate    float64       `json:"success_rate"`
	ErrorRate      float64       `json:"error_rate"`
	AvgDuration    time.Duration `json:"avg_duration"`
	TotalTokens    int           `json:"total_tokens"`
	AvgTokens      float64       `json:"avg_tokens"`
	ActiveRequests int           `json:"active_requests"`
}

// TrendPoint aggregates one hour of completed requests.
type TrendPoint struct {
	Hour        time.Time     `json:"hour"`
	Requests    int           `json:"requests"`
	Errors      int           `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration"`
	Tokens      int           `json:"tokens"`
}

type activeRequest struct {
	provider string
	model    string
	start    time.Time
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	active map[string]activeRequest
	ring   []Metric
	head   int
	count  int
	now    func() time.Time
}

type Option func(*Monitor)

func WithCapacity(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.ring = make([]Metric, n)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		active: make(map[string]activeRequest),
		ring:   make([]Metric, DefaultCapacity),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartRequest records the start time and returns an opaque request ID.
func (m *Monitor) StartRequest(provider, model string) string {
	id := uuid.NewString()

	m.mu.Lock()
	m.active[id] = activeRequest{provider: provider, model: model, start: m.now()}
	m.mu.Unlock()

	return id
}

// EndRequest completes an active request. It returns false for an unknown or
// already completed ID.
func (m *Monitor) EndRequest(requestID string, status Status, tokens int, err error) (Metric, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.active[requestID]
	if !ok {
		return Metric{}, false
	}
	delete(m.active, requestID)

	metric := Metric{
		RequestID: requestID,
		Provider:  req.provider,
		Model:     req.model,
		Start:     req.start,
		Duration:  m.now().Sub(req.start),
		Status:    status,
		Tokens:    tokens,
	}
	if err != nil {
		metric.Error = err.Error()
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			metric.ErrorCode = pe.Code
		}
	}

	m.ring[m.head] = metric
	m.head = (m.head + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}

	return metric, true
}

// snapshot returns completed metrics oldest first. Callers hold mu.
func (m *Monitor) snapshot() []Metric {
	out := make([]Metric, 0, m.count)
	start := (m.head - m.count + len(m.ring)) % len(m.ring)
	for i := 0; i < m.count; i++ {
		out = append(out, m.ring[(start+i)%len(m.ring)])
	}
	return out
}

// Metrics returns the completed metrics matching f, oldest first.
func (m *Monitor) Metrics(f Filter) []Metric {
	m.mu.Lock()
	all := m.snapshot()
	m.mu.Unlock()

	out := all[:0]
	for _, metric := range all {
		if f.match(metric) {
			out = append(out, metric)
		}
	}
	return out
}

func (m *Monitor) Stats(f Filter) Stats {
	metrics := m.Metrics(f)

	s := Stats{Total: len(metrics), ActiveRequests: m.Active()}
	if s.Total == 0 {
		return s
	}

	var total time.Duration
	for _, metric := range metrics {
		total += metric.Duration
		s.TotalTokens += metric.Tokens
		switch metric.Status {
		case StatusSuccess:
			s.Success++
		case StatusTimeout:
			s.Timeouts++
			s.Errors++
		default:
			s.Errors++
		}
	}

	n := float64(s.Total)
	s.SuccessRate = float64(s.Success) / n
	s.ErrorRate = float64(s.Errors) / n
	s.AvgDuration = total / time.Duration(s.Total)
	s.AvgTokens = float64(s.TotalTokens) / n
	return s
}

// RecentErrors returns up to n failed requests, newest first.
func (m *Monitor) RecentErrors(n int) []Metric {
	metrics := m.Metrics(Filter{})

	var out []Metric
	for i := len(metrics) - 1; i >= 0 && len(out) < n; i-- {
		if metrics[i].Status != StatusSuccess {
			out = append(out, metrics[i])
		}
	}
	return out
}

// Trends buckets the last hours of completed requests by the hour they
// started, oldest bucket first. Empty hours are included.
func (m *Monitor) Trends(hours int) []TrendPoint {
	if hours <= 0 {
		return nil
	}

	m.mu.Lock()
	now := m.now()
	metrics := m.snapshot()
	m.mu.Unlock()

	current := now.Truncate(time.Hour)
	first := current.Add(-time.Duration(hours-1) * time.Hour)

	points := make([]TrendPoint, hours)
	durations := make([]time.Duration, hours)
	for i := range points {
		points[i].Hour = first.Add(time.Duration(i) * time.Hour)
	}

	for _, metric := range metrics {
		if metric.Start.Before(first) {
			continue
		}
		i := int(metric.Start.Sub(first) / time.Hour)
		if i >= hours {
			continue
		}
		points[i].Requests++
		points[i].Tokens += metric.Tokens
		durations[i] += metric.Duration
		if metric.Status != StatusSuccess {
			points[i].Errors++
		}
	}

	for i := range points {
		if points[i].Requests > 0 {
			points[i].AvgDuration = durations[i] / time.Duration(points[i].Requests)
		}
	}
	return points
}

// Active returns the number of requests started but not yet ended.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Reset drops completed metrics. Active requests are kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring = make([]Metric, len(m.ring))
	m.head, m.count = 0, 0
}
