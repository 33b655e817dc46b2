// Package alert distributes monitor findings: an in-memory history ring,
// fan-out callbacks for live subscribers, and webhook push to external
// receivers (Slack, PagerDuty, SIEM bridges). Webhook payloads are plain
// JSON POST bodies compatible with generic incoming-webhook endpoints.
package alert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Alert is one deliverable notification derived from a detector finding.
type Alert struct {
	ID             string             `json:"id"`
	Timestamp      time.Time          `json:"timestamp"`
	Severity       models.RiskLevel   `json:"severity"`
	Wallet         string             `json:"wallet"`
	PatternType    models.PatternType `json:"patternType"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Confidence     float64            `json:"confidence"`
	ChainSignature string             `json:"chainSignature,omitempty"`
	Finding        *models.Finding    `json:"finding,omitempty"`
	Acknowledged   bool               `json:"acknowledged"`
	AcknowledgedAt *time.Time         `json:"acknowledgedAt,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity models.RiskLevel  `json:"minSeverity"` // Only send alerts >= this severity
}

// Manager handles alert emission: history, subscriber fan-out and
// webhook delivery. Safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	webhooks    []WebhookEndpoint
	recent      []Alert
	sinks       []func(Alert)
	maxHistory  int
	minSeverity models.RiskLevel
	httpClient  *http.Client
}

// NewManager builds an alert manager from configuration. Zero values
// fall back to a 1000-entry history and a high severity floor.
func NewManager(cfg config.AlertsConfig) *Manager {
	maxHistory := cfg.HistoryLimit
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	minSeverity := models.RiskLevel(cfg.MinSeverity)
	if severityRank(minSeverity) == 0 {
		minSeverity = models.RiskHigh
	}
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{
		webhooks:    make([]WebhookEndpoint, 0),
		recent:      make([]Alert, 0),
		maxHistory:  maxHistory,
		minSeverity: minSeverity,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// AddSink registers a callback invoked synchronously for every emitted
// alert. Sinks must not block; slow consumers should queue internally.
func (m *Manager) AddSink(fn func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, fn)
}

// RegisterWebhook adds a webhook endpoint.
func (m *Manager) RegisterWebhook(name, url string, minSeverity models.RiskLevel, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.webhooks = append(m.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})
	log.Info().Str("name", name).Str("minSeverity", string(minSeverity)).Msg("webhook registered")
}

// RemoveWebhook removes a webhook by name. Unknown names are a no-op.
func (m *Manager) RemoveWebhook(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, wh := range m.webhooks {
		if wh.Name == name {
			m.webhooks = append(m.webhooks[:i], m.webhooks[i+1:]...)
			return
		}
	}
}

// Webhooks lists the registered endpoints.
func (m *Manager) Webhooks() []WebhookEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WebhookEndpoint, len(m.webhooks))
	copy(out, m.webhooks)
	return out
}

// FromFinding converts a detector finding into an alert, or reports
// false when the finding sits below the manager's severity floor.
func (m *Manager) FromFinding(f models.Finding) (Alert, bool) {
	if !meetsThreshold(f.Severity, m.minSeverity) {
		return Alert{}, false
	}
	title := "Funding pattern: " + string(f.PatternType)
	if f.Severity == models.RiskCritical {
		title = "🚨 " + title
	}
	finding := f
	return Alert{
		Severity:       f.Severity,
		Wallet:         f.Wallet,
		PatternType:    f.PatternType,
		Title:          title,
		Description:    f.Description,
		Confidence:     f.Confidence,
		ChainSignature: f.ChainSignature,
		Finding:        &finding,
	}, true
}

// Emit records and distributes one alert: history ring, subscriber
// sinks, then async webhook delivery gated per endpoint.
func (m *Manager) Emit(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.recent = append(m.recent, alert)
	if len(m.recent) > m.maxHistory {
		m.recent = m.recent[len(m.recent)-m.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(m.webhooks))
	copy(webhooks, m.webhooks)
	sinks := make([]func(Alert), len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()

	telemetry.AlertsEmitted.WithLabelValues(string(alert.Severity)).Inc()

	for _, sink := range sinks {
		sink(alert)
	}

	for _, wh := range webhooks {
		if !wh.Enabled {
			continue
		}
		if !meetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		go m.sendWebhook(wh, alert)
	}

	log.Info().Str("severity", string(alert.Severity)).Str("pattern", string(alert.PatternType)).
		Str("wallet", alert.Wallet).Str("title", alert.Title).Msg("alert emitted")
}

// Acknowledge marks one history entry as handled by an operator and
// returns the updated copy. Repeated calls keep the first ack time. It
// reports false when the id is not in the ring, which happens once the
// entry rotates out.
func (m *Manager) Acknowledge(id string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.recent) - 1; i >= 0; i-- {
		if m.recent[i].ID != id {
			continue
		}
		if !m.recent[i].Acknowledged {
			now := time.Now().UTC()
			m.recent[i].Acknowledged = true
			m.recent[i].AcknowledgedAt = &now
		}
		return m.recent[i], true
	}
	return Alert{}, false
}

// Recent returns the most recent alerts, newest first.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	start := len(m.recent) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.recent[start+limit-1-i]
	}
	return result
}

// BySeverity returns history entries at or above a minimum severity,
// oldest first.
func (m *Manager) BySeverity(min models.RiskLevel) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []Alert
	for _, alert := range m.recent {
		if meetsThreshold(alert.Severity, min) {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

func (m *Manager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Error().Err(err).Msg("webhook payload marshal failed")
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Error().Str("webhook", wh.Name).Err(err).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Warn().Str("webhook", wh.Name).Err(err).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().Str("webhook", wh.Name).Int("status", resp.StatusCode).Msg("webhook rejected alert")
	}
}

var severityLevels = map[models.RiskLevel]int{
	models.RiskLow:      1,
	models.RiskMedium:   2,
	models.RiskHigh:     3,
	models.RiskCritical: 4,
}

func severityRank(level models.RiskLevel) int {
	return severityLevels[level]
}

// meetsThreshold reports whether a severity clears a minimum level.
func meetsThreshold(severity, minimum models.RiskLevel) bool {
	return severityRank(severity) >= severityRank(minimum)
}
