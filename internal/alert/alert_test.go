package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

func testConfig() config.AlertsConfig {
	return config.AlertsConfig{
		HistoryLimit:   100,
		MinSeverity:    "high",
		WebhookTimeout: time.Second,
	}
}

func finding(severity models.RiskLevel) models.Finding {
	return models.Finding{
		ID:             "f-1",
		Wallet:         "0x00000000000000000000000000000000000000aa",
		PatternType:    models.PatternMixing,
		Confidence:     0.9,
		Severity:       severity,
		Description:    "uniform inbound transfers",
		ChainSignature: "in:6",
	}
}

func TestMeetsThreshold(t *testing.T) {
	cases := []struct {
		severity models.RiskLevel
		minimum  models.RiskLevel
		want     bool
	}{
		{models.RiskCritical, models.RiskHigh, true},
		{models.RiskHigh, models.RiskHigh, true},
		{models.RiskMedium, models.RiskHigh, false},
		{models.RiskLow, models.RiskLow, true},
		{models.RiskLow, models.RiskCritical, false},
		{"", models.RiskLow, false},
	}
	for _, c := range cases {
		if got := meetsThreshold(c.severity, c.minimum); got != c.want {
			t.Errorf("Expected meetsThreshold(%q, %q) = %v. Got: %v", c.severity, c.minimum, c.want, got)
		}
	}
}

func TestFromFinding_SeverityFloor(t *testing.T) {
	m := NewManager(testConfig())

	if _, ok := m.FromFinding(finding(models.RiskMedium)); ok {
		t.Error("Expected a medium finding to stay below the high floor")
	}

	a, ok := m.FromFinding(finding(models.RiskHigh))
	if !ok {
		t.Fatal("Expected a high finding to clear the floor")
	}
	if a.Wallet != "0x00000000000000000000000000000000000000aa" {
		t.Errorf("Expected the finding wallet to carry over. Got: %s", a.Wallet)
	}
	if a.PatternType != models.PatternMixing {
		t.Errorf("Expected pattern mixing. Got: %s", a.PatternType)
	}
	if a.ChainSignature != "in:6" {
		t.Errorf("Expected the chain signature to carry over. Got: %s", a.ChainSignature)
	}
	if a.Finding == nil || a.Finding.ID != "f-1" {
		t.Error("Expected the full finding to be attached")
	}

	crit, ok := m.FromFinding(finding(models.RiskCritical))
	if !ok {
		t.Fatal("Expected a critical finding to clear the floor")
	}
	if crit.Title == a.Title {
		t.Error("Expected the critical title to be marked distinctly")
	}
}

func TestNewManager_ZeroConfigDefaults(t *testing.T) {
	m := NewManager(config.AlertsConfig{})

	if _, ok := m.FromFinding(finding(models.RiskMedium)); ok {
		t.Error("Expected the default floor to reject medium findings")
	}
	if _, ok := m.FromFinding(finding(models.RiskHigh)); !ok {
		t.Error("Expected the default floor to accept high findings")
	}
}

func TestEmit_StampsIdentity(t *testing.T) {
	m := NewManager(testConfig())
	m.Emit(Alert{Severity: models.RiskHigh, Title: "test"})

	recent := m.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Expected 1 alert in history. Got: %d", len(recent))
	}
	if recent[0].ID == "" {
		t.Error("Expected an ID to be stamped")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("Expected a timestamp to be stamped")
	}
}

func TestEmit_HistoryRingTrims(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryLimit = 3
	m := NewManager(cfg)

	for i := 0; i < 5; i++ {
		m.Emit(Alert{Severity: models.RiskHigh, Title: string(rune('a' + i))})
	}

	recent := m.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Expected the ring to trim to 3. Got: %d", len(recent))
	}
	if recent[0].Title != "e" || recent[2].Title != "c" {
		t.Errorf("Expected newest-first order e,d,c. Got: %s,%s,%s",
			recent[0].Title, recent[1].Title, recent[2].Title)
	}
}

func TestRecent_LimitsAndOrders(t *testing.T) {
	m := NewManager(testConfig())
	m.Emit(Alert{Severity: models.RiskHigh, Title: "first"})
	m.Emit(Alert{Severity: models.RiskCritical, Title: "second"})

	recent := m.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Expected 1 alert. Got: %d", len(recent))
	}
	if recent[0].Title != "second" {
		t.Errorf("Expected the newest alert first. Got: %s", recent[0].Title)
	}
}

func TestBySeverity_Filters(t *testing.T) {
	m := NewManager(testConfig())
	m.Emit(Alert{Severity: models.RiskHigh, Title: "high"})
	m.Emit(Alert{Severity: models.RiskCritical, Title: "critical"})

	crit := m.BySeverity(models.RiskCritical)
	if len(crit) != 1 {
		t.Fatalf("Expected 1 critical alert. Got: %d", len(crit))
	}
	if crit[0].Title != "critical" {
		t.Errorf("Expected the critical alert. Got: %s", crit[0].Title)
	}
}

func TestAcknowledge(t *testing.T) {
	m := NewManager(testConfig())
	m.Emit(Alert{ID: "alrt-1", Severity: models.RiskHigh, Title: "test"})

	acked, ok := m.Acknowledge("alrt-1")
	if !ok {
		t.Fatal("Expected the alert to be found in the ring")
	}
	if !acked.Acknowledged || acked.AcknowledgedAt == nil {
		t.Error("Expected the returned copy to carry the ack mark")
	}

	firstAt := *acked.AcknowledgedAt
	again, ok := m.Acknowledge("alrt-1")
	if !ok {
		t.Fatal("Expected the repeated ack to still find the alert")
	}
	if again.AcknowledgedAt == nil || !again.AcknowledgedAt.Equal(firstAt) {
		t.Error("Expected the repeated ack to keep the first ack time")
	}

	if _, ok := m.Acknowledge("missing"); ok {
		t.Error("Expected an unknown id to report not found")
	}

	recent := m.Recent(1)
	if len(recent) != 1 || !recent[0].Acknowledged {
		t.Error("Expected the history entry to show the ack mark")
	}
}

func TestEmit_NotifiesSinks(t *testing.T) {
	m := NewManager(testConfig())
	var seen []Alert
	m.AddSink(func(a Alert) { seen = append(seen, a) })

	m.Emit(Alert{Severity: models.RiskHigh, Title: "test"})

	if len(seen) != 1 {
		t.Fatalf("Expected the sink to see 1 alert. Got: %d", len(seen))
	}
	if seen[0].ID == "" {
		t.Error("Expected the sink to receive the stamped alert")
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan Alert, 1)
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("Expected a JSON alert body. Got: %v", err)
		}
		headers <- r.Header
		received <- a
	}))
	defer srv.Close()

	m := NewManager(testConfig())
	m.RegisterWebhook("siem", srv.URL, models.RiskLow, map[string]string{"X-Token": "abc"})
	m.Emit(Alert{Severity: models.RiskHigh, Wallet: "0xaa", Title: "test"})

	select {
	case a := <-received:
		if a.Wallet != "0xaa" {
			t.Errorf("Expected the alert wallet in the payload. Got: %s", a.Wallet)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the webhook to be called")
	}
	h := <-headers
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Expected a JSON content type. Got: %s", h.Get("Content-Type"))
	}
	if h.Get("X-Token") != "abc" {
		t.Errorf("Expected the custom header to be forwarded. Got: %s", h.Get("X-Token"))
	}
}

func TestWebhookSeverityGate(t *testing.T) {
	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
	}))
	defer srv.Close()

	m := NewManager(testConfig())
	m.RegisterWebhook("pager", srv.URL, models.RiskCritical, nil)
	m.Emit(Alert{Severity: models.RiskHigh, Title: "test"})

	select {
	case <-called:
		t.Error("Expected a high alert to stay below the critical-only webhook")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRemoveWebhook(t *testing.T) {
	m := NewManager(testConfig())
	m.RegisterWebhook("a", "http://localhost/a", models.RiskLow, nil)
	m.RegisterWebhook("b", "http://localhost/b", models.RiskLow, nil)

	m.RemoveWebhook("a")

	hooks := m.Webhooks()
	if len(hooks) != 1 {
		t.Fatalf("Expected 1 webhook to remain. Got: %d", len(hooks))
	}
	if hooks[0].Name != "b" {
		t.Errorf("Expected webhook b to remain. Got: %s", hooks[0].Name)
	}
}
