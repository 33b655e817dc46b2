package analysis

import (
	"strings"
	"testing"
	"time"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

func TestRunDetectors_UnionsIndependentFindings(t *testing.T) {
	s := newTestStore()
	target := wallet(0)

	// Uniform inbound set (mixing) plus a return edge (circular).
	for i := 1; i <= 6; i++ {
		transfer(t, s, wallet(i), target, 1.0, testClock.Add(time.Duration(i)*time.Hour))
	}
	transfer(t, s, target, wallet(1), 0.5, testClock.Add(7*time.Hour))

	findings, failures := RunDetectors(NewDetectorInput(s, target, nil), defaultThresholds())
	if len(failures) != 0 {
		t.Fatalf("Expected no detector failures. Got: %+v", failures)
	}

	byPattern := map[models.PatternType]models.Finding{}
	for _, f := range findings {
		byPattern[f.PatternType] = f
	}
	if _, ok := byPattern[models.PatternMixing]; !ok {
		t.Error("Expected the mixing finding in the union")
	}
	if _, ok := byPattern[models.PatternCircularFunding]; !ok {
		t.Error("Expected the circular_funding finding in the union")
	}
	if len(findings) != 2 {
		t.Errorf("Expected exactly 2 findings. Got: %d", len(findings))
	}

	for _, f := range findings {
		if f.ID == "" {
			t.Error("Expected a generated finding ID")
		}
		if f.Wallet != target {
			t.Errorf("Expected wallet %s stamped on the finding. Got: %s", target, f.Wallet)
		}
		if f.GraphVersion != s.Version() {
			t.Errorf("Expected graph version %d. Got: %d", s.Version(), f.GraphVersion)
		}
		if f.DetectedAt.IsZero() {
			t.Error("Expected a detection timestamp")
		}
		if f.ChainSignature == "" {
			t.Error("Expected a chain signature for alert deduplication")
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			t.Errorf("Confidence out of [0,1]: %f", f.Confidence)
		}
	}
}

func TestRunDetectors_QuietWalletProducesNothing(t *testing.T) {
	s := newTestStore()
	transfer(t, s, wallet(1), wallet(0), 1.0, testClock)

	findings, failures := RunDetectors(NewDetectorInput(s, wallet(0), nil), defaultThresholds())
	if len(findings) != 0 {
		t.Errorf("Expected no findings for a single ordinary transfer. Got: %+v", findings)
	}
	if len(failures) != 0 {
		t.Errorf("Expected no failures. Got: %+v", failures)
	}
}

func TestRunIsolated_PanicBecomesError(t *testing.T) {
	finding, err := runIsolated(models.PatternMixing, func() (*models.Finding, error) {
		panic("index out of range")
	})
	if finding != nil {
		t.Error("Expected no finding from a panicking detector")
	}
	if err == nil {
		t.Fatal("Expected the panic converted to an error")
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Errorf("Expected the error to mention the panic. Got: %v", err)
	}
}

func TestThresholdsFromConfig_CarriesDefaults(t *testing.T) {
	th := defaultThresholds()
	if th.Mixing.MinIncoming != 5 || th.Mixing.MaxCoV != 0.3 {
		t.Errorf("Unexpected mixing thresholds: %+v", th.Mixing)
	}
	if th.Timing.Window != 10*time.Minute || th.Timing.MinSources != 3 {
		t.Errorf("Unexpected timing thresholds: %+v", th.Timing)
	}
	if th.Circular.MinCycleLen != 3 {
		t.Errorf("Unexpected circular thresholds: %+v", th.Circular)
	}
}
