package stats

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

func wallet(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func event(source, target string, amount float64) models.FundingEvent {
	return models.FundingEvent{
		Source:    source,
		Target:    target,
		Amount:    decimal.NewFromFloat(amount),
		Timestamp: time.Now().UTC(),
	}
}

func TestObserve_CountsAndCardinalities(t *testing.T) {
	c := NewCollector()

	c.Observe(event(wallet(0), wallet(1), 1.5), true)
	c.Observe(event(wallet(0), wallet(2), 2.0), true)
	c.Observe(event(wallet(1), wallet(2), 0.5), false)

	snap := c.Snapshot()
	if snap.Events != 3 {
		t.Fatalf("Events = %d, want 3", snap.Events)
	}
	if snap.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", snap.Accepted)
	}
	if math.Abs(snap.Volume-4.0) > 1e-9 {
		t.Errorf("Volume = %v, want 4.0", snap.Volume)
	}
	if snap.UniqueSenders != 2 {
		t.Errorf("UniqueSenders = %d, want 2", snap.UniqueSenders)
	}
	if snap.UniqueReceivers != 2 {
		t.Errorf("UniqueReceivers = %d, want 2", snap.UniqueReceivers)
	}
	if snap.UniqueWallets != 3 {
		t.Errorf("UniqueWallets = %d, want 3", snap.UniqueWallets)
	}
	if snap.UniqueEdges != 3 {
		t.Errorf("UniqueEdges = %d, want 3", snap.UniqueEdges)
	}
	if snap.LastEventAt.IsZero() {
		t.Error("LastEventAt not stamped")
	}
	if snap.StartedAt.IsZero() {
		t.Error("StartedAt not stamped")
	}
}

func TestObserve_RepeatsDoNotInflateUniques(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 10; i++ {
		c.Observe(event(wallet(0), wallet(1), 1.0), true)
	}

	snap := c.Snapshot()
	if snap.Events != 10 {
		t.Fatalf("Events = %d, want 10", snap.Events)
	}
	if snap.UniqueSenders != 1 {
		t.Errorf("UniqueSenders = %d, want 1", snap.UniqueSenders)
	}
	if snap.UniqueWallets != 2 {
		t.Errorf("UniqueWallets = %d, want 2", snap.UniqueWallets)
	}
	if snap.UniqueEdges != 1 {
		t.Errorf("UniqueEdges = %d, want 1", snap.UniqueEdges)
	}
}

func TestObserve_CaseInsensitiveWallets(t *testing.T) {
	c := NewCollector()

	mixed := "0xABCDEF00000000000000000000000000000000AB"
	c.Observe(event(mixed, wallet(1), 1.0), true)
	c.Observe(event(strings.ToLower(mixed), wallet(1), 1.0), true)

	snap := c.Snapshot()
	if snap.UniqueSenders != 1 {
		t.Errorf("UniqueSenders = %d, want 1", snap.UniqueSenders)
	}
	if snap.UniqueEdges != 1 {
		t.Errorf("UniqueEdges = %d, want 1", snap.UniqueEdges)
	}
}

func TestSnapshot_HourBucket(t *testing.T) {
	c := NewCollector()

	c.Observe(event(wallet(0), wallet(1), 3.0), true)
	c.Observe(event(wallet(2), wallet(3), 1.0), true)

	snap := c.Snapshot()
	if snap.EventsThisHour != 2 {
		t.Errorf("EventsThisHour = %d, want 2", snap.EventsThisHour)
	}
	if math.Abs(snap.VolumeThisHour-4.0) > 1e-9 {
		t.Errorf("VolumeThisHour = %v, want 4.0", snap.VolumeThisHour)
	}
}

func TestPrune_DropsStaleBuckets(t *testing.T) {
	c := NewCollector()

	stale := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Hour)
	c.hours[stale] = &hourBucket{events: 5}

	c.Observe(event(wallet(0), wallet(1), 1.0), true)

	c.mu.Lock()
	_, ok := c.hours[stale]
	c.mu.Unlock()
	if ok {
		t.Error("stale hour bucket survived prune")
	}
}
