package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testConsumer() *Consumer {
	return &Consumer{
		topic:  "funding-events",
		store:  graph.NewStore(config.Defaults().Graph),
		stream: stats.NewCollector(),
	}
}

func payload(t *testing.T, source, target string, amount float64, txHash string) []byte {
	t.Helper()
	data, err := json.Marshal(models.FundingEvent{
		Source:    source,
		Target:    target,
		Amount:    decimal.NewFromFloat(amount),
		Timestamp: time.Now().UTC(),
		TxHash:    txHash,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestApply_StoresValidEvent(t *testing.T) {
	c := testConsumer()

	retriable, err := c.apply(context.Background(), payload(t, walletA, walletB, 1.5, "0x01"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if retriable {
		t.Error("successful apply marked retriable")
	}
	if !c.store.HasWallet(walletA) || !c.store.HasWallet(walletB) {
		t.Error("event not reflected in graph store")
	}

	snap := c.stream.Snapshot()
	if snap.Events != 1 || snap.Accepted != 1 {
		t.Errorf("stream counted events=%d accepted=%d, want 1/1", snap.Events, snap.Accepted)
	}
}

func TestApply_GarbagePayloadIsNotRetriable(t *testing.T) {
	c := testConsumer()

	retriable, err := c.apply(context.Background(), []byte("{not json"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if retriable {
		t.Error("poison payload marked retriable")
	}
}

func TestApply_InvalidEventIsNotRetriable(t *testing.T) {
	c := testConsumer()

	retriable, err := c.apply(context.Background(), payload(t, "nonsense", walletB, 1.0, "0x01"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if retriable {
		t.Error("validation failure marked retriable")
	}
}

func TestApply_BelowMinimumIsCountedNotStored(t *testing.T) {
	c := testConsumer()

	retriable, err := c.apply(context.Background(), payload(t, walletA, walletB, 0.0001, "0x01"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if retriable {
		t.Error("dust event marked retriable")
	}
	if c.store.HasWallet(walletA) {
		t.Error("dust event reached the graph")
	}

	snap := c.stream.Snapshot()
	if snap.Events != 1 || snap.Accepted != 0 {
		t.Errorf("stream counted events=%d accepted=%d, want 1/0", snap.Events, snap.Accepted)
	}
}

func TestApply_DuplicateIsQuietlySkipped(t *testing.T) {
	c := testConsumer()

	if _, err := c.apply(context.Background(), payload(t, walletA, walletB, 1.0, "0x01")); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	retriable, err := c.apply(context.Background(), payload(t, walletA, walletB, 1.0, "0x01"))
	if err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if retriable {
		t.Error("duplicate marked retriable")
	}

	snap := c.stream.Snapshot()
	if snap.Events != 2 || snap.Accepted != 1 {
		t.Errorf("stream counted events=%d accepted=%d, want 2/1", snap.Events, snap.Accepted)
	}
}

type failingPersister struct{}

func (failingPersister) SaveEvent(context.Context, models.FundingEvent, models.PrecheckResult) error {
	return errors.New("disk on fire")
}

func (failingPersister) SaveEdge(context.Context, models.Edge) error { return nil }

func TestApply_PersistenceFailureIsRetriable(t *testing.T) {
	c := testConsumer()
	c.store.AttachPersister(failingPersister{})

	retriable, err := c.apply(context.Background(), payload(t, walletA, walletB, 1.0, "0x01"))
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if !retriable {
		t.Error("persistence failure must be retriable")
	}
	if c.store.HasWallet(walletA) {
		t.Error("unpersisted event reached the graph")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" localhost:9092, broker-2:9092 ,,broker-3:9092")
	want := []string{"localhost:9092", "broker-2:9092", "broker-3:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitCSV = %v, want %v", got, want)
	}
	if out := splitCSV(""); len(out) != 0 {
		t.Errorf("splitCSV(empty) = %v, want none", out)
	}
}
