package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/alert"
	"github.com/rawblock/fundflow-engine/internal/config"
)

// AlertPublisher pushes emitted alerts to the alerts topic. It is wired
// as an alert manager sink and runs on the monitor's queue consumer, so
// the synchronous send blocks only the drain loop, never a wallet check.
type AlertPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewAlertPublisher builds a synchronous producer for the alerts topic.
func NewAlertPublisher(cfg config.KafkaConfig) (*AlertPublisher, error) {
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.AlertsTopic == "" {
		return nil, fmt.Errorf("no alerts topic configured")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("building alert producer: %w", err)
	}
	return &AlertPublisher{producer: producer, topic: cfg.AlertsTopic}, nil
}

// Publish sends one alert, keyed by wallet so alerts for the same
// wallet stay ordered within a partition. Failures are logged; the
// durable alert history in postgres is the fallback record.
func (p *AlertPublisher) Publish(a alert.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		log.Warn().Err(err).Str("alert", a.ID).Msg("failed to encode alert for kafka")
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(a.Wallet),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		log.Warn().Err(err).Str("alert", a.ID).Msg("alert publish failed")
	}
}

// Close shuts down the producer.
func (p *AlertPublisher) Close() error {
	return p.producer.Close()
}
