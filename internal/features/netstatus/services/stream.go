package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/metrics"
)

// KafkaPublisher publishes status transitions to a Kafka topic, keyed by status
type KafkaPublisher struct {
	producer  sarama.AsyncProducer
	topic     string
	logger    *core.Logger
	recorder  metrics.Recorder
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewKafkaProducer builds an async producer that reports successes and errors
func NewKafkaProducer(brokers []string) (sarama.AsyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = "netspace-tracker"
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher wraps producer and starts draining its result channels
func NewKafkaPublisher(producer sarama.AsyncProducer, topic string, logger *core.Logger, recorder metrics.Recorder) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		recorder: recorder,
	}

	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()

	return p
}

func (p *KafkaPublisher) handleSuccesses() {
	defer p.wg.Done()
	for msg := range p.producer.Successes() {
		p.recorder.RecordDelivery("stream", true)
		p.logger.Debug("Status event delivered", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

func (p *KafkaPublisher) handleErrors() {
	defer p.wg.Done()
	for err := range p.producer.Errors() {
		p.recorder.RecordDelivery("stream", false)
		p.logger.Error("Status event delivery failed", "topic", err.Msg.Topic, "error", err.Err)
	}
}

// Publish queues event for delivery. It returns once the message is accepted by the producer.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.NetworkStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.Status),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the producer and waits for the result handlers
func (p *KafkaPublisher) Close() {
	p.closeOnce.Do(func() {
		p.producer.AsyncClose()
		p.wg.Wait()
	})
}
