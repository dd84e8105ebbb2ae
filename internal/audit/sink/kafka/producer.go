// Package kafka publishes audit records to a Kafka topic keyed by chain, so
// every record of one session lands on one partition in order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"actiongate/internal/audit"
)

type Producer struct {
	client *kgo.Client
	topic  string
}

// New connects to brokers. Call EnsureTopic before the first Write when the
// cluster does not auto-create topics.
func New(brokers []string, topic string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, topic: topic}, nil
}

// EnsureTopic creates the topic if it does not exist.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Write(ctx context.Context, records []audit.Record) error {
	msgs := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		value, err := marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, &kgo.Record{
			Key:   []byte(r.ChainID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(r.Type)},
				{Key: "category", Value: []byte(r.Type.Category())},
				{Key: "sequence", Value: []byte(strconv.FormatUint(r.Sequence, 10))},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, msgs...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
