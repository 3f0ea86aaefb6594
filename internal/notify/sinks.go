package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shivanand-hulikatti/helper-slots/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, msg model.Notification) error {
	n.log.Info("reservation confirmed",
		zap.String("reservation_id", msg.ReservationID),
		zap.String("member_id", msg.MemberID),
		zap.String("event_id", msg.EventID),
		zap.Stringp("slot_id", msg.SlotID),
		zap.String("reason", string(msg.Reason)),
	)
	return nil
}

// RedisNotifier pushes JSON notifications onto a Redis list for a mail worker
// to consume.
type RedisNotifier struct {
	client redis.Cmdable
	queue  string
}

// NewRedisNotifier constructs a RedisNotifier writing to the list at queue.
func NewRedisNotifier(client redis.Cmdable, queue string) *RedisNotifier {
	return &RedisNotifier{client: client, queue: queue}
}

func (n *RedisNotifier) Name() string { return "redis" }

func (n *RedisNotifier) Notify(ctx context.Context, msg model.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.LPush(ctx, n.queue, string(payload)).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// Producer is the subset of *kgo.Client the Kafka notifier needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaNotifier publishes notifications to a Kafka topic keyed by member so a
// member's notices stay ordered.
type KafkaNotifier struct {
	producer Producer
	topic    string
}

// NewKafkaNotifier constructs a KafkaNotifier.
func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// NewKafkaClient opens a franz-go producer client.
func NewKafkaClient(brokers []string, clientID string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, msg model.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(msg.MemberID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "reason", Value: []byte(msg.Reason)},
			{Key: "content_type", Value: []byte("application/json")},
		},
	}
	if err := n.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}
