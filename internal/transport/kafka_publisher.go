package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"marketmaker/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPublisherClosed - отправка после Close
var ErrPublisherClosed = errors.New("kafka publisher closed")

// messageWriter - часть kafka.Writer, используемая публикатором
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher отправляет исходящие сообщения маркет-мейкера в Kafka.
//
// Топик сообщения: <prefix>.<topic>. Ключ - id торговой пары, поэтому
// сообщения одной пары попадают в одну партицию и сохраняют порядок.
type KafkaPublisher struct {
	writer messageWriter
	prefix string
	logger *zap.Logger
	closed chan struct{}
}

// NewKafkaPublisher создаёт публикатор поверх kafka.Writer
func NewKafkaPublisher(brokers []string, topicPrefix string, logger *zap.Logger) *KafkaPublisher {
	// Topic не задан: он указывается в каждом сообщении
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topicPrefix, logger)
}

func newKafkaPublisher(w messageWriter, topicPrefix string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: w,
		prefix: topicPrefix,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// TopicName возвращает полное имя топика с префиксом
func (p *KafkaPublisher) TopicName(topic models.Topic) string {
	if p.prefix == "" {
		return string(topic)
	}
	return p.prefix + "." + string(topic)
}

// Send сериализует и отправляет пакет сообщений одним вызовом writer.
//
// Сообщение, которое не удалось сериализовать, пропускается с записью в лог.
func (p *KafkaPublisher) Send(ctx context.Context, msgs []models.OutboundMessage) error {
	select {
	case <-p.closed:
		return ErrPublisherClosed
	default:
	}

	if len(msgs) == 0 {
		return nil
	}

	now := time.Now()
	batch := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(m.Payload)
		if err != nil {
			p.logger.Error("failed to marshal outbound message",
				zap.String("topic", string(m.Topic)),
				zap.String("asset_pair", m.AssetPairID),
				zap.Error(err),
			)
			continue
		}
		batch = append(batch, kafka.Message{
			Topic: p.TopicName(m.Topic),
			Key:   []byte(m.AssetPairID),
			Value: value,
			Time:  now,
		})
	}

	if len(batch) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(batch), err)
	}
	return nil
}

// Close дожидается отправки буфера и закрывает writer
func (p *KafkaPublisher) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	return p.writer.Close()
}
