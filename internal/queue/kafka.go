package queue

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"clubdash/internal/domain"
)

type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.ClientID = "clubdash"

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return newKafka(producer, topic), nil
}

func newKafka(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{
		producer: producer,
		topic:    topic,
	}
}

// Publish sends msg keyed by its id so every copy of a message lands on
// the same partition.
func (k *Kafka) Publish(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record{Message: msg, Source: msg.SourceTag})
	if err != nil {
		return err
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(msg.ID),
		Value: sarama.ByteEncoder(data),
	})

	return err
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}

// record is the wire shape on the topic: the public message fields plus
// the source tag, which the HTTP encoding omits.
type record struct {
	domain.Message
	Source string `json:"source"`
}
