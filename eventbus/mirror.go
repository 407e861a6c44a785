// Package eventbus mirrors run events onto a watermill topic so that other
// processes can follow runs they did not start.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/oraraka-deko/redraft/redraft"
)

// DefaultTopic is the topic run events are published on.
const DefaultTopic = "redraft.runs"

// Metadata keys set on every message.
const (
	MetaRunID = "run_id"
	MetaEvent = "event"
)

// Envelope is the message body of a mirrored event.
type Envelope struct {
	RunID   string            `json:"runId"`
	Seq     int               `json:"seq"`
	Type    redraft.EventType `json:"type"`
	Time    time.Time         `json:"time"`
	Payload json.RawMessage   `json:"payload"`
}

// Bus publishes run events to a topic. It implements redraft.Mirror.
type Bus struct {
	pub   message.Publisher
	sub   message.Subscriber
	topic string
	log   zerolog.Logger

	// shared is set when pub and sub are the same GoChannel.
	shared bool
}

var _ redraft.Mirror = (*Bus)(nil)

// NewGoChannel creates an in-process bus.
func NewGoChannel(log zerolog.Logger) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewWatermillLogger(log))
	return &Bus{pub: ch, sub: ch, topic: DefaultTopic, log: log, shared: true}
}

// NewRedisStream creates a bus on a Redis stream. Subscribers join the
// given consumer group; an empty group disables subscribing.
func NewRedisStream(client redis.UniversalClient, group, consumer string, log zerolog.Logger) (*Bus, error) {
	logger := NewWatermillLogger(log)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("eventbus: redis publisher: %w", err)
	}
	b := &Bus{pub: pub, topic: DefaultTopic, log: log}
	if group == "" {
		return b, nil
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("eventbus: redis subscriber: %w", err)
	}
	b.sub = sub
	return b, nil
}

// WithTopic returns a copy of b publishing on topic.
func (b *Bus) WithTopic(topic string) *Bus {
	cp := *b
	cp.topic = topic
	return &cp
}

// Publish mirrors one event.
func (b *Bus) Publish(ctx context.Context, ev redraft.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("eventbus: encode payload: %w", err)
	}
	body, err := json.Marshal(Envelope{RunID: ev.RunID, Seq: ev.Seq, Type: ev.Type, Time: ev.Time, Payload: payload})
	if err != nil {
		return fmt.Errorf("eventbus: encode envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(MetaRunID, ev.RunID)
	msg.Metadata.Set(MetaEvent, string(ev.Type))
	msg.SetContext(ctx)

	if err := b.pub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe streams decoded envelopes until ctx is done. Messages that do
// not decode are acked and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	if b.sub == nil {
		return nil, fmt.Errorf("eventbus: bus has no subscriber")
	}
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", b.topic, err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range msgs {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable run event")
				msg.Ack()
				continue
			}
			select {
			case out <- env:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close closes the publisher and subscriber.
func (b *Bus) Close() error {
	err := b.pub.Close()
	if b.sub != nil && !b.shared {
		if serr := b.sub.Close(); err == nil {
			err = serr
		}
	}
	return err
}
