// Package publish emits roster change events to a Kinesis stream so other
// services can follow who is connected without scanning the table.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// Roster event kinds.
const (
	Joined = "joined"
	Left   = "left"
	Pruned = "pruned"
)

// Event describes one change to the roster.
type Event struct {
	Kind         string `json:"kind"`
	ConnectionID string `json:"connectionId"`
	Nickname     string `json:"nickname,omitempty"`
	At           int64  `json:"at"`
}

// Envelope is the record format written to the stream.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher publishes events to the roster Kinesis stream.
type Publisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

func New(client kinesisiface.KinesisAPI, streamName string) *Publisher {
	return &Publisher{
		client:     client,
		streamName: streamName,
	}
}

// Build creates a Publisher for streamName, or the standard stream for env
// when streamName is empty.
func Build(s *session.Session, env, streamName string) *Publisher {
	if streamName == "" {
		streamName = StreamName(env)
	}
	return New(kinesis.New(s), streamName)
}

// StreamName returns the Kinesis stream name for the given environment.
func StreamName(env string) string {
	return env + "-chat-roster-events"
}

// Send publishes a roster event. The connection id is the partition key, so
// events for one connection stay ordered.
func (p *Publisher) Send(ctx context.Context, topic string, event Event) error {
	payloadBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	data, err := json.Marshal(Envelope{
		Topic:   topic,
		Payload: payloadBytes,
	})
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	_, err = p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.streamName),
		PartitionKey: aws.String(event.ConnectionID),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to kinesis stream %v: %w", p.streamName, err)
	}

	return nil
}
