package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/stefando/imageHostAWS/internal/events"
	"github.com/stefando/imageHostAWS/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{}
	p := events.NewKafkaPublisher(w, "image-events")

	size := int64(2048)
	event := model.Event{
		Type:       model.EventUploaded,
		OwnerID:    "u1",
		ItemID:     "i1",
		StorageKey: "u1/i1.jpg",
		Status:     model.StatusUploaded,
		FileSize:   &size,
		OccurredAt: "2024-05-01T10:00:00.000000Z",
	}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "image-events", msg.Topic)
	require.Equal(t, "u1", string(msg.Key))
	require.Equal(t, "event_type", msg.Headers[0].Key)
	require.Equal(t, "image.uploaded", string(msg.Headers[0].Value))

	var got model.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, event, got)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{err: errors.New("leader not available")}
	p := events.NewKafkaPublisher(w, "image-events")

	err := p.Publish(context.Background(), model.Event{Type: model.EventPending, OwnerID: "u1"})
	require.ErrorContains(t, err, "leader not available")
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()
	require.NoError(t, events.Nop{}.Publish(context.Background(), model.Event{}))
	require.NoError(t, events.Nop{}.Close())
}
