package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, msgs...)
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeStore struct {
	mu      sync.Mutex
	pending []Event
	sent    []int64
	failed  map[int64]string
}

func newFakeStore(events ...Event) *fakeStore {
	return &fakeStore{pending: events, failed: map[int64]string{}}
}

func (s *fakeStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	n := batchSize
	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := s.pending[:n]
	s.pending = s.pending[n:]
	return batch, nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = errMsg
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_BuildsMessage(t *testing.T) {
	producer := &fakeProducer{}
	d := NewDispatcher(testLogger(), producer, "reservation.events")

	err := d.Dispatch(context.Background(), Event{
		ID:          1,
		AggregateID: "res-1",
		Type:        "ReservationCreated",
		Payload:     []byte(`{"x":1}`),
		Headers:     map[string]string{"source": "reservation-service"},
		Traceparent: "00-abc-def-01",
	})
	require.NoError(t, err)
	require.Len(t, producer.msgs, 1)

	msg := producer.msgs[0]
	assert.Equal(t, "reservation.events", msg.Topic)
	assert.Equal(t, []byte("res-1"), msg.Key)
	assert.Equal(t, []byte(`{"x":1}`), msg.Value)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "ReservationCreated", headers["event_type"])
	assert.Equal(t, "00-abc-def-01", headers["traceparent"])
	assert.Equal(t, "reservation-service", headers["source"])
}

func TestDispatcher_ProducerError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	d := NewDispatcher(testLogger(), producer, "reservation.events")

	err := d.Dispatch(context.Background(), Event{ID: 1})
	assert.Error(t, err)
}

func TestRelay_MarksSentAndFailed(t *testing.T) {
	producer := &fakeProducer{}
	store := newFakeStore(
		Event{ID: 1, AggregateID: "a", Type: "ReservationCreated"},
		Event{ID: 2, AggregateID: "b", Type: "ReservationReleased"},
	)
	relay := NewRelay(testLogger(), store, NewDispatcher(testLogger(), producer, "t"), "relay-test")

	relay.drainOnce(context.Background())

	assert.Equal(t, 2, producer.count())
	assert.ElementsMatch(t, []int64{1, 2}, store.sent)
	assert.Empty(t, store.failed)
}

func TestRelay_FailedDispatchDoesNotAbortBatch(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	store := newFakeStore(
		Event{ID: 1, AggregateID: "a"},
		Event{ID: 2, AggregateID: "b"},
	)
	relay := NewRelay(testLogger(), store, NewDispatcher(testLogger(), producer, "t"), "relay-test")

	relay.drainOnce(context.Background())

	assert.Empty(t, store.sent)
	assert.Len(t, store.failed, 2)
}

func TestRelay_StopsOnCancel(t *testing.T) {
	store := newFakeStore()
	relay := NewRelay(testLogger(), store, NewDispatcher(testLogger(), &fakeProducer{}, "t"), "relay-test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancel")
	}
}
