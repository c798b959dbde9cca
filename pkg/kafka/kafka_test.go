package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeDLQ struct {
	msgs   []kafka.Message
	causes []error
}

func (d *fakeDLQ) Publish(_ context.Context, msg kafka.Message, lastErr error, _ string) error {
	d.msgs = append(d.msgs, msg)
	d.causes = append(d.causes, lastErr)
	return nil
}

func header(msg kafka.Message, key string) string {
	return HeaderCarrier{Headers: &msg.Headers}.Get(key)
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("account.registered", "acc-1", "account", "authservice", map[string]string{"email": "a@b.co"})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, 1, ev.Version)
	assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Second)

	raw, err := ev.WithCorrelationID("corr").WithMetadata("k", "v").Marshal()
	require.NoError(t, err)

	back, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "corr", back.CorrelationID)
	assert.Equal(t, "v", back.Metadata["k"])

	var data map[string]string
	require.NoError(t, back.UnmarshalData(&data))
	assert.Equal(t, "a@b.co", data["email"])

	_, err = NewEvent("x", "1", "t", "s", make(chan int))
	assert.Error(t, err)
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	_, err := UnmarshalEvent([]byte("{not json"))
	assert.Error(t, err)

	_, err = UnmarshalEvent([]byte(`{"event_id":"1"}`))
	assert.ErrorContains(t, err, "missing event_type")
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "authservice.account.registered", Topic("account", "registered"))
	assert.Equal(t, "authservice.dlq.authservice.mail.requested", DLQTopic("authservice.mail.requested"))
}

func TestHeaderCarrier(t *testing.T) {
	var headers []kafka.Header
	c := HeaderCarrier{Headers: &headers}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("tracestate", "x=1")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "tracestate"}, c.Keys())
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: discardLogger()}

	ev, err := NewEvent("account.verified", "acc-7", "account", "authservice", struct{}{})
	require.NoError(t, err)
	ev.WithCorrelationID("corr-7")

	require.NoError(t, p.Publish(context.Background(), "authservice.account.verified", ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "acc-7", string(msg.Key))
	assert.Equal(t, "account.verified", header(msg, "event_type"))
	assert.Equal(t, "corr-7", header(msg, "correlation_id"))
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &Producer{writer: w, logger: discardLogger()}

	ev, _ := NewEvent("account.verified", "acc-7", "account", "authservice", nil)
	before := testutil.ToFloat64(ProducerPublishErrors.WithLabelValues("t-err"))

	err := p.Publish(context.Background(), "t-err", ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
	assert.Equal(t, before+1, testutil.ToFloat64(ProducerPublishErrors.WithLabelValues("t-err")))
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	assert.Error(t, PingBrokers(context.Background(), nil))
}

func TestDLQProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	d := &DLQProducer{writer: w, logger: discardLogger()}

	orig := kafka.Message{Topic: "authservice.mail.requested", Partition: 2, Offset: 42, Key: []byte("k"), Value: []byte("v")}
	require.NoError(t, d.Publish(context.Background(), orig, errors.New("smtp 550"), "mailworker"))

	require.Len(t, w.msgs, 1)
	got := w.msgs[0]
	assert.Equal(t, "authservice.dlq.authservice.mail.requested", got.Topic)
	assert.Equal(t, "42", header(got, "dlq.original_offset"))
	assert.Equal(t, "2", header(got, "dlq.original_partition"))
	assert.Equal(t, "smtp 550", header(got, "dlq.error"))
	assert.Equal(t, "mailworker", header(got, "dlq.consumer_group"))
}

func newTestConsumer(handler Handler, dlq DeadLetterPublisher) *Consumer {
	c := newConsumer(nil, "topic", "group", handler, dlq, discardLogger())
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func encoded(t *testing.T) kafka.Message {
	t.Helper()
	ev, err := NewEvent("mail.requested", "acc-1", "account", "authservice", map[string]string{"to": "a@b.co"})
	require.NoError(t, err)
	raw, err := ev.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: "topic", Value: raw}
}

func TestConsumer_ProcessRetriesThenSucceeds(t *testing.T) {
	calls := 0
	dlq := &fakeDLQ{}
	c := newTestConsumer(func(context.Context, *Event) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, dlq)

	require.NoError(t, c.process(context.Background(), encoded(t)))
	assert.Equal(t, 3, calls)
	assert.Empty(t, dlq.msgs)
}

func TestConsumer_ProcessExhaustedGoesToDLQ(t *testing.T) {
	dlq := &fakeDLQ{}
	c := newTestConsumer(func(context.Context, *Event) error { return errors.New("smtp down") }, dlq)

	require.NoError(t, c.process(context.Background(), encoded(t)))
	require.Len(t, dlq.msgs, 1)
	assert.EqualError(t, dlq.causes[0], "smtp down")
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	calls := 0
	dlq := &fakeDLQ{}
	c := newTestConsumer(func(context.Context, *Event) error {
		calls++
		return fmt.Errorf("bad recipient: %w", ErrPermanent)
	}, dlq)

	require.NoError(t, c.process(context.Background(), encoded(t)))
	assert.Equal(t, 1, calls)
	assert.Len(t, dlq.msgs, 1)
}

func TestConsumer_MalformedMessageDeadLettered(t *testing.T) {
	dlq := &fakeDLQ{}
	c := newTestConsumer(func(context.Context, *Event) error {
		t.Fatal("handler must not run")
		return nil
	}, dlq)

	require.NoError(t, c.process(context.Background(), kafka.Message{Value: []byte("garbage")}))
	assert.Len(t, dlq.msgs, 1)
}

func TestConsumer_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestConsumer(func(context.Context, *Event) error {
		cancel()
		return errors.New("fail")
	}, nil)
	c.backoff = func(int) time.Duration { return time.Hour }

	assert.Error(t, c.process(ctx, encoded(t)))
}

func idempotencyStores(t *testing.T) map[string]IdempotencyStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]IdempotencyStore{
		"memory": NewMemoryIdempotencyStore(time.Hour),
		"redis":  NewRedisIdempotencyStore(client, "test:processed:", time.Hour),
	}
}

func TestIdempotencyStores(t *testing.T) {
	for name, store := range idempotencyStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			seen, err := store.Contains(ctx, "evt-1")
			require.NoError(t, err)
			assert.False(t, seen)

			require.NoError(t, store.Add(ctx, "evt-1"))

			seen, err = store.Contains(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, seen)
		})
	}
}

func TestRedisIdempotencyStore_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisIdempotencyStore(client, "p:", time.Minute)
	require.NoError(t, store.Add(context.Background(), "evt"))
	assert.True(t, mr.Exists("p:evt"))

	mr.FastForward(2 * time.Minute)
	seen, err := store.Contains(context.Background(), "evt")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryIdempotencyStore_Expires(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Nanosecond)
	require.NoError(t, store.Add(context.Background(), "evt"))
	time.Sleep(time.Millisecond)

	seen, err := store.Contains(context.Background(), "evt")
	require.NoError(t, err)
	assert.False(t, seen)
}

type brokenStore struct{}

func (brokenStore) Contains(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (brokenStore) Add(context.Context, string) error             { return errors.New("redis down") }

func TestIdempotentHandler(t *testing.T) {
	ctx := context.Background()
	calls := 0
	fail := false
	inner := func(context.Context, *Event) error {
		calls++
		if fail {
			return errors.New("boom")
		}
		return nil
	}

	h := IdempotentHandler(NewMemoryIdempotencyStore(time.Hour), inner, discardLogger())

	fail = true
	require.Error(t, h(ctx, &Event{EventID: "e1", EventType: "mail.requested"}))
	fail = false
	require.NoError(t, h(ctx, &Event{EventID: "e1", EventType: "mail.requested"}))
	require.NoError(t, h(ctx, &Event{EventID: "e1", EventType: "mail.requested"}))
	assert.Equal(t, 2, calls, "failed attempt must not mark the event processed")

	require.NoError(t, h(ctx, &Event{EventType: "mail.requested"}))
	assert.Equal(t, 3, calls)

	degraded := IdempotentHandler(brokenStore{}, inner, discardLogger())
	require.NoError(t, degraded(ctx, &Event{EventID: "e2", EventType: "mail.requested"}))
	assert.Equal(t, 4, calls)
}
