package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecord struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ackRecord{tag: tag, acked: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) byTag() map[uint64]ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]ackRecord, len(f.records))
	for _, r := range f.records {
		out[r.tag] = r
	}
	return out
}

func TestHandleDelivery(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		wantAck     bool
		wantRequeue bool
	}{
		{"success acks", nil, true, false},
		{"transient error requeues", errors.New("s3 unavailable"), false, true},
		{"permanent error drops", Permanent(errors.New("bad payload")), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			msg := amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{}`)}

			handleDelivery(context.Background(), msg, func(ctx context.Context, body []byte) error {
				return tt.handlerErr
			})

			rec, ok := ack.byTag()[7]
			require.True(t, ok)
			assert.Equal(t, tt.wantAck, rec.acked)
			assert.Equal(t, tt.wantRequeue, rec.requeue)
		})
	}
}

func TestDispatch_ProcessesAllAndStopsOnCancel(t *testing.T) {
	ack := &fakeAcknowledger{}
	msgs := make(chan amqp.Delivery, 10)
	for i := 1; i <= 10; i++ {
		msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	handled := 0
	done := make(chan error, 1)
	go func() {
		done <- dispatch(ctx, msgs, 3, func(ctx context.Context, body []byte) error {
			mu.Lock()
			handled++
			if handled == 10 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancel")
	}

	assert.Len(t, ack.byTag(), 10)
}

func TestDispatch_ClosedChannel(t *testing.T) {
	msgs := make(chan amqp.Delivery)
	close(msgs)

	err := dispatch(context.Background(), msgs, 2, func(ctx context.Context, body []byte) error { return nil })

	assert.ErrorIs(t, err, ErrDeliveriesClosed)
}

func TestDecodeTask(t *testing.T) {
	task, err := DecodeTask([]byte(`{"task_id":"t1","chat_id":42,"file_id":"f1","content_type":"audio/mpeg"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", task.TaskID)
	assert.Equal(t, int64(42), task.ChatID)
	assert.Equal(t, "audio/mpeg", task.ContentType)

	_, err = DecodeTask([]byte(`not json`))
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = DecodeTask([]byte(`{"chat_id":42}`))
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
