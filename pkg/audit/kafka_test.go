package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages  []kafka.Message
	failUntil int // fail the first N writes
	calls     int
	closed    bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.calls <= f.failUntil {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkAppend(t *testing.T) {
	fw := &fakeWriter{}
	sink := &KafkaSink{writer: fw, maxAttempts: 3, backoffBase: time.Millisecond}

	e := Entry{ID: "e-1", Sequence: 1, Subject: "action/x", Timestamp: testBase, Payload: []byte(`{}`)}
	require.NoError(t, sink.Append(context.Background(), e))

	require.Len(t, fw.messages, 1)
	assert.Equal(t, []byte("action/x"), fw.messages[0].Key)
	assert.Equal(t, testBase, fw.messages[0].Time)
}

func TestKafkaSinkRetriesTransientFailure(t *testing.T) {
	fw := &fakeWriter{failUntil: 2}
	sink := &KafkaSink{writer: fw, maxAttempts: 3, backoffBase: time.Millisecond}

	e := Entry{ID: "e-1", Sequence: 1, Subject: "action/x", Payload: []byte(`{}`)}
	require.NoError(t, sink.Append(context.Background(), e))
	assert.Equal(t, 3, fw.calls)
	assert.Len(t, fw.messages, 1)
}

func TestKafkaSinkGivesUpAfterMaxAttempts(t *testing.T) {
	fw := &fakeWriter{failUntil: 10}
	sink := &KafkaSink{writer: fw, maxAttempts: 2, backoffBase: time.Millisecond}

	e := Entry{ID: "e-1", Sequence: 1, Subject: "action/x", Payload: []byte(`{}`)}
	err := sink.Append(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, 2, fw.calls)
}

func TestKafkaSinkConfigValidation(t *testing.T) {
	_, err := NewKafkaSink(KafkaSinkConfig{Topic: "audit"})
	assert.Error(t, err)

	_, err = NewKafkaSink(KafkaSinkConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "audit"})
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}
