// Package brokertest provides in-memory and containerized brokers for tests.
package brokertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/c360/sensorsim/broker"
	"github.com/c360/sensorsim/errors"
)

// KindFake labels the in-memory connector in logs and metrics.
const KindFake broker.Kind = "fake"

// Message is one payload accepted by a Recorder
type Message struct {
	Queue   string
	Payload []byte
}

// SensorID decodes the sensorId field of a reading payload.
func (m Message) SensorID() string {
	var r struct {
		SensorID string `json:"sensorId"`
	}
	_ = json.Unmarshal(m.Payload, &r)
	return r.SensorID
}

// Recorder is a Connector that keeps every published payload in memory.
// Failure and blocking behaviour can be scripted per test.
type Recorder struct {
	mu         sync.Mutex
	messages   []Message
	calls      int
	failNext   int
	failErr    error
	failAlways error
	block      bool
	opened     int
	released   int
	published  chan Message
}

// NewRecorder returns an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{published: make(chan Message, 1024)}
}

// Kind returns KindFake
func (r *Recorder) Kind() broker.Kind { return KindFake }

// FailNext makes the next n publishes fail with err.
func (r *Recorder) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
	r.failErr = err
}

// FailAlways makes every publish fail with err; nil restores success.
func (r *Recorder) FailAlways(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAlways = err
}

// BlockUntilCanceled makes publishes hang until their context is done.
func (r *Recorder) BlockUntilCanceled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = true
}

// Publish records payload or fails as scripted. Every call releases what it
// opened, so Outstanding is zero once no publish is in flight.
func (r *Recorder) Publish(ctx context.Context, queue string, payload []byte) error {
	r.mu.Lock()
	r.calls++
	r.opened++
	block := r.block
	var err error
	switch {
	case r.failAlways != nil:
		err = r.failAlways
	case r.failNext > 0:
		r.failNext--
		err = r.failErr
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.released++
		r.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return errors.NewPublishError(string(KindFake), queue, "publish", ctx.Err())
	}
	if err != nil {
		return errors.NewPublishError(string(KindFake), queue, "publish", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.NewPublishError(string(KindFake), queue, "publish", ctxErr)
	}

	msg := Message{Queue: queue, Payload: append([]byte(nil), payload...)}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	select {
	case r.published <- msg:
	default:
	}
	return nil
}

// Published delivers accepted messages as they arrive. It is buffered; once
// full, further messages are only available through Messages.
func (r *Recorder) Published() <-chan Message {
	return r.published
}

// Messages returns a copy of the accepted messages
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Count returns the number of accepted messages
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Calls returns the number of Publish invocations, failed ones included
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Outstanding returns how many publishes have opened but not yet released.
func (r *Recorder) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened - r.released
}

// CountBySensor groups accepted messages by their sensorId.
func (r *Recorder) CountBySensor() map[string]int {
	out := make(map[string]int)
	for _, m := range r.Messages() {
		out[m.SensorID()]++
	}
	return out
}
