package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorsim/broker/brokertest"
	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/pkg/latch"
)

// fastProfile ticks every 10ms.
var fastProfile = Profile{Min: -20, Max: 50, Rate: 6000}

var testIdentity = Identity{ID: "65f0c1", Category: "Temperature", DisplayName: "temp#1"}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runAsync(ctx context.Context, task *Task, mode Mode) <-chan error {
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx, mode) }()
	return done
}

func waitDone(t *testing.T, done <-chan error, within time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(within):
		t.Fatalf("task did not exit within %v", within)
		return nil
	}
}

func TestTask_SingleShot(t *testing.T) {
	rec := brokertest.NewRecorder()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	task := NewTask(testIdentity, fastProfile, rec, nil,
		WithQueue("readings"),
		WithClock(func() time.Time { return at }),
	)

	start := time.Now()
	require.NoError(t, task.Run(context.Background(), SingleShot(42.5)))
	assert.Less(t, time.Since(start), fastProfile.Period(), "no initial delay")

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "readings", msgs[0].Queue)
	assert.JSONEq(t, `{"sensorId":"65f0c1","value":42.5,"timestamp":"2024-01-02T03:04:05Z"}`, string(msgs[0].Payload))
}

func TestTask_SingleShotIgnoresStopLatch(t *testing.T) {
	rec := brokertest.NewRecorder()
	stop := latch.New()
	stop.Set()

	task := NewTask(testIdentity, fastProfile, rec, stop)
	require.NoError(t, task.Run(context.Background(), SingleShot(1)))
	assert.Equal(t, 1, rec.Count())
}

func TestTask_SingleShotFailure(t *testing.T) {
	rec := brokertest.NewRecorder()
	rec.FailAlways(stderrors.New("connection refused"))

	err := NewTask(testIdentity, fastProfile, rec, nil).Run(context.Background(), SingleShot(3))

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPublish)
	assert.Equal(t, 1, rec.Calls(), "single shot never retries")
}

func TestTask_ContinuousRequiresLatch(t *testing.T) {
	err := NewTask(testIdentity, fastProfile, brokertest.NewRecorder(), nil).Run(context.Background(), Continuous())
	assert.True(t, errors.IsInvalid(err))
}

func TestTask_ContinuousPublishesUntilStopped(t *testing.T) {
	rec := brokertest.NewRecorder()
	stop := latch.New()
	buf := &syncBuffer{}
	task := NewTask(testIdentity, fastProfile, rec, stop, WithLogger(testLogger(buf)))

	done := runAsync(context.Background(), task, Continuous())

	require.Eventually(t, func() bool { return rec.Count() >= 3 }, 2*time.Second, time.Millisecond)

	stop.Set()
	require.NoError(t, waitDone(t, done, fastProfile.Period()+500*time.Millisecond))

	after := rec.Count()
	time.Sleep(3 * fastProfile.Period())
	assert.Equal(t, after, rec.Count(), "no publishes after exit")

	for _, m := range rec.Messages() {
		var r struct {
			SensorID string  `json:"sensorId"`
			Value    float64 `json:"value"`
		}
		require.NoError(t, json.Unmarshal(m.Payload, &r))
		assert.Equal(t, "65f0c1", r.SensorID)
		assert.GreaterOrEqual(t, r.Value, fastProfile.Min)
		assert.LessOrEqual(t, r.Value, fastProfile.Max)
	}

	logs := buf.String()
	assert.Contains(t, logs, "Sent from sensor")
	assert.Contains(t, logs, "Stopping simulation for sensor")
}

func TestTask_StopInterruptsLongSleep(t *testing.T) {
	rec := brokertest.NewRecorder()
	stop := latch.New()
	slow := Profile{Min: 0, Max: 1, Rate: 0.01} // 100 minute period

	task := NewTask(testIdentity, slow, rec, stop, WithRandom(func() float64 { return 0 }))
	done := runAsync(context.Background(), task, Continuous())

	require.Eventually(t, func() bool { return rec.Count() == 1 }, time.Second, time.Millisecond)
	stop.Set()

	require.NoError(t, waitDone(t, done, time.Second))
	assert.Equal(t, 1, rec.Count())
}

func TestTask_UnrepresentablePeriodDoesNotSpin(t *testing.T) {
	rec := brokertest.NewRecorder()
	stop := latch.New()
	glacial := Profile{Min: 0, Max: 1, Rate: 1e-9}

	for _, u := range []float64{0, 0.5, math.Nextafter(1, 0)} {
		d := initialDelay(glacial.Period(), u)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}

	task := NewTask(testIdentity, glacial, rec, stop, WithRandom(func() float64 { return 0 }))
	done := runAsync(context.Background(), task, Continuous())

	time.Sleep(50 * time.Millisecond)
	stop.Set()
	require.NoError(t, waitDone(t, done, time.Second))
	assert.Equal(t, 1, rec.Calls(), "one publish, then a sleep that outlasts the test")
}

func TestTask_StoppedBeforeRun(t *testing.T) {
	rec := brokertest.NewRecorder()
	stop := latch.New()
	stop.Set()

	task := NewTask(testIdentity, fastProfile, rec, stop, WithRandom(func() float64 { return 0 }))
	require.NoError(t, task.Run(context.Background(), Continuous()))
	assert.Zero(t, rec.Calls())
}

func TestTask_InitialDelayWithinPeriod(t *testing.T) {
	rec := brokertest.NewRecorder()
	stop := latch.New()
	profile := Profile{Min: 0, Max: 1, Rate: 600} // 100ms period

	// 0.5 of the period: first publish lands around 50ms.
	task := NewTask(testIdentity, profile, rec, stop, WithRandom(func() float64 { return 0.5 }))
	start := time.Now()
	done := runAsync(context.Background(), task, Continuous())

	msg := <-rec.Published()
	elapsed := time.Since(start)
	stop.Set()
	require.NoError(t, waitDone(t, done, time.Second))

	assert.Equal(t, "65f0c1", msg.SensorID())
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, profile.Period()+50*time.Millisecond)
}

func TestTask_PublishFailureRetriesOnNextTick(t *testing.T) {
	rec := brokertest.NewRecorder()
	rec.FailNext(2, stderrors.New("channel closed"))
	stop := latch.New()
	buf := &syncBuffer{}
	profile := Profile{Min: 0, Max: 1, Rate: 1200} // 50ms period

	task := NewTask(testIdentity, profile, rec, stop,
		WithLogger(testLogger(buf)),
		WithRandom(func() float64 { return 0 }),
	)
	start := time.Now()
	done := runAsync(context.Background(), task, Continuous())

	<-rec.Published()
	elapsed := time.Since(start)
	stop.Set()
	require.NoError(t, waitDone(t, done, time.Second))

	assert.Equal(t, 3, rec.Calls(), "two failures then one success")
	assert.GreaterOrEqual(t, elapsed, 2*profile.Period(), "each retry waits a full period")
	assert.Contains(t, buf.String(), "will retry next tick")
}

func TestTask_FailureAfterStopExitsSilently(t *testing.T) {
	rec := brokertest.NewRecorder()
	rec.BlockUntilCanceled()
	stop := latch.New()
	buf := &syncBuffer{}

	task := NewTask(testIdentity, fastProfile, rec, stop,
		WithLogger(testLogger(buf)),
		WithRandom(func() float64 { return 0 }),
	)
	done := runAsync(context.Background(), task, Continuous())

	require.Eventually(t, func() bool { return rec.Calls() == 1 }, time.Second, time.Millisecond)
	stop.Set()

	require.NoError(t, waitDone(t, done, time.Second))
	assert.Equal(t, 1, rec.Calls())
	assert.Zero(t, rec.Outstanding(), "in-flight publish released")
	assert.NotContains(t, buf.String(), "will retry")
}

func TestTask_ParentContextCancellation(t *testing.T) {
	rec := brokertest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	task := NewTask(testIdentity, fastProfile, rec, latch.New())
	done := runAsync(ctx, task, Continuous())

	cancel()
	require.NoError(t, waitDone(t, done, time.Second))
}

func TestMode(t *testing.T) {
	assert.False(t, Continuous().IsSingleShot())
	assert.True(t, SingleShot(0).IsSingleShot())
}
