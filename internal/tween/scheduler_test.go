package tween

import (
	"io"
	"testing"
	"time"

	"github.com/annel0/tilegrid/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(logging.NewWriterLogger("tween", io.Discard, logging.ERROR))
}

// floatTarget цель твина для тестов
type floatTarget struct {
	value  float64
	writes []float64
}

func (ft *floatTarget) set(v float64) {
	ft.value = v
	ft.writes = append(ft.writes, v)
}

func startFloat(s *Scheduler, key Key, target *floatTarget, from, to float64, d time.Duration, done func()) {
	Start(s, Spec[float64]{
		Key:        key,
		From:       from,
		To:         to,
		Duration:   d,
		Lerp:       LerpFloat,
		Apply:      target.set,
		OnComplete: done,
	})
}

func TestSchedulerReachesExactEndpoint(t *testing.T) {
	s := newTestScheduler()
	target := &floatTarget{}
	key := Key{Owner: "tile-1", Kind: KindScale}
	completed := 0

	startFloat(s, key, target, 1, 1.3, 300*time.Millisecond, func() { completed++ })

	assert.Equal(t, 1.0, target.value, "значение From пишется при запуске")
	assert.True(t, s.Active(key))

	// Шаг, не кратный длительности: последний тик перескакивает конец
	for i := 0; i < 20 && s.Active(key); i++ {
		s.Advance(70 * time.Millisecond)
		assert.GreaterOrEqual(t, target.value, 1.0)
		assert.LessOrEqual(t, target.value, 1.3)
	}

	assert.False(t, s.Active(key))
	assert.Equal(t, 1.3, target.value)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerInterpolatesLinearly(t *testing.T) {
	s := newTestScheduler()
	target := &floatTarget{}
	key := Key{Owner: "a", Kind: KindScale}

	startFloat(s, key, target, 0, 10, time.Second, nil)
	s.Advance(250 * time.Millisecond)
	assert.InDelta(t, 2.5, target.value, 1e-9)
	s.Advance(250 * time.Millisecond)
	assert.InDelta(t, 5.0, target.value, 1e-9)
}

func TestSchedulerRestartKeepsSingleTween(t *testing.T) {
	s := newTestScheduler()
	target := &floatTarget{}
	key := Key{Owner: "tile-1", Kind: KindScale}
	var firstDone, secondDone int

	startFloat(s, key, target, 1, 2, time.Second, func() { firstDone++ })
	s.Advance(500 * time.Millisecond)
	mid := target.value

	startFloat(s, key, target, mid, 1, time.Second, func() { secondDone++ })
	assert.Equal(t, 1, s.Len())

	s.Advance(2 * time.Second)

	assert.Equal(t, 0, firstDone, "отмененный твин не завершается")
	assert.Equal(t, 1, secondDone)
	assert.Equal(t, 1.0, target.value)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.Started)
	assert.Equal(t, uint64(1), st.Completed)
	assert.Equal(t, uint64(1), st.Canceled)
}

func TestSchedulerCancelLeavesValue(t *testing.T) {
	s := newTestScheduler()
	target := &floatTarget{}
	key := Key{Owner: "tile-1", Kind: KindColor}

	startFloat(s, key, target, 0, 1, time.Second, nil)
	s.Advance(400 * time.Millisecond)
	before := target.value
	writes := len(target.writes)

	require.True(t, s.Cancel(key))
	assert.False(t, s.Cancel(key))

	s.Advance(time.Second)
	assert.Equal(t, before, target.value)
	assert.Len(t, target.writes, writes)
}

func TestSchedulerZeroDurationJumpsOnNextTick(t *testing.T) {
	s := newTestScheduler()
	target := &floatTarget{}
	key := Key{Owner: "tile-1", Kind: KindScale}

	startFloat(s, key, target, 1, 5, 0, nil)
	assert.Equal(t, 1.0, target.value)

	s.Advance(0)
	assert.Equal(t, 5.0, target.value)
	assert.False(t, s.Active(key))
}

func TestSchedulerIndependentKeys(t *testing.T) {
	s := newTestScheduler()
	scale, color, other := &floatTarget{}, &floatTarget{}, &floatTarget{}

	startFloat(s, Key{Owner: "a", Kind: KindScale}, scale, 0, 1, time.Second, nil)
	startFloat(s, Key{Owner: "a", Kind: KindColor}, color, 0, 1, 2*time.Second, nil)
	startFloat(s, Key{Owner: "b", Kind: KindScale}, other, 0, 1, time.Second, nil)
	assert.Equal(t, 3, s.Len())

	s.Advance(time.Second)
	assert.Equal(t, 1.0, scale.value)
	assert.Equal(t, 0.5, color.value)
	assert.Equal(t, 1.0, other.value)
	assert.Equal(t, 1, s.Len())

	assert.Equal(t, 1, s.CancelOwner("a"))
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerCallbackMayRestart(t *testing.T) {
	s := newTestScheduler()
	target := &floatTarget{}
	key := Key{Owner: "loop", Kind: KindScale}

	startFloat(s, key, target, 0, 1, 100*time.Millisecond, func() {
		startFloat(s, key, target, 1, 0, 100*time.Millisecond, nil)
	})

	s.Advance(100 * time.Millisecond)
	assert.True(t, s.Active(key), "твин, запущенный из OnComplete, остается активным")
	assert.Equal(t, 1.0, target.value)

	s.Advance(100 * time.Millisecond)
	assert.Equal(t, 0.0, target.value)
}

func TestSample(t *testing.T) {
	assert.Equal(t, 1.0, Sample(1.0, 2.0, LerpFloat, 0, time.Second))
	assert.Equal(t, 2.0, Sample(1.0, 2.0, LerpFloat, time.Second, time.Second))
	assert.Equal(t, 2.0, Sample(1.0, 2.0, LerpFloat, 5*time.Second, time.Second))
	assert.Equal(t, 2.0, Sample(1.0, 2.0, LerpFloat, 0, 0))
}
