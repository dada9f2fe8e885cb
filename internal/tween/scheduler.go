package tween

import (
	"fmt"
	"time"

	"github.com/annel0/tilegrid/internal/logging"
)

// Kind тип анимации тайла
type Kind int

const (
	KindScale Kind = iota
	KindColor
)

func (k Kind) String() string {
	switch k {
	case KindScale:
		return "scale"
	case KindColor:
		return "color"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Key идентифицирует твин: не более одного активного твина на ключ
type Key struct {
	Owner string
	Kind  Kind
}

func (k Key) String() string {
	return k.Owner + "/" + k.Kind.String()
}

// LerpFunc интерполирует между a и b при t в [0,1]
type LerpFunc[T any] func(a, b T, t float64) T

// Spec описывает твин
type Spec[T any] struct {
	Key        Key
	From       T
	To         T
	Duration   time.Duration
	Lerp       LerpFunc[T]
	Apply      func(T) // запись значения в цель
	OnComplete func()  // вызывается после записи To и снятия твина
}

// Stats счетчики планировщика
type Stats struct {
	Started   uint64
	Completed uint64
	Canceled  uint64
	Active    int
}

// track активный твин со стертым типом значения
type track struct {
	key      Key
	seq      uint64
	elapsed  time.Duration
	duration time.Duration
	step     func(t float64)
	finish   func()
	done     func()
}

// Scheduler продвигает твины по тикам кадра.
// Не потокобезопасен: владелец сериализует Start/Cancel/Advance.
type Scheduler struct {
	tracks []*track
	index  map[Key]*track
	seq    uint64
	stats  Stats
	log    *logging.Logger
}

// NewScheduler создаёт пустой планировщик
func NewScheduler(log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.GetTweenLogger()
	}
	return &Scheduler{
		index: make(map[Key]*track),
		log:   log,
	}
}

// Start запускает твин. Активный твин с тем же ключом отменяется, значение
// From записывается сразу.
func Start[T any](s *Scheduler, spec Spec[T]) {
	lerp := spec.Lerp
	apply := spec.Apply
	from, to := spec.From, spec.To

	tr := &track{
		key:      spec.Key,
		duration: spec.Duration,
		step: func(t float64) {
			if apply != nil && lerp != nil {
				apply(lerp(from, to, t))
			}
		},
		finish: func() {
			if apply != nil {
				apply(to)
			}
		},
		done: spec.OnComplete,
	}

	s.start(tr)
	if apply != nil {
		apply(from)
	}
}

func (s *Scheduler) start(tr *track) {
	if s.Cancel(tr.key) {
		s.log.Trace("Твин %s перезапущен", tr.key)
	}

	s.seq++
	tr.seq = s.seq
	s.tracks = append(s.tracks, tr)
	s.index[tr.key] = tr
	s.stats.Started++
}

// Cancel снимает твин по ключу, не трогая текущее значение цели
func (s *Scheduler) Cancel(key Key) bool {
	tr, ok := s.index[key]
	if !ok {
		return false
	}
	s.remove(tr)
	s.stats.Canceled++
	return true
}

// CancelOwner снимает все твины владельца
func (s *Scheduler) CancelOwner(owner string) int {
	n := 0
	for _, k := range []Kind{KindScale, KindColor} {
		if s.Cancel(Key{Owner: owner, Kind: k}) {
			n++
		}
	}
	return n
}

// Active сообщает, есть ли активный твин для ключа
func (s *Scheduler) Active(key Key) bool {
	_, ok := s.index[key]
	return ok
}

// Len число активных твинов
func (s *Scheduler) Len() int { return len(s.tracks) }

// Stats возвращает копию счетчиков
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Active = len(s.tracks)
	return st
}

// Advance продвигает все активные твины на dt в порядке запуска.
// Завершенный твин пишет точное конечное значение, снимается, затем
// вызывается OnComplete. Возвращает число завершенных твинов.
func (s *Scheduler) Advance(dt time.Duration) int {
	if len(s.tracks) == 0 {
		return 0
	}
	if dt < 0 {
		dt = 0
	}

	// Снимок: колбэки могут запускать и отменять твины
	active := make([]*track, len(s.tracks))
	copy(active, s.tracks)

	completed := 0
	for _, tr := range active {
		if s.index[tr.key] != tr {
			continue
		}

		tr.elapsed += dt
		t := progress(tr.elapsed, tr.duration)
		if t < 1 {
			tr.step(t)
			continue
		}

		tr.finish()
		s.remove(tr)
		s.stats.Completed++
		completed++
		s.log.Trace("Твин %s завершен за %s", tr.key, tr.elapsed)

		if tr.done != nil {
			tr.done()
		}
	}
	return completed
}

func (s *Scheduler) remove(tr *track) {
	delete(s.index, tr.key)
	for i, cur := range s.tracks {
		if cur == tr {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return
		}
	}
}

// progress возвращает clamp01(elapsed/duration); duration <= 0 дает 1
func progress(elapsed, duration time.Duration) float64 {
	if duration <= 0 {
		return 1
	}
	t := float64(elapsed) / float64(duration)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Sample значение твина в момент elapsed без планировщика
func Sample[T any](from, to T, lerp LerpFunc[T], elapsed, duration time.Duration) T {
	t := progress(elapsed, duration)
	if t >= 1 {
		return to
	}
	return lerp(from, to, t)
}

// LerpFloat линейная интерполяция скаляров
func LerpFloat(a, b float64, t float64) float64 {
	return a + (b-a)*t
}
