package volume

import (
	"github.com/annel0/tilegrid/internal/tween"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики объёма
type Metrics struct {
	taps           prometheus.Counter
	exitTaps       prometheus.Counter
	relayouts      prometheus.Counter
	enabledSlots   prometheus.Gauge
	activeTweens   prometheus.Gauge
	tweensStarted  prometheus.Counter
	tweensDone     prometheus.Counter
	tweensCanceled prometheus.Counter

	prev tween.Stats
}

// NewMetrics создаёт и регистрирует метрики с меткой volume
func NewMetrics(reg prometheus.Registerer, volumeID string) (*Metrics, error) {
	labels := prometheus.Labels{"volume": volumeID}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tilegrid", Subsystem: "volume", Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tilegrid", Subsystem: "volume", Name: name, Help: help, ConstLabels: labels,
		})
	}

	m := &Metrics{
		taps:           counter("taps_total", "Нажатия на тайлы"),
		exitTaps:       counter("exit_taps_total", "Отпускания тайлов"),
		relayouts:      counter("relayouts_total", "Перестройки сетки"),
		enabledSlots:   gauge("enabled_slots", "Включенные слоты после последней перестройки"),
		activeTweens:   gauge("active_tweens", "Активные твины"),
		tweensStarted:  counter("tweens_started_total", "Запущенные твины"),
		tweensDone:     counter("tweens_completed_total", "Завершенные твины"),
		tweensCanceled: counter("tweens_canceled_total", "Отмененные твины"),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.taps, m.exitTaps, m.relayouts, m.enabledSlots,
			m.activeTweens, m.tweensStarted, m.tweensDone, m.tweensCanceled,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// observeTweens переносит приращения счетчиков планировщика
func (m *Metrics) observeTweens(st tween.Stats) {
	if d := st.Started - m.prev.Started; d > 0 {
		m.tweensStarted.Add(float64(d))
	}
	if d := st.Completed - m.prev.Completed; d > 0 {
		m.tweensDone.Add(float64(d))
	}
	if d := st.Canceled - m.prev.Canceled; d > 0 {
		m.tweensCanceled.Add(float64(d))
	}
	m.activeTweens.Set(float64(st.Active))
	m.prev = st
}

func (m *Metrics) tap() {
	if m != nil {
		m.taps.Inc()
	}
}

func (m *Metrics) exitTap() {
	if m != nil {
		m.exitTaps.Inc()
	}
}

func (m *Metrics) relayout(enabled int) {
	if m != nil {
		m.relayouts.Inc()
		m.enabledSlots.Set(float64(enabled))
	}
}

func (m *Metrics) tweens(st tween.Stats) {
	if m != nil {
		m.observeTweens(st)
	}
}
