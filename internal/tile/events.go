package tile

import "sync"

// EntityRef ссылка на взаимодействующий объект (рука, контроллер, курсор)
type EntityRef string

// TapEvent отправляется на каждый вызов Tap, независимо от флагов
type TapEvent struct {
	Interactor EntityRef
	Tile       *Tile
}

// ExitTapEvent отправляется на каждый вызов ExitTap, независимо от флагов
type ExitTapEvent struct {
	Tile *Tile
}

// Observer получает события тайла синхронно, до запуска анимаций
type Observer interface {
	OnTap(ev TapEvent)
	OnExitTap(ev ExitTapEvent)
}

// ObserverFuncs адаптер функций к Observer; nil-поля игнорируются
type ObserverFuncs struct {
	Tap     func(ev TapEvent)
	ExitTap func(ev ExitTapEvent)
}

func (f ObserverFuncs) OnTap(ev TapEvent) {
	if f.Tap != nil {
		f.Tap(ev)
	}
}

func (f ObserverFuncs) OnExitTap(ev ExitTapEvent) {
	if f.ExitTap != nil {
		f.ExitTap(ev)
	}
}

// Subscription возвращается при подписке; позволяет отписаться
type Subscription interface {
	Unsubscribe()
}

type observerEntry struct {
	id       int
	observer Observer
}

// observerSet упорядоченный набор наблюдателей
type observerSet struct {
	entries []observerEntry
	nextID  int
}

func (set *observerSet) add(o Observer) int {
	set.nextID++
	set.entries = append(set.entries, observerEntry{id: set.nextID, observer: o})
	return set.nextID
}

func (set *observerSet) remove(id int) bool {
	for i, e := range set.entries {
		if e.id == id {
			set.entries = append(set.entries[:i], set.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot копия: наблюдатель может отписаться внутри обработчика
func (set *observerSet) snapshot() []Observer {
	out := make([]Observer, len(set.entries))
	for i, e := range set.entries {
		out[i] = e.observer
	}
	return out
}

func (set *observerSet) len() int { return len(set.entries) }

type subscription struct {
	tile *Tile
	id   int
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.tile.observers.remove(s.id)
	})
}
