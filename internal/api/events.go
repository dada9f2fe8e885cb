package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/tilegrid/internal/eventbus"
	"github.com/annel0/tilegrid/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer = 256
	writeTimeout = 5 * time.Second
)

// EventStream отдаёт события шины в websocket текстовыми JSON-кадрами.
// Query-параметр type (повторяемый) ограничивает типы событий.
type EventStream struct {
	bus      eventbus.EventBus
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewEventStream(bus eventbus.EventBus, log *logging.Logger) *EventStream {
	return &EventStream{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (es *EventStream) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := es.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []byte, streamBuffer)
	filter := eventbus.Filter{Types: r.URL.Query()["type"]}
	sub, err := es.bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
			// медленный клиент: событие пропускается
		}
	})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(time.Second))
		return
	}
	defer sub.Unsubscribe()

	if !es.track(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer es.untrack(conn)

	es.log.Debug("WS клиент %s подписан (типы: %v)", r.RemoteAddr, filter.Types)

	// Writer goroutine.
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: входящие сообщения игнорируются, ошибка чтения значит, что клиент ушёл.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	es.log.Debug("WS клиент %s отключен", r.RemoteAddr)
}

// Close закрывает все открытые соединения
func (es *EventStream) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.closed = true
	for conn := range es.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	es.conns = map[*websocket.Conn]struct{}{}
}

// Clients число подключенных клиентов
func (es *EventStream) Clients() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.conns)
}

func (es *EventStream) track(conn *websocket.Conn) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return false
	}
	es.conns[conn] = struct{}{}
	return true
}

func (es *EventStream) untrack(conn *websocket.Conn) {
	es.mu.Lock()
	delete(es.conns, conn)
	es.mu.Unlock()
}
