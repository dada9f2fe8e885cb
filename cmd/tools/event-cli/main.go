package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/tilegrid/internal/eventbus"
	"github.com/gorilla/websocket"
)

const (
	defaultServerAddr = "http://localhost:8088"
	timeFormat        = "15:04:05.000"
)

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "REST API base URL")
		command    = flag.String("cmd", "tail", "Command: tail, tap, release, server")
		source     = flag.String("source", "ws", "Event source for tail: ws or nats")
		natsURL    = flag.String("nats", "nats://127.0.0.1:4222", "NATS URL for -source nats")
		stream     = flag.String("stream", "TILES", "JetStream stream name")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		tileID     = flag.String("tile", "", "Tile ID for tap/release")
		interactor = flag.String("interactor", "event-cli", "Interactor reference for tap")
		limit      = flag.Int("limit", 0, "Stop after N events (0 = follow)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch *command {
	case "tail":
		opts := TailOptions{EventTypes: parseStringList(*eventTypes), Limit: *limit}
		switch *source {
		case "ws":
			err = tailWebsocket(ctx, *serverAddr, opts)
		case "nats":
			err = tailJetStream(ctx, *natsURL, *stream, opts)
		default:
			err = fmt.Errorf("unknown source %q", *source)
		}

	case "tap":
		err = postTile(*serverAddr, *tileID, "tap", map[string]string{"interactor": *interactor})

	case "release":
		err = postTile(*serverAddr, *tileID, "release", nil)

	case "server":
		err = showServer(*serverAddr)

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, tap, release, server")
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

type TailOptions struct {
	EventTypes []string
	Limit      int
}

// tailWebsocket читает события из /ws/events
func tailWebsocket(ctx context.Context, server string, opts TailOptions) error {
	u, err := url.Parse(server)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/events"
	q := url.Values{}
	for _, t := range opts.EventTypes {
		q.Add("type", t)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	fmt.Printf("🎬 Tailing %s (limit: %d)\n", u, opts.Limit)
	count := 0
	for opts.Limit == 0 || count < opts.Limit {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := eventbus.DecodeEnvelope(msg)
		if err != nil {
			fmt.Printf("⚠️  %v\n", err)
			continue
		}
		printEvent(env)
		count++
	}

	fmt.Printf("\n📊 Total events: %d\n", count)
	return nil
}

// tailJetStream читает события напрямую из стрима
func tailJetStream(ctx context.Context, natsURL, stream string, opts TailOptions) error {
	bus, err := eventbus.NewJetStreamBus(natsURL, stream, 24*time.Hour)
	if err != nil {
		return err
	}
	defer bus.Close()

	events := make(chan *eventbus.Envelope, 64)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: opts.EventTypes}, func(_ context.Context, ev *eventbus.Envelope) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Tailing JetStream %s/%s (limit: %d)\n", natsURL, stream, opts.Limit)
	count := 0
	for opts.Limit == 0 || count < opts.Limit {
		select {
		case <-ctx.Done():
			fmt.Printf("\n📊 Total events: %d\n", count)
			return nil
		case ev := <-events:
			printEvent(ev)
			count++
		}
	}

	fmt.Printf("\n📊 Total events: %d\n", count)
	return nil
}

func postTile(server, id, action string, body interface{}) error {
	if id == "" {
		return fmt.Errorf("-tile is required")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	endpoint := fmt.Sprintf("%s/api/tiles/%s/%s", strings.TrimRight(server, "/"), url.PathEscape(id), action)
	resp, err := http.Post(endpoint, "application/json", reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printResponse(resp)
}

func showServer(server string) error {
	resp, err := http.Get(strings.TrimRight(server, "/") + "/api/server")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Println(string(data))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

// printEvent выводит событие в читаемом формате
func printEvent(env *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		env.Timestamp.Local().Format(timeFormat),
		env.Source,
		env.EventType,
		env.ID)

	// Добавляем детали в зависимости от типа события
	switch env.EventType {
	case eventbus.TypeTileTap:
		var p eventbus.TapPayload
		if env.Decode(&p) == nil {
			fmt.Printf("  Tile: %s Interactor: %s\n", p.TileID, p.Interactor)
		}
	case eventbus.TypeTileExitTap:
		var p eventbus.ExitTapPayload
		if env.Decode(&p) == nil {
			fmt.Printf("  Tile: %s\n", p.TileID)
		}
	case eventbus.TypeGridRebuilt:
		var p eventbus.GridRebuiltPayload
		if env.Decode(&p) == nil {
			fmt.Printf("  Grid: %dx%d assigned=%d enabled=%d\n", p.Columns, p.Rows, p.Assigned, p.Enabled)
		}
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
