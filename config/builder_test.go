package config

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpalmerr/flightwatch"
)

func TestBuildFeeds(t *testing.T) {
	cfg := &Config{
		Feeds: []FeedConfig{
			{
				Name:     "heathrow",
				URL:      "https://feeds.example.com/lhr.json",
				Timeout:  Duration(5 * time.Second),
				Interval: Duration(20 * time.Second),
				Headers:  map[string]string{"X-B": "2", "X-A": "1"},
			},
			{Name: "gatwick", URL: "https://feeds.example.com/lgw.json"},
		},
	}

	feeds, err := BuildFeeds(cfg)
	if err != nil {
		t.Fatalf("BuildFeeds() error = %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("len(feeds) = %d, want 2", len(feeds))
	}

	f := feeds[0]
	if f.Name() != "heathrow" || f.URL() != "https://feeds.example.com/lhr.json" {
		t.Errorf("feed = %s %s", f.Name(), f.URL())
	}
	if f.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", f.Timeout())
	}
	if f.Interval() != 20*time.Second {
		t.Errorf("Interval() = %v, want 20s", f.Interval())
	}
	if h := f.Headers(); h["X-A"] != "1" || h["X-B"] != "2" {
		t.Errorf("Headers() = %v", h)
	}

	if feeds[1].Interval() != 0 {
		t.Errorf("default Interval() = %v, want 0", feeds[1].Interval())
	}
}

func TestBuildFeeds_InvalidURL(t *testing.T) {
	// Parse would reject this; BuildFeeds must too
	_, err := BuildFeeds(&Config{Feeds: []FeedConfig{{Name: "bad", URL: "example.com"}}})
	if err == nil {
		t.Error("BuildFeeds() expected error for URL without scheme, got nil")
	}
}

func TestBuildOptions_ProducesWorkingEngine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flights.db")
	yaml := `
port: 19120
feeds:
  - name: heathrow
    url: https://feeds.example.com/lhr.json
store:
  driver: sqlite
  path: ` + dbPath + `
delivery:
  workers: 2
  base_delay: 2s
  shutdown_grace: 0s
sink:
  type: webhook
subscriptions:
  - flight_id: BA117
    endpoint: https://push.example.com/devices/1
    fields: [gate]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts, err := BuildOptions(cfg, logger)
	if err != nil {
		t.Fatalf("BuildOptions() error = %v", err)
	}

	engine, err := flightwatch.New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if engine.Port() != 19120 {
		t.Errorf("Port() = %d, want 19120", engine.Port())
	}
	if len(engine.Feeds()) != 1 {
		t.Errorf("len(Feeds()) = %d, want 1", len(engine.Feeds()))
	}
	subs := engine.Subscriptions("BA117")
	if len(subs) != 1 || len(subs[0].Fields) != 1 || subs[0].Fields[0] != "gate" {
		t.Errorf("Subscriptions() = %+v", subs)
	}

	// sqlite store is live
	if _, ok, err := engine.Flight(context.Background(), "BA117"); err != nil || ok {
		t.Errorf("Flight() = %v, %v, want absent", ok, err)
	}

	// release the database
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = engine.Start(ctx)
}

func TestDeliveryOptions_OnlySetValues(t *testing.T) {
	if got := len(deliveryOptions(DeliveryConfig{})); got != 0 {
		t.Errorf("len(deliveryOptions(zero)) = %d, want 0", got)
	}

	grace := Duration(0)
	got := deliveryOptions(DeliveryConfig{
		Workers:       1,
		MaxDelay:      Duration(time.Minute),
		ShutdownGrace: &grace,
	})
	if len(got) != 3 {
		t.Errorf("len(deliveryOptions()) = %d, want 3", len(got))
	}
}

func TestMapToKeyValuePairs_Sorted(t *testing.T) {
	got := mapToKeyValuePairs(map[string]string{"b": "2", "a": "1", "c": "3"})
	want := []string{"a", "1", "b", "2", "c", "3"}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pairs[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
