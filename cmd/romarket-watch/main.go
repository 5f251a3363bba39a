// romarket-watch connects to a romarket stream and prints updates to the console.
// Usage: go run ./cmd/romarket-watch -url ws://localhost:8000/ws -item 엘더윌로우카드 -item 포션@1
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/romarket/internal/connection"
	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "stream URL")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	var watches []connection.Watch
	flag.Func("item", "item to watch, as name or name@server_id (repeatable)", func(s string) error {
		w, err := parseWatch(s)
		if err != nil {
			return err
		}
		watches = append(watches, w)
		return nil
	})
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultWatcherConfig()
	cfg.Client.URL = *url
	cfg.Watches = watches

	watcher := connection.NewWatcher(cfg, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := watcher.Stats()
				logger.Info("stats",
					"connected", stats.Connected,
					"client_id", stats.ClientID,
					"events", stats.Events,
					"dropped", stats.Dropped,
					"reconnects", stats.Reconnects,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "watches", len(watches))

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			watcher.Stop(shutdownCtx)
			shutdownCancel()
			return
		case ev := <-watcher.Events():
			printEvent(ev, *verbose)
		}
	}
}

// parseWatch parses "name" or "name@server_id".
func parseWatch(s string) (connection.Watch, error) {
	name, server := s, "-1"
	if i := strings.LastIndex(s, "@"); i >= 0 {
		name, server = s[:i], s[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return connection.Watch{}, fmt.Errorf("empty item name in %q", s)
	}
	id, err := strconv.Atoi(server)
	if err != nil {
		return connection.Watch{}, fmt.Errorf("invalid server id in %q: %w", s, err)
	}
	return connection.Watch{ItemName: name, ServerID: id}, nil
}

func printEvent(ev connection.Event, verbose bool) {
	ts := ev.ReceivedAt.Format("15:04:05")

	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("%s [%s] %s\n", ts, strings.ToUpper(ev.Type), data)
		return
	}

	switch ev.Type {
	case hub.TypeConnected:
		fmt.Printf("%s [CONNECTED] client_id=%s\n", ts, ev.ClientID)
	case hub.TypeSubscribed, hub.TypeUnsubscribed:
		fmt.Printf("%s [%s] item=%s server=%d\n", ts, strings.ToUpper(ev.Type), ev.ItemName, ev.ServerID)
	case hub.TypeItemUpdate:
		fmt.Printf("%s [ITEM UPDATE] item=%s server=%d deals=%d\n", ts, ev.ItemName, ev.ServerID, len(ev.Deals))
		for _, d := range ev.Deals {
			fmt.Printf("    %-12s %-30s x%-4d %12s z  %s\n", d.ServerName, d.DisplayName, d.Quantity, d.PriceFormatted, d.ShopName)
		}
	case hub.TypeTopUpdate:
		fmt.Printf("%s [TOP5 UPDATE] date=%s\n", ts, ev.Top.Date)
		for _, cat := range model.Categories {
			if items := ev.Top.Category(cat); len(items) > 0 {
				fmt.Printf("    %-10s #1 %s (%d deals)\n", cat.DisplayName(), items[0].ItemName, items[0].ItemCount)
			}
		}
	case hub.TypeStatus:
		if ev.Info == nil {
			fmt.Printf("%s [STATUS]\n", ts)
			return
		}
		fmt.Printf("%s [STATUS] subscriptions=%v\n", ts, ev.Info.Subscriptions)
	case hub.TypeError:
		fmt.Printf("%s [ERROR] %s\n", ts, ev.Message)
	default:
		fmt.Printf("%s [%s]\n", ts, strings.ToUpper(ev.Type))
	}
}
