// wstap subscribes to a running broadcaster's /ws endpoint and streams
// received frames to the console. Useful for smoke-testing the broadcast
// hub without a dashboard.
//
// Usage: go run ./cmd/wstap --url ws://localhost:8000/ws
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "broadcast endpoint")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url)

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	var frames, bytes int64
	byType := make(map[string]int64)
	start := time.Now()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"frames", frames,
					"bytes", bytes,
					"uptime", time.Since(start).Round(time.Second),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("read failed", "error", err)
			os.Exit(1)
		}
		frames++
		bytes += int64(len(data))

		var frame struct {
			Type      string          `json:"type"`
			Data      json.RawMessage `json:"data"`
			Timestamp float64         `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("unparseable frame", "error", err, "size", len(data))
			continue
		}
		byType[frame.Type]++

		if *verbose {
			var pretty json.RawMessage = data
			if out, err := json.MarshalIndent(json.RawMessage(data), "", "  "); err == nil {
				pretty = out
			}
			fmt.Printf("[%s] %s\n", frame.Type, pretty)
		} else {
			fmt.Printf("[%s] size=%d count=%d\n", frame.Type, len(data), byType[frame.Type])
		}
	}

	logger.Info("done", "frames", frames, "bytes", bytes)
}
