// -----------------------------------------------------------------------
// Last Modified: Saturday, 30th August 2026 9:12:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/stream"
)

// runFollow tails the live log feed of a running instance over its
// websocket endpoint, printing batches to stdout and reconnecting with
// backoff when the connection drops.
func runFollow(config *common.Config, logger arbor.ILogger, target string, sources []string) {
	if !strings.HasPrefix(target, "ws://") && !strings.HasPrefix(target, "wss://") {
		target = "ws://" + target
	}
	if !strings.HasSuffix(target, "/ws") {
		target = strings.TrimRight(target, "/") + "/ws"
	}

	connector := func(ctx context.Context, filter stream.Filter) (stream.Feed, error) {
		return stream.DialFeed(ctx, target, filter, logger)
	}

	controller := stream.NewController(connector, logger, stream.ControllerOptions{
		Policy: &stream.BackoffPolicy{
			BaseDelay: common.Duration(config.Reconnect.BaseDelay, stream.DefaultBaseDelay),
			MaxDelay:  common.Duration(config.Reconnect.MaxDelay, stream.DefaultMaxDelay),
		},
		RingSize: config.Stream.RingSize,
		SeedSize: config.Stream.SeedSize,
		OnStatus: printStreamStatus,
		OnBatch:  printLogBatch,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	common.SafeGoWithContext(ctx, logger, "follow-stream", func() {
		controller.Run(ctx, stream.Filter{
			Scope:     stream.ScopeLive,
			SourceIDs: sources,
		})
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	controller.Stop()
}

func printStreamStatus(status stream.Status) {
	switch status.State {
	case stream.StateDisconnected:
		fmt.Fprintf(os.Stderr, "-- disconnected (attempt %d), retrying in %s\n",
			status.Attempt, status.RetryIn.Round(time.Second))
	case stream.StateFailed:
		fmt.Fprintf(os.Stderr, "-- stream failed: %s\n", status.Err)
	case stream.StateOpen:
		fmt.Fprintln(os.Stderr, "-- connected")
	}
}

func printLogBatch(events []models.LogEvent) {
	for _, event := range events {
		fmt.Printf("%s [%s] %s %s\n",
			event.Timestamp.Format("15:04:05.000"),
			strings.ToUpper(event.Level),
			event.SourceTag,
			event.Message)
	}
}
