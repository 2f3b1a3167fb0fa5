// telemetry-tail prints the console's ZeroMQ telemetry stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/zeromq"
)

func main() {
	address := flag.String("address", "tcp://localhost:5560", "console telemetry PUB address")
	topics := flag.String("topics", "", "comma separated topic prefixes (all when empty)")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := customlog.NewWriterLogger(os.Stderr, *level)

	var prefixes []string
	for _, p := range strings.Split(*topics, ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}

	sub, err := zeromq.NewTelemetrySubscriber(*address, logger, prefixes...)
	if err != nil {
		log.Fatalf("Failed to subscribe to %s: %v\n", *address, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = sub.Run(ctx, func(d zeromq.Delivery) {
		ts := time.Unix(0, int64(d.Message.Timestamp*float64(time.Second)))
		fmt.Printf("%s %-24s %-16s %s\n", ts.Format("15:04:05.000"), d.Topic, d.Message.Type, d.Raw)
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Subscriber stopped: %v\n", err)
	}
}
