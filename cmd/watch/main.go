// Package main prints custody events from a running server's websocket feed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/feed"
)

func main() {
	endpoint := flag.String("endpoint", "ws://localhost:8080/v1/feed", "feed websocket URL")
	collectionID := flag.String("collection", "", "only events of this collection")
	swapID := flag.String("swap", "", "only events of this swap")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := feed.Subscribe(ctx, *endpoint, feed.Filter{
		CollectionID: *collectionID,
		SwapID:       *swapID,
	}, nil, logger)
	if err != nil {
		logger.WithError(err).Fatal("subscribe")
	}
	defer sub.Close()

	logger.WithField("endpoint", *endpoint).Info("watching custody events")

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := enc.Encode(e); err != nil {
				logger.WithError(err).Error("write event")
				return
			}
		}
	}
}
