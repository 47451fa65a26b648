// Package events delivers committed custody events to downstream sinks.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/observability"
	"solana-nft-custody/internal/storage"
)

// Publisher receives events after the transaction that produced them commits.
// A publish failure never undoes the committed operation.
type Publisher interface {
	Publish(ctx context.Context, events []*domain.CustodyEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []*domain.CustodyEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, events []*domain.CustodyEvent) error {
	return f(ctx, events)
}

// Nop discards events.
var Nop Publisher = PublisherFunc(func(context.Context, []*domain.CustodyEvent) error { return nil })

type sink struct {
	name string
	pub  Publisher
}

// Fanout publishes to every registered sink in registration order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []sink
}

// NewFanout creates an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a named sink.
func (f *Fanout) Add(name string, p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink{name: name, pub: p})
}

// Publish delivers events to all sinks. One failing sink does not stop the
// others; the returned error joins every failure.
func (f *Fanout) Publish(ctx context.Context, events []*domain.CustodyEvent) error {
	if len(events) == 0 {
		return nil
	}

	f.mu.RLock()
	sinks := append([]sink(nil), f.sinks...)
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		err := s.pub.Publish(ctx, events)
		observability.RecordPublish(s.name, len(events), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// StoreSink appends events to the analytics store.
type StoreSink struct {
	store storage.FeeReportStore
}

// NewStoreSink creates a sink over a fee report store.
func NewStoreSink(store storage.FeeReportStore) *StoreSink {
	return &StoreSink{store: store}
}

// Publish inserts events. Events already present are not an error, so
// redelivery is harmless.
func (s *StoreSink) Publish(ctx context.Context, events []*domain.CustodyEvent) error {
	err := s.store.InsertBulk(ctx, events)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}

var (
	_ Publisher = (*Fanout)(nil)
	_ Publisher = (*StoreSink)(nil)
)
