package workers

import (
	"chat-app/contract"
	"chat-app/domain"
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

type MessageIndexer interface {
	Index(messages ...domain.Message) error
	Delete(ids ...string) error
}

type IndexCounter interface {
	AddMessagesIndexed(n int)
}

// IndexerWorker mirrors the whole messages collection into the text index.
// The first batch re-indexes the current state, so a restart catches up on its own.
type IndexerWorker struct {
	log     *slog.Logger
	store   contract.IMessageStore
	index   MessageIndexer
	counter IndexCounter
}

func NewIndexerWorker(log *slog.Logger, store contract.IMessageStore, index MessageIndexer, counter IndexCounter) *IndexerWorker {
	return &IndexerWorker{log: log, store: store, index: index, counter: counter}
}

func (w *IndexerWorker) Run(ctx context.Context) error {
	failures := make(chan error, 1)
	subscription, err := w.store.Subscribe(ctx, domain.Query{Order: domain.Asc}, func(batch domain.Batch) {
		if err := w.apply(batch); err != nil {
			select {
			case failures <- err:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to messages: %w", err)
	}
	defer subscription.Stop()

	select {
	case <-ctx.Done():
		w.log.Debug("Context done, stopping indexer")
		return nil
	case err = <-failures:
		return err
	case err = <-subscription.Err():
		return fmt.Errorf("message feed: %w", err)
	}
}

func (w *IndexerWorker) apply(batch domain.Batch) error {
	removed := lo.FilterMap(batch, func(c domain.Change, _ int) (string, bool) {
		return c.Message.ID, c.Type == domain.Removed
	})
	upserted := lo.FilterMap(batch, func(c domain.Change, _ int) (domain.Message, bool) {
		return c.Message, c.Type != domain.Removed
	})

	// Removed first: a replace-all batch removes then re-adds the same ids
	if err := w.index.Delete(removed...); err != nil {
		return fmt.Errorf("deleting %d messages from index: %w", len(removed), err)
	}
	if err := w.index.Index(upserted...); err != nil {
		return err
	}
	if w.counter != nil {
		w.counter.AddMessagesIndexed(len(upserted))
	}
	w.log.Debug("Index updated", "indexed", len(upserted), "removed", len(removed))
	return nil
}
