package workers

import (
	"chat-app/contract"
	"chat-app/domain"
	"chat-app/mocks"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeIndex records what the worker asked for.
type fakeIndex struct {
	mu      sync.Mutex
	docs    map[string]domain.Message
	failing bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]domain.Message)}
}

func (f *fakeIndex) Index(messages ...domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("disk full")
	}
	for _, m := range messages {
		f.docs[m.ID] = m
	}
	return nil
}

func (f *fakeIndex) Delete(ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

func (f *fakeIndex) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

type countingIndexed struct {
	mu sync.Mutex
	n  int
}

func (c *countingIndexed) AddMessagesIndexed(n int) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

func TestIndexerWorker_Mirrors_Changes(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageStore(ctrl)
	subscription := mocks.NewMockSubscription(ctrl)
	index := newFakeIndex()
	counter := &countingIndexed{}

	var onBatch func(domain.Batch)
	subscribed := make(chan struct{})
	store.EXPECT().
		Subscribe(gomock.Any(), domain.Query{Order: domain.Asc}, gomock.Any()).
		DoAndReturn(func(ctx context.Context, query domain.Query, fn func(domain.Batch)) (contract.Subscription, error) {
			onBatch = fn
			close(subscribed)
			return subscription, nil
		})
	subscription.EXPECT().Stop().Times(1)
	subscription.EXPECT().Err().Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- NewIndexerWorker(testLog, store, index, counter).Run(ctx) }()
	<-subscribed

	// Given a snapshot of two messages then a live insert
	onBatch(domain.Batch{
		{Type: domain.Added, Message: domain.Message{ID: "m1", Body: "first"}},
		{Type: domain.Added, Message: domain.Message{ID: "m2", Body: "second"}},
	})
	onBatch(domain.Batch{{Type: domain.Added, Message: domain.Message{ID: "m3", Body: "third"}}})
	req.Equal(3, index.size())

	// When the collection is replaced
	onBatch(domain.Batch{
		{Type: domain.Removed, Message: domain.Message{ID: "m1"}},
		{Type: domain.Removed, Message: domain.Message{ID: "m2"}},
		{Type: domain.Removed, Message: domain.Message{ID: "m3"}},
		{Type: domain.Added, Message: domain.Message{ID: "m1", Body: "again"}},
	})

	// Then only the re-added message is left
	req.Equal(1, index.size())
	req.Equal("again", index.docs["m1"].Body)
	req.Equal(4, counter.n)

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("indexer should stop with its context")
	}
}

func TestIndexerWorker_Returns_Index_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageStore(ctrl)
	subscription := mocks.NewMockSubscription(ctrl)
	index := newFakeIndex()
	index.failing = true

	store.EXPECT().
		Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, query domain.Query, fn func(domain.Batch)) (contract.Subscription, error) {
			go fn(domain.Batch{{Type: domain.Added, Message: domain.Message{ID: "m1"}}})
			return subscription, nil
		})
	subscription.EXPECT().Stop()
	subscription.EXPECT().Err().Return(nil)

	// When the index cannot write, the worker fails so the supervisor restarts it
	err := NewIndexerWorker(testLog, store, index, nil).Run(context.Background())

	req.ErrorContains(err, "disk full")
}

func TestIndexerWorker_Returns_Feed_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageStore(ctrl)
	subscription := mocks.NewMockSubscription(ctrl)

	// Given a feed that ends on its own
	errs := make(chan error, 1)
	errs <- fmt.Errorf("listener closed")
	store.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).Return(subscription, nil)
	subscription.EXPECT().Err().Return((<-chan error)(errs))
	subscription.EXPECT().Stop()

	// Then the worker fails so the supervisor subscribes again
	err := NewIndexerWorker(testLog, store, newFakeIndex(), nil).Run(context.Background())

	req.ErrorContains(err, "listener closed")
}
