package repositories

import (
	"chat-app/domain"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*MessageStore, *badger.DB) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewMessageStore(db, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store, db
}

func publish(t *testing.T, store *MessageStore, body string, channel domain.ChannelID, tags ...string) string {
	t.Helper()
	id, err := store.Insert(context.Background(), domain.NewRecord(domain.PublishCommand{
		Body:          body,
		PublisherName: "Alice",
		ChannelID:     channel,
		Tags:          tags,
	}, nil))
	require.NoError(t, err)
	return id
}

func bodies(messages []domain.Message) []string {
	return lo.Map(messages, func(m domain.Message, _ int) string { return m.Body })
}

func Test_Insert_And_Query_Sorted_Messages(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	ctx := context.Background()

	// Given three messages published in order
	publish(t, store, "M1", 0, "a")
	publish(t, store, "M2", 0, "a", "b")
	publish(t, store, "M3", 0, "b")

	// When reading ascending and descending
	asc, err := store.Query(ctx, domain.Query{Order: domain.Asc})
	req.NoError(err)
	desc, err := store.Query(ctx, domain.Query{Order: domain.Desc})
	req.NoError(err)

	// Then the timestamp order drives both
	req.Equal([]string{"M1", "M2", "M3"}, bodies(asc))
	req.Equal([]string{"M3", "M2", "M1"}, bodies(desc))
	req.True(asc[0].Timestamp.Before(asc[1].Timestamp))
	req.True(asc[1].Timestamp.Before(asc[2].Timestamp))
}

func Test_Timestamps_Are_Strictly_Increasing_With_Frozen_Clock(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	frozen := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	for i := 0; i < 5; i++ {
		publish(t, store, "same instant", 0)
	}

	messages, err := store.Query(context.Background(), domain.Query{})
	req.NoError(err)
	req.Len(messages, 5)
	for i := 1; i < len(messages); i++ {
		req.True(messages[i-1].Timestamp.Before(messages[i].Timestamp))
	}
}

func Test_Query_Filters_Channel_Tags_And_Limit(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	ctx := context.Background()

	publish(t, store, "general", 0, "a")
	publish(t, store, "shift", 1, "b")
	publish(t, store, "notice", 2, "c", "a")

	channel := domain.ChannelID(1)
	byChannel, err := store.Query(ctx, domain.Query{ChannelID: &channel})
	req.NoError(err)
	req.Equal([]string{"shift"}, bodies(byChannel))

	anyTag, err := store.Query(ctx, domain.Query{TagsAny: []string{"a"}, Order: domain.Desc})
	req.NoError(err)
	req.Equal([]string{"notice", "general"}, bodies(anyTag))

	limited, err := store.Query(ctx, domain.Query{Order: domain.Desc, Limit: 2})
	req.NoError(err)
	req.Equal([]string{"notice", "shift"}, bodies(limited))
}

func Test_Record_Round_Trip_Omits_Absent_Image(t *testing.T) {
	req := require.New(t)
	store, db := openStore(t)
	ctx := context.Background()
	userID := "user-1"

	// Given one message without image and one with
	withoutImage, err := store.Insert(ctx, domain.NewRecord(domain.PublishCommand{Body: "plain"}, &userID))
	req.NoError(err)
	_, err = store.Insert(ctx, domain.NewRecord(domain.PublishCommand{
		Body: "picture", ImageURL: lo.ToPtr("https://example.com/cat.png"),
	}, nil))
	req.NoError(err)

	// Then the raw record has no imageUrl key at all
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(messagePrefix)); it.ValidForPrefix([]byte(messagePrefix)); it.Next() {
			if idFromKey(it.Item().Key()) != withoutImage {
				continue
			}
			return it.Item().Value(func(value []byte) error {
				record, err := decodeRecord(value)
				req.NoError(err)
				req.False(record.Has(domain.FieldImageURL))
				req.Equal(userID, record[domain.FieldUserID])
				return nil
			})
		}
		return nil
	})
	req.NoError(err)

	// And the decoded messages expose nil versus set
	messages, err := store.Query(ctx, domain.Query{})
	req.NoError(err)
	req.Nil(messages[0].ImageURL)
	req.Equal("user-1", *messages[0].UserID)
	req.Equal("https://example.com/cat.png", *messages[1].ImageURL)
	req.Nil(messages[1].UserID)
}

func Test_Insert_Rejects_Record_Without_Text(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)

	_, err := store.Insert(context.Background(), domain.Record{domain.FieldName: "Alice"})
	req.Error(err)
}

type collector struct {
	mu      sync.Mutex
	batches []domain.Batch
	notify  chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 100)}
}

func (c *collector) onBatch(batch domain.Batch) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int) []domain.Batch {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		c.mu.Lock()
		if len(c.batches) >= n {
			out := append([]domain.Batch(nil), c.batches...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-deadline:
			require.FailNow(t, "timed out waiting for batches")
		}
	}
}

func Test_Subscribe_First_Batch_Is_Snapshot(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	ctx := context.Background()

	// Given an existing message
	publish(t, store, "before", 0)

	// When subscribing then publishing
	c := newCollector()
	sub, err := store.Subscribe(ctx, domain.Query{}, c.onBatch)
	req.NoError(err)
	defer sub.Stop()
	publish(t, store, "after", 0)

	// Then the snapshot comes first, the live change next
	batches := c.waitFor(t, 2)
	req.Len(batches[0], 1)
	req.Equal("before", batches[0][0].Message.Body)
	req.Len(batches[1], 1)
	req.Equal(domain.Added, batches[1][0].Type)
	req.Equal("after", batches[1][0].Message.Body)
}

func Test_Subscribe_Empty_Snapshot_And_Channel_Filter(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	channel := domain.ChannelID(2)

	c := newCollector()
	sub, err := store.Subscribe(context.Background(), domain.Query{ChannelID: &channel}, c.onBatch)
	req.NoError(err)
	defer sub.Stop()

	publish(t, store, "elsewhere", 0)
	publish(t, store, "here", 2)

	batches := c.waitFor(t, 2)
	req.Empty(batches[0])
	req.Equal("here", batches[1][0].Message.Body)
}

func Test_Subscribe_Stop_Ends_Delivery(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)

	c := newCollector()
	sub, err := store.Subscribe(context.Background(), domain.Query{}, c.onBatch)
	req.NoError(err)
	c.waitFor(t, 1)

	// When stopping twice
	sub.Stop()
	sub.Stop()
	publish(t, store, "ignored", 0)
	time.Sleep(50 * time.Millisecond)

	// Then only the snapshot was delivered
	c.mu.Lock()
	defer c.mu.Unlock()
	req.Len(c.batches, 1)
}

func Test_Subscribe_Callback_May_Insert(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	ctx := context.Background()
	echoed := make(chan struct{})

	var once sync.Once
	sub, err := store.Subscribe(ctx, domain.Query{}, func(batch domain.Batch) {
		for _, change := range batch {
			if change.Message.Body == "ping" {
				// Publishing from the feed goroutine must not deadlock the store
				_, err := store.Insert(ctx, domain.NewRecord(domain.PublishCommand{Body: "pong"}, nil))
				req.NoError(err)
			}
			if change.Message.Body == "pong" {
				once.Do(func() { close(echoed) })
			}
		}
	})
	req.NoError(err)
	defer sub.Stop()

	publish(t, store, "ping", 0)

	select {
	case <-echoed:
	case <-time.After(time.Second):
		req.Fail("pong never delivered")
	}
}

func Test_ReplaceAll_Preserves_Ids_And_Timestamps(t *testing.T) {
	req := require.New(t)
	store, _ := openStore(t)
	ctx := context.Background()
	publish(t, store, "old", 0)

	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	err := store.ReplaceAll(ctx, []domain.Message{
		{ID: "msg002", Body: "second", ChannelID: 1, Tags: []string{"x"}, Timestamp: at.Add(time.Minute)},
		{ID: "msg001", Body: "first", ChannelID: 0, Timestamp: at},
	})
	req.NoError(err)

	messages, err := store.Query(ctx, domain.Query{})
	req.NoError(err)
	req.Equal([]string{"first", "second"}, bodies(messages))
	req.Equal("msg001", messages[0].ID)
	req.True(at.Equal(messages[0].Timestamp))

	// And later inserts still sort after the imported data
	publish(t, store, "new", 0)
	messages, err = store.Query(ctx, domain.Query{Order: domain.Desc, Limit: 1})
	req.NoError(err)
	req.Equal("new", messages[0].Body)
}

func Test_Reopen_Keeps_Monotonic_Timestamps(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	future := time.Now().Add(time.Hour).UTC()

	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	store, err := NewMessageStore(db, log)
	req.NoError(err)
	store.now = func() time.Time { return future }
	publish(t, store, "from the future", 0)
	req.NoError(db.Close())

	// When reopening with a clock behind the stored data
	db, err = badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer db.Close()
	store, err = NewMessageStore(db, log)
	req.NoError(err)
	publish(t, store, "now", 0)

	// Then the new message still sorts last
	messages, err := store.Query(context.Background(), domain.Query{Order: domain.Desc})
	req.NoError(err)
	req.Equal([]string{"now", "from the future"}, bodies(messages))
}
