package firestore

import (
	"chat-app/domain"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestMerge_Dedupes_And_Orders_Chunks(t *testing.T) {
	req := require.New(t)
	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	m := func(id string, sec int) domain.Message {
		return domain.Message{ID: id, Timestamp: base.Add(time.Duration(sec) * time.Second)}
	}

	// Given two chunks matching the same document
	results := [][]domain.Message{
		{m("c", 3), m("a", 1)},
		{m("b", 2), m("c", 3)},
	}

	ids := func(messages []domain.Message) []string {
		return lo.Map(messages, func(m domain.Message, _ int) string { return m.ID })
	}
	req.Equal([]string{"c", "b", "a"}, ids(merge(results, domain.Desc, 0)))
	req.Equal([]string{"a", "b", "c"}, ids(merge(results, domain.Asc, 0)))
	req.Equal([]string{"c", "b"}, ids(merge(results, domain.Desc, 2)))
}

func TestChangeType(t *testing.T) {
	req := require.New(t)
	req.Equal(domain.Added, changeType(firestore.DocumentAdded))
	req.Equal(domain.Modified, changeType(firestore.DocumentModified))
	req.Equal(domain.Removed, changeType(firestore.DocumentRemoved))
}

// Runs against the Firestore emulator only.
func TestMessageStore_Emulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	req := require.New(t)
	ctx := context.Background()
	store, err := NewMessageStore(ctx, "chat-app-test", logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)
	defer store.Close()
	req.NoError(store.ReplaceAll(ctx, nil))

	batches := make(chan domain.Batch, 10)
	sub, err := store.Subscribe(ctx, domain.Query{}, func(batch domain.Batch) { batches <- batch })
	req.NoError(err)
	defer sub.Stop()

	// Then the first snapshot is empty
	req.Empty(<-batches)

	id, err := store.Insert(ctx, domain.NewRecord(domain.PublishCommand{Body: "hello", Tags: []string{"a"}}, nil))
	req.NoError(err)

	select {
	case batch := <-batches:
		req.Len(batch, 1)
		req.Equal(domain.Added, batch[0].Type)
		req.Equal(id, batch[0].Message.ID)
		req.Nil(batch[0].Message.ImageURL)
	case <-time.After(5 * time.Second):
		req.FailNow("change never arrived")
	}

	messages, err := store.Query(ctx, domain.Query{TagsAny: []string{"a", "z"}, Order: domain.Desc})
	req.NoError(err)
	req.Len(messages, 1)
	req.False(messages[0].Timestamp.IsZero())
}
