package firestore

import (
	"chat-app/contract"
	"chat-app/domain"
	"chat-app/errors"
	"chat-app/runtime"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	messagesCollection = "messages"
	// Firestore rejects array-contains-any with more values
	maxDisjunction = 30
)

// MessageStore is the messages collection on Cloud Firestore.
type MessageStore struct {
	client *firestore.Client
	log    *slog.Logger
}

// NewMessageStore creates a Firestore store for projectID.
// FIRESTORE_EMULATOR_HOST is honoured by the client.
func NewMessageStore(ctx context.Context, projectID string, log *slog.Logger) (*MessageStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &MessageStore{client: client, log: log}, nil
}

func (s *MessageStore) Close() error {
	return s.client.Close()
}

func (s *MessageStore) messagesCol() *firestore.CollectionRef {
	return s.client.Collection(messagesCollection)
}

func (s *MessageStore) build(query domain.Query, tags []string) firestore.Query {
	q := s.messagesCol().Query
	if query.ChannelID != nil {
		q = q.Where(domain.FieldChannelID, "==", int(*query.ChannelID))
	}
	if len(tags) > 0 {
		q = q.Where(domain.FieldTags, "array-contains-any", tags)
	}
	direction := firestore.Asc
	if query.Order == domain.Desc {
		direction = firestore.Desc
	}
	q = q.OrderBy(domain.FieldTimestamp, direction)
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	return q
}

func (s *MessageStore) Query(ctx context.Context, query domain.Query) ([]domain.Message, error) {
	if len(query.TagsAny) <= maxDisjunction {
		return s.read(ctx, s.build(query, query.TagsAny))
	}

	// One query per chunk of tags, merged back into a single ordered result
	var results [][]domain.Message
	for _, tags := range lo.Chunk(query.TagsAny, maxDisjunction) {
		messages, err := s.read(ctx, s.build(query, tags))
		if err != nil {
			return nil, err
		}
		results = append(results, messages)
	}
	return merge(results, query.Order, query.Limit), nil
}

func (s *MessageStore) read(ctx context.Context, q firestore.Query) ([]domain.Message, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore query: %w", err)
		}
		message, err := toMessage(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, message)
	}
	return out, nil
}

// merge removes documents matched by several chunks and restores the order.
func merge(results [][]domain.Message, order domain.Order, limit int) []domain.Message {
	merged := lo.UniqBy(lo.Flatten(results), func(m domain.Message) string { return m.ID })
	slices.SortFunc(merged, func(a, b domain.Message) int {
		if order == domain.Desc {
			return b.Timestamp.Compare(a.Timestamp)
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func toMessage(snap *firestore.DocumentSnapshot) (domain.Message, error) {
	message, err := domain.Record(snap.Data()).Message(snap.Ref.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrInvalidRecord, err)
	}
	return message, nil
}

func (s *MessageStore) Insert(ctx context.Context, record domain.Record) (string, error) {
	if _, ok := record[domain.FieldText].(string); !ok {
		return "", fmt.Errorf("%w: missing %q", errors.ErrInvalidRecord, domain.FieldText)
	}
	data := lo.Assign(map[string]any(record), map[string]any{domain.FieldTimestamp: firestore.ServerTimestamp})

	ref, _, err := s.messagesCol().Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("firestore Insert: %w", err)
	}
	return ref.ID, nil
}

// ReplaceAll deletes every message then writes messages with their IDs and timestamps.
func (s *MessageStore) ReplaceAll(ctx context.Context, messages []domain.Message) error {
	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob

	refs := s.messagesCol().DocumentRefs(ctx)
	for {
		ref, err := refs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("listing messages: %w", err)
		}
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.Flush()

	for _, message := range messages {
		job, err := bw.Set(s.messagesCol().Doc(message.ID), map[string]any(domain.RecordFromMessage(message)))
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("firestore ReplaceAll: %w", err)
		}
	}
	s.log.Info(fmt.Sprintf("Replaced messages collection with %d documents", len(messages)))
	return nil
}

// Subscribe listens to query snapshots. The first snapshot lists every
// matching document as added, later ones only what changed.
func (s *MessageStore) Subscribe(ctx context.Context, query domain.Query,
	onBatch func(domain.Batch)) (contract.Subscription, error) {
	if len(query.TagsAny) > maxDisjunction {
		return nil, fmt.Errorf("cannot listen on more than %d tags", maxDisjunction)
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, errs: make(chan error, 1)}
	iter := s.build(query, query.TagsAny).Snapshots(ctx)

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && ctx.Err() == nil {
					s.log.Error("Firestore listener stopped", "error", err)
					sub.errs <- fmt.Errorf("firestore listener: %w", err)
				}
				return
			}
			batch, err := toBatch(snap.Changes)
			if err != nil {
				s.log.Error("Skipping undecodable snapshot", "error", err)
				continue
			}
			if !sub.gate.Do(func() { onBatch(batch) }) {
				return
			}
		}
	}()
	return sub, nil
}

func toBatch(changes []firestore.DocumentChange) (domain.Batch, error) {
	batch := make(domain.Batch, 0, len(changes))
	for _, change := range changes {
		message, err := toMessage(change.Doc)
		if err != nil {
			return nil, err
		}
		batch = append(batch, domain.Change{Type: changeType(change.Kind), Message: message})
	}
	return batch, nil
}

func changeType(kind firestore.DocumentChangeKind) domain.ChangeType {
	switch kind {
	case firestore.DocumentRemoved:
		return domain.Removed
	case firestore.DocumentModified:
		return domain.Modified
	default:
		return domain.Added
	}
}

type subscription struct {
	gate   runtime.Gate
	cancel context.CancelFunc
	errs   chan error
}

func (s *subscription) Err() <-chan error {
	return s.errs
}

func (s *subscription) Stop() {
	s.gate.Close()
	s.cancel()
}
