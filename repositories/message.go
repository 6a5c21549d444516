package repositories

import (
	"chat-app/contract"
	"chat-app/domain"
	"chat-app/errors"
	"chat-app/runtime"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const messagePrefix = "msg:"

// MessageStore is the messages collection on BadgerDB.
//
// Keys are formatted as "msg:{timestamp_padded}:{id}":
//  1. 19-digit zero padding keeps lexicographical order equal to chronological order.
//  2. The id disambiguates keys if two timestamps ever collide.
//
// Inserts are serialized by mu, which also guards the subscriber set, so a
// subscription snapshot and the inserts that follow it never overlap.
type MessageStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time

	mu          sync.Mutex
	lastAt      time.Time
	nextSubID   uint64
	subscribers map[uint64]*subscriber
}

func NewMessageStore(db *badger.DB, log *slog.Logger) (*MessageStore, error) {
	store := &MessageStore{
		db:          db,
		log:         log,
		now:         time.Now,
		subscribers: make(map[uint64]*subscriber),
	}
	last, err := store.latestTimestamp()
	if err != nil {
		return nil, fmt.Errorf("reading latest timestamp: %w", err)
	}
	store.lastAt = last
	return store, nil
}

func messageKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", messagePrefix, at.UnixNano(), id))
}

func idFromKey(key []byte) string {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// nextTimestamp must be called with mu held.
func (s *MessageStore) nextTimestamp() time.Time {
	at := s.now().UTC()
	if !at.After(s.lastAt) {
		at = s.lastAt.Add(time.Nanosecond)
	}
	s.lastAt = at
	return at
}

func (s *MessageStore) latestTimestamp() (time.Time, error) {
	var last time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(messagePrefix)
		it.Seek(append([]byte(messagePrefix), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		padded := strings.SplitN(string(it.Item().Key()), ":", 3)[1]
		nanos, err := strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return err
		}
		last = time.Unix(0, nanos).UTC()
		return nil
	})
	return last, err
}

// Insert assigns the id and timestamp, writes the record and notifies subscribers.
func (s *MessageStore) Insert(ctx context.Context, record domain.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, ok := record[domain.FieldText].(string); !ok {
		return "", fmt.Errorf("%w: missing %q", errors.ErrInvalidRecord, domain.FieldText)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	stored := domain.Record(lo.Assign(map[string]any(record),
		map[string]any{domain.FieldTimestamp: s.nextTimestamp()}))
	at, _ := stored.Timestamp()

	bytes, err := encodeRecord(stored)
	if err != nil {
		return "", err
	}
	if err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(at, id), bytes)
	}); err != nil {
		return "", err
	}

	message, err := stored.Message(id)
	if err != nil {
		return "", err
	}
	s.notify(domain.Batch{{Type: domain.Added, Message: message}})
	return id, nil
}

// Query reads the collection in timestamp order with a prefix scan.
func (s *MessageStore) Query(ctx context.Context, query domain.Query) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.query(query)
}

func (s *MessageStore) query(query domain.Query) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = query.Order == domain.Desc
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(messagePrefix)
		seekKey := prefix
		if options.Reverse {
			// Past every timestamp so the reverse scan starts from the newest
			seekKey = append([]byte(messagePrefix), 0xFF)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if query.Limit > 0 && len(messages) == query.Limit {
				s.log.Debug(fmt.Sprintf("Maximum of %d message reached", query.Limit))
				break
			}
			item := it.Item()
			id := idFromKey(item.Key())
			var message domain.Message
			err := item.Value(func(value []byte) error {
				record, err := decodeRecord(value)
				if err != nil {
					return err
				}
				message, err = record.Message(id)
				return err
			})
			if err != nil {
				return err
			}
			if query.Matches(message) {
				messages = append(messages, message)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Subscribe registers a change feed on the query.
// The first batch is the query state at registration time.
func (s *MessageStore) Subscribe(ctx context.Context, query domain.Query,
	onBatch func(domain.Batch)) (contract.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.query(domain.Query{ChannelID: query.ChannelID, TagsAny: query.TagsAny, Order: query.Order})
	if err != nil {
		return nil, err
	}

	s.nextSubID++
	sub := newSubscriber(s.nextSubID, s, query, onBatch)
	sub.push(lo.Map(snapshot, func(m domain.Message, _ int) domain.Change {
		return domain.Change{Type: domain.Added, Message: m}
	}))
	s.subscribers[sub.id] = sub

	go sub.loop(ctx)
	return sub, nil
}

// ReplaceAll drops the collection and writes messages as given.
// Messages without id or timestamp get one assigned.
func (s *MessageStore) ReplaceAll(ctx context.Context, messages []domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.query(domain.Query{Order: domain.Asc})
	if err != nil {
		return err
	}
	if err = s.db.DropPrefix([]byte(messagePrefix)); err != nil {
		return fmt.Errorf("dropping messages: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	written := make([]domain.Message, 0, len(messages))
	for _, message := range messages {
		if message.ID == "" {
			message.ID = uuid.NewString()
		}
		if message.Timestamp.IsZero() {
			message.Timestamp = s.nextTimestamp()
		}
		message.Timestamp = message.Timestamp.UTC()
		if message.Timestamp.After(s.lastAt) {
			s.lastAt = message.Timestamp
		}
		bytes, err := encodeRecord(domain.RecordFromMessage(message))
		if err != nil {
			return err
		}
		if err = wb.Set(messageKey(message.Timestamp, message.ID), bytes); err != nil {
			return err
		}
		written = append(written, message)
	}
	if err = wb.Flush(); err != nil {
		return fmt.Errorf("writing messages: %w", err)
	}

	batch := lo.Map(previous, func(m domain.Message, _ int) domain.Change {
		return domain.Change{Type: domain.Removed, Message: m}
	})
	// Re-read so Added changes follow key order
	current, err := s.query(domain.Query{Order: domain.Asc})
	if err != nil {
		return err
	}
	for _, m := range current {
		batch = append(batch, domain.Change{Type: domain.Added, Message: m})
	}
	s.notify(batch)
	s.log.Info("Messages replaced", "removed", len(previous), "written", len(written))
	return nil
}

// Close stops every subscription. The underlying DB is owned by the caller.
func (s *MessageStore) Close() {
	s.mu.Lock()
	subs := lo.Values(s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}

// notify must be called with mu held.
func (s *MessageStore) notify(batch domain.Batch) {
	for _, sub := range s.subscribers {
		changes := lo.Filter(batch, func(c domain.Change, _ int) bool {
			return sub.query.Matches(c.Message)
		})
		if len(changes) > 0 {
			sub.push(changes)
		}
	}
}

func (s *MessageStore) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// subscriber delivers batches on its own goroutine through an unbounded queue,
// so a callback may publish without blocking the store.
type subscriber struct {
	id      uint64
	store   *MessageStore
	query   domain.Query
	onBatch func(domain.Batch)
	gate    runtime.Gate

	mu      sync.Mutex
	pending []domain.Batch
	wake    chan struct{}
	quit    chan struct{}
	errs    chan error
	once    sync.Once
}

func newSubscriber(id uint64, store *MessageStore, query domain.Query, onBatch func(domain.Batch)) *subscriber {
	return &subscriber{
		id:      id,
		store:   store,
		query:   query,
		onBatch: onBatch,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		errs:    make(chan error),
	}
}

func (s *subscriber) push(batch domain.Batch) {
	s.mu.Lock()
	s.pending = append(s.pending, batch)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) loop(ctx context.Context) {
	for {
		s.mu.Lock()
		batches := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, batch := range batches {
			if !s.gate.Do(func() { s.onBatch(batch) }) {
				return
			}
		}
		if len(batches) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-s.quit:
			return
		case <-ctx.Done():
			s.Stop()
			return
		}
	}
}

// Err never yields: the in-process feed only ends through Stop or its context.
func (s *subscriber) Err() <-chan error {
	return s.errs
}

// Stop unregisters the subscriber. No callback starts once it returns.
func (s *subscriber) Stop() {
	s.once.Do(func() {
		s.store.unregister(s.id)
		s.gate.Close()
		close(s.quit)
	})
}

// DecodeEntry turns a raw "msg:" key/value pair back into a message.
func DecodeEntry(key, value []byte) (domain.Message, error) {
	record, err := decodeRecord(value)
	if err != nil {
		return domain.Message{}, err
	}
	return record.Message(idFromKey(key))
}
