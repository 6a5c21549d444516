package services

import (
	"chat-app/contract"
	"chat-app/domain"
	"chat-app/errors"
	"chat-app/moderation"
	"chat-app/runtime"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

const presenceInboxSize = 64

type IChannelService interface {
	GetInitialMessages(ctx context.Context) []domain.Message
	OnPublish(handler PublishHandler) runtime.Unsubscribe
	Publish(ctx context.Context, cmd domain.PublishCommand)
	SearchByTags(ctx context.Context, condition domain.SearchCondition, tags []string) ([]domain.Message, error)
	Enter(userName string)
	Exit(userName string)
	OnEnter(handler PresenceHandler) runtime.Unsubscribe
	OnExit(handler PresenceHandler) runtime.Unsubscribe
	Cleanup()
}

type PublishHandler func(message domain.Message)

type PresenceHandler func(userName string)

// Censor rewrites a message body before it is stored.
type Censor interface {
	Censor(text string) (string, []string)
}

// ChannelOptions holds the optional collaborators of a ChannelService.
type ChannelOptions struct {
	// InitialLimit keeps only the latest N messages on the initial load.
	InitialLimit *int
	Presence     *PresenceHub
	Censor       Censor

	// OnPublish handlers are registered before the feed opens, so they see every live message.
	OnPublish []PublishHandler
}

// ChannelService is the publish/subscribe surface of one channel.
//
// The change feed is opened at construction, before any initial read. Its
// first batch is the state of the channel at subscription time and is always
// dropped; only later Added changes reach OnPublish handlers. The newest
// timestamp of that dropped batch is the watermark splitting the two modes:
// GetInitialMessages returns messages up to it, the feed everything after, so
// each message is delivered exactly once.
type ChannelService struct {
	log       *slog.Logger
	store     contract.IMessageStore
	identity  contract.IIdentityProvider
	channelID domain.ChannelID
	options   ChannelOptions

	publishHandlers *runtime.Registry[PublishHandler]
	enterHandlers   *runtime.Registry[PresenceHandler]
	exitHandlers    *runtime.Registry[PresenceHandler]

	// firstSuppressed is only touched by the feed goroutine
	firstSuppressed bool

	// watermark is written once before snapshotReady is closed
	watermark     time.Time
	snapshotReady chan struct{}
	feedFailed    chan struct{}
	done          chan struct{}
	live          bool

	gate          runtime.Gate
	subscription  contract.Subscription
	leavePresence runtime.Unsubscribe
	cancel        context.CancelFunc
	cleanupOnce   sync.Once
}

func NewChannelService(ctx context.Context, log *slog.Logger, store contract.IMessageStore,
	identity contract.IIdentityProvider, channelID domain.ChannelID, options ChannelOptions) (*ChannelService, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := newChannelService(log, store, identity, channelID, options, cancel)
	s.live = true

	for _, handler := range options.OnPublish {
		s.publishHandlers.Add(handler)
	}

	subscription, err := store.Subscribe(ctx, s.channelQuery(domain.Asc), s.onBatch)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to channel %d: %w", channelID, err)
	}
	s.subscription = subscription
	go s.watchFeed(ctx, subscription.Err())

	if options.Presence != nil {
		inbox := make(chan PresenceEvent, presenceInboxSize)
		s.leavePresence = options.Presence.Join(inbox)
		go s.presenceLoop(ctx, inbox)
	}
	return s, nil
}

// NewDetachedChannelService builds a service without change feed or presence
// for one-shot requests. Its OnPublish handlers never fire
// and GetInitialMessages returns the whole channel.
func NewDetachedChannelService(log *slog.Logger, store contract.IMessageStore,
	identity contract.IIdentityProvider, channelID domain.ChannelID, options ChannelOptions) *ChannelService {
	s := newChannelService(log, store, identity, channelID, options, func() {})
	close(s.snapshotReady)
	return s
}

func newChannelService(log *slog.Logger, store contract.IMessageStore, identity contract.IIdentityProvider,
	channelID domain.ChannelID, options ChannelOptions, cancel context.CancelFunc) *ChannelService {
	return &ChannelService{
		log:             log.With("channel", int(channelID)),
		store:           store,
		identity:        identity,
		channelID:       channelID,
		options:         options,
		publishHandlers: runtime.NewRegistry[PublishHandler](),
		enterHandlers:   runtime.NewRegistry[PresenceHandler](),
		exitHandlers:    runtime.NewRegistry[PresenceHandler](),
		snapshotReady:   make(chan struct{}),
		feedFailed:      make(chan struct{}),
		done:            make(chan struct{}),
		cancel:          cancel,
	}
}

// watchFeed marks the service failed when the feed ends on its own.
func (s *ChannelService) watchFeed(ctx context.Context, errs <-chan error) {
	select {
	case <-ctx.Done():
	case err := <-errs:
		s.log.Error("Change feed ended", "error", err)
		close(s.feedFailed)
	}
}

func (s *ChannelService) channelQuery(order domain.Order) domain.Query {
	return domain.Query{ChannelID: lo.ToPtr(s.channelID), Order: order}
}

// GetInitialMessages reads the channel in ascending timestamp order, up to the
// subscription watermark. It waits for the feed's first batch if needed.
// A read failure is logged and yields an empty slice, which callers must not
// take as proof that the channel is empty.
func (s *ChannelService) GetInitialMessages(ctx context.Context) []domain.Message {
	select {
	case <-s.snapshotReady:
	case <-s.done:
		return []domain.Message{}
	case <-s.feedFailed:
		s.log.Error("Initial messages read abandoned, the change feed failed")
		return []domain.Message{}
	case <-ctx.Done():
		s.log.Error("Initial messages read abandoned before the feed was ready", "error", ctx.Err())
		return []domain.Message{}
	}

	query := s.channelQuery(domain.Asc)
	if s.options.InitialLimit != nil {
		// Latest N, returned oldest first
		query.Order = domain.Desc
		query.Limit = *s.options.InitialLimit
	}

	messages, err := s.store.Query(ctx, query)
	if err != nil {
		s.log.Error("Initial messages read failed", "error", err)
		return []domain.Message{}
	}
	if s.live {
		// Anything newer is delivered by the feed
		messages = lo.Filter(messages, func(m domain.Message, _ int) bool {
			return !m.Timestamp.After(s.watermark)
		})
	}
	if query.Order == domain.Desc {
		slices.Reverse(messages)
	}
	return messages
}

// OnPublish registers a handler for every message added after the subscription was opened.
func (s *ChannelService) OnPublish(handler PublishHandler) runtime.Unsubscribe {
	return s.publishHandlers.Add(handler)
}

func (s *ChannelService) onBatch(batch domain.Batch) {
	if !s.firstSuppressed {
		s.firstSuppressed = true
		for _, change := range batch {
			if change.Message.Timestamp.After(s.watermark) {
				s.watermark = change.Message.Timestamp
			}
		}
		close(s.snapshotReady)
		s.log.Debug(fmt.Sprintf("Initial snapshot of %d messages suppressed", len(batch)))
		return
	}
	for _, change := range batch {
		if change.Type != domain.Added {
			continue
		}
		for _, handler := range s.publishHandlers.Snapshot() {
			if !s.gate.Do(func() { s.invoke(func() { handler(change.Message) }) }) {
				return
			}
		}
	}
}

func (s *ChannelService) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler panicked", "panic", r)
		}
	}()
	fn()
}

// Publish resolves the current user and inserts the message once.
// Failures are logged, never returned.
func (s *ChannelService) Publish(ctx context.Context, cmd domain.PublishCommand) {
	var userID *string
	if s.identity != nil {
		if user := s.identity.GetCurrentUser(); user != nil {
			userID = lo.ToPtr(user.ID)
		}
	}
	if s.options.Censor != nil {
		censored, words := s.options.Censor.Censor(cmd.Body)
		if len(words) > 0 {
			s.log.Info("Message censored", "publisher", cmd.PublisherName, "words", len(words),
				"lang", moderation.DetectLanguage(cmd.Body))
		}
		cmd.Body = censored
	}

	id, err := s.store.Insert(ctx, domain.NewRecord(cmd, userID))
	if err != nil {
		s.log.Error("Publish failed", "publisher", cmd.PublisherName, "error", err)
		return
	}
	s.log.Debug("Message published", "id", id)
}

// SearchByTags returns messages, newest first, matching tags under condition.
//
// "or" is answered by the store. "and" cannot be expressed by the store query,
// so the whole collection is read newest first and filtered here. Both scan
// every channel. Only an invalid condition yields an error; store failures are
// logged and give an empty slice.
func (s *ChannelService) SearchByTags(ctx context.Context, condition domain.SearchCondition,
	tags []string) ([]domain.Message, error) {
	if len(tags) == 0 {
		return []domain.Message{}, nil
	}

	var (
		messages []domain.Message
		err      error
	)
	switch condition {
	case domain.ConditionOr:
		messages, err = s.store.Query(ctx, domain.Query{TagsAny: tags, Order: domain.Desc})
	case domain.ConditionAnd:
		messages, err = s.store.Query(ctx, domain.Query{Order: domain.Desc})
		if err == nil {
			messages = lo.Filter(messages, func(m domain.Message, _ int) bool {
				return m.HasAllTags(tags)
			})
		}
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidCondition, condition)
	}
	if err != nil {
		s.log.Error("Tag search failed", "condition", condition, "tags", tags, "error", err)
		return []domain.Message{}, nil
	}
	return messages, nil
}

// Enter announces userName on the channel.
func (s *ChannelService) Enter(userName string) {
	s.announce(PresenceEnter, userName)
}

// Exit announces that userName left the channel.
func (s *ChannelService) Exit(userName string) {
	s.announce(PresenceExit, userName)
}

func (s *ChannelService) announce(kind PresenceKind, userName string) {
	if s.options.Presence == nil {
		return
	}
	s.options.Presence.Publish(PresenceEvent{
		Kind:      kind,
		ChannelID: s.channelID,
		UserName:  userName,
		At:        time.Now().UTC(),
	})
}

func (s *ChannelService) OnEnter(handler PresenceHandler) runtime.Unsubscribe {
	return s.enterHandlers.Add(handler)
}

func (s *ChannelService) OnExit(handler PresenceHandler) runtime.Unsubscribe {
	return s.exitHandlers.Add(handler)
}

func (s *ChannelService) presenceLoop(ctx context.Context, inbox <-chan PresenceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-inbox:
			if evt.ChannelID != s.channelID {
				continue
			}
			registry := s.enterHandlers
			if evt.Kind == PresenceExit {
				registry = s.exitHandlers
			}
			for _, handler := range registry.Snapshot() {
				if !s.gate.Do(func() { s.invoke(func() { handler(evt.UserName) }) }) {
					return
				}
			}
		}
	}
}

// Cleanup releases the change feed and drops every handler.
// It is idempotent and may be called from inside a handler. Once it returns,
// no handler invocation starts anymore.
func (s *ChannelService) Cleanup() {
	s.cleanupOnce.Do(func() {
		close(s.done)
		// Stop waits for the feed goroutine, which may be blocked on this gate
		owned := s.gate.Owned()
		s.gate.Close()
		if s.subscription != nil {
			if owned {
				go s.subscription.Stop()
			} else {
				s.subscription.Stop()
			}
		}
		if s.leavePresence != nil {
			s.leavePresence()
		}
		s.cancel()
		s.publishHandlers.Clear()
		s.enterHandlers.Clear()
		s.exitHandlers.Clear()
		s.log.Debug("Channel service cleaned up")
	})
}
