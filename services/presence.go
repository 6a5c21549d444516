package services

import (
	"chat-app/domain"
	"chat-app/runtime"
	"fmt"
	"log/slog"
	"time"
)

type PresenceKind string

const (
	PresenceEnter PresenceKind = "enter"
	PresenceExit  PresenceKind = "exit"
)

type PresenceEvent struct {
	Kind      PresenceKind
	ChannelID domain.ChannelID
	UserName  string
	At        time.Time
}

// PresenceHub broadcasts enter/exit notifications to every joined channel service.
// Delivery is best-effort: a full inbox drops the event.
type PresenceHub struct {
	log     *slog.Logger
	inboxes *runtime.Registry[chan<- PresenceEvent]
}

func NewPresenceHub(log *slog.Logger) *PresenceHub {
	return &PresenceHub{log: log, inboxes: runtime.NewRegistry[chan<- PresenceEvent]()}
}

func (h *PresenceHub) Join(inbox chan<- PresenceEvent) runtime.Unsubscribe {
	return h.inboxes.Add(inbox)
}

func (h *PresenceHub) Publish(evt PresenceEvent) {
	for _, inbox := range h.inboxes.Snapshot() {
		select {
		case inbox <- evt:
		default:
			h.log.Warn(fmt.Sprintf("Presence inbox full for channel %d, dropping %s event", evt.ChannelID, evt.Kind))
		}
	}
}
