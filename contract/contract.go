//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-app/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Subscription is a live change feed session.
// Once Stop returns, no callback starts anymore. Stop is idempotent.
//
// Err yields at most one error, when the feed ends on its own. Nothing is
// sent after Stop.
type Subscription interface {
	Stop()
	Err() <-chan error
}

// IMessageStore is the document store holding the messages collection.
//
// Subscribe delivers batches serially on a single goroutine. The first batch
// is the current state of the query as Added changes, possibly empty.
type IMessageStore interface {
	Query(ctx context.Context, query domain.Query) ([]domain.Message, error)
	Subscribe(ctx context.Context, query domain.Query, onBatch func(domain.Batch)) (Subscription, error)
	Insert(ctx context.Context, record domain.Record) (string, error)
	ReplaceAll(ctx context.Context, messages []domain.Message) error
}

// IIdentityProvider exposes the latest known signed-in user, nil when signed out.
type IIdentityProvider interface {
	GetCurrentUser() *domain.User
}

// IBlobStore stores binary objects and issues their public URL.
type IBlobStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}
