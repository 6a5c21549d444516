package server

import (
	"chat-app/auth"
	"chat-app/contract"
	"chat-app/domain"
	"chat-app/observability"
	"chat-app/repositories"
	"chat-app/search"
	"chat-app/services"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

type ImageUploader interface {
	UploadImage(ctx context.Context, upload services.UploadRequest) (string, error)
}

type TextSearcher interface {
	SearchPaginated(ctx context.Context, text string, channelID *domain.ChannelID, offset int) ([]search.Hit, uint64, error)
}

// Dependencies are the collaborators shared by every request.
// Index, Presence, Censor and Inspector are optional.
type Dependencies struct {
	Store      contract.IMessageStore
	Users      repositories.IUserRepository
	Issuer     auth.TokenIssuer
	Images     ImageUploader
	Index      TextSearcher
	Presence   *services.PresenceHub
	Censor     services.Censor
	Monitoring *observability.MonitoringManager
	Inspector  http.Handler
}

type Options struct {
	AllowedOrigins   []string
	InitialLimit     *int
	SocketBufferSize int
	MaxUploadBytes   int64
	FilesDir         string
}

// Gateway exposes the channel services over HTTP and websockets.
// Every request gets its own AuthService session restored from the bearer token.
type Gateway struct {
	log      *slog.Logger
	deps     Dependencies
	options  Options
	upgrader websocket.Upgrader
	validate *validator.Validate
}

func NewGateway(log *slog.Logger, deps Dependencies, options Options) *Gateway {
	if deps.Monitoring == nil {
		deps.Monitoring = observability.NewMonitoringManager(log)
	}
	if options.SocketBufferSize <= 0 {
		options.SocketBufferSize = 64
	}
	return &Gateway{
		log:      log,
		deps:     deps,
		options:  options,
		upgrader: createUpgrader(options.AllowedOrigins),
		validate: validator.New(),
	}
}

// SetupRouter configures and returns the HTTP router
func (g *Gateway) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", g.Health).Methods(http.MethodGet)
	r.HandleFunc("/auth/register", g.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", g.Login).Methods(http.MethodPost)

	guarded := r.NewRoute().Subrouter()
	guarded.Use(g.requireAuth)
	guarded.HandleFunc("/channels/{id:[0-9]+}/messages", g.GetMessages).Methods(http.MethodGet)
	guarded.HandleFunc("/channels/{id:[0-9]+}/messages", g.PostMessage).Methods(http.MethodPost)
	guarded.HandleFunc("/channels/{id:[0-9]+}/search", g.SearchByTags).Methods(http.MethodGet)
	guarded.HandleFunc("/channels/{id:[0-9]+}/ws", g.HandleWebSocket).Methods(http.MethodGet)
	guarded.HandleFunc("/images", g.UploadImage).Methods(http.MethodPost)
	guarded.HandleFunc("/search/text", g.SearchText).Methods(http.MethodGet)

	if g.options.FilesDir != "" {
		r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(g.options.FilesDir))))
	}
	if g.deps.Inspector != nil {
		r.Handle("/debug/inspect", g.deps.Inspector).Methods(http.MethodGet)
	}
	return r
}

// Handler wraps the router with CORS.
func (g *Gateway) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   g.options.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})
	return c.Handler(g.SetupRouter())
}

func (g *Gateway) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.deps.Monitoring.GetLatest())
}
