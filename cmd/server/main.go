package main

import (
	"chat-app/auth"
	"chat-app/contract"
	"chat-app/infrastructure/firestore"
	"chat-app/infrastructure/http/server"
	"chat-app/internal"
	"chat-app/moderation"
	"chat-app/observability"
	"chat-app/repositories"
	"chat-app/runtime/workers"
	"chat-app/search"
	"chat-app/services"
	"chat-app/storage"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal arrives.
// Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB), users always live here
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	store, closeStore, err := openMessageStore(ctx, config, db, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStore()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	blobs, filesDir, closeBlobs, err := openBlobStore(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeBlobs()

	censor, err := loadCensor(config, charReplacement, logger)
	if err != nil {
		return exitConfig, err
	}

	// 3. Services & Gateway
	monitoring := observability.NewMonitoringManager(logger)
	index := search.NewIndex(blugeWriter, logger, config.SearchPageSize)
	deps := server.Dependencies{
		Store:      store,
		Users:      repositories.NewUserRepository(db),
		Issuer:     auth.NewTokenIssuer(config.AuthSecret, config.AuthTokenDuration),
		Images:     services.NewImageService(logger, blobs),
		Index:      index,
		Presence:   services.NewPresenceHub(logger),
		Censor:     censor,
		Monitoring: monitoring,
	}
	if config.DebugInspector {
		logger.Info("Debug Badger inspector available", "path", "/debug/inspect")
		deps.Inspector = internal.InspectHandler(db, internal.MessageMapper, func() map[string]any {
			stats := monitoring.GetLatest()
			return map[string]any{"Store": config.Store, "Published": stats.MessagesPublished, "Sockets": stats.ActiveSockets}
		})
	}
	gateway := server.NewGateway(logger, deps, server.Options{
		AllowedOrigins:   config.Origins(),
		InitialLimit:     config.LimitMessages,
		SocketBufferSize: config.SocketBufferSize,
		MaxUploadBytes:   config.MaxUploadBytes,
		FilesDir:         filesDir,
	})

	// 4. Supervision
	sup := workers.NewSupervisor(logger)
	sup.Add(
		workers.NewGatewayWorker(logger, config.Address(), gateway.Handler(), config.ShutdownTimeout),
		workers.NewIndexerWorker(logger, store, index, monitoring),
		workers.NewHealthMonitoringWorker(logger, monitoring, config.MetricInterval),
	)

	// 5. Block until every worker returned
	logger.Info("Chat server starting", "address", config.Address(), "store", config.Store)
	sup.Run(ctx)
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

func openMessageStore(ctx context.Context, config internal.Config, db *badger.DB,
	logger *slog.Logger) (contract.IMessageStore, func(), error) {
	if config.Store == internal.StoreFirestore {
		store, err := firestore.NewMessageStore(ctx, config.FirestoreProject, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore opening failed: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
	store, err := repositories.NewMessageStore(db, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("message store opening failed: %w", err)
	}
	return store, store.Close, nil
}

// openBlobStore prefers GCS when a bucket is configured. filesDir is empty
// unless blobs are on disk and must be served by the gateway.
func openBlobStore(ctx context.Context, config internal.Config,
	logger *slog.Logger) (contract.IBlobStore, string, func(), error) {
	if config.GCSBucket != "" {
		blobs, err := storage.NewGCSBlobStore(ctx, config.GCSBucket, logger)
		if err != nil {
			return nil, "", nil, fmt.Errorf("gcs opening failed: %w", err)
		}
		return blobs, "", func() { _ = blobs.Close() }, nil
	}
	blobs, err := storage.NewDiskBlobStore(config.BlobRoot, config.BlobBaseURL, logger)
	if err != nil {
		return nil, "", nil, err
	}
	return blobs, blobs.Root(), func() {}, nil
}

func loadCensor(config internal.Config, replacement rune, logger *slog.Logger) (services.Censor, error) {
	if config.CensoredWordsDir == "" {
		return nil, nil
	}
	data, err := moderation.LoadAll(os.DirFS(config.CensoredWordsDir), ".")
	if err != nil {
		return nil, fmt.Errorf("loading censored words: %w", err)
	}
	moderator, err := moderation.NewModerator(data.Words, replacement, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Moderation enabled", "languages", data.Languages, "words", len(data.Words))
	return moderator, nil
}
