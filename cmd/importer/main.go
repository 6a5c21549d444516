package main

import (
	"chat-app/contract"
	"chat-app/infrastructure/firestore"
	"chat-app/repositories"
	"chat-app/seed"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config is read from IMPORT_* variables; flags override the store kind.
type Config struct {
	Store            string `envconfig:"STORE" default:"badger"`
	BadgerFilepath   string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
	FirestoreProject string `envconfig:"FIRESTORE_PROJECT"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"INFO"`
	// IMPORT_COLOURS enables colorized headings
	Colours bool `envconfig:"COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if err := envconfig.Process("import", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	flags := pflag.NewFlagSet("importer", pflag.ContinueOnError)
	messagesPath := flags.StringP("messages", "m", "data/demo_messages.json", "messages seed file (.json, .yaml)")
	usersPath := flags.StringP("users", "u", "data/demo_users.json", "users seed file (.json, .yaml)")
	flags.StringVar(&config.Store, "store", config.Store, "message store: badger or firestore")
	skipUsers := flags.Bool("skip-users", false, "only replace messages")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)
	report := seed.NewReport(os.Stdout, config.Colours)

	// Read everything before touching any store
	messagesFile, err := seed.LoadMessages(*messagesPath)
	if err != nil {
		return exitConfig, err
	}
	var usersFile seed.UsersFile
	if !*skipUsers {
		if usersFile, err = seed.LoadUsers(*usersPath); err != nil {
			return exitConfig, err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	store, closeStore, err := openStore(ctx, config, db, logger)
	if err != nil {
		return exitConfig, err
	}
	defer closeStore()

	// 1. Messages
	messages := messagesFile.ToMessages()
	report.Heading(fmt.Sprintf("Importing %d messages into %s", len(messages), config.Store))
	if err = store.ReplaceAll(ctx, messages); err != nil {
		return exitRuntime, fmt.Errorf("replacing messages: %w", err)
	}
	report.Heading("Messages per channel")
	report.Table("Channel", seed.ChannelStats(messages))

	if *skipUsers {
		return exitOK, nil
	}

	// 2. Users, always in Badger where the identity provider reads them
	users, err := usersFile.ToUsers()
	if err != nil {
		return exitRuntime, err
	}
	report.Heading(fmt.Sprintf("Importing %d users", len(users)))
	if err = repositories.NewUserRepository(db).ReplaceAll(users); err != nil {
		return exitRuntime, fmt.Errorf("replacing users: %w", err)
	}
	report.Heading("Users per role")
	report.Table("Role", seed.RoleStats(users))
	report.Heading("Users per subject")
	report.Table("Subject", seed.SubjectStats(users))

	logger.Info("Import finished", "messages", len(messages), "users", len(users))
	return exitOK, nil
}

func openStore(ctx context.Context, config Config, db *badger.DB,
	logger *slog.Logger) (contract.IMessageStore, func(), error) {
	switch config.Store {
	case "badger":
		store, err := repositories.NewMessageStore(db, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "firestore":
		if config.FirestoreProject == "" {
			return nil, nil, fmt.Errorf("IMPORT_FIRESTORE_PROJECT is required with the firestore store")
		}
		store, err := firestore.NewMessageStore(ctx, config.FirestoreProject, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", config.Store)
	}
}
