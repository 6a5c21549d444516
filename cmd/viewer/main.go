package main

import (
	"chat-app/internal"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
)

// The viewer opens the server's Badger directory read-only, either printing
// a table of entries or serving the inspector page.
func main() {
	_ = godotenv.Load()
	dbPath := pflag.String("db", envOr("BADGER_FILEPATH", "./data/badger"), "path to the Badger directory")
	prefix := pflag.String("prefix", "msg:", "key prefix to scan")
	serve := pflag.String("serve", "", "serve the inspector on this address instead of printing, e.g. :8081")
	pflag.Parse()

	// BypassLockGuard allows opening while the server holds the lock
	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if *serve != "" {
		viewerStats := func() map[string]any {
			return map[string]any{
				"Status": "Viewer Mode (Read-Only)",
				"Time":   time.Now().Format(time.RFC822),
			}
		}
		fmt.Printf("Viewer started at http://localhost%s/inspect?prefix=%s\n", *serve, *prefix)
		mux := http.NewServeMux()
		mux.Handle("/inspect", internal.InspectHandler(db, internal.MessageMapper, viewerStats))
		log.Fatal(http.ListenAndServe(*serve, mux))
	}

	if err = printTable(db, *prefix); err != nil {
		log.Fatal(err)
	}
}

func printTable(db *badger.DB, prefix string) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Namespace", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			// Password hashes stay out of the terminal
			if strings.HasPrefix(key, "user:") {
				table.Append([]string{key, "USER", "", "", "user", "(hidden)"})
				continue
			}
			err := item.Value(func(v []byte) error {
				row := internal.MessageMapper(key, v)
				table.Append([]string{row.Key, row.Type, row.Timestamp, row.EntityID, row.Namespace, row.Detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	table.Render()
	return nil
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
