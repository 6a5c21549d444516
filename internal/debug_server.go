package internal

import (
	"chat-app/repositories"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const maxInspectRows = 500

var inspectTemplate = template.Must(template.New("inspect").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Badger inspector</title></head>
<body>
<form><input name="prefix" value="{{.Prefix}}"><button>Scan</button></form>
<ul>{{range $k, $v := .Stats}}<li>{{$k}}: {{$v}}</li>{{end}}</ul>
<table>
<tr><th>Key</th><th>Type</th><th>Timestamp</th><th>Entity</th><th>Namespace</th><th>Detail</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Type}}</td><td>{{.Timestamp}}</td><td>{{.EntityID}}</td><td>{{.Namespace}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body></html>`))

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Namespace string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// InspectHandler lists the Badger entries under ?prefix= (default "msg:").
func InspectHandler(db *badger.DB, mapper RowMapper, statsProvider StatsProvider) http.Handler {
	if mapper == nil {
		mapper = DefaultMapper
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		data := PageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)) && len(data.Items) < maxInspectRows; it.Next() {
				item := it.Item()
				key := string(item.Key())
				if err := item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(key, val))
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = inspectTemplate.Execute(w, data)
	})
}

// DefaultMapper understands "{namespace}:{timestamp}:{id}" keys and falls back to the raw size.
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.SplitN(key, ":", 3)
	row := InspectRow{
		Key:       key,
		Type:      "RAW",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Namespace: parts[0],
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	if len(parts) == 3 {
		if tsNano, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format(time.DateTime)
		}
		row.EntityID = parts[2]
		if len(row.EntityID) > 8 {
			row.EntityID = row.EntityID[:8]
		}
	}
	return row
}

// MessageMapper decodes message entries, other keys keep the default row.
func MessageMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)
	if !strings.HasPrefix(key, "msg:") {
		return row
	}
	message, err := repositories.DecodeEntry([]byte(key), val)
	if err != nil {
		row.Detail = "Error: " + err.Error()
		return row
	}
	row.Type = "MESSAGE"
	row.Namespace = "channel " + strconv.Itoa(int(message.ChannelID))
	row.Detail = message.PublisherName + ": " + message.Body
	if len(message.Tags) > 0 {
		row.Detail += " #" + strings.Join(message.Tags, " #")
	}
	return row
}
