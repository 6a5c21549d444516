package search

import (
	"chat-app/domain"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	fieldBody      = "body"
	fieldPublisher = "publisher"
	fieldChannel   = "channel"
	fieldTag       = "tag"
	fieldTimestamp = "timestamp"
)

type Hit struct {
	ID    string
	Score float64
}

// Index is the full-text index of message bodies.
type Index struct {
	writer   *bluge.Writer
	log      *slog.Logger
	pageSize int
}

func NewIndex(writer *bluge.Writer, log *slog.Logger, pageSize int) *Index {
	return &Index{writer: writer, log: log, pageSize: pageSize}
}

func toDocument(m domain.Message) *bluge.Document {
	doc := bluge.NewDocument(m.ID).
		AddField(bluge.NewTextField(fieldBody, m.Body)).
		AddField(bluge.NewTextField(fieldPublisher, m.PublisherName)).
		AddField(bluge.NewKeywordField(fieldChannel, strconv.Itoa(int(m.ChannelID)))).
		AddField(bluge.NewDateTimeField(fieldTimestamp, m.Timestamp))
	for _, tag := range m.Tags {
		doc.AddField(bluge.NewKeywordField(fieldTag, tag))
	}
	return doc
}

// Index adds or replaces messages in one batch.
func (i *Index) Index(messages ...domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	batch := bluge.NewBatch()
	for _, m := range messages {
		doc := toDocument(m)
		batch.Update(doc.ID(), doc)
	}
	if err := i.writer.Batch(batch); err != nil {
		return fmt.Errorf("indexing %d messages: %w", len(messages), err)
	}
	return nil
}

func (i *Index) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := bluge.NewBatch()
	for _, id := range ids {
		batch.Delete(bluge.Identifier(id))
	}
	return i.writer.Batch(batch)
}

// SearchPaginated matches text against bodies and publisher names, best match first.
// A nil channelID searches every channel. It returns one page and the total hit count.
func (i *Index) SearchPaginated(ctx context.Context, text string, channelID *domain.ChannelID, offset int) ([]Hit, uint64, error) {
	if strings.TrimSpace(text) == "" {
		return []Hit{}, 0, nil
	}

	matches := bluge.NewBooleanQuery().
		AddShould(bluge.NewMatchQuery(text).SetField(fieldBody)).
		AddShould(bluge.NewMatchQuery(text).SetField(fieldPublisher))
	query := bluge.NewBooleanQuery().AddMust(matches)
	if channelID != nil {
		query.AddMust(bluge.NewTermQuery(strconv.Itoa(int(*channelID))).SetField(fieldChannel))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, 0, fmt.Errorf("opening index reader: %w", err)
	}
	defer reader.Close()

	request := bluge.NewTopNSearch(i.pageSize, query).SetFrom(offset).WithStandardAggregations()
	iter, err := reader.Search(ctx, request)
	if err != nil {
		return nil, 0, err
	}

	hits := []Hit{}
	match, err := iter.Next()
	for err == nil && match != nil {
		hit := Hit{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				hit.ID = string(value)
				return false
			}
			return true
		})
		if err != nil {
			break
		}
		hits = append(hits, hit)
		match, err = iter.Next()
	}
	if err != nil {
		return nil, 0, err
	}
	total := iter.Aggregations().Count()
	i.log.Debug("Text search", "query", text, "hits", len(hits), "total", total)
	return hits, total, nil
}
