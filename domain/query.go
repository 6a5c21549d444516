package domain

// Order is the timestamp ordering of a query result.
type Order int

const (
	Asc Order = iota
	Desc
)

// Query describes a read over the messages collection.
// A nil ChannelID reads every channel; TagsAny keeps messages carrying at least one of the tags.
type Query struct {
	ChannelID *ChannelID
	TagsAny   []string
	Order     Order
	Limit     int
}

// Matches reports whether m belongs to the query result, ignoring order and limit.
func (q Query) Matches(m Message) bool {
	if q.ChannelID != nil && m.ChannelID != *q.ChannelID {
		return false
	}
	if len(q.TagsAny) > 0 && !m.HasAnyTag(q.TagsAny) {
		return false
	}
	return true
}

// ChangeType is the kind of a change feed entry.
type ChangeType int

const (
	Added ChangeType = iota
	Modified
	Removed
)

func (c ChangeType) String() string {
	switch c {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a record-level change delivered by a change feed.
type Change struct {
	Type    ChangeType
	Message Message
}

// Batch is one delivery of a change feed, in increasing timestamp order.
type Batch []Change
