package repositories

import (
	"chat-app/domain"
	"chat-app/errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// encodeRecord serializes a record as a protobuf Struct.
// Absent optional fields stay absent keys in the Struct.
func encodeRecord(record domain.Record) ([]byte, error) {
	fields := make(map[string]any, len(record))
	for key, value := range record {
		switch v := value.(type) {
		case time.Time:
			fields[key] = v.UTC().Format(time.RFC3339Nano)
		case []string:
			fields[key] = lo.ToAnySlice(v)
		case domain.ChannelID:
			fields[key] = int(v)
		default:
			fields[key] = v
		}
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidRecord, err)
	}
	return proto.Marshal(st)
}

func decodeRecord(bytes []byte) (domain.Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(bytes, &st); err != nil {
		return nil, err
	}
	record := domain.Record(st.AsMap())
	if raw, ok := record[domain.FieldTimestamp].(string); ok {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", errors.ErrInvalidRecord, raw)
		}
		record[domain.FieldTimestamp] = at.UTC()
	}
	return record, nil
}
