package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Event is one row of the event table.
type Event struct {
	EntityID  string            `json:"entity_id"`
	Event     string            `json:"event"`
	Timestamp float64           `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
	Data      []byte            `json:"data,omitempty"`
}

// EventSchema returns the Arrow schema for an Event.
//
// Fields:
//   - entity_id: string - Entity identifier
//   - event: string (nullable) - Event type name
//   - timestamp: float64 - Unix timestamp
//   - details: map<string, string> (nullable) - Key-value metadata
//   - data: binary (nullable) - Raw event data
func EventSchema() *arrow.Schema {
	md := arrow.NewMetadata([]string{"source"}, []string{"fixture"})
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "entity_id", Type: arrow.BinaryTypes.String},
			{Name: "event", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "timestamp", Type: arrow.PrimitiveTypes.Float64},
			{
				Name:     "details",
				Type:     arrow.MapOf(arrow.BinaryTypes.String, arrow.BinaryTypes.String),
				Nullable: true,
			},
			{Name: "data", Type: arrow.BinaryTypes.Binary, Nullable: true},
		},
		&md,
	)
}

// EventsToRecord converts events to a record of EventSchema.
func EventsToRecord(mem memory.Allocator, events []Event) (arrow.Record, error) {
	if len(events) == 0 {
		return nil, errors.New("empty events slice")
	}

	builder := array.NewRecordBuilder(mem, EventSchema())
	defer builder.Release()

	entityIDBuilder := builder.Field(0).(*array.StringBuilder)
	eventBuilder := builder.Field(1).(*array.StringBuilder)
	timestampBuilder := builder.Field(2).(*array.Float64Builder)
	detailsBuilder := builder.Field(3).(*array.MapBuilder)
	dataBuilder := builder.Field(4).(*array.BinaryBuilder)

	keyBuilder := detailsBuilder.KeyBuilder().(*array.StringBuilder)
	valueBuilder := detailsBuilder.ItemBuilder().(*array.StringBuilder)

	for _, event := range events {
		entityIDBuilder.Append(event.EntityID)
		if event.Event != "" {
			eventBuilder.Append(event.Event)
		} else {
			eventBuilder.AppendNull()
		}
		timestampBuilder.Append(event.Timestamp)

		if len(event.Details) > 0 {
			detailsBuilder.Append(true)
			keys := make([]string, 0, len(event.Details))
			for k := range event.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				keyBuilder.Append(k)
				valueBuilder.Append(event.Details[k])
			}
		} else {
			detailsBuilder.AppendNull()
		}

		if event.Data != nil {
			dataBuilder.Append(event.Data)
		} else {
			dataBuilder.AppendNull()
		}
	}

	return builder.NewRecord(), nil
}

// GenerateEvents returns n deterministic events. Every third event has no
// type, every fourth no details and every fifth no payload.
func GenerateEvents(offset, n int) []Event {
	events := make([]Event, n)
	for i := range events {
		id := offset + i
		ev := Event{
			EntityID:  fmt.Sprintf("entity-%d", id),
			Timestamp: 1704067200.0 + float64(id),
		}
		if id%3 != 0 {
			ev.Event = []string{"created", "updated", "deleted"}[id%3]
		}
		if id%4 != 0 {
			ev.Details = map[string]string{"seq": fmt.Sprint(id), "shard": fmt.Sprint(id % 7)}
		}
		if id%5 != 0 {
			ev.Data = []byte(fmt.Sprintf("payload-%d", id))
		}
		events[i] = ev
	}
	return events
}

// EventBatches builds batches of EventSchema with rows[i] rows in batch i.
// Batches with zero rows are allowed.
func EventBatches(mem memory.Allocator, rows ...int) ([]arrow.Record, error) {
	records := make([]arrow.Record, 0, len(rows))
	offset := 0
	for i, n := range rows {
		if n == 0 {
			records = append(records, emptyRecord(mem, EventSchema()))
			continue
		}
		rec, err := EventsToRecord(mem, GenerateEvents(offset, n))
		if err != nil {
			Release(records)
			return nil, fmt.Errorf("failed to build batch %d: %w", i, err)
		}
		records = append(records, rec)
		offset += n
	}
	return records, nil
}

// Release releases every record.
func Release(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}

func emptyRecord(mem memory.Allocator, schema *arrow.Schema) arrow.Record {
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()
	return builder.NewRecord()
}

// ParseEvents decodes a JSON array of events.
func ParseEvents(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return events, nil
}

// RecordToEvents converts a record of EventSchema back to events.
func RecordToEvents(record arrow.Record) ([]Event, error) {
	if err := ValidateSchema(record, EventSchema()); err != nil {
		return nil, err
	}

	entityIDCol := record.Column(0).(*array.String)
	eventCol := record.Column(1).(*array.String)
	timestampCol := record.Column(2).(*array.Float64)
	detailsCol := record.Column(3).(*array.Map)
	dataCol := record.Column(4).(*array.Binary)

	events := make([]Event, record.NumRows())
	for i := range events {
		events[i] = Event{
			EntityID:  entityIDCol.Value(i),
			Timestamp: timestampCol.Value(i),
		}
		if eventCol.IsValid(i) {
			events[i].Event = eventCol.Value(i)
		}
		if detailsCol.IsValid(i) {
			events[i].Details = mapValues(detailsCol, i)
		}
		if dataCol.IsValid(i) {
			events[i].Data = append([]byte{}, dataCol.Value(i)...)
		}
	}
	return events, nil
}

func mapValues(mapCol *array.Map, idx int) map[string]string {
	result := make(map[string]string)

	start, end := mapCol.ValueOffsets(idx)
	keys := mapCol.Keys().(*array.String)
	values := mapCol.Items().(*array.String)
	for j := start; j < end; j++ {
		result[keys.Value(int(j))] = values.Value(int(j))
	}
	return result
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}
		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}
	return nil
}
