package fixture

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestEventSchema(t *testing.T) {
	schema := EventSchema()

	expectedFields := []struct {
		name     string
		nullable bool
	}{
		{"entity_id", false},
		{"event", true},
		{"timestamp", false},
		{"details", true},
		{"data", true},
	}
	if schema.NumFields() != len(expectedFields) {
		t.Fatalf("Expected %d fields, got %d", len(expectedFields), schema.NumFields())
	}
	for i, expected := range expectedFields {
		field := schema.Field(i)
		if field.Name != expected.name {
			t.Errorf("Field %d: expected name %s, got %s", i, expected.name, field.Name)
		}
		if field.Nullable != expected.nullable {
			t.Errorf("Field %s: expected nullable=%v, got %v",
				expected.name, expected.nullable, field.Nullable)
		}
	}
	if v, ok := schema.Metadata().GetValue("source"); !ok || v != "fixture" {
		t.Errorf("Expected source metadata, got %q", v)
	}
}

func TestEventsRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	events := GenerateEvents(0, 10)
	record, err := EventsToRecord(mem, events)
	if err != nil {
		t.Fatalf("EventsToRecord failed: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 10 {
		t.Fatalf("Expected 10 rows, got %d", record.NumRows())
	}

	back, err := RecordToEvents(record)
	if err != nil {
		t.Fatalf("RecordToEvents failed: %v", err)
	}
	for i := range events {
		if back[i].EntityID != events[i].EntityID || back[i].Event != events[i].Event {
			t.Errorf("Row %d: got %+v, want %+v", i, back[i], events[i])
		}
		if len(back[i].Details) != len(events[i].Details) {
			t.Errorf("Row %d: details mismatch", i)
		}
		if string(back[i].Data) != string(events[i].Data) {
			t.Errorf("Row %d: data mismatch", i)
		}
	}
}

func TestEventsToRecordEmpty(t *testing.T) {
	if _, err := EventsToRecord(memory.NewGoAllocator(), nil); err == nil {
		t.Fatal("Expected error for empty events")
	}
}

func TestParseEvents(t *testing.T) {
	events, err := ParseEvents([]byte(`[{"entity_id":"a","event":"b","timestamp":1.5,"details":{"k":"v"}}]`))
	if err != nil {
		t.Fatalf("ParseEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Details["k"] != "v" {
		t.Fatalf("Unexpected events: %+v", events)
	}

	if _, err := ParseEvents([]byte(`{`)); err == nil {
		t.Fatal("Expected error for malformed JSON")
	}
}

func TestEventBatches(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	records, err := EventBatches(mem, 3, 0, 5)
	if err != nil {
		t.Fatalf("EventBatches failed: %v", err)
	}
	defer Release(records)

	want := []int64{3, 0, 5}
	if len(records) != len(want) {
		t.Fatalf("Expected %d batches, got %d", len(want), len(records))
	}
	for i, rec := range records {
		if rec.NumRows() != want[i] {
			t.Errorf("Batch %d: expected %d rows, got %d", i, want[i], rec.NumRows())
		}
		if !rec.Schema().Equal(EventSchema()) {
			t.Errorf("Batch %d: schema mismatch", i)
		}
	}

	// Entity ids continue across batches.
	last := records[2].Column(0).(interface{ Value(int) string }).Value(0)
	if last != "entity-3" {
		t.Errorf("Expected entity-3, got %s", last)
	}
}

func TestWideRecord(t *testing.T) {
	record := WideRecord(memory.NewGoAllocator(), 7)
	defer record.Release()

	if record.NumRows() != 7 {
		t.Fatalf("Expected 7 rows, got %d", record.NumRows())
	}
	if err := ValidateSchema(record, WideSchema()); err != nil {
		t.Fatalf("ValidateSchema failed: %v", err)
	}
	if record.Column(0).NullN() != 2 {
		t.Errorf("Expected 2 nulls in flag, got %d", record.Column(0).NullN())
	}
	if record.Column(20).DataType().ID() != arrow.DICTIONARY {
		t.Errorf("Expected dictionary column, got %s", record.Column(20).DataType())
	}
}

func TestValidateSchemaMismatch(t *testing.T) {
	record := WideRecord(memory.NewGoAllocator(), 1)
	defer record.Release()

	if err := ValidateSchema(record, EventSchema()); err == nil {
		t.Fatal("Expected field count mismatch")
	}
	if err := ValidateSchema(nil, EventSchema()); err == nil {
		t.Fatal("Expected error for nil record")
	}
}
