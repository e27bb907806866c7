package host

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/arrow-wasm-ffi/internal/fixture"
)

type writeRunner interface {
	Write(ctx context.Context, fn func(*Writer) error) error
}

// testWriter runs the write-then-import contract against r.
func testWriter(t *testing.T, r writeRunner) {
	ctx := context.Background()
	mem := memory.NewGoAllocator()

	t.Run("Schema", func(t *testing.T) {
		err := r.Write(ctx, func(w *Writer) error {
			addr, err := w.Schema(fixture.EventSchema())
			require.NoError(t, err)
			require.NotZero(t, addr)

			got, err := w.Importer().Schema(addr)
			require.NoError(t, err)
			assert.True(t, fixture.EventSchema().Equal(got), "schema:\n%s", got)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("RecordBatch", func(t *testing.T) {
		rec := fixture.WideRecord(mem, 6)
		defer rec.Release()

		err := r.Write(ctx, func(w *Writer) error {
			addr, err := w.RecordBatch(rec)
			require.NoError(t, err)
			assert.NotZero(t, w.Regions())

			got, err := w.Importer().RecordBatch(addr)
			require.NoError(t, err)
			defer got.Release()
			assert.True(t, rec.Schema().Equal(got.Schema()))
			assert.True(t, array.RecordEqual(rec, got), "record mismatch")
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Table", func(t *testing.T) {
		records, err := fixture.EventBatches(mem, 3, 0, 2)
		require.NoError(t, err)
		defer fixture.Release(records)

		err = r.Write(ctx, func(w *Writer) error {
			addr, err := w.Table(fixture.EventSchema(), records)
			require.NoError(t, err)

			table, err := w.Importer().Table(addr)
			require.NoError(t, err)
			defer table.Release()
			require.Len(t, table.Batches, len(records))
			for i := range records {
				assert.True(t, array.RecordEqual(records[i], table.Batches[i]), "chunk %d", i)
			}
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("CallbackError", func(t *testing.T) {
		sentinel := errors.New("stop")
		err := r.Write(ctx, func(w *Writer) error {
			_, err := w.Schema(fixture.EventSchema())
			require.NoError(t, err)
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		err := r.Write(canceled, func(*Writer) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestInProcessWriter(t *testing.T) {
	p := NewInProcess()
	testWriter(t, p)

	arena := p.Module().Arena()
	assert.Zero(t, arena.Len(), "written regions must be freed")
	assert.Zero(t, arena.Groups())
}

func TestInProcessWriterClosed(t *testing.T) {
	p := NewInProcess()
	require.NoError(t, p.Close(context.Background()))

	err := p.Write(context.Background(), func(*Writer) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

// nullMalloc is a guest whose allocator always fails.
type nullMalloc struct {
	nativeABI
}

func (nullMalloc) malloc(context.Context, uint32) (uint32, error) {
	return 0, nil
}

func TestWriterAllocationFailure(t *testing.T) {
	p := NewInProcess()
	abi := nullMalloc{nativeABI{p.Module()}}

	err := write(context.Background(), abi, memory.DefaultAllocator, func(w *Writer) error {
		_, err := w.Schema(fixture.EventSchema())
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malloc returned null")
	assert.Zero(t, p.Module().Arena().Len())
}
