package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/VanDung-dev/arrow-wasm-ffi/ffi"
)

// Writer writes C Data Interface structures into guest memory. Every region
// comes from the guest's malloc export and buffers are copied, since host
// memory cannot be shared with the guest. A Writer is only valid inside the
// callback of Bridge.Write or InProcess.Write, which frees every region
// afterwards.
type Writer struct {
	gm       *guestMemory
	exporter *ffi.Exporter
	alloc    memory.Allocator
}

func newWriter(ctx context.Context, abi guestABI, alloc memory.Allocator) *Writer {
	gm := &guestMemory{ctx: ctx, abi: abi}
	return &Writer{gm: gm, exporter: ffi.NewExporter(gm), alloc: alloc}
}

// Schema writes schema and returns the address of its ArrowSchema.
func (w *Writer) Schema(schema *arrow.Schema) (uint32, error) {
	return w.commit(w.exporter.Schema(schema))
}

// Record writes rec as a struct-typed ArrowArray.
func (w *Writer) Record(rec arrow.Record) (uint32, error) {
	return w.commit(w.exporter.Record(rec))
}

// RecordBatch writes rec's schema and columns and returns the address of a
// RecordBatch header.
func (w *Writer) RecordBatch(rec arrow.Record) (uint32, error) {
	schema, err := w.Schema(rec.Schema())
	if err != nil {
		return 0, err
	}
	return w.commit(w.exporter.RecordBatch(schema, rec))
}

// Table writes chunks under one schema and returns the address of a Table
// header.
func (w *Writer) Table(schema *arrow.Schema, chunks []arrow.Record) (uint32, error) {
	addr, err := w.Schema(schema)
	if err != nil {
		return 0, err
	}
	return w.commit(w.exporter.Table(addr, chunks))
}

// Importer reads structures back out of the same guest memory.
func (w *Writer) Importer() *ffi.Importer {
	return ffi.NewImporter(w.gm.abi.reader(), w.alloc)
}

// Regions returns the number of guest regions written so far.
func (w *Writer) Regions() int {
	return len(w.gm.allocs)
}

func (w *Writer) commit(addr uint32, err error) (uint32, error) {
	if err == nil {
		err = w.gm.flush()
	}
	if err != nil {
		return 0, err
	}
	return addr, nil
}

// guestMemory implements ffi.Memory over the guest's malloc export. Views
// handed to the exporter are host-side staging buffers copied into the
// guest by flush, so they stay valid if the guest memory grows meanwhile.
type guestMemory struct {
	ctx     context.Context
	abi     guestABI
	allocs  []uint32
	pending []staged
	err     error
}

type staged struct {
	addr uint32
	data []byte
}

var _ ffi.Memory = (*guestMemory)(nil)

func (g *guestMemory) reserve(size uint32) uint32 {
	if g.err != nil {
		return 0
	}
	addr, err := g.abi.malloc(g.ctx, size)
	if err == nil && addr == 0 {
		err = errors.New("malloc returned null")
	}
	if err != nil {
		g.err = fmt.Errorf("failed to allocate %d bytes in guest: %w", size, err)
		return 0
	}
	g.allocs = append(g.allocs, addr)
	return addr
}

func (g *guestMemory) Alloc(size uint32) (uint32, []byte) {
	buf := make([]byte, size)
	addr := g.reserve(size)
	if addr != 0 {
		g.pending = append(g.pending, staged{addr: addr, data: buf})
	}
	return addr, buf
}

func (g *guestMemory) Share(buf []byte) uint32 {
	if len(buf) == 0 {
		return 0
	}
	addr := g.reserve(uint32(len(buf)))
	if addr != 0 {
		g.pending = append(g.pending, staged{addr: addr, data: buf})
	}
	return addr
}

// Handle is the first region written; host-written structures are freed
// region by region rather than released as a group.
func (g *guestMemory) Handle() uint32 {
	if len(g.allocs) == 0 {
		return 0
	}
	return g.allocs[0]
}

func (g *guestMemory) flush() error {
	if g.err != nil {
		return g.err
	}
	for _, s := range g.pending {
		if !g.abi.write(s.addr, s.data) {
			g.err = fmt.Errorf("failed to write %d bytes at %d", len(s.data), s.addr)
			return g.err
		}
	}
	g.pending = nil
	return nil
}

func (g *guestMemory) free(ctx context.Context) {
	for _, addr := range g.allocs {
		if err := g.abi.free(ctx, addr); err != nil {
			Logger().Warn("failed to free written region", zap.Uint32("ptr", addr), zap.Error(err))
		}
	}
	g.allocs = nil
	g.pending = nil
}

// write runs fn with a Writer over abi and frees everything it wrote.
func write(ctx context.Context, abi guestABI, alloc memory.Allocator, fn func(*Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := newWriter(ctx, abi, alloc)
	defer w.gm.free(context.WithoutCancel(ctx))
	return fn(w)
}
