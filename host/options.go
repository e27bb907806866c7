package host

import (
	"io"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Option configures a decoder.
type Option func(*options)

type options struct {
	instances        int
	memoryLimitPages uint32
	metrics          *Metrics
	mem              memory.Allocator
	stderr           io.Writer
	env              map[string]string
}

func defaultOptions() options {
	return options{
		instances: runtime.NumCPU(),
		mem:       memory.DefaultAllocator,
		stderr:    io.Discard,
	}
}

// WithInstances sets the number of pooled module instances.
func WithInstances(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.instances = n
		}
	}
}

// WithMemoryLimitPages caps each instance's linear memory in 64KB pages.
// 0 keeps wazero's default of 65536 pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = pages
	}
}

// WithMetrics records decode calls in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAllocator sets the allocator imported buffers are copied into.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) {
		o.mem = mem
	}
}

// WithStderr forwards the guest's stderr to w.
func WithStderr(w io.Writer) Option {
	return func(o *options) {
		o.stderr = w
	}
}

// WithGuestEnv sets an environment variable visible to the guest.
func WithGuestEnv(key, value string) Option {
	return func(o *options) {
		if o.env == nil {
			o.env = make(map[string]string)
		}
		o.env[key] = value
	}
}
