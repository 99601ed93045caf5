// Package bridge decouples device I/O from the scan cycle.
//
// A Bridge owns a worker in wait-for-trigger mode. The cycle triggers a
// read on BEFORE_PROCESS_IMAGE and a write on EXECUTE_WRITE; the worker
// performs the I/O on its own goroutine, staging read values with
// SetNextValue and consuming write commands with TakeNextWriteValue.
// Values read in the background land in whichever freeze follows, so a
// slow device never stalls the cycle.
//
// Device failures never reach the cycle. Read failures are logged (devices
// stage undefined values for what they could not read); write failures are
// additionally published on the device's WriteFailed channel.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/worker"
)

// ChannelWriteFailed is the channel every device declares for write failures.
var ChannelWriteFailed = channel.NewID("WRITE_FAILED", channel.TypeBoolean).WithText("The last write to the device failed")

// Device is a piece of hardware reached through a bridge.
type Device interface {
	ID() string
	// Read fetches hardware values and stages them on the device's channels.
	Read(ctx context.Context) error
	// Write pushes staged write commands to the hardware.
	Write(ctx context.Context) error
	// WriteFailed reports the outcome of the last Write.
	WriteFailed() *channel.Channel[bool]
}

// Hooker is the subset of engine.Cycle a bridge attaches to.
type Hooker interface {
	On(topic events.Topic, name string, fn engine.PhaseHook)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithSynchronousIO performs reads and writes inline on the cycle
// goroutine instead of on the bridge worker. Used by deterministic
// simulations and tests.
func WithSynchronousIO() Option {
	return func(b *Bridge) {
		b.inline = true
	}
}

// WithLogInterval bounds how often repeated device failures are logged.
func WithLogInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.logInterval = d
	}
}

// Bridge performs device I/O for a set of devices.
//
// Thread-safety: the trigger hooks are called from the cycle goroutine;
// I/O runs on the bridge worker (or inline with WithSynchronousIO).
type Bridge struct {
	name    string
	devices []Device
	logger  *slog.Logger
	inline  bool
	worker  *worker.Worker

	readPending  atomic.Bool
	writePending atomic.Bool

	logInterval time.Duration
	mu          sync.Mutex
	throttles   map[string]*rate.Sometimes

	reads  atomic.Uint64
	writes atomic.Uint64
}

// New creates a bridge for devices. Call Attach to connect it to a cycle
// and Start to run its worker.
func New(name string, devices []Device, opts ...Option) *Bridge {
	b := &Bridge{
		name:        name,
		devices:     devices,
		logger:      slog.Default(),
		logInterval: 30 * time.Second,
		throttles:   make(map[string]*rate.Sometimes),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("bridge", name)
	b.worker = worker.New("bridge/"+name, b,
		worker.WithCadence(worker.AlwaysWaitForTrigger),
		worker.WithLogger(b.logger),
	)
	return b
}

// Name returns the bridge name.
func (b *Bridge) Name() string {
	return b.name
}

// Attach registers the read and write triggers on the cycle.
func (b *Bridge) Attach(h Hooker) {
	h.On(events.TopicBeforeProcessImage, "bridge/"+b.name+"/read", b.TriggerRead)
	h.On(events.TopicExecuteWrite, "bridge/"+b.name+"/write", b.TriggerWrite)
}

// TriggerRead requests a read of every device.
func (b *Bridge) TriggerRead(ctx context.Context, _ uint64) error {
	if b.inline {
		b.readAll(ctx)
		return nil
	}
	b.readPending.Store(true)
	b.worker.TriggerNextCycle()
	return nil
}

// TriggerWrite requests a write of every device.
func (b *Bridge) TriggerWrite(ctx context.Context, _ uint64) error {
	if b.inline {
		b.writeAll(ctx)
		return nil
	}
	b.writePending.Store(true)
	b.worker.TriggerNextCycle()
	return nil
}

// Start runs the bridge worker. It is a no-op with WithSynchronousIO.
func (b *Bridge) Start(ctx context.Context) error {
	if b.inline {
		return nil
	}
	if err := b.worker.Start(ctx); err != nil {
		return fmt.Errorf("start bridge %s: %w", b.name, err)
	}
	return nil
}

// Stop stops the bridge worker and waits for in-flight I/O.
func (b *Bridge) Stop() {
	if !b.inline {
		b.worker.Stop()
	}
}

// Serve runs the bridge worker on the calling goroutine until ctx is
// cancelled and returns ctx.Err(). With WithSynchronousIO it only waits.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.inline {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.worker.Run(ctx)
}

// Forever implements worker.Task: it serves whatever was requested since
// the last iteration, reads before writes.
func (b *Bridge) Forever(ctx context.Context) error {
	if b.readPending.Swap(false) {
		b.readAll(ctx)
	}
	if b.writePending.Swap(false) {
		b.writeAll(ctx)
	}
	return nil
}

// Reads returns the number of completed read rounds.
func (b *Bridge) Reads() uint64 {
	return b.reads.Load()
}

// Writes returns the number of completed write rounds.
func (b *Bridge) Writes() uint64 {
	return b.writes.Load()
}

func (b *Bridge) readAll(ctx context.Context) {
	for _, d := range b.devices {
		if err := d.Read(ctx); err != nil {
			b.throttled("read/"+d.ID(), func() {
				b.logger.Warn("device read failed", "device", d.ID(), "error", err)
			})
		}
	}
	b.reads.Add(1)
}

func (b *Bridge) writeAll(ctx context.Context) {
	for _, d := range b.devices {
		err := d.Write(ctx)
		d.WriteFailed().SetNextValue(err != nil)
		if err != nil {
			b.throttled("write/"+d.ID(), func() {
				b.logger.Warn("device write failed", "device", d.ID(), "error", err)
			})
		}
	}
	b.writes.Add(1)
}

func (b *Bridge) throttled(key string, log func()) {
	b.mu.Lock()
	s, ok := b.throttles[key]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: b.logInterval}
		b.throttles[key] = s
	}
	b.mu.Unlock()
	s.Do(log)
}
