// Package communicator unifies collective and point-to-point communication
// for distributed GPU workloads behind a single handle. Collective calls are
// forwarded to an injected collective engine on the communicator's execution
// stream; point-to-point sends and receives are issued asynchronously against
// an injected message transport and joined through a cooperative
// completion-polling engine.
//
// The underlying transports are bootstrapped and owned outside this package.
// A Communicator owns only the execution stream and the scratch buffers it
// allocates at construction.
//
// A Communicator is confined to a single logical thread: no internal locking
// guards the request registry, so concurrent use from multiple goroutines
// requires external synchronization.
package communicator

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gpucomm/comms-go/comms"
)

// Scratch buffers back the barrier's one-element allreduce.
const scratchBytes = 4

// defaultWaitTimeout is the stall threshold for WaitAll: the wait fails if no
// request completes and the transport reports no progress for this long.
const defaultWaitTimeout = 10 * time.Second

// Config carries the externally bootstrapped transport handles and the
// ambient hooks consumed by New.
type Config struct {
	// Collective is the ready collective engine shared by all ranks. Required.
	Collective comms.Collective
	// Device is the GPU runtime used to allocate the owned stream and
	// scratch buffers. Required.
	Device comms.Device
	// Worker enables point-to-point capability when non-nil.
	Worker comms.Worker
	// Endpoints holds one connected endpoint per rank; the own-rank slot may
	// be nil. Required when Worker is set, with exactly Size entries.
	Endpoints []comms.Endpoint

	// Size is the cluster size; Rank the local identity in [0, Size).
	Size int
	Rank int

	// WaitTimeout overrides the WaitAll stall threshold. Zero means the
	// 10 second default.
	WaitTimeout time.Duration

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

// Communicator is the top-level handle. See the package documentation for the
// threading model.
type Communicator struct {
	cfg    Config
	coll   comms.Collective
	device comms.Device
	worker comms.Worker
	eps    []comms.Endpoint

	stream  comms.Stream
	sendbuf comms.Buffer
	recvbuf comms.Buffer

	size       int
	rank       int
	p2pEnabled bool

	registry    requestRegistry
	waitTimeout time.Duration
	now         func() time.Time

	closed atomic.Bool

	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook
	stats            commStats
}

// Logger provides printf-style debug logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to spans or events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans that wrap blocking communicator operations.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records operation lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures communicator telemetry events.
type MetricHook interface {
	CollectiveCompleted(attrs map[string]string)
	CollectiveFailed(err error, attrs map[string]string)
	RequestPosted(attrs map[string]string)
	RequestCompleted(attrs map[string]string)
	WaitTimedOut(attrs map[string]string)
	StreamAborted(attrs map[string]string)
}

// Stats contains counters for communicator operations.
type Stats struct {
	CollectivesCompleted uint64
	CollectivesFailed    uint64
	SendsPosted          uint64
	ReceivesPosted       uint64
	RequestsCompleted    uint64
	WaitTimeouts         uint64
}

type commStats struct {
	collectivesCompleted atomic.Uint64
	collectivesFailed    atomic.Uint64
	sendsPosted          atomic.Uint64
	recvsPosted          atomic.Uint64
	requestsCompleted    atomic.Uint64
	waitTimeouts         atomic.Uint64
}

// New wraps externally bootstrapped transport handles into a Communicator.
// The communicator allocates its execution stream and scratch buffers from
// cfg.Device and owns both until Close; the transports themselves are not
// owned and must outlive the communicator.
func New(cfg Config) (*Communicator, error) {
	if cfg.Collective == nil {
		return nil, errors.New("communicator: collective transport required")
	}
	if cfg.Device == nil {
		return nil, errors.New("communicator: device runtime required")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("communicator: invalid cluster size %d", cfg.Size)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("communicator: rank %d out of range [0,%d)", cfg.Rank, cfg.Size)
	}
	if cfg.Worker != nil && len(cfg.Endpoints) != cfg.Size {
		return nil, fmt.Errorf("communicator: endpoint slice must hold one slot per rank (have %d want %d)", len(cfg.Endpoints), cfg.Size)
	}

	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}

	stream, err := cfg.Device.CreateStream()
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	sendbuf, err := cfg.Device.Malloc(scratchBytes)
	if err != nil {
		_ = cfg.Device.DestroyStream(stream)
		return nil, fmt.Errorf("allocate scratch send buffer: %w", err)
	}
	recvbuf, err := cfg.Device.Malloc(scratchBytes)
	if err != nil {
		_ = cfg.Device.Free(sendbuf)
		_ = cfg.Device.DestroyStream(stream)
		return nil, fmt.Errorf("allocate scratch recv buffer: %w", err)
	}

	structured := cfg.StructuredLogger
	if structured == nil {
		if logger, ok := cfg.Logger.(StructuredLogger); ok {
			structured = logger
		}
	}

	eps := make([]comms.Endpoint, len(cfg.Endpoints))
	copy(eps, cfg.Endpoints)

	c := &Communicator{
		cfg:              cfg,
		coll:             cfg.Collective,
		device:           cfg.Device,
		worker:           cfg.Worker,
		eps:              eps,
		stream:           stream,
		sendbuf:          sendbuf,
		recvbuf:          recvbuf,
		size:             cfg.Size,
		rank:             cfg.Rank,
		p2pEnabled:       cfg.Worker != nil,
		registry:         newRequestRegistry(),
		waitTimeout:      waitTimeout,
		now:              time.Now,
		logger:           cfg.Logger,
		structuredLogger: structured,
		tracer:           cfg.Tracer,
		metrics:          cfg.Metrics,
	}
	c.logEvent("init",
		logKV("size", c.size),
		logKV("rank", c.rank),
		logKV("p2p_enabled", c.p2pEnabled),
	)
	return c, nil
}

// Close releases the owned stream and scratch buffers. The injected transport
// handles are left untouched. Close is idempotent.
func (c *Communicator) Close() error {
	if c == nil {
		return nil
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := c.device.Free(c.sendbuf); err != nil {
		errs = append(errs, fmt.Errorf("free scratch send buffer: %w", err))
	}
	if err := c.device.Free(c.recvbuf); err != nil {
		errs = append(errs, fmt.Errorf("free scratch recv buffer: %w", err))
	}
	if err := c.device.DestroyStream(c.stream); err != nil {
		errs = append(errs, fmt.Errorf("destroy stream: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		c.logEvent("close", logKV("error", err))
	} else {
		c.logEvent("close")
	}
	return err
}

// Size returns the cluster size.
func (c *Communicator) Size() int {
	return c.size
}

// Rank returns the local rank.
func (c *Communicator) Rank() int {
	return c.rank
}

// Split always fails: the underlying collective transport has no dynamic
// sub-group creation.
func (c *Communicator) Split(color, key int) (*Communicator, error) {
	return nil, fmt.Errorf("split(color=%d key=%d): %w", color, key, ErrNotSupported)
}

// Stream returns the execution stream owned by the communicator. Collective
// helpers that take a stream argument accept it or any externally managed
// stream.
func (c *Communicator) Stream() comms.Stream {
	return c.stream
}

// Stats returns a snapshot of communicator counters.
func (c *Communicator) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		CollectivesCompleted: c.stats.collectivesCompleted.Load(),
		CollectivesFailed:    c.stats.collectivesFailed.Load(),
		SendsPosted:          c.stats.sendsPosted.Load(),
		ReceivesPosted:       c.stats.recvsPosted.Load(),
		RequestsCompleted:    c.stats.requestsCompleted.Load(),
		WaitTimeouts:         c.stats.waitTimeouts.Load(),
	}
}

func (c *Communicator) ensureOpen() error {
	if c == nil || c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *Communicator) ensurePointToPoint(peer int) (comms.Endpoint, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	if !c.p2pEnabled || c.worker == nil {
		return nil, ErrPointToPointDisabled
	}
	if peer < 0 || peer >= c.size {
		return nil, fmt.Errorf("communicator: peer rank %d out of range [0,%d)", peer, c.size)
	}
	ep := c.eps[peer]
	if ep == nil {
		return nil, fmt.Errorf("communicator: no endpoint for rank %d", peer)
	}
	return ep, nil
}

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (c *Communicator) logEvent(event string, fields ...logField) {
	if c == nil {
		return
	}
	if c.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+6)
		kv = append(kv, "event", event, "rank", c.rank, "size", c.size)
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		c.structuredLogger.Debugw("communicator", kv...)
		return
	}
	if c.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	c.logger.Debugf("communicator[%d/%d] %s", c.rank, c.size, b.String())
}

func (c *Communicator) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+2)
	attrs[labelRank] = fmt.Sprint(c.rank)
	attrs[labelSize] = fmt.Sprint(c.size)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (c *Communicator) metricCollectiveCompleted(op string) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.CollectiveCompleted(c.metricAttrs(logKV(labelOperation, op)))
}

func (c *Communicator) metricCollectiveFailed(op string, err error) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.CollectiveFailed(err, c.metricAttrs(logKV(labelOperation, op)))
}

func (c *Communicator) metricRequestPosted(kind string) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.RequestPosted(c.metricAttrs(logKV(labelKind, kind)))
}

func (c *Communicator) metricRequestCompleted(kind string) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.RequestCompleted(c.metricAttrs(logKV(labelKind, kind)))
}

func (c *Communicator) metricWaitTimedOut() {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.WaitTimedOut(c.metricAttrs())
}

func (c *Communicator) metricStreamAborted() {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.StreamAborted(c.metricAttrs())
}

func (c *Communicator) startSpan(name string, attrs ...TraceAttribute) Span {
	if c == nil || c.tracer == nil {
		return nil
	}
	base := []TraceAttribute{
		{Key: "component", Value: "communicator"},
		{Key: "rank", Value: c.rank},
		{Key: "size", Value: c.size},
	}
	return c.tracer.StartSpan(name, append(base, attrs...)...)
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, attributesFromFields(fields...)...)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func spanEnd(span Span, err error) {
	if span == nil {
		return
	}
	span.End(err)
}

func attributesFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.key, Value: field.value})
	}
	return attrs
}
