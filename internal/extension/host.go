// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/shelfhost/shelf/pkg/errutil"
)

const tracerName = "github.com/shelfhost/shelf/internal/extension"

// Operation is a named entry point an extension exports to others.
type Operation func(ctx context.Context, args ...any) (any, error)

// Instance is an instantiated extension.
type Instance interface {
	// Activate is the primary lifecycle hook. An error keeps the extension
	// disabled.
	Activate(ctx context.Context, env *Env) error
	// PostActivate runs once the extension is enabled. Errors are reported
	// but do not disable the extension.
	PostActivate(ctx context.Context, env *Env) error
	// Operation looks up an exported operation by name.
	Operation(name string) (Operation, bool)
}

// Runtime turns a descriptor into an Instance, loading code through scope.
type Runtime interface {
	Instantiate(ctx context.Context, desc *Descriptor, scope *Scope) (Instance, error)
}

// closer is implemented by instances and runtimes holding resources
// (processes, interpreter states) released at shell shutdown.
type closer interface {
	Close(ctx context.Context) error
}

// State is the activation state of one extension.
type State int

// Activation states. Enabled, Rejected and FailedActivation are terminal.
const (
	StateUnknown State = iota
	StateDiscovered
	StateRejected
	StateActivating
	StateFailedActivation
	StateEnabled
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateRejected:
		return "rejected"
	case StateActivating:
		return "activating"
	case StateFailedActivation:
		return "failed"
	case StateEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Record is the bookkeeping entry of an enabled extension.
type Record struct {
	Descriptor *Descriptor
	Scope      *Scope
	Instance   Instance
	Enabled    bool
}

// Failure pairs an extension id with the error that stopped it.
type Failure struct {
	ID  string
	Err error
}

// Report summarises one activation run.
type Report struct {
	RunID string
	// Enabled lists enabled extension ids in activation order.
	Enabled []string
	// Rejected lists extensions whose hard dependencies never became enabled.
	Rejected []Rejection
	// Failed lists extensions whose instantiation or primary hook failed.
	Failed []Failure
	// PostActivateErrors lists enabled extensions whose secondary hook failed.
	PostActivateErrors []Failure
	// Invalid holds discovery errors for skipped candidates (Load only).
	Invalid []error
	// Missing names sources whose root does not exist (Load only).
	Missing []string
}

// Host activates extensions and keeps track of the enabled ones.
//
// Activation is sequential. Host is safe for concurrent reads once
// ActivateAll has returned.
type Host struct {
	runtimes map[Kind]Runtime
	base     Location
	ui       UI
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	linker   *Linker

	activated atomic.Bool

	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	states  map[string]State
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithRuntime registers the runtime for a kind.
func WithRuntime(kind Kind, rt Runtime) HostOption {
	return func(h *Host) {
		h.runtimes[kind] = rt
	}
}

// WithBase sets the base environment every scope falls back to.
func WithBase(base Location) HostOption {
	return func(h *Host) {
		h.base = base
	}
}

// WithUI sets the UI host handed to extensions.
func WithUI(ui UI) HostOption {
	return func(h *Host) {
		h.ui = ui
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) HostOption {
	return func(h *Host) {
		h.metrics = m
	}
}

// NewHost creates a host. The native runtime is always registered.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		runtimes: map[Kind]Runtime{KindNative: NativeRuntime{}},
		tracer:   otel.Tracer(tracerName),
		records:  make(map[string]*Record),
		states:   make(map[string]State),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.linker = &Linker{host: h}
	return h
}

// Load discovers extensions from sources and activates them. A source that
// cannot be read is logged and contributes nothing; an empty result is a
// valid state, not an error.
func (h *Host) Load(ctx context.Context, sources ...Source) (*Report, error) {
	ctx, span := h.tracer.Start(ctx, "extension.discover")
	disc, err := Discover(ctx, sources...)
	if err != nil {
		span.RecordError(err)
		for _, e := range multierr.Errors(err) {
			errutil.LogError(h.logger, "extension source unreadable, continuing without it", e)
		}
	}
	for _, name := range disc.Missing {
		h.logger.Warn("extension source not found, continuing without it", "source", name)
	}
	for _, e := range disc.Invalid {
		h.metrics.activation(OutcomeInvalid)
		errutil.LogWarn(h.logger, "skipping invalid extension", e)
	}
	span.End()

	report, actErr := h.ActivateAll(ctx, disc.Descriptors)
	if report != nil {
		report.Invalid = disc.Invalid
		report.Missing = disc.Missing
	}
	return report, actErr
}

// ActivateAll resolves descs and activates them in order. It runs once per
// host; failures of individual extensions are reported, never returned.
func (h *Host) ActivateAll(ctx context.Context, descs []*Descriptor) (*Report, error) {
	if !h.activated.CompareAndSwap(false, true) {
		return nil, oops.In("extension").Code(CodeAlreadyActivated).Errorf("extensions already activated")
	}

	report := &Report{RunID: ulid.Make().String()}
	logger := h.logger.With("run_id", report.RunID)

	ctx, span := h.tracer.Start(ctx, "extension.activate_all",
		trace.WithAttributes(attribute.Int("extension.candidates", len(descs))))
	defer span.End()

	h.mu.Lock()
	for _, d := range descs {
		if d != nil {
			h.states[d.Key()] = StateDiscovered
		}
	}
	h.mu.Unlock()

	res := Resolve(descs)
	for _, rej := range res.Rejected {
		h.reject(logger, report, rej)
	}

	for _, d := range res.Order {
		// A dependency that resolved but failed to activate makes this
		// extension's requirement unmet.
		if missing := h.disabledRequirements(d); len(missing) > 0 {
			h.reject(logger, report, Rejection{Descriptor: d, Missing: missing})
			continue
		}
		h.activate(ctx, logger, report, d)
	}

	span.SetAttributes(
		attribute.Int("extension.enabled", len(report.Enabled)),
		attribute.Int("extension.rejected", len(report.Rejected)),
		attribute.Int("extension.failed", len(report.Failed)),
	)
	logger.Info("extension activation complete",
		"enabled", len(report.Enabled),
		"rejected", len(report.Rejected),
		"failed", len(report.Failed))
	return report, nil
}

func (h *Host) reject(logger *slog.Logger, report *Report, rej Rejection) {
	h.setState(rej.Descriptor.Key(), StateRejected)
	report.Rejected = append(report.Rejected, rej)
	h.metrics.activation(OutcomeRejected)
	logger.Warn("extension rejected",
		"extension", rej.Descriptor.ID,
		"reason", rej.Reason())
}

func (h *Host) disabledRequirements(d *Descriptor) []Unmet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var missing []Unmet
	for _, dep := range d.Requires {
		if _, ok := h.records[Key(dep.ID)]; !ok {
			missing = append(missing, Unmet{ID: dep.ID})
		}
	}
	return missing
}

func (h *Host) activate(ctx context.Context, logger *slog.Logger, report *Report, d *Descriptor) {
	key := d.Key()
	logger = logger.With("extension", d.ID)
	h.setState(key, StateActivating)

	ctx, span := h.tracer.Start(ctx, "extension.activate",
		trace.WithAttributes(
			attribute.String("extension.id", d.ID),
			attribute.String("extension.kind", string(d.Kind)),
		))
	defer span.End()

	scope := NewScope(d.ID, d.Location, h.delegatesFor(d), h.base)
	env := &Env{Descriptor: d, Scope: scope, Linker: h.linker, Logger: logger, ui: h.ui}

	inst, err := h.instantiate(ctx, d, scope)
	if err == nil {
		err = guard(d.ID, "activate", func() error { return inst.Activate(ctx, env) })
	}
	if err != nil {
		if inst != nil {
			if c, ok := inst.(closer); ok {
				if cerr := c.Close(ctx); cerr != nil {
					logger.Warn("failed to release extension after failed activation", "error", cerr)
				}
			}
		}
		err = oops.In("extension").
			Code(CodeActivationFailed).
			With("extension", d.ID).
			Wrapf(err, "activate %s", d.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		h.setState(key, StateFailedActivation)
		report.Failed = append(report.Failed, Failure{ID: d.ID, Err: err})
		h.metrics.activation(OutcomeFailed)
		errutil.LogError(logger, "extension activation failed", err)
		return
	}

	h.mu.Lock()
	h.records[key] = &Record{Descriptor: d, Scope: scope, Instance: inst, Enabled: true}
	h.order = append(h.order, key)
	h.states[key] = StateEnabled
	h.mu.Unlock()

	report.Enabled = append(report.Enabled, d.ID)
	h.metrics.activation(OutcomeEnabled)
	logger.Info("extension enabled",
		"version", d.VersionString(),
		"kind", d.Kind,
		"delegates", scope.Delegates())

	if err := guard(d.ID, "post_activate", func() error { return inst.PostActivate(ctx, env) }); err != nil {
		err = oops.In("extension").
			Code(CodePostActivateFailed).
			With("extension", d.ID).
			Wrapf(err, "post-activate %s", d.ID)
		span.RecordError(err)
		report.PostActivateErrors = append(report.PostActivateErrors, Failure{ID: d.ID, Err: err})
		errutil.LogError(logger, "extension post-activate hook failed", err)
	}
}

func (h *Host) instantiate(ctx context.Context, d *Descriptor, scope *Scope) (Instance, error) {
	rt, ok := h.runtimes[d.Kind]
	if !ok {
		return nil, oops.With("kind", d.Kind).Errorf("no runtime for extension kind %q", d.Kind)
	}
	var inst Instance
	err := guard(d.ID, "instantiate", func() error {
		var err error
		inst, err = rt.Instantiate(ctx, d, scope)
		return err
	})
	return inst, err
}

// delegatesFor returns the scopes of d's enabled hard and soft dependencies,
// hard dependencies first, each in declaration order.
func (h *Host) delegatesFor(d *Descriptor) []*Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := append(d.RequiredIDs(), d.Soft...)
	delegates := make([]*Scope, 0, len(ids))
	for _, id := range ids {
		if rec, ok := h.records[Key(id)]; ok && rec.Enabled {
			delegates = append(delegates, rec.Scope)
		}
	}
	return delegates
}

func (h *Host) setState(key string, s State) {
	h.mu.Lock()
	h.states[key] = s
	h.mu.Unlock()
}

// guard runs fn, turning a panic into an error.
func guard(id, hook string, fn func() error) error {
	var err error
	if perr := oops.In("extension").With("extension", id).With("hook", hook).Recoverf(func() {
		err = fn()
	}, "%s panicked in %s", id, hook); perr != nil {
		return perr
	}
	return err
}

// EnabledIDs returns enabled extension ids in activation order.
func (h *Host) EnabledIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, len(h.order))
	for i, key := range h.order {
		ids[i] = h.records[key].Descriptor.ID
	}
	return ids
}

// IsEnabled reports whether id is enabled. Case-insensitive.
func (h *Host) IsEnabled(id string) bool {
	_, ok := h.Record(id)
	return ok
}

// State returns the activation state of id.
func (h *Host) State(id string) State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.states[Key(id)]
}

// Record returns the record of an enabled extension.
func (h *Host) Record(id string) (*Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[Key(id)]
	if !ok || !rec.Enabled {
		return nil, false
	}
	return rec, true
}

// Scope returns the scope of an enabled extension.
func (h *Host) Scope(id string) (*Scope, bool) {
	rec, ok := h.Record(id)
	if !ok {
		return nil, false
	}
	return rec.Scope, true
}

// Scopes returns every created scope in activation order.
func (h *Host) Scopes() []*Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	scopes := make([]*Scope, len(h.order))
	for i, key := range h.order {
		scopes[i] = h.records[key].Scope
	}
	return scopes
}

// Linker returns the dynamic linkage helper bound to this host.
func (h *Host) Linker() *Linker {
	return h.linker
}

// Close releases instance and runtime resources at shell shutdown, in
// reverse activation order. Extensions stay recorded as enabled; there is no
// unloading.
func (h *Host) Close(ctx context.Context) error {
	h.mu.RLock()
	order := append([]string(nil), h.order...)
	records := make([]*Record, len(order))
	for i, key := range order {
		records[i] = h.records[key]
	}
	h.mu.RUnlock()

	var errs error
	for i := len(records) - 1; i >= 0; i-- {
		if c, ok := records[i].Instance.(closer); ok {
			errs = multierr.Append(errs, c.Close(ctx))
		}
	}
	for _, rt := range h.runtimes {
		if c, ok := rt.(closer); ok {
			errs = multierr.Append(errs, c.Close(ctx))
		}
	}
	return errs
}
