// Package coordinator owns one interactive context and the background
// contexts next to it, relays save events between them and commits them in
// a fixed order.
package coordinator

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/disposable"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/logging"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/managed"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/metrics"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/signals"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/store"
)

const (
	InteractiveName = "interactive"
	BackgroundName  = "background"
)

type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithMergePolicy sets the merge policy of every context the coordinator
// creates.
func WithMergePolicy(policy managed.MergePolicy) Option {
	return func(c *Coordinator) {
		c.policy = policy
	}
}

func WithAssertions(enabled bool) Option {
	return func(c *Coordinator) {
		c.assertions = enabled
	}
}

type member struct {
	context      *managed.Context
	subscription disposable.Disposable
}

type Coordinator struct {
	scope       string
	engine      engine.Engine
	ownsEngine  bool
	interactive *managed.Context
	background  *managed.Context
	onSaved     *signals.CompositeSignalImp[managed.SaveEvent]
	external    disposable.Disposable

	mu      sync.RWMutex
	members []member // interactive first, then backgrounds in creation order
	closed  bool

	commitMu sync.Mutex

	logger     *zap.Logger
	metrics    *metrics.Metrics
	policy     managed.MergePolicy
	assertions bool
}

// New coordinates contexts over eng. Close leaves eng open.
func New(eng engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{scope: ulid.Make().String(), engine: eng}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.For(c.logger, logging.ComponentCoordinator)

	c.interactive = c.newContext(InteractiveName, managed.Interactive)
	c.background = c.newContext(BackgroundName, managed.Background)
	c.members = []member{c.join(c.interactive), c.join(c.background)}
	c.onSaved = signals.NewCompositeSignal[managed.SaveEvent](c.interactive.OnSaved(), c.background.OnSaved())

	if notifier, ok := eng.(engine.ChangeNotifier); ok {
		c.external = notifier.OnChange().Attach(c.mergeExternal, c)
	}
	return c
}

// Open opens the store d describes and coordinates contexts over it. Close
// closes the store as well.
func Open(ctx context.Context, d store.Description, opts ...Option) (*Coordinator, error) {
	settings := &Coordinator{}
	for _, opt := range opts {
		opt(settings)
	}
	eng, err := store.Open(ctx, d, store.WithLogger(settings.logger))
	if err != nil {
		return nil, err
	}
	c := New(eng, opts...)
	c.ownsEngine = true
	return c, nil
}

func (c *Coordinator) Engine() engine.Engine {
	return c.engine
}

func (c *Coordinator) Interactive() *managed.Context {
	return c.interactive
}

// Background returns the default background context.
func (c *Coordinator) Background() *managed.Context {
	return c.background
}

// Origin returns the origin the context called name writes under. Origins
// are unique per coordinator, so coordinators sharing an engine tell their
// writes apart.
func (c *Coordinator) Origin(name string) string {
	return c.scope + "/" + name
}

func (c *Coordinator) owns(origin string) bool {
	return strings.HasPrefix(origin, c.scope+"/")
}

// OnSaved reports save events of the interactive and the default
// background context.
func (c *Coordinator) OnSaved() signals.Signal[managed.SaveEvent] {
	return c.onSaved
}

// NewBackgroundContext adds a background context that takes part in relays
// and commits until it is discarded.
func (c *Coordinator) NewBackgroundContext(name string) (*managed.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	for _, m := range c.members {
		if m.context.Name() == name {
			return nil, errors.Wrap(ErrDuplicateContext, name)
		}
	}
	mc := c.newContext(name, managed.Background)
	c.members = append(c.members, c.join(mc))
	c.logger.Debug("background context added", zap.String("context", name))
	return mc, nil
}

// Discard stops relaying to and from mc and closes it. Pending changes of
// mc are lost. The interactive and the default background context cannot
// be discarded. Discard must not be called from an operation of mc.
func (c *Coordinator) Discard(mc *managed.Context) error {
	if mc == c.interactive || mc == c.background {
		return errors.Wrapf(ErrUnknownContext, "%s cannot be discarded", mc.Name())
	}
	c.mu.Lock()
	i := slices.IndexFunc(c.members, func(m member) bool { return m.context == mc })
	if i < 0 {
		c.mu.Unlock()
		return ErrUnknownContext
	}
	m := c.members[i]
	c.members = slices.Delete(c.members, i, i+1)
	c.mu.Unlock()

	m.subscription.Dispose()
	mc.Close()
	c.logger.Debug("background context discarded", zap.String("context", mc.Name()))
	return nil
}

func (c *Coordinator) newContext(name string, mode managed.Mode) *managed.Context {
	return managed.New(name, c.engine,
		managed.WithOrigin(c.Origin(name)),
		managed.WithMode(mode),
		managed.WithLogger(c.logger),
		managed.WithMetrics(c.metrics),
		managed.WithMergePolicy(c.policy),
		managed.WithAssertions(c.assertions),
	)
}

// join subscribes the relay of mc's save events.
func (c *Coordinator) join(mc *managed.Context) member {
	return member{
		context: mc,
		subscription: mc.OnSaved().Attach(func(event managed.SaveEvent) {
			c.relay(mc, event)
		}, c),
	}
}

// relay schedules event on every other context. It runs on the worker of
// from, before its Commit returns, so the merge is queued ahead of any
// later operation on the targets.
func (c *Coordinator) relay(from *managed.Context, event managed.SaveEvent) {
	for _, target := range c.contexts() {
		if target == from {
			continue
		}
		if !target.ScheduleMerge(event) {
			c.logger.Warn("save event dropped",
				zap.String("from", from.Name()),
				zap.String("to", target.Name()),
				zap.Stringer("event", event.ID),
			)
		}
	}
}

// mergeExternal merges changes written to the engine by anyone but this
// coordinator's contexts.
func (c *Coordinator) mergeExternal(n engine.ChangeNotification) {
	if c.owns(n.Origin) {
		return
	}
	contexts := c.contexts()
	event := managed.EventFromNotification(n)
	if event.IsEmpty() {
		return
	}
	c.logger.Debug("external change", zap.String("origin", n.Origin), zap.Stringer("event", event.ID))
	for _, mc := range contexts {
		mc.ScheduleMerge(event)
	}
}

func (c *Coordinator) contexts() []*managed.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*managed.Context, 0, len(c.members))
	for _, m := range c.members {
		result = append(result, m.context)
	}
	return result
}

// Commit commits every background context in creation order, then the
// interactive one. It stops at the first failure and returns a
// *CommitError; contexts committed before it stay committed.
func (c *Coordinator) Commit(ctx context.Context) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	contexts := c.contexts()
	if len(contexts) == 0 {
		return ErrClosed
	}
	for _, mc := range contexts[1:] {
		if err := mc.Commit(ctx); err != nil {
			return c.commitFailed(PhaseBackground, mc, err)
		}
	}
	if err := c.interactive.Commit(ctx); err != nil {
		return c.commitFailed(PhaseInteractive, c.interactive, err)
	}
	return nil
}

func (c *Coordinator) commitFailed(phase Phase, mc *managed.Context, err error) error {
	c.metrics.CommitFailed(phase.String())
	c.logger.Warn("commit failed",
		zap.Stringer("phase", phase),
		zap.String("context", mc.Name()),
		zap.Error(err),
	)
	return &CommitError{Phase: phase, Context: mc.Name(), Err: err}
}

// Close closes every context, and the engine if Open created it.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	members := c.members
	c.members = nil
	c.mu.Unlock()

	if c.external != nil {
		c.external.Dispose()
	}
	for _, m := range members {
		m.subscription.Dispose()
		m.context.Close()
	}
	var result error
	if c.ownsEngine {
		if err := c.engine.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close engine"))
		}
	}
	return result
}
