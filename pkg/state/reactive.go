package state

import (
	"context"
	"fmt"
	"sync"
)

// MutationFunc is a named operation dispatched through a Reactive instance.
// Mutations are the only sanctioned path to modify state: they unlock the
// manager, apply update records, and re-lock it.
type MutationFunc func(ctx context.Context, m *StateManager, args ...any) error

// Watcher declares a component's interest in one event name, paired with the
// handler to run when it fires.
type Watcher struct {
	Watch   string
	Handler func(Event)
}

// Component is a consumer registering watchers against a Reactive instance.
type Component interface {
	Name() string
	Watchers() []Watcher
}

type watcherEntry struct {
	component string
	handler   func(Event)
}

// Reactive is the façade a page or editing session uses: it owns one
// StateManager, a registry of mutation handlers, and a registry of watchers,
// routing dispatched actions to mutations and flushed events to watchers.
// Instances are explicitly constructed and injected; there is no package
// level singleton.
type Reactive struct {
	name    string
	manager *StateManager
	logger  Logger

	mu        sync.Mutex
	mutations map[string]MutationFunc
	watchers  map[string][]watcherEntry
	loaded    bool
}

// ReactiveOption configures a Reactive instance at construction.
type ReactiveOption func(*reactiveConfig)

type reactiveConfig struct {
	logger      Logger
	mutations   map[string]MutationFunc
	initial     map[string]any
	initialJSON []byte
	managerOpts []ManagerOption
}

// WithLogger injects the structured logger used for mutation failures.
func WithLogger(l Logger) ReactiveOption {
	return func(c *reactiveConfig) { c.logger = l }
}

// WithMutations seeds the mutation table.
func WithMutations(mutations map[string]MutationFunc) ReactiveOption {
	return func(c *reactiveConfig) { c.mutations = mutations }
}

// WithInitialState pre-supplies the initial state document. Mutually
// exclusive with calling SetInitialState later.
func WithInitialState(doc map[string]any) ReactiveOption {
	return func(c *reactiveConfig) { c.initial = doc }
}

// WithInitialStateJSON pre-supplies the raw initial state document.
func WithInitialStateJSON(raw []byte) ReactiveOption {
	return func(c *reactiveConfig) { c.initialJSON = raw }
}

// WithStateManagerOptions forwards options to the owned StateManager.
func WithStateManagerOptions(opts ...ManagerOption) ReactiveOption {
	return func(c *reactiveConfig) { c.managerOpts = opts }
}

// NewReactive constructs a named Reactive instance owning a fresh
// StateManager wired to deliver events to its watcher registry.
func NewReactive(name string, opts ...ReactiveOption) (*Reactive, error) {
	cfg := reactiveConfig{logger: NopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Reactive{
		name:      name,
		logger:    cfg.logger,
		mutations: make(map[string]MutationFunc),
		watchers:  make(map[string][]watcherEntry),
	}
	r.manager = NewStateManager(r.deliver, cfg.managerOpts...)
	for mutation, fn := range cfg.mutations {
		r.mutations[mutation] = fn
	}
	if cfg.initial != nil && cfg.initialJSON != nil {
		return nil, fmt.Errorf("reactive %s: initial state supplied twice", name)
	}
	if cfg.initial != nil {
		if err := r.manager.SetInitialState(cfg.initial); err != nil {
			return nil, err
		}
	}
	if cfg.initialJSON != nil {
		if err := r.manager.SetInitialStateJSON(cfg.initialJSON); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Name returns the instance name used in logs.
func (r *Reactive) Name() string { return r.name }

// StateManager returns the owned manager. Mutation implementations receive it
// on dispatch; other callers should treat it as read-only.
func (r *Reactive) StateManager() *StateManager { return r.manager }

// State returns the live state tree.
func (r *Reactive) State() *State { return r.manager.State() }

// SetInitialState loads the initial state document. Fails when state was
// pre-supplied at construction or already loaded.
func (r *Reactive) SetInitialState(doc map[string]any) error {
	return r.manager.SetInitialState(doc)
}

// SetInitialStateJSON loads the raw initial state document.
func (r *Reactive) SetInitialStateJSON(raw []byte) error {
	return r.manager.SetInitialStateJSON(raw)
}

// AddMutations merges the given handlers into the mutation table; later
// registrations win on name collisions.
func (r *Reactive) AddMutations(mutations map[string]MutationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fn := range mutations {
		r.mutations[name] = fn
	}
}

// SetMutations replaces the whole mutation table.
func (r *Reactive) SetMutations(mutations map[string]MutationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = make(map[string]MutationFunc, len(mutations))
	for name, fn := range mutations {
		r.mutations[name] = fn
	}
}

// RegisterComponent indexes the component's watchers. Every watcher must
// declare both an event name and a handler. Handlers for the same event run
// in registration order. A "state:loaded" watcher registered after the state
// already loaded is invoked immediately, exactly once, with the current
// state.
func (r *Reactive) RegisterComponent(c Component) error {
	watchers := c.Watchers()
	for _, w := range watchers {
		if w.Watch == "" || w.Handler == nil {
			return ErrInvalidWatcher{Component: c.Name()}
		}
	}
	var replay []func(Event)
	r.mu.Lock()
	for _, w := range watchers {
		r.watchers[w.Watch] = append(r.watchers[w.Watch], watcherEntry{component: c.Name(), handler: w.Handler})
		if w.Watch == EventStateLoaded && r.loaded {
			replay = append(replay, w.Handler)
		}
	}
	r.mu.Unlock()
	for _, handler := range replay {
		handler(Event{Name: EventStateLoaded, Action: ActionLoaded, State: r.manager.State()})
	}
	return nil
}

// Dispatch routes a named action to its registered mutation. Mutation
// failures are logged with their context and returned to the caller, who
// decides whether to surface or swallow them. Pending events flush after the
// mutation returns.
func (r *Reactive) Dispatch(ctx context.Context, name string, args ...any) error {
	r.mu.Lock()
	fn, ok := r.mutations[name]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownMutation{Name: name}
	}
	err := fn(ctx, r.manager, args...)
	r.manager.Flush()
	if err != nil {
		r.logger.Error("mutation failed", "reactive", r.name, "mutation", name, "error", err)
		return fmt.Errorf("dispatch %s: %w", name, err)
	}
	return nil
}

// deliver is the manager's event sink: it marks the one-time load and routes
// each event to the watchers registered under its exact name.
func (r *Reactive) deliver(ev Event) {
	r.mu.Lock()
	if ev.Name == EventStateLoaded {
		r.loaded = true
	}
	entries := make([]watcherEntry, len(r.watchers[ev.Name]))
	copy(entries, r.watchers[ev.Name])
	r.mu.Unlock()
	for _, entry := range entries {
		entry.handler(ev)
	}
}
