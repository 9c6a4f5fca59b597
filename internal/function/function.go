// Package function implements the node's function runtime (spec §4.H): a
// persisted record per function, each owning one goroutine implementing a
// fixed state machine over a small set of typed plugs.
package function

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldnode/nodecore/internal/message"
	"github.com/fieldnode/nodecore/internal/sysclock"
	"github.com/fieldnode/nodecore/internal/task"
)

// Kind identifies one of the function interface catalogue entries (spec
// §4.H table), grounded on the Type enum in
// _examples/original_source/software/control/src/FunctionInterface.hpp.
type Kind uint8

const (
	KindSwitch Kind = iota
	KindLight
	KindColorLight
	KindAnimatedLight
	KindTimedBlind
	KindHeatingControl
)

// Plug is one named typed input or output on a function, bound to an
// internal/message Topic the function reads from (input) or publishes to
// (output).
type Plug struct {
	Name  string
	Topic *message.Topic
}

// Record is a persisted function's configuration: its kind, the plug
// topics it is bound to, and kind-specific settings. Settings holds one of
// the Kind-specific *Settings structs below (SwitchSettings, LightSettings,
// ...), the Go analogue of the original's per-kind Data union member
// carried inside a common Function/DataUnion envelope — internal/store
// handles the tag+length+payload encoding that lets this be persisted to
// flash.
type Record struct {
	ID        uint32
	Name      string
	Kind      Kind
	Settings  any
	PlugTopic map[string]*message.Topic
}

// Instance is a running function: a Record plus the goroutine executing its
// state machine and the plugs it was bound to.
type Instance struct {
	Record Record
	Plugs  map[string]*Plug

	task   *task.Task
	cancel context.CancelFunc
}

// Runtime loads, starts, and persists function records (spec §4.H
// "Persistence interface"): load all records at boot; append/overwrite/
// delete a record, destroying any coroutine tied to the old record before
// freeing; enumerate records; query name/plug list by id.
type Runtime struct {
	logger *slog.Logger
	store  Store
	clock  *sysclock.Clock
	cal    *sysclock.Calendar

	mu        sync.Mutex
	instances map[uint32]*Instance
}

// Store is the persistence boundary: load/save/delete function records.
// Grounded on the teacher's modules/cache Backend split — a narrow
// interface between orchestration logic (Runtime) and a storage
// implementation (internal/store's flash-like key/value backend).
type Store interface {
	LoadAll(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id uint32) error
}

// NewRuntime returns a Runtime backed by store, using clock/cal for the
// time-driven behaviors (Switch timeout, TimedBlind polling interval,
// HeatingControl windows).
func NewRuntime(logger *slog.Logger, store Store, clock *sysclock.Clock, cal *sysclock.Calendar) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		logger:    logger,
		store:     store,
		clock:     clock,
		cal:       cal,
		instances: make(map[uint32]*Instance),
	}
}

// LoadAll starts a goroutine per persisted record, per spec §4.H "Each
// persisted function record is loaded at startup and owns one coroutine
// implementing its state machine."
func (r *Runtime) LoadAll(ctx context.Context) error {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := r.start(ctx, rec); err != nil {
			r.logger.Error("failed to start function", "id", rec.ID, "error", err)
		}
	}
	return nil
}

func (r *Runtime) start(ctx context.Context, rec Record) error {
	inst := &Instance{Record: rec, Plugs: map[string]*Plug{}}
	for name, topic := range rec.PlugTopic {
		inst.Plugs[name] = &Plug{Name: name, Topic: topic}
	}
	run, err := r.buildRunner(rec, inst.Plugs)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithCancel(ctx)
	inst.cancel = cancel
	inst.task = task.Spawn(cctx, r.logger, functionTaskName(rec), run)
	r.startNightSchedule(cctx, rec, inst.Plugs)

	r.mu.Lock()
	r.instances[rec.ID] = inst
	r.mu.Unlock()
	return nil
}

// startNightSchedule wires a HeatingControl record's NightStartCron/
// NightEndCron, if both are set, into the Calendar so the "night" plug is
// driven by wall-clock schedule rather than requiring an external publisher.
func (r *Runtime) startNightSchedule(ctx context.Context, rec Record, plugs map[string]*Plug) {
	if rec.Kind != KindHeatingControl || r.cal == nil {
		return
	}
	s, ok := rec.Settings.(HeatingControlSettings)
	if !ok || s.NightStartCron == "" || s.NightEndCron == "" {
		return
	}
	nightPlug, ok := plugs["night"]
	if !ok {
		return
	}
	name := functionTaskName(rec)
	if err := r.cal.RunSchedule(ctx, r.logger, name+".night.start", s.NightStartCron, func(context.Context) {
		nightPlug.Topic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOn})
	}); err != nil {
		r.logger.Error("failed to schedule night start", "id", rec.ID, "error", err)
	}
	if err := r.cal.RunSchedule(ctx, r.logger, name+".night.end", s.NightEndCron, func(context.Context) {
		nightPlug.Topic.Publish(message.Message{Type: message.TypeOnOff, OnOff: message.OnOffOff})
	}); err != nil {
		r.logger.Error("failed to schedule night end", "id", rec.ID, "error", err)
	}
}

func functionTaskName(rec Record) string {
	return "function." + rec.Name
}

// Save appends a new record or overwrites an existing one, destroying any
// coroutine tied to the old record before freeing it (spec §4.H).
func (r *Runtime) Save(ctx context.Context, rec Record) error {
	r.mu.Lock()
	old, existed := r.instances[rec.ID]
	r.mu.Unlock()
	if existed {
		old.task.CancelAndWait()
		old.cancel()
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return err
	}
	return r.start(ctx, rec)
}

// Delete removes a record, destroying its coroutine first.
func (r *Runtime) Delete(ctx context.Context, id uint32) error {
	r.mu.Lock()
	inst, existed := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()
	if existed {
		inst.task.CancelAndWait()
		inst.cancel()
	}
	return r.store.Delete(ctx, id)
}

// Enumerate returns every currently loaded record.
func (r *Runtime) Enumerate() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.Record)
	}
	return out
}

// Lookup returns the name and plug names for id, implementing spec §4.H's
// "query name/plug list by id".
func (r *Runtime) Lookup(id uint32) (name string, plugs []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return "", nil, false
	}
	for name := range inst.Plugs {
		plugs = append(plugs, name)
	}
	return inst.Record.Name, plugs, true
}
