package core

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/jabolina/go-syncengine/internal/archive"
	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/internal/grouplock"
	"github.com/jabolina/go-syncengine/internal/logging"
	"github.com/jabolina/go-syncengine/internal/sinkstate"
	"github.com/jabolina/go-syncengine/internal/telemetry"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// OverallState is the group-level lifecycle state (spec.md §3's Engine
// runtime field).
type OverallState int

const (
	Uninitialized OverallState = iota
	Initialized
	InitializationFailed
)

// Engine drives a synchronization group: the list of ObjEngines, the
// PeerProxy table, the command queue and sticky error spec.md §4.10/§5
// describe. All state transitions happen on a single goroutine (the
// driver), reached only through Post; external callers only ever enqueue
// work.
type Engine struct {
	config  *types.GroupConfiguration
	proxies map[string]PeerProxy

	objEngines []*ObjEngine
	arch       *archive.Archive
	anchors    *sinkstate.SinkStateDB
	lock       *grouplock.Lock
	telemetry  *telemetry.Registry

	cb  *Callbacks
	log logging.Logger

	state           OverallState
	err             *errs.Error
	previousUnclean bool

	commands chan func()
	stop     chan struct{}

	runActive     int
	onRunComplete func()

	// phaseAcks/phaseErrs mirror spec.md §4.10's Engine-level phase
	// bitmasks: one bit per ObjEngine ordinal, per phase event. full is
	// the "every ObjEngine has reported" target mask. Reset at the start
	// of every run so a phase event fires exactly once per run, only
	// once every ObjEngine has reported it (invariant I3 at the Engine
	// level).
	phaseAcks map[Event]types.Bitmask
	phaseErrs map[Event]*errs.Error
	full      types.Bitmask
}

// Initialize loads the group: checks the ≥2 peers / ≥1 objtype
// constraints, opens the Archive and SinkStateDB, acquires the group
// lock (detecting a stale one and forcing slow-sync for this run), builds
// one ObjEngine per object type, and starts the driver goroutine.
func Initialize(config *types.GroupConfiguration, proxies map[string]PeerProxy, cb *Callbacks) (*Engine, *errs.Error) {
	if len(config.Members) < 2 {
		return nil, errs.New(errs.Misconfiguration, "group needs at least two members")
	}
	if len(config.ObjTypes) < 1 {
		return nil, errs.New(errs.Misconfiguration, "group needs at least one enabled object type")
	}
	log := config.Logger
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	fmts := config.Formats
	if fmts == nil {
		fmts = format.NewRegistry()
	}

	lock, lockState, lerr := grouplock.Acquire(filepath.Join(config.ArchiveDir, config.Name+".lock"))
	if lerr != nil {
		return nil, errs.Stack(errs.Locked, "failed acquiring group lock", lerr)
	}

	arch, aerr := archive.Open(filepath.Join(config.ArchiveDir, config.Name+".archive.db"))
	if aerr != nil {
		_ = lock.Release()
		return nil, errs.Stack(errs.IoError, "failed opening archive", aerr)
	}
	anchors, serr := sinkstate.Open(filepath.Join(config.ArchiveDir, config.Name+".sinkstate.db"))
	if serr != nil {
		_ = arch.Close()
		_ = lock.Release()
		return nil, errs.Stack(errs.IoError, "failed opening sinkstate db", serr)
	}

	e := &Engine{
		config:          config,
		proxies:         proxies,
		arch:            arch,
		anchors:         anchors,
		lock:            lock,
		telemetry:       telemetry.NewRegistry(),
		cb:              cb,
		log:             log,
		state:           Initialized,
		previousUnclean: lockState == grouplock.Stale,
		commands:        make(chan func(), 256),
		stop:            make(chan struct{}),
		phaseAcks:       map[Event]types.Bitmask{},
		phaseErrs:       map[Event]*errs.Error{},
	}

	for _, objtype := range config.ObjTypes {
		obj, oerr := NewObjEngine(objtype, config.Members, proxies, arch, fmts, e.telemetry, cb, log)
		if oerr != nil {
			_ = arch.Close()
			_ = anchors.Close()
			_ = lock.Release()
			return nil, errs.Stack(errs.Initialization, "failed building obj engine for "+objtype, oerr)
		}
		ordinal := len(e.objEngines)
		obj.reportPhase = func(event Event, err *errs.Error) { e.reportObjPhase(ordinal, event, err) }
		e.objEngines = append(e.objEngines, obj)
	}
	e.full = types.Full(len(e.objEngines))

	go e.drive()
	return e, nil
}

// reportObjPhase aggregates one ObjEngine's phase-end report. Once every
// ObjEngine ordinal has reported the same event this run, the Engine
// emits the group-level engine_status event exactly once, carrying the
// first non-nil error any ObjEngine reported for that phase (spec.md
// §4.10: "once all ObjEngines ... have set theirs, the Engine emits the
// group-level event").
func (e *Engine) reportObjPhase(ordinal int, event Event, err *errs.Error) {
	mask := e.phaseAcks[event].Set(ordinal)
	e.phaseAcks[event] = mask

	aggregated := e.phaseErrs[event]
	errs.SetIfUnset(&aggregated, err)
	e.phaseErrs[event] = aggregated

	if !mask.Covers(e.full) {
		return
	}
	e.cb.engineStatus(event, aggregated)
}

func (e *Engine) drive() {
	for {
		select {
		case cmd := <-e.commands:
			cmd()
		case <-e.stop:
			return
		}
	}
}

// Post implements the Poster signature every PeerProxy this Engine owns
// is built with: it marshals the callback back onto the driver goroutine.
func (e *Engine) Post(f func()) {
	e.commands <- f
}

// Synchronize queues a connect command for every ObjEngine. Non-blocking.
func (e *Engine) Synchronize() {
	e.Post(func() { e.startRun() })
}

// SynchronizeAndBlock queues the same command and waits for the run to
// finish, returning the sticky error if any.
func (e *Engine) SynchronizeAndBlock() *errs.Error {
	done := make(chan struct{})
	e.Post(func() {
		e.onRunComplete = func() { close(done) }
		e.startRun()
	})
	<-done
	return e.err
}

func (e *Engine) startRun() {
	e.phaseAcks = map[Event]types.Bitmask{}
	e.phaseErrs = map[Event]*errs.Error{}

	forceSlowsync := e.previousUnclean
	if e.previousUnclean {
		e.cb.engineStatus(EventPrevUnclean, nil)
		e.previousUnclean = false
	}
	e.runActive = len(e.objEngines)
	if e.runActive == 0 {
		e.finishGroupRun()
		return
	}
	for _, o := range e.objEngines {
		obj := o
		obj.onPhaseDone = func() { e.objEngineFinished() }
		obj.Connect(forceSlowsync)
	}
}

func (e *Engine) objEngineFinished() {
	e.runActive--
	if e.runActive == 0 {
		e.finishGroupRun()
	}
}

// finishGroupRun applies the resolved Open Question on event ordering
// (original_source/opensync_engine.c's _osyncengine_check_state):
// successful is emitted strictly before disconnected, and omitted
// entirely whenever a sticky error is set.
func (e *Engine) finishGroupRun() {
	for _, o := range e.objEngines {
		errs.SetIfUnset(&e.err, o.Error())
	}

	outcome := "success"
	if e.err == nil {
		e.cb.engineStatus(EventSuccessful, nil)
	} else {
		outcome = "error"
	}
	e.telemetry.ObserveRun(outcome)
	e.cb.engineStatus(EventDisconnected, e.err)
	if e.err != nil {
		e.cb.engineStatus(EventError, e.err)
	}

	if e.onRunComplete != nil {
		done := e.onRunComplete
		e.onRunComplete = nil
		done()
	}
}

// Discover spawns a one-shot discover call on memberID's proxy and blocks
// for its result, independent of any sync run. On success, memberID's
// discovered capability list replaces every ObjEngine's SinkEngine.Caps
// for that member (spec.md §4.6), so a later run's demerge/conflict
// detection sees it instead of MemberConfiguration's static default.
func (e *Engine) Discover(memberID string) ([]string, *errs.Error) {
	proxy, ok := e.proxies[memberID]
	if !ok {
		return nil, errs.Newf(errs.Misconfiguration, "unknown member %s", memberID)
	}
	type result struct {
		caps []string
		err  *errs.Error
	}
	done := make(chan result, 1)
	e.Post(func() {
		proxy.Discover(func(caps []string, err *errs.Error) {
			if err == nil {
				for _, o := range e.objEngines {
					if sink := o.sinkFor(memberID); sink != nil {
						sink.Caps = caps
					}
				}
			}
			done <- result{caps: caps, err: err}
		})
	})
	r := <-done
	return r.caps, r.err
}

// Abort flushes the command queue and forces every ObjEngine straight to
// its disconnect arm with a synthetic "aborted by user" error.
func (e *Engine) Abort() {
	e.Post(func() {
	drain:
		for {
			select {
			case <-e.commands:
			default:
				break drain
			}
		}
		aborted := errs.New(errs.Generic, "synchronization aborted by user")
		errs.SetIfUnset(&e.err, aborted)
		for _, o := range e.objEngines {
			if o.Phase == types.Idle {
				continue
			}
			o.Abort(aborted)
		}
	})
}

// Continue re-drives resolution for every ObjEngine still waiting on
// conflicts, used to resume after an asynchronous conflict callback.
func (e *Engine) Continue() {
	e.Post(func() {
		for _, o := range e.objEngines {
			if o.Phase == types.Resolving {
				o.resolve()
			}
		}
	})
}

// Repair clears the sticky error between runs (invariant I7).
func (e *Engine) Repair() {
	e.Post(func() {
		e.err = nil
		for _, o := range e.objEngines {
			o.err = nil
		}
	})
}

// Finalize tears down every PeerProxy, persists the group's last-sync
// timestamp, releases the group lock and stops the driver goroutine.
func (e *Engine) Finalize() *errs.Error {
	done := make(chan *errs.Error, 1)
	e.Post(func() {
		var ferr *errs.Error
		for _, proxy := range e.proxies {
			if err := proxy.Finalize(); err != nil {
				errs.SetIfUnset(&ferr, err)
			}
			if err := proxy.Shutdown(); err != nil {
				errs.SetIfUnset(&ferr, err)
			}
		}
		if err := e.anchors.Set("_group", "last_sync", strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
			errs.SetIfUnset(&ferr, errs.Stack(errs.IoError, "failed persisting last-sync anchor", err))
		}
		_ = e.anchors.Close()
		_ = e.arch.Close()
		if err := e.lock.Release(); err != nil {
			errs.SetIfUnset(&ferr, err)
		}
		done <- ferr
		close(e.stop)
	})
	return <-done
}
