package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jabolina/relt/pkg/relt"

	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/idgen"
	"github.com/jabolina/go-syncengine/internal/logging"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// callKind tags a ReltProxy envelope with which PeerProxy operation it
// carries, so the out-of-process adapter and the proxy agree on how to
// decode Payload.
type callKind string

const (
	callConnect      callKind = "connect"
	callConnectDone  callKind = "connect_done"
	callGetChanges   callKind = "get_changes"
	callRead         callKind = "read"
	callCommit       callKind = "commit_change"
	callCommittedAll callKind = "committed_all"
	callSyncDone     callKind = "sync_done"
	callDisconnect   callKind = "disconnect"
	callDiscover     callKind = "discover"
)

// envelope is the small request/response wire protocol spec.md §6
// requires of the out-of-process reference transport: an opaque payload
// for Change.data plus a per-call cookie used to demultiplex replies.
type envelope struct {
	Cookie   string   `json:"cookie"`
	Kind     callKind `json:"kind"`
	ObjType  string   `json:"objtype"`
	SlowSync bool     `json:"slowsync,omitempty"`
	Payload  []byte   `json:"payload,omitempty"`

	// Response-only fields.
	Final           bool     `json:"final,omitempty"`
	Err             string   `json:"err,omitempty"`
	SlowSyncGranted bool     `json:"slowsync_granted,omitempty"`
	NewUID          string   `json:"new_uid,omitempty"`
	Caps            []string `json:"caps,omitempty"`
}

// pendingCall tracks an in-flight call's callbacks, keyed by cookie.
type pendingCall struct {
	onChange func(*types.Change)
	done     func(envelope)
}

// ReltProxy is the out-of-process reference PeerProxy transport: it
// JSON-envelopes each call and exchanges it over a github.com/jabolina/relt
// reliable group channel, exactly as the teacher's
// core.ReliableTransport wraps relt for its own RPCs. The remote side
// (the actual peer adapter process) is outside core scope per spec.md §1;
// this type only implements the core-facing half of the protocol.
type ReltProxy struct {
	memberID string
	group    relt.GroupAddress
	r        *relt.Relt
	post     Poster
	log      logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReltProxy dials the relt group used for out-of-process communication
// with one peer adapter process.
func NewReltProxy(memberID string, group string, post Poster, log logging.Logger) (*ReltProxy, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = memberID
	conf.Exchange = relt.GroupAddress(group)
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, errs.Stack(errs.IoError, "failed dialing relt group for "+memberID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ReltProxy{
		memberID: memberID,
		group:    relt.GroupAddress(group),
		r:        r,
		post:     post,
		log:      log,
		pending:  map[string]*pendingCall{},
		ctx:      ctx,
		cancel:   cancel,
	}
	go p.poll()
	return p, nil
}

func (p *ReltProxy) MemberID() string { return p.memberID }

func (p *ReltProxy) poll() {
	listener, err := p.r.Consume()
	if err != nil {
		p.log.Errorf("relt proxy %s failed consuming: %v", p.memberID, err)
		return
	}
	for {
		select {
		case <-p.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			if recv.Error != nil {
				p.log.Errorf("relt proxy %s recv error: %v", p.memberID, recv.Error)
				continue
			}
			p.dispatch(recv.Data)
		}
	}
}

func (p *ReltProxy) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		p.log.Errorf("relt proxy %s failed decoding envelope: %v", p.memberID, err)
		return
	}

	p.mu.Lock()
	call, ok := p.pending[env.Cookie]
	if ok && env.Final {
		delete(p.pending, env.Cookie)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if env.Kind == callGetChanges && !env.Final {
		change, err := decodeChange(env.Payload)
		if err == nil && call.onChange != nil {
			p.post(func() { call.onChange(change) })
		}
		return
	}

	p.post(func() { call.done(env) })
}

func (p *ReltProxy) send(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.Stack(errs.Generic, "failed encoding envelope", err)
	}
	return p.r.Broadcast(p.ctx, relt.Send{Address: p.group, Data: data})
}

func toErrsError(msg string) *errs.Error {
	if msg == "" {
		return nil
	}
	return errs.New(errs.Generic, msg)
}

func (p *ReltProxy) register(cookie string, call *pendingCall) {
	p.mu.Lock()
	p.pending[cookie] = call
	p.mu.Unlock()
}

func (p *ReltProxy) Connect(objtype string, slowsync bool, done func(bool, *errs.Error)) {
	cookie := idgen.New()
	p.register(cookie, &pendingCall{done: func(env envelope) {
		done(env.SlowSyncGranted, toErrsError(env.Err))
	}})
	if err := p.send(envelope{Cookie: cookie, Kind: callConnect, ObjType: objtype, SlowSync: slowsync}); err != nil {
		p.post(func() { done(false, errs.Stack(errs.IoError, "connect send failed", err)) })
	}
}

func (p *ReltProxy) ConnectDone(objtype string, done func(*errs.Error)) {
	p.simpleCall(callConnectDone, objtype, done)
}

func (p *ReltProxy) GetChanges(objtype string, slowsync bool, onChange func(*types.Change), done func(*errs.Error)) {
	cookie := idgen.New()
	p.register(cookie, &pendingCall{onChange: onChange, done: func(env envelope) {
		done(toErrsError(env.Err))
	}})
	if err := p.send(envelope{Cookie: cookie, Kind: callGetChanges, ObjType: objtype, SlowSync: slowsync}); err != nil {
		p.post(func() { done(errs.Stack(errs.IoError, "get_changes send failed", err)) })
	}
}

func (p *ReltProxy) Read(change *types.Change, done func(*types.Change, *errs.Error)) {
	cookie := idgen.New()
	payload, _ := encodeChange(change)
	p.register(cookie, &pendingCall{done: func(env envelope) {
		result, err := decodeChange(env.Payload)
		if err != nil {
			done(nil, errs.Stack(errs.Generic, "failed decoding read response", err))
			return
		}
		done(result, toErrsError(env.Err))
	}})
	if err := p.send(envelope{Cookie: cookie, Kind: callRead, Payload: payload}); err != nil {
		p.post(func() { done(nil, errs.Stack(errs.IoError, "read send failed", err)) })
	}
}

func (p *ReltProxy) CommitChange(change *types.Change, done func(string, *errs.Error)) {
	cookie := idgen.New()
	payload, _ := encodeChange(change)
	p.register(cookie, &pendingCall{done: func(env envelope) {
		done(env.NewUID, toErrsError(env.Err))
	}})
	if err := p.send(envelope{Cookie: cookie, Kind: callCommit, Payload: payload}); err != nil {
		p.post(func() { done("", errs.Stack(errs.IoError, "commit_change send failed", err)) })
	}
}

func (p *ReltProxy) CommittedAll(objtype string, done func(*errs.Error)) {
	p.simpleCall(callCommittedAll, objtype, done)
}

func (p *ReltProxy) SyncDone(objtype string, done func(*errs.Error)) {
	p.simpleCall(callSyncDone, objtype, done)
}

func (p *ReltProxy) Disconnect(objtype string, done func(*errs.Error)) {
	p.simpleCall(callDisconnect, objtype, done)
}

func (p *ReltProxy) Discover(done func([]string, *errs.Error)) {
	cookie := idgen.New()
	p.register(cookie, &pendingCall{done: func(env envelope) {
		done(env.Caps, toErrsError(env.Err))
	}})
	if err := p.send(envelope{Cookie: cookie, Kind: callDiscover}); err != nil {
		p.post(func() { done(nil, errs.Stack(errs.IoError, "discover send failed", err)) })
	}
}

func (p *ReltProxy) simpleCall(kind callKind, objtype string, done func(*errs.Error)) {
	cookie := idgen.New()
	p.register(cookie, &pendingCall{done: func(env envelope) {
		done(toErrsError(env.Err))
	}})
	if err := p.send(envelope{Cookie: cookie, Kind: kind, ObjType: objtype}); err != nil {
		p.post(func() { done(errs.Stack(errs.IoError, string(kind)+" send failed", err)) })
	}
}

func (p *ReltProxy) Finalize() *errs.Error {
	return nil
}

func (p *ReltProxy) Shutdown() *errs.Error {
	p.cancel()
	if err := p.r.Close(); err != nil {
		return errs.Stack(errs.IoError, "failed closing relt proxy", err)
	}
	return nil
}

var _ PeerProxy = (*ReltProxy)(nil)

// encodeChange/decodeChange marshal a Change's wire-relevant fields
// (uid, hash, change type, format name, raw payload bytes) to/from JSON.
// The wire form never carries format behavior, only its name, matching
// spec.md's "core treats formats as opaque tokens". decodeChange does not
// read FormatName: a decoded Change's Data has a nil Format.
type wireChange struct {
	UID        string `json:"uid"`
	Hash       string `json:"hash"`
	ChangeType int    `json:"change_type"`
	FormatName string `json:"format_name"`
	ObjType    string `json:"objtype"`
	Bytes      []byte `json:"bytes"`
}

func encodeChange(c *types.Change) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	w := wireChange{UID: c.UID, Hash: c.Hash, ChangeType: int(c.ChangeType)}
	if c.Data != nil {
		w.Bytes = c.Data.Bytes
		w.ObjType = c.Data.ObjTypeOverride
		if c.Data.Format != nil {
			w.FormatName = c.Data.Format.Name()
		}
	}
	return json.Marshal(w)
}

func decodeChange(payload []byte) (*types.Change, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var w wireChange
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	c := &types.Change{UID: w.UID, Hash: w.Hash, ChangeType: types.ChangeType(w.ChangeType)}
	if len(w.Bytes) > 0 {
		c.Data = &types.Data{Bytes: w.Bytes, ObjTypeOverride: w.ObjType}
	}
	return c, nil
}

// callTimeout is not read by any code path: a registered cookie stays in
// the pending map until its final reply arrives (the core itself applies
// no timeout per spec.md §5).
const callTimeout = 5 * time.Minute
