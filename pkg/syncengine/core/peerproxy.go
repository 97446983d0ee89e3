package core

import (
	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/logging"
	"github.com/jabolina/go-syncengine/pkg/syncengine/types"
)

// Poster marshals a callback invocation onto the driver's single
// goroutine (spec.md §5: "Responses from peer adapters arrive on the
// same thread ... never on arbitrary threads"). Engine supplies this to
// every PeerProxy it owns.
type Poster func(func())

// PeerProxy is the asynchronous, one-way-per-call adapter facade spec.md
// §4.6 describes. Every call takes a completion callback; GetChanges
// additionally takes an onChange callback invoked once per streamed
// Change (the spec's unsolicited "change_received" event). The core never
// cancels an outstanding call — it records the eventual error and stops
// progressing that ObjEngine's phase.
type PeerProxy interface {
	MemberID() string

	Connect(objtype string, slowsync bool, done func(slowsyncGranted bool, err *errs.Error))
	ConnectDone(objtype string, done func(err *errs.Error))
	GetChanges(objtype string, slowsync bool, onChange func(*types.Change), done func(err *errs.Error))
	Read(change *types.Change, done func(result *types.Change, err *errs.Error))
	CommitChange(change *types.Change, done func(newUID string, err *errs.Error))
	CommittedAll(objtype string, done func(err *errs.Error))
	SyncDone(objtype string, done func(err *errs.Error))
	Disconnect(objtype string, done func(err *errs.Error))
	Discover(done func(caps []string, err *errs.Error))

	Finalize() *errs.Error
	Shutdown() *errs.Error
}

// InProcessProxy wraps a PeerAdapter living in the same address space.
// Each call spawns through Invoker and the result is marshaled back onto
// the driver thread through Poster — the in-process reference transport
// spec.md §6 calls for, grounded on the teacher's Peer.Command pattern of
// spawning a goroutine and delivering the outcome back through a channel
// the single poll loop owns.
type InProcessProxy struct {
	memberID string
	adapter  PeerAdapter
	invoker  Invoker
	post     Poster
	log      logging.Logger
}

// NewInProcessProxy builds a PeerProxy around adapter for memberID.
func NewInProcessProxy(memberID string, adapter PeerAdapter, invoker Invoker, post Poster, log logging.Logger) *InProcessProxy {
	return &InProcessProxy{memberID: memberID, adapter: adapter, invoker: invoker, post: post, log: log}
}

func (p *InProcessProxy) MemberID() string { return p.memberID }

func (p *InProcessProxy) Connect(objtype string, slowsync bool, done func(bool, *errs.Error)) {
	p.invoker.Spawn(func() {
		granted, err := p.adapter.Connect(objtype, slowsync)
		p.post(func() { done(granted, err) })
	})
}

func (p *InProcessProxy) ConnectDone(objtype string, done func(*errs.Error)) {
	p.invoker.Spawn(func() {
		err := p.adapter.ConnectDone(objtype)
		p.post(func() { done(err) })
	})
}

func (p *InProcessProxy) GetChanges(objtype string, slowsync bool, onChange func(*types.Change), done func(*errs.Error)) {
	p.invoker.Spawn(func() {
		err := p.adapter.GetChanges(objtype, slowsync, func(c *types.Change) {
			p.post(func() { onChange(c) })
		})
		p.post(func() { done(err) })
	})
}

func (p *InProcessProxy) Read(change *types.Change, done func(*types.Change, *errs.Error)) {
	p.invoker.Spawn(func() {
		result, err := p.adapter.Read(change)
		p.post(func() { done(result, err) })
	})
}

func (p *InProcessProxy) CommitChange(change *types.Change, done func(string, *errs.Error)) {
	p.invoker.Spawn(func() {
		newUID, err := p.adapter.CommitChange(change)
		p.post(func() { done(newUID, err) })
	})
}

func (p *InProcessProxy) CommittedAll(objtype string, done func(*errs.Error)) {
	p.invoker.Spawn(func() {
		err := p.adapter.CommittedAll(objtype)
		p.post(func() { done(err) })
	})
}

func (p *InProcessProxy) SyncDone(objtype string, done func(*errs.Error)) {
	p.invoker.Spawn(func() {
		err := p.adapter.SyncDone(objtype)
		p.post(func() { done(err) })
	})
}

func (p *InProcessProxy) Disconnect(objtype string, done func(*errs.Error)) {
	p.invoker.Spawn(func() {
		err := p.adapter.Disconnect(objtype)
		p.post(func() { done(err) })
	})
}

func (p *InProcessProxy) Discover(done func([]string, *errs.Error)) {
	p.invoker.Spawn(func() {
		caps, err := p.adapter.Discover()
		p.post(func() { done(caps, err) })
	})
}

func (p *InProcessProxy) Finalize() *errs.Error { return p.adapter.Finalize() }
func (p *InProcessProxy) Shutdown() *errs.Error { return p.adapter.Shutdown() }

var _ PeerProxy = (*InProcessProxy)(nil)
