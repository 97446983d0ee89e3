package core

import "sync"

// Invoker spawns and tracks goroutines, the same small abstraction the
// teacher repo threads through Peer/Transport (p.invoker.Spawn(f)) so
// tests can substitute a WaitGroup-backed fake that blocks until every
// spawned goroutine has finished.
type Invoker interface {
	Spawn(f func())
}

type defaultInvoker struct {
	wg *sync.WaitGroup
}

// NewInvoker returns the production Invoker: spawns bare goroutines.
func NewInvoker() Invoker {
	return &defaultInvoker{wg: &sync.WaitGroup{}}
}

func (d *defaultInvoker) Spawn(f func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		f()
	}()
}
