package core

import "sync"

// Invoker spawns goroutines on behalf of a component and lets that
// component wait for all of them to exit during shutdown. Client
// creates one instance and shares it with the peer manager, transfer
// and search engines, dispatcher, and listener, so all of them spawn
// into one goroutine group.
type Invoker interface {
	Spawn(f func())
	Stop()
}

type waitGroupInvoker struct {
	group sync.WaitGroup
}

// NewInvoker returns an Invoker whose Stop blocks until every goroutine
// spawned through it has returned.
func NewInvoker() Invoker {
	return &waitGroupInvoker{}
}

func (i *waitGroupInvoker) Spawn(f func()) {
	i.group.Add(1)
	go func() {
		defer i.group.Done()
		f()
	}()
}

func (i *waitGroupInvoker) Stop() {
	i.group.Wait()
}
