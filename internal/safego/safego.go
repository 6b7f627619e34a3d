// Package safego runs fire-and-forget side effects (notification emails, lifecycle
// events) on goroutines that cannot crash the process.
package safego

import (
	"log/slog"
	"sync"
)

// Go launches fn in a new goroutine. A panic is recovered and logged with name.
func Go(name string, fn func()) {
	go run(name, fn)
}

// Group tracks launched side effects so shutdown can wait for them.
// The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go launches fn like the package-level Go and counts it until it returns
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(name, fn)
	}()
}

// Wait blocks until every launched function has returned
func (g *Group) Wait() {
	g.wg.Wait()
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background task", "task", name, "panic", r)
		}
	}()
	fn()
}
