// Package interrupts provides a small goroutine group that all service
// binaries register background loops and HTTP listeners with, and a single
// place that reacts to SIGINT/SIGTERM by cancelling everyone and waiting for
// a graceful exit.
package interrupts

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	signalsLock sync.Mutex
	signals     = func() <-chan os.Signal {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		return c
	}
	gracePeriod = 10 * time.Second

	managerLock sync.Mutex
	manager     = newGroup()
)

type group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGroup() *group {
	ctx, cancel := context.WithCancel(context.Background())
	return &group{ctx: ctx, cancel: cancel}
}

// Context returns the process-wide context that is cancelled once an
// interrupt is observed.
func Context() context.Context {
	managerLock.Lock()
	defer managerLock.Unlock()
	return manager.ctx
}

// Run registers fn as a background task. fn must return promptly once the
// context passed to Context() is cancelled.
func Run(fn func(ctx context.Context)) {
	managerLock.Lock()
	m := manager
	managerLock.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// Tick runs fn on the given interval until an interrupt is observed.
func Tick(fn func(), interval time.Duration) {
	Run(func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	})
}

// ListenAndServe runs an *http.Server as a background task, closing it
// with gracePeriodOverride to drain on interrupt.
func ListenAndServe(server *http.Server, gracePeriodOverride time.Duration) {
	managerLock.Lock()
	m := manager
	managerLock.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-m.ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), gracePeriodOverride)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()
}

// Serve runs a net.Listener-backed http.Server as a background task.
func Serve(server *http.Server, listener net.Listener) {
	managerLock.Lock()
	m := manager
	managerLock.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
}

func init() {
	go func() {
		<-signals()
		managerLock.Lock()
		m := manager
		managerLock.Unlock()
		m.cancel()
	}()
}

// WaitForGracefulShutdown blocks until an interrupt is observed, then until
// every registered task has returned, forcing a return gracePeriod after
// the interrupt regardless.
func WaitForGracefulShutdown() {
	managerLock.Lock()
	m := manager
	managerLock.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	<-m.ctx.Done()
	select {
	case <-done:
	case <-time.After(gracePeriod):
	}
}
