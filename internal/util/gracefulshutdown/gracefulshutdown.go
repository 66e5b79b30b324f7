/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// GracefulShutdown owns the root context of a command. The context is
// cancelled on SIGTERM or SIGINT so in-flight work (qemu-img runs, polling)
// stops, and Shutdown waits for background tasks before exiting.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	once sync.Once
	wg   *sync.WaitGroup

	mu  sync.Mutex
	sig os.Signal

	signals chan os.Signal

	// exitFunc allows injecting exit behavior for testing
	exitFunc func(int)
}

// NewWithExit creates a new GracefulShutdown struct with a custom exit function.
// This is primarily useful for testing where os.Exit() would terminate the test process.
func NewWithExit(name string, exitFunc func(int)) *GracefulShutdown {
	ctx, cancel := context.WithCancel(context.Background())

	gs := &GracefulShutdown{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		wg:       &sync.WaitGroup{},
		signals:  make(chan os.Signal, 1),
		exitFunc: exitFunc,
	}

	signal.Notify(gs.signals, syscall.SIGTERM, os.Interrupt)
	go func() {
		select {
		case sig := <-gs.signals:
			gs.mu.Lock()
			gs.sig = sig
			gs.mu.Unlock()
			slog.Info("received signal, cancelling", "name", name, "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(gs.signals)
	}()

	return gs
}

// New creates a GracefulShutdown that exits the process with os.Exit.
func New(name string) *GracefulShutdown {
	return NewWithExit(name, os.Exit)
}

// Go runs fn in a goroutine tracked by Shutdown. fn must return once ctx
// is done.
func (s *GracefulShutdown) Go(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Shutdown cancels the context, waits for tracked goroutines and exits.
// Only the first call has any effect.
func (s *GracefulShutdown) Shutdown(exitCode int) {
	s.once.Do(func() {
		slog.Debug("shutting down", "name", s.name, "exitCode", exitCode)

		s.cancel()
		s.wg.Wait()
		s.exitFunc(exitCode)
	})
}

// Context returns the context of the graceful shutdown.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// CancelFunc returns the cancel function of the graceful shutdown.
func (s *GracefulShutdown) CancelFunc() context.CancelFunc {
	return s.cancel
}

// Signal returns the signal that cancelled the context, or nil.
func (s *GracefulShutdown) Signal() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

// ExitCode maps the result of a command to a process exit code: 0 on
// success, 128+n when signal n interrupted it, 1 otherwise.
func (s *GracefulShutdown) ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if sig, ok := s.Signal().(syscall.Signal); ok {
		return 128 + int(sig)
	}
	return 1
}
