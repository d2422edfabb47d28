// Package utils holds small infrastructure pieces shared by more than one
// package. WorkerPool backs internal/net's connection-handling fan-out.
package utils

import (
	tomb "gopkg.in/tomb.v2"
)

// WorkerPool runs a fixed number of goroutines pulling tasks off a shared
// channel, in the teacher's abandoned-then-referenced internal/worker.go
// shape: internal/net/server.go already expects exactly this surface
// (NewWorkerPool, Setup, AddTask) with no implementation behind it.
type WorkerPool struct {
	size  int
	tasks chan any
}

// NewWorkerPool constructs a pool of size goroutines. The task channel is
// unbuffered; AddTask blocks until a worker is free, which is the pool's own
// natural backpressure on the listener goroutine.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		size:  size,
		tasks: make(chan any),
	}
}

// Setup launches the pool's goroutines under t, each looping fn over tasks
// until t starts dying. fn's error is fatal to the whole pool, per tomb's
// first-error-wins semantics.
func (p *WorkerPool) Setup(t *tomb.Tomb, fn func(t *tomb.Tomb, task any) error) {
	for i := 0; i < p.size; i++ {
		t.Go(func() error {
			for {
				select {
				case <-t.Dying():
					return nil
				case task := <-p.tasks:
					if err := fn(t, task); err != nil {
						return err
					}
				}
			}
		})
	}
}

// AddTask hands task to the next free worker, blocking if none is free.
func (p *WorkerPool) AddTask(task any) {
	p.tasks <- task
}
