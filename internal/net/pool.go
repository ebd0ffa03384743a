package net

import (
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool fans connection-handling tasks out to a fixed set of workers
// supervised by the server's tomb.
type WorkerPool struct {
	n     int
	tasks chan any
}

func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		n:     size,
		tasks: make(chan any, taskChanSize),
	}
}

// AddTask queues a task for the next free worker.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup starts the workers under t. Workers exit when t dies; a worker
// returning an error kills the whole tomb.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for i := 0; i < pool.n; i++ {
		t.Go(func() error {
			return pool.worker(t, work)
		})
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				return err
			}
		}
	}
}
