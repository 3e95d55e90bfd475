package output

import "sync"

// SerialExecutor runs submitted tasks one at a time in submission order.
// Submit never blocks.
type SerialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// Submit queues task.
func (e *SerialExecutor) Submit(task func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, task)
	if !e.running {
		e.running = true
		go e.drain()
	}
}

func (e *SerialExecutor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}
