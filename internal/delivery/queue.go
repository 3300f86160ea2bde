package delivery

import "sync"

// readyQueue is a FIFO of tasks that are eligible to be sent right now.
//
// Only lane heads are ever pushed, so its length is bounded by the number of
// lanes. The signal channel (buffer 1) lets idle workers wait with select
// alongside their shutdown channel; multiple pushes coalesce into one signal
// and a worker that takes a task re-signals while work remains.
type readyQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	signal chan struct{}
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		tasks:  make([]*Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (q *readyQueue) push(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.notify()
}

// tryPop removes the front task without blocking.
func (q *readyQueue) tryPop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	t := q.tasks[0]
	// release the slot so the task can be collected once discarded
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	if len(q.tasks) > 0 {
		q.notify()
	}
	return t, true
}

func (q *readyQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *readyQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *readyQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.tasks)
	q.tasks = q.tasks[:0]
}
