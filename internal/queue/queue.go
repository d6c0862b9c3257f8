package queue

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue limit reached")
)

type Task struct {
	URL       string
	Depth     int
	Priority  int
	CreatedAt time.Time
}

// Frontier is a crawl queue that accepts each URL at most once and stops
// accepting new work after limit pushes. A limit of zero means unbounded.
type Frontier struct {
	mu      sync.Mutex
	tasks   []*Task
	visited map[string]struct{}
	limit   int
	pushed  int
}

func NewFrontier(limit int) *Frontier {
	return &Frontier{
		tasks:   make([]*Task, 0),
		visited: make(map[string]struct{}),
		limit:   limit,
	}
}

// Push enqueues task unless its URL was already seen. It reports whether
// the task was accepted; ErrQueueFull is returned once the limit is hit.
func (f *Frontier) Push(task *Task) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.visited[task.URL]; ok {
		return false, nil
	}
	if f.limit > 0 && f.pushed >= f.limit {
		return false, ErrQueueFull
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	f.visited[task.URL] = struct{}{}
	f.pushed++
	f.tasks = append(f.tasks, task)
	f.sortByPriority()

	return true, nil
}

func (f *Frontier) Pop() (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.tasks) == 0 {
		return nil, ErrQueueEmpty
	}

	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return task, nil
}

func (f *Frontier) Seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[url]
	return ok
}

func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// Pushed returns how many tasks were ever accepted.
func (f *Frontier) Pushed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed
}

// higher priority first, FIFO within a priority
func (f *Frontier) sortByPriority() {
	sort.SliceStable(f.tasks, func(i, j int) bool {
		return f.tasks[i].Priority > f.tasks[j].Priority
	})
}
