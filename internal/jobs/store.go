package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when a finished job is written again.
	ErrTerminal = errors.New("job already finished")

	// ErrExists is returned by Create for a duplicate id.
	ErrExists = errors.New("job already exists")
)

// Store persists jobs. Update applies fn atomically with respect to other
// Updates of the same job; a non-nil error from fn discards the mutation.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Job, error)
	Close() error
}

// Watcher is implemented by stores that can push job updates.
type Watcher interface {
	// Watch delivers a snapshot after every update of id until ctx is done
	// or the job reaches a terminal status. The channel is then closed.
	Watch(ctx context.Context, id string) (<-chan *Job, error)
}

// NewJob returns a job in the uploaded state with a fresh id.
func NewJob(now time.Time) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusUploaded,
		Stage:     StagePersist,
		Message:   "Upload received",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	subs map[string][]chan *Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		subs: make(map[string][]chan *Job),
	}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next

	snapshot := next.Clone()
	s.notifyLocked(id, snapshot)
	return snapshot, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	for _, ch := range s.subs[id] {
		close(ch)
	}
	delete(s.subs, id)
	return nil
}

// List returns all jobs, newest first.
func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Watch implements Watcher. Slow receivers miss intermediate snapshots but
// always receive the terminal one.
func (s *MemoryStore) Watch(ctx context.Context, id string) (<-chan *Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	out := make(chan *Job, 1)
	if job.Status.Terminal() {
		out <- job.Clone()
		close(out)
		s.mu.Unlock()
		return out, nil
	}
	in := make(chan *Job, 16)
	s.subs[id] = append(s.subs[id], in)
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.unsubscribe(id, in)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- j:
				case <-ctx.Done():
					return
				}
				if j.Status.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) notifyLocked(id string, job *Job) {
	for _, ch := range s.subs[id] {
		select {
		case ch <- job:
		default:
			if job.Status.Terminal() {
				// make room for the final snapshot
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- job:
				default:
				}
			}
		}
	}
}

func (s *MemoryStore) unsubscribe(id string, ch chan *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[id]
	for i, c := range subs {
		if c == ch {
			s.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subs[id]) == 0 {
		delete(s.subs, id)
	}
}

func sortNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
