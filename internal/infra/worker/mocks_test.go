package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/repository"
)

// memJobRepo is an in-memory JobRepository with per-status write failures.
type memJobRepo struct {
	mu       sync.Mutex
	store    map[string]*model.Job
	failOn   map[model.JobStatus]error
	findErr  error
	updates  []model.StatusUpdate
	onUpdate func(u model.StatusUpdate)
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: map[string]*model.Job{}, failOn: map[model.JobStatus]error{}}
}

func (m *memJobRepo) seed(id, prompt string, status model.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[id] = &model.Job{ID: id, Prompt: prompt, Status: status, CreatedAt: time.Now()}
}

func (m *memJobRepo) get(id string) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.store[id]
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) UpdateStatus(ctx context.Context, u model.StatusUpdate) (*model.Job, error) {
	if m.onUpdate != nil {
		m.onUpdate(u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	if err := m.failOn[u.Status]; err != nil {
		return nil, err
	}
	j, ok := m.store[u.JobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := j.Apply(u); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) ListStaleWaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error) {
	return nil, nil
}

func (m *memJobRepo) countUpdates(status model.JobStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.updates {
		if u.Status == status {
			n++
		}
	}
	return n
}

// stubGenerator returns a fixed body or error.
type stubGenerator struct {
	mu      sync.Mutex
	body    func(ctx context.Context) io.ReadCloser
	err     error
	calls   int
	prompts []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (io.ReadCloser, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return g.body(ctx), nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func staticBody(s string) func(ctx context.Context) io.ReadCloser {
	return func(ctx context.Context) io.ReadCloser { return &trackedBody{r: strings.NewReader(s)} }
}

// trackedBody records Close.
type trackedBody struct {
	r      io.Reader
	closed bool
}

func (b *trackedBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *trackedBody) Close() error               { b.closed = true; return nil }

// brokenBody yields some bytes and then a read error.
type brokenBody struct {
	sent bool
	err  error
}

func (b *brokenBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "PARTIAL"), nil
	}
	return 0, b.err
}
func (b *brokenBody) Close() error { return nil }

// blockingBody blocks until its context is done.
type blockingBody struct{ ctx context.Context }

func (b *blockingBody) Read(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}
func (b *blockingBody) Close() error { return nil }

// memSink stores artifacts in memory; failAfter > 0 fails once that many
// bytes were consumed.
type memSink struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failAfter int
	calls     int
}

func newMemSink() *memSink { return &memSink{objects: map[string][]byte{}} }

func (s *memSink) Key(jobID string) string { return jobID + ".schem" }

func (s *memSink) Put(ctx context.Context, jobID string, r io.Reader) (*model.Artifact, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	var buf bytes.Buffer
	chunk := make([]byte, 4)
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if s.failAfter > 0 && buf.Len() >= s.failAfter {
			return nil, errors.New("disk full")
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[jobID] = buf.Bytes()
	return &model.Artifact{JobID: jobID, Key: s.Key(jobID), Size: int64(buf.Len())}, nil
}

func (s *memSink) object(jobID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[jobID]
	return b, ok
}

// memQueue is an in-process WorkQueue.
type memQueue struct {
	mu       sync.Mutex
	ch       chan *model.Delivery
	acked    []string
	seq      int
	receives int
	closed   bool
}

func newMemQueue() *memQueue { return &memQueue{ch: make(chan *model.Delivery, 100)} }

func (q *memQueue) Publish(ctx context.Context, item model.WorkItem) error {
	q.mu.Lock()
	q.seq++
	id := strings.Repeat("x", q.seq)
	q.mu.Unlock()
	q.ch <- &model.Delivery{ID: id, Item: item}
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (*model.Delivery, error) {
	q.mu.Lock()
	q.receives++
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, domain.ErrQueueClosed
	}
	select {
	case d := <-q.ch:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return nil, domain.ErrQueueEmpty
	}
}

func (q *memQueue) Ack(ctx context.Context, d *model.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, d.Item.JobID)
	return nil
}

func (q *memQueue) receiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receives
}

func (q *memQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *memQueue) ackedJobs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
