package repository

import (
	"sync"
	"time"
)

// ReadyQueue is the ordered, deduplicated list of campaign ids ready for display.
type ReadyQueue struct {
	mu  sync.Mutex
	ids []string
}

func NewReadyQueue() *ReadyQueue { return &ReadyQueue{} }

// Add appends id unless already queued. It reports whether the queue changed.
func (q *ReadyQueue) Add(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.ids {
		if existing == id {
			return false
		}
	}
	q.ids = append(q.ids, id)
	return true
}

func (q *ReadyQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, existing := range q.ids {
		if existing == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

// Retain drops every queued id for which keep returns false.
func (q *ReadyQueue) Retain(keep func(id string) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.ids[:0]
	for _, id := range q.ids {
		if keep(id) {
			kept = append(kept, id)
		}
	}
	q.ids = kept
}

func (q *ReadyQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (q *ReadyQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func (q *ReadyQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = nil
}

// DisplayedRepository records when campaigns were shown in this session.
type DisplayedRepository struct {
	mu    sync.Mutex
	shown map[string][]time.Time
}

func NewDisplayedRepository() *DisplayedRepository {
	return &DisplayedRepository{shown: map[string][]time.Time{}}
}

func (d *DisplayedRepository) MarkDisplayed(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown[id] = append(d.shown[id], at)
}

func (d *DisplayedRepository) Count(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shown[id])
}

// Last returns the most recent display time of id.
func (d *DisplayedRepository) Last(id string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := d.shown[id]
	if len(ts) == 0 {
		return time.Time{}, false
	}
	return ts[len(ts)-1], true
}

func (d *DisplayedRepository) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = map[string][]time.Time{}
}
