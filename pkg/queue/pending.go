package queue

import (
	"container/list"

	"github.com/guido-cesarano/goqueue/pkg/tasks"
)

// pendingStore holds jobs that have not been dispatched yet.
//
// Pop order: the retry lane (most recently re-inserted first), then the High lane, then
// the shared Normal/Low lane. The High and Normal/Low lanes are FIFO.
type pendingStore struct {
	retry  *list.List
	high   *list.List
	normal *list.List
	index  map[string]*list.Element
	lanes  map[string]*list.List
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		retry:  list.New(),
		high:   list.New(),
		normal: list.New(),
		index:  make(map[string]*list.Element),
		lanes:  make(map[string]*list.List),
	}
}

func (p *pendingStore) Len() int {
	return len(p.index)
}

func (p *pendingStore) Has(id string) bool {
	_, ok := p.index[id]
	return ok
}

// Push appends j to the lane of its priority.
func (p *pendingStore) Push(j *job) {
	lane := p.normal
	if j.task.Priority == tasks.PriorityHigh {
		lane = p.high
	}
	p.track(j, lane, lane.PushBack(j))
}

// PushFront puts j ahead of everything else pending.
func (p *pendingStore) PushFront(j *job) {
	p.track(j, p.retry, p.retry.PushFront(j))
}

func (p *pendingStore) track(j *job, lane *list.List, el *list.Element) {
	p.index[j.task.ID] = el
	p.lanes[j.task.ID] = lane
}

// Pop removes and returns the head, or nil when empty.
func (p *pendingStore) Pop() *job {
	for _, lane := range []*list.List{p.retry, p.high, p.normal} {
		if el := lane.Front(); el != nil {
			j := el.Value.(*job)
			p.detach(j.task.ID, lane, el)
			return j
		}
	}
	return nil
}

func (p *pendingStore) Get(id string) *job {
	if el, ok := p.index[id]; ok {
		return el.Value.(*job)
	}
	return nil
}

// Remove drops the job with id and returns it, or nil if it is not pending.
func (p *pendingStore) Remove(id string) *job {
	el, ok := p.index[id]
	if !ok {
		return nil
	}
	p.detach(id, p.lanes[id], el)
	return el.Value.(*job)
}

func (p *pendingStore) detach(id string, lane *list.List, el *list.Element) {
	lane.Remove(el)
	delete(p.index, id)
	delete(p.lanes, id)
}

// Drain empties the store and returns its jobs in pop order.
func (p *pendingStore) Drain() []*job {
	out := p.Jobs()
	p.retry.Init()
	p.high.Init()
	p.normal.Init()
	clear(p.index)
	clear(p.lanes)
	return out
}

// Jobs returns the pending jobs in pop order without removing them.
func (p *pendingStore) Jobs() []*job {
	out := make([]*job, 0, p.Len())
	for _, lane := range []*list.List{p.retry, p.high, p.normal} {
		for el := lane.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(*job))
		}
	}
	return out
}
