// Package worklist holds the scheduler's fixed work set: the collected
// links from collect.json, handed out once each. Unlike the teacher's
// frontier (which discovers URLs dynamically and needs BFS/DFS ordering),
// this queue is closed over a pre-computed CollectResult, so it only needs
// linear handout; it does no dedup of its own (the collector already drops
// repeated links).
package worklist

import (
	"sync"

	"github.com/blockcrawl/crawler/internal/collect"
)

// Worklist hands out collect.Link entries exactly once each, in
// collections order (spec.md §4.D: "tasks are enqueued in collections
// order").
type Worklist struct {
	mu    sync.Mutex
	items []collect.Link
	next  int
}

// New builds a Worklist over the given links.
func New(links []collect.Link) *Worklist {
	return &Worklist{items: links}
}

// Pop returns the next not-yet-handed-out link, or ok=false when exhausted.
func (w *Worklist) Pop() (collect.Link, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.next >= len(w.items) {
		return collect.Link{}, false
	}
	item := w.items[w.next]
	w.next++
	return item, true
}

// Total returns the number of links in the worklist.
func (w *Worklist) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
