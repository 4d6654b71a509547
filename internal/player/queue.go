package player

import (
	"fmt"
	"iter"
	"time"

	"github.com/sonroyaalmerol/kumacast/internal/utils"
)

type queue struct {
	items []*QueueItem
}

func (q *queue) push(it *QueueItem) { q.items = append(q.items, it) }

func (q *queue) pop() *QueueItem {
	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return it
}

func (q *queue) len() int { return len(q.items) }

// removeAt removes the item at 1-based index i.
func (q *queue) removeAt(i int) (*QueueItem, error) {
	if i <= 0 || i > len(q.items) {
		return nil, ErrInvalidIndex
	}
	it := q.items[i-1]
	q.items = append(q.items[:i-1], q.items[i:]...)
	return it, nil
}

func (q *queue) clear() { q.items = nil }

func (q *queue) summary() QueueSummary {
	return NewQueueSummary(q.items)
}

// NewQueueSummary snapshots items and totals their known durations.
func NewQueueSummary(items []*QueueItem) QueueSummary {
	s := QueueSummary{items: make([]*QueueItem, 0, len(items))}
	for _, it := range items {
		c := it.snapshot()
		s.items = append(s.items, c)
		if c.Metadata == nil || c.Metadata.Duration <= 0 {
			s.Approximate = true
			continue
		}
		s.Total += c.Metadata.Duration
	}
	return s
}

// QueueSummary is a point-in-time view of the pending items.
type QueueSummary struct {
	items []*QueueItem

	Total       time.Duration
	Approximate bool // some items had no known duration
}

func (s QueueSummary) Len() int { return len(s.items) }

func (s QueueSummary) Items() []*QueueItem { return s.items }

// Lines yields one description per pending item, numbered from 1. The
// sequence can be ranged over any number of times.
func (s QueueSummary) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i, it := range s.items {
			line := fmt.Sprintf("%d. %s", i+1, it.Describe())
			if it.Metadata != nil && it.Metadata.Duration > 0 {
				line += " `" + utils.PrettyTime(int(it.Metadata.Duration.Seconds())) + "`"
			}
			if !yield(line) {
				return
			}
		}
	}
}
