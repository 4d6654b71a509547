package player

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func requests(q *queue) []string {
	out := make([]string, 0, q.len())
	for _, it := range q.items {
		out = append(out, it.Request)
	}
	return out
}

func newQueue(reqs ...string) *queue {
	q := &queue{}
	for _, r := range reqs {
		q.push(NewQueueItem(r, "u", "t"))
	}
	return q
}

func TestQueueRemoveAt(t *testing.T) {
	tests := []struct {
		name    string
		index   int
		want    []string
		removed string
		wantErr error
	}{
		{name: "zero", index: 0, want: []string{"a", "b", "c", "d"}, wantErr: ErrInvalidIndex},
		{name: "negative", index: -1, want: []string{"a", "b", "c", "d"}, wantErr: ErrInvalidIndex},
		{name: "past end", index: 5, want: []string{"a", "b", "c", "d"}, wantErr: ErrInvalidIndex},
		{name: "first", index: 1, want: []string{"b", "c", "d"}, removed: "a"},
		{name: "middle", index: 3, want: []string{"a", "b", "d"}, removed: "c"},
		{name: "last", index: 4, want: []string{"a", "b", "c"}, removed: "d"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := newQueue("a", "b", "c", "d")
			it, err := q.removeAt(tc.index)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if err == nil && it.Request != tc.removed {
				t.Errorf("removed %q, want %q", it.Request, tc.removed)
			}
			if diff := cmp.Diff(tc.want, requests(q)); diff != "" {
				t.Errorf("queue mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueuePopFIFO(t *testing.T) {
	q := newQueue("a", "b", "c")
	var got []string
	for it := q.pop(); it != nil; it = q.pop() {
		got = append(got, it.Request)
	}
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("pop order = %v", got)
	}
	if q.len() != 0 {
		t.Errorf("len = %d after draining", q.len())
	}
}

func TestQueueSummary(t *testing.T) {
	q := newQueue("first request", "second request")
	q.items[0].Metadata = &TrackMetadata{Title: "First Song", Duration: 90 * time.Second}

	s := q.summary()
	if !s.Approximate {
		t.Error("expected approximate total with an unresolved item")
	}
	if s.Total != 90*time.Second {
		t.Errorf("total = %v", s.Total)
	}

	want := []string{"1. First Song `1:30`", "2. second request"}
	if diff := cmp.Diff(want, slices.Collect(s.Lines())); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	// restartable
	if diff := cmp.Diff(want, slices.Collect(s.Lines())); diff != "" {
		t.Errorf("second pass mismatch (-want +got):\n%s", diff)
	}

	// early stop
	n := 0
	for range s.Lines() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("early break yielded %d", n)
	}

	// summary is detached from later mutations
	q.items[1].Request = "changed"
	if got := slices.Collect(s.Lines())[1]; got != "2. second request" {
		t.Errorf("summary changed with queue: %q", got)
	}
}

func TestQueueSummaryExact(t *testing.T) {
	q := newQueue("a")
	q.items[0].Metadata = &TrackMetadata{Title: "A", Duration: time.Minute}
	if s := q.summary(); s.Approximate || s.Total != time.Minute {
		t.Errorf("summary = %+v", s)
	}
}
