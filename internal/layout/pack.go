// Package layout places a day's timed events into side-by-side columns so
// that overlapping events never share horizontal space.
package layout

import (
	"sort"

	"calgrid/internal/model"
)

// Placement is the column assignment of one event.
type Placement struct {
	Event       model.Event `json:"event"`
	ColumnIndex int         `json:"columnIndex"`
	ColumnSpan  int         `json:"columnSpan"`
}

// Result is the packer output for one day. Placements follow input order.
type Result struct {
	Placements   []Placement `json:"placements"`
	TotalColumns int         `json:"totalColumns"`
}

// Collides reports half-open overlap of the two events' time ranges.
// Touching endpoints do not collide.
func Collides(a, b model.Event) bool {
	return max(a.StartTime, b.StartTime) < min(a.EndTime, b.EndTime)
}

// SortByTime returns a copy ordered by ascending StartTime; on equal starts
// the event ending later comes first. Pack expects this order.
func SortByTime(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].EndTime > out[j].EndTime
	})
	return out
}

// groupItem is one event's record inside a group. An event may be recorded
// in several groups; only the record created when it was first placed is
// initial.
type groupItem struct {
	index       int
	columnIndex int
	columnSpan  int
	initial     bool
}

// Pack partitions events, which must already be in SortByTime order, into
// overlap-free columns.
//
// Events are scanned left to right against the most recent group only. A
// group is a set of mutually colliding events that share column space; an
// event that collides with only part of the last group starts a new group
// made of the colliding members plus itself. TotalColumns is the largest
// column index used on the whole day plus one, so disjoint clusters share the
// same column width.
func Pack(events []model.Event) Result {
	if len(events) == 0 {
		return Result{Placements: []Placement{}}
	}

	groups := [][]groupItem{{{index: 0, columnIndex: 0, initial: true}}}

	for i := 1; i < len(events); i++ {
		last := groups[len(groups)-1]

		colliding := make([]groupItem, 0, len(last))
		for _, it := range last {
			if Collides(events[it.index], events[i]) {
				colliding = append(colliding, it)
			}
		}

		item := groupItem{index: i, columnIndex: lowestFreeColumn(colliding), initial: true}

		switch len(colliding) {
		case 0:
			item.columnIndex = 0
			groups = append(groups, []groupItem{item})
		case len(last):
			groups[len(groups)-1] = append(last, item)
		default:
			next := make([]groupItem, 0, len(colliding)+1)
			for _, it := range colliding {
				it.initial = false
				next = append(next, it)
			}
			groups = append(groups, append(next, item))
		}
	}

	total := 0
	for _, g := range groups {
		for _, it := range g {
			total = max(total, it.columnIndex+1)
		}
	}

	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].columnIndex < g[b].columnIndex })
		for k := range g {
			if k == len(g)-1 {
				g[k].columnSpan = total - g[k].columnIndex
			} else {
				g[k].columnSpan = g[k+1].columnIndex - g[k].columnIndex
			}
		}
	}

	// An event never claims more width than its narrowest record allows.
	spans := make([]int, len(events))
	columns := make([]int, len(events))
	for i := range spans {
		spans[i] = total
	}
	for _, g := range groups {
		for _, it := range g {
			spans[it.index] = min(spans[it.index], it.columnSpan)
			if it.initial {
				columns[it.index] = it.columnIndex
			}
		}
	}

	placements := make([]Placement, len(events))
	for i, ev := range events {
		placements[i] = Placement{Event: ev, ColumnIndex: columns[i], ColumnSpan: spans[i]}
	}
	return Result{Placements: placements, TotalColumns: total}
}

// lowestFreeColumn returns the smallest column index not used by items.
// When items hold a dense 0..n-1 run this is n, i.e. a new column.
func lowestFreeColumn(items []groupItem) int {
	used := make(map[int]bool, len(items))
	for _, it := range items {
		used[it.columnIndex] = true
	}
	c := 0
	for used[c] {
		c++
	}
	return c
}
