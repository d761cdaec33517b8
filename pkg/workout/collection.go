package workout

import "sort"

// Collection keeps the unified list and the per-variant lists in step.
type Collection struct {
	all    []*Workout
	byKind map[Kind][]*Workout
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{byKind: make(map[Kind][]*Workout)}
}

// Add appends w to the unified list and to its variant list.
func (c *Collection) Add(w *Workout) {
	c.all = append(c.all, w)
	c.byKind[w.Type] = append(c.byKind[w.Type], w)
}

// All returns every workout in insertion order.
func (c *Collection) All() []*Workout {
	return append([]*Workout(nil), c.all...)
}

// OfKind returns the workouts of one variant in insertion order.
func (c *Collection) OfKind(kind Kind) []*Workout {
	return append([]*Workout(nil), c.byKind[kind]...)
}

// Len reports the number of workouts.
func (c *Collection) Len() int {
	return len(c.all)
}

// Find looks a workout up by id in the unified list.
func (c *Collection) Find(id string) (*Workout, bool) {
	for _, w := range c.all {
		if w.ID == id {
			return w, true
		}
	}
	return nil, false
}

// SortByDate orders all lists by creation time, oldest first. Used after
// merging the per-variant lists read back from storage.
func (c *Collection) SortByDate() {
	less := func(ws []*Workout) func(i, j int) bool {
		return func(i, j int) bool { return ws[i].Date.Before(ws[j].Date) }
	}
	sort.SliceStable(c.all, less(c.all))
	for k, ws := range c.byKind {
		sort.SliceStable(ws, less(ws))
		c.byKind[k] = ws
	}
}
