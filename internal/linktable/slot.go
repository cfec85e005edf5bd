package linktable

// slotShape says which of the three container shapes a slot uses.
type slotShape uint8

const (
	shapeSingle slotShape = iota // at most one id
	shapeSet                     // unordered, deduplicated
	shapeList                    // priority-ordered, deduplicated
)

// slot is the single container implementation shared by every variant.
// Which shape is live is fixed for the lifetime of the slot by the
// Variant that created it (via newSlot), matching the "container
// factories" design point of the spec: this is the only place the
// container shape differs between variants.
type slot struct {
	shape slotShape

	// shapeSingle
	has bool
	one int64

	// shapeSet
	set map[int64]struct{}

	// shapeList, ordered front(highest priority) to back
	list []int64
}

func newSingleSlot() *slot { return &slot{shape: shapeSingle} }
func newSetSlot() *slot    { return &slot{shape: shapeSet, set: make(map[int64]struct{})} }
func newListSlot() *slot   { return &slot{shape: shapeList} }

// newSlot builds the empty container appropriate for one side of the
// given variant. single selects whether this is the "optional single id"
// side (srcSideIsSingle / dstSideIsSingle) as opposed to the multi side.
func newSlot(v Variant, single bool) *slot {
	if single {
		return newSingleSlot()
	}
	if v.Priority {
		return newListSlot()
	}
	return newSetSlot()
}

// clone returns a deep copy, used to hand callers snapshots they cannot
// mutate (spec.md's "deep-copy snapshot" requirement on BookData).
func (s *slot) clone() *slot {
	if s == nil {
		return nil
	}
	c := &slot{shape: s.shape, has: s.has, one: s.one}
	if s.set != nil {
		c.set = make(map[int64]struct{}, len(s.set))
		for k := range s.set {
			c.set[k] = struct{}{}
		}
	}
	if s.list != nil {
		c.list = append([]int64(nil), s.list...)
	}
	return c
}

func (s *slot) isEmpty() bool {
	if s == nil {
		return true
	}
	switch s.shape {
	case shapeSingle:
		return !s.has
	case shapeSet:
		return len(s.set) == 0
	case shapeList:
		return len(s.list) == 0
	}
	return true
}

func (s *slot) contains(id int64) bool {
	if s == nil {
		return false
	}
	switch s.shape {
	case shapeSingle:
		return s.has && s.one == id
	case shapeSet:
		_, ok := s.set[id]
		return ok
	case shapeList:
		for _, x := range s.list {
			if x == id {
				return true
			}
		}
	}
	return false
}

// ids returns the member ids in canonical order (list order for shapeList,
// unspecified order otherwise).
func (s *slot) ids() []int64 {
	if s == nil {
		return nil
	}
	switch s.shape {
	case shapeSingle:
		if !s.has {
			return nil
		}
		return []int64{s.one}
	case shapeSet:
		out := make([]int64, 0, len(s.set))
		for id := range s.set {
			out = append(out, id)
		}
		return out
	case shapeList:
		return append([]int64(nil), s.list...)
	}
	return nil
}

// add inserts id. For shapeList, a pre-existing occurrence is removed and
// the id re-inserted at the front (promotion semantics, spec.md §4.2).
// For shapeSingle, add replaces the current occupant.
func (s *slot) add(id int64) {
	switch s.shape {
	case shapeSingle:
		s.has, s.one = true, id
	case shapeSet:
		s.set[id] = struct{}{}
	case shapeList:
		s.removeFromList(id)
		s.list = append([]int64{id}, s.list...)
	}
}

// addAtBack inserts id without promotion, used when rebuilding a slot from
// a caller-supplied ordered sequence rather than promoting one element.
func (s *slot) addAtBack(id int64) {
	switch s.shape {
	case shapeSingle:
		s.has, s.one = true, id
	case shapeSet:
		s.set[id] = struct{}{}
	case shapeList:
		if !s.contains(id) {
			s.list = append(s.list, id)
		}
	}
}

func (s *slot) remove(id int64) {
	switch s.shape {
	case shapeSingle:
		if s.has && s.one == id {
			s.has = false
		}
	case shapeSet:
		delete(s.set, id)
	case shapeList:
		s.removeFromList(id)
	}
}

func (s *slot) removeFromList(id int64) {
	for i, x := range s.list {
		if x == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

// replaceWith sets the slot's contents to exactly ids (list order
// preserved for shapeList), discarding whatever was there before.
func (s *slot) replaceWith(ids []int64) {
	switch s.shape {
	case shapeSingle:
		s.has = len(ids) > 0
		if s.has {
			s.one = ids[0]
		}
	case shapeSet:
		s.set = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			s.set[id] = struct{}{}
		}
	case shapeList:
		s.list = s.list[:0]
		for _, id := range ids {
			if !s.containsInList(id) {
				s.list = append(s.list, id)
			}
		}
	}
}

func (s *slot) containsInList(id int64) bool {
	for _, x := range s.list {
		if x == id {
			return true
		}
	}
	return false
}
