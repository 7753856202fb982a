package roles

import (
	"fmt"
	"sort"
)

// Placement is a role's current slot in the hierarchy.
type Placement struct {
	RoleID   int64
	Position int
}

// Change is a position rewrite produced by the ordering engine.
type Change struct {
	RoleID int64
	From   int
	To     int
}

type rankKey struct {
	roleID int64
	from   int
	key    float64
}

// Renumber assigns every role its 1-based rank when ordered by position, ties broken
// by id. Only rows whose position changes are returned, so a dense input yields nil.
func Renumber(ps []Placement) []Change {
	keys := make([]rankKey, len(ps))
	for i, p := range ps {
		keys[i] = rankKey{roleID: p.RoleID, from: p.Position, key: float64(p.Position)}
	}
	return rank(keys)
}

// Compact renumbers the roles left after a delete.
func Compact(remaining []Placement) []Change {
	return Renumber(remaining)
}

// Move places roleID at target. The moved role gets the sort key target+0.5 when it
// moves down the hierarchy and target-0.5 when it moves up, so it lands next to the
// role currently at target without colliding with it; a renumbering pass then makes
// the sequence dense again. The direction is taken from the position in ps, which
// callers read inside the same transaction that applies the result. Targets beyond
// the last position settle at the end.
func Move(ps []Placement, roleID int64, target int) ([]Change, error) {
	if target < 1 {
		return nil, ErrInvalidPosition
	}
	idx := -1
	for i, p := range ps {
		if p.RoleID == roleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	current := ps[idx].Position
	if current == target {
		return nil, nil
	}

	keys := make([]rankKey, len(ps))
	for i, p := range ps {
		keys[i] = rankKey{roleID: p.RoleID, from: p.Position, key: float64(p.Position)}
	}
	if target > current {
		keys[idx].key = float64(target) + 0.5
	} else {
		keys[idx].key = float64(target) - 0.5
	}
	return rank(keys), nil
}

func rank(keys []rankKey) []Change {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].key != keys[j].key {
			return keys[i].key < keys[j].key
		}
		return keys[i].roleID < keys[j].roleID
	})
	var changes []Change
	for i, k := range keys {
		if to := i + 1; to != k.from {
			changes = append(changes, Change{RoleID: k.roleID, From: k.from, To: to})
		}
	}
	return changes
}

// Apply returns ps with changes applied, ordered by the new positions.
func Apply(ps []Placement, changes []Change) []Placement {
	next := make(map[int64]int, len(changes))
	for _, c := range changes {
		next[c.RoleID] = c.To
	}
	out := make([]Placement, len(ps))
	for i, p := range ps {
		if to, ok := next[p.RoleID]; ok {
			p.Position = to
		}
		out[i] = p
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].RoleID < out[j].RoleID
	})
	return out
}

// NextPosition is the slot a newly created role takes when count roles exist.
func NextPosition(count int) int {
	return count + 1
}

// Dense reports whether the positions are exactly 1..len(ps) without duplicates.
func Dense(ps []Placement) bool {
	seen := make([]bool, len(ps)+1)
	for _, p := range ps {
		if p.Position < 1 || p.Position > len(ps) || seen[p.Position] {
			return false
		}
		seen[p.Position] = true
	}
	return true
}

func (c Change) String() string {
	return fmt.Sprintf("%d:%d->%d", c.RoleID, c.From, c.To)
}
