package infection

import "github.com/ritzau/ttcn-selector/pkg/logging"

// Partition splits states into infected and clean ones, keeping order
func Partition(states []*State) (broken, notBroken []*State) {
	for _, s := range states {
		if s.Infected() {
			broken = append(broken, s)
		} else {
			notBroken = append(notBroken, s)
		}
	}
	return broken, notBroken
}

// Close spreads infection inside one module until nothing changes.
//
// broken holds states already known to be infected and index must contain
// them. Each pass scans notBroken from the back; a state referring to a broken
// name (contagious references first) is checked against it and moved over.
// The updated lists are returned; index is updated in place.
func Close(broken, notBroken []*State, index Index) ([]*State, []*State) {
	if len(broken) == 0 || len(notBroken) == 0 {
		return broken, notBroken
	}

	for pass := 1; ; pass++ {
		moved := 0
		for i := len(notBroken) - 1; i >= 0; i-- {
			s := notBroken[i]
			hit, ok := firstBrokenRef(s, index)
			if !ok {
				continue
			}

			s.Check(hit)
			s.Infect(ReasonInfectedReference, false)
			broken = append(broken, s)
			index.Add(s)
			notBroken = append(notBroken[:i], notBroken[i+1:]...)
			moved++

			logging.Trace("infection spread inside module",
				"module", s.Module(), "definition", s.Name(), "via", hit.Name(), "contagious", s.Contagious())
		}

		if moved == 0 || len(notBroken) == 0 {
			return broken, notBroken
		}
		logging.Trace("closure pass", "pass", pass, "moved", moved, "remaining", len(notBroken))
	}
}

func firstBrokenRef(s *State, index Index) (*State, bool) {
	for _, name := range s.ContagiousRefs().Sorted() {
		if hit, ok := index.Lookup(name); ok && hit != s {
			return hit, true
		}
	}
	for _, name := range s.MergedNonContagious().Sorted() {
		if hit, ok := index.Lookup(name); ok && hit != s {
			return hit, true
		}
	}
	return nil, false
}
