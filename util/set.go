package util

type Set[T comparable] map[T]struct{}

func (s Set[T]) Add(item T) {
	s[item] = struct{}{}
}

func (s Set[T]) Has(item T) bool {
	_, ok := s[item]
	return ok
}

// Clone returns an independent copy, used when a walk needs its own visited
// set per branch.
func (s Set[T]) Clone() Set[T] {
	clone := make(Set[T], len(s))
	for item := range s {
		clone[item] = struct{}{}
	}
	return clone
}
