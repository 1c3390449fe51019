package device

import "maps"

// Annotations are free-form key/value metadata on devices and ports.
type Annotations map[string]string

// Copy returns a shallow copy, or nil for an empty set.
func (a Annotations) Copy() Annotations {
	if len(a) == 0 {
		return nil
	}
	return maps.Clone(a)
}

// Union merges b over a. Keys in b win. Neither input is modified.
func Union(a, b Annotations) Annotations {
	if len(b) == 0 {
		return a.Copy()
	}
	out := make(Annotations, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}

// Equal reports whether a and b hold the same pairs. Nil and empty are equal.
func (a Annotations) Equal(b Annotations) bool {
	return maps.Equal(a, b)
}

// Without returns a copy of a with the given keys removed.
func (a Annotations) Without(keys ...string) Annotations {
	out := a.Copy()
	for _, k := range keys {
		delete(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
