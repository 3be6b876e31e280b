package entity

import "time"

// TimestampPrecision is the resolution at which timestamps are compared.
// The document stores keep milliseconds, so anything finer is noise.
const TimestampPrecision = time.Millisecond

// Replicated is implemented by every entity that carries a remote surrogate id
type Replicated interface {
	SurrogateID() string
}

// IndexBySurrogate maps items by surrogate id. Items without one are left out.
func IndexBySurrogate[T Replicated](items []T) map[string]T {
	index := make(map[string]T, len(items))
	for _, item := range items {
		if id := item.SurrogateID(); id != "" {
			index[id] = item
		}
	}
	return index
}

// IndexBy maps items by an arbitrary key. Empty keys are left out; on
// duplicates the first item wins.
func IndexBy[T any](items []T, key func(T) string) map[string]T {
	index := make(map[string]T, len(items))
	for _, item := range items {
		k := key(item)
		if k == "" {
			continue
		}
		if _, exists := index[k]; !exists {
			index[k] = item
		}
	}
	return index
}

// Truncate rounds t down to TimestampPrecision
func Truncate(t time.Time) time.Time {
	return t.Truncate(TimestampPrecision)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Truncate(*a).Equal(Truncate(*b))
}
