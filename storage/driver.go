package storage

import (
	"sort"

	"github.com/etnz/logfmt"
)

// Driver is the key/value layer the engine checkpoints through. The core
// never depends on what sits behind it; in-process callers use the mem
// implementation, durable backends are an external concern.
type Driver interface {
	WriteKey(key string, data []byte) error
	GetKey(key string) ([]byte, error)
	ErrIsNotFound(error) bool
}

// Key renders a deterministic storage key from a prefix and a set of
// attributes. Attribute names are sorted before rendering so the same
// attributes always produce the same key.
func Key(prefix string, attrs map[string]string) string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := logfmt.Rec()
	for _, name := range names {
		rec = rec.Q(name, attrs[name])
	}
	return prefix + "/" + rec.String()
}
