// Package store addresses remote blob stores through structured descriptors.
package store

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidDescriptor is returned when a descriptor cannot be resolved by a backend.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrNotFound is returned when the addressed object does not exist.
	ErrNotFound = errors.New("object not found")
)

// Descriptor is a backend agnostic address. Fields are substituted into the key template
// registered for Kind.
type Descriptor struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
}

func (d Descriptor) String() string {
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+d.Fields[k])
	}
	return d.Kind + "{" + strings.Join(parts, ",") + "}"
}

// Filter selects descriptors of one kind whose fields equal every value given.
type Filter struct {
	Kind   string
	Fields map[string]string
}

// Matches reports whether the descriptor satisfies the filter.
func (f Filter) Matches(d Descriptor) bool {
	if d.Kind != f.Kind {
		return false
	}
	for k, v := range f.Fields {
		if d.Fields[k] != v {
			return false
		}
	}
	return true
}

// Credentials authenticate a remote fetch. A nil *Credentials fetches anonymously.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// ObjectStore is the capability set every blob store backend exposes.
type ObjectStore interface {
	SaveFromLocalFile(ctx context.Context, path string, target Descriptor) error
	SaveFromRemote(ctx context.Context, url string, target Descriptor, creds *Credentials) error
	LoadToLocalFile(ctx context.Context, source Descriptor, path string) error
	List(ctx context.Context, filter Filter) ([]Descriptor, error)
	Exists(ctx context.Context, target Descriptor) (bool, error)
	Delete(ctx context.Context, target Descriptor) error
}

// Locator is implemented by backends that can say where an object is published.
type Locator interface {
	Bucket() string
	Key(d Descriptor) (string, error)
}
