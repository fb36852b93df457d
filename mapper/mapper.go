// Package mapper records which Go types are stored in which collections.
//
// A Mapper is the CollectionResolver for Lookup, GraphLookup and Out
// stages that target a type, and it registers mapped types with a codec
// registry so entity values can appear as pipeline literals.
package mapper

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/dosco/graphjin/aggregate/v3/codec"
)

// CollectionNamer lets a type choose its own collection name.
type CollectionNamer interface {
	CollectionName() string
}

// Entity is a mapped type.
type Entity struct {
	Type       reflect.Type
	Collection string
}

// MapOption adjusts an entity while it is mapped.
type MapOption func(*Entity)

// WithCollection overrides the collection name.
func WithCollection(name string) MapOption {
	return func(e *Entity) {
		e.Collection = name
	}
}

// UnmappedTypeError is returned when resolving a type that was never
// mapped.
type UnmappedTypeError struct {
	Type reflect.Type
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("mapper: type %s is not mapped to a collection", e.Type)
}

type Mapper struct {
	mu       sync.RWMutex
	entities map[reflect.Type]Entity
}

func New() *Mapper {
	return &Mapper{entities: make(map[reflect.Type]Entity)}
}

// Map maps T. Its collection is, in order of precedence, the name given
// with WithCollection, the name returned by CollectionName, or the
// lowerCamel form of the type name.
func Map[T any](m *Mapper, opts ...MapOption) Entity {
	return m.MapType(reflect.TypeFor[T](), opts...)
}

// MapType maps t. Pointer types are mapped as their element type. A nil
// t maps nothing and returns the zero Entity.
func (m *Mapper) MapType(t reflect.Type, opts ...MapOption) Entity {
	t = indirect(t)
	if t == nil {
		return Entity{}
	}
	e := Entity{Type: t, Collection: collectionName(t)}
	for _, op := range opts {
		op(&e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[t] = e
	return e
}

// ResolveCollection implements codec.CollectionResolver.
func (m *Mapper) ResolveCollection(t reflect.Type) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entities[indirect(t)]; ok {
		return e.Collection, nil
	}
	return "", &UnmappedTypeError{Type: t}
}

// Entities lists mapped types ordered by collection name.
func (m *Mapper) Entities() []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entity) int {
		return strings.Compare(a.Collection, b.Collection)
	})
	return out
}

// Register installs an encoder for every mapped type. Entity values are
// written with the driver's struct codec, honoring bson tags.
func (m *Mapper) Register(reg *codec.Registry) {
	for _, e := range m.Entities() {
		reg.Register(e.Type, codec.BSONEncoder{})
	}
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func collectionName(t reflect.Type) string {
	if n, ok := reflect.New(t).Interface().(CollectionNamer); ok {
		if name := n.CollectionName(); name != "" {
			return name
		}
	}
	return DefaultCollectionName(t)
}

// DefaultCollectionName lower-cases the leading word of the type name:
// Artwork becomes artwork and URLMap becomes urlMap.
func DefaultCollectionName(t reflect.Type) string {
	if t = indirect(t); t == nil {
		return ""
	}
	name := t.Name()
	runes := []rune(name)

	i := 0
	for i < len(runes) && unicode.IsUpper(runes[i]) {
		i++
	}
	switch {
	case i == 0:
		return name
	case i > 1 && i < len(runes):
		// the last capital starts the next word
		i--
	}
	for j := 0; j < i; j++ {
		runes[j] = unicode.ToLower(runes[j])
	}
	return string(runes)
}
