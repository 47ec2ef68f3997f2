package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/angelmondragon/eventcore/pkg/es"
)

type decoderFunc func(data json.RawMessage) (es.Event, error)

// Registry maps stable event type names to decoders. Build it once at startup;
// lookups afterwards are read-only.
type Registry struct {
	mtx      sync.RWMutex
	decoders map[string]decoderFunc
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]decoderFunc)}
}

// Register adds the value type E under the name returned by its EventType.
// Registering the same name twice, a pointer type, or a name that is empty or
// carries surrounding whitespace fails.
func Register[E es.Event](r *Registry) error {
	var zero E
	if t := reflect.TypeOf(zero); t == nil || t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface {
		return fmt.Errorf("register %T: events must be registered as value types", zero)
	}

	name := zero.EventType()
	if name == "" {
		return fmt.Errorf("register %T: empty event type name", zero)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("register %T: event type %q has surrounding whitespace", zero, name)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, exists := r.decoders[name]; exists {
		return fmt.Errorf("register %T: event type %q already registered", zero, name)
	}
	r.decoders[name] = func(data json.RawMessage) (es.Event, error) {
		var event E
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return event, nil
	}
	return nil
}

// MustRegister is Register for startup code; it panics on failure.
func MustRegister[E es.Event](r *Registry) {
	if err := Register[E](r); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	_, ok := r.decoders[name]
	return ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) decode(name string, data json.RawMessage) (es.Event, error) {
	r.mtx.RLock()
	decoder, ok := r.decoders[name]
	r.mtx.RUnlock()
	if !ok {
		return nil, &es.UnknownEventTypeError{TypeName: name}
	}
	return decoder(data)
}

// TypeName returns the stable name of the value type E.
func TypeName[E es.Event]() string {
	var zero E
	return zero.EventType()
}
