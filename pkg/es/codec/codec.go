// Package codec turns domain events into a self-describing JSON wire format
// and back, resolving type names through a startup-built Registry.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/eventcore/pkg/es"
	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
)

// Wire is the serialized form of an event. Type and SchemaVersion travel with
// the data so a reader needs nothing else to decode it.
type Wire struct {
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
}

// Codec serializes events with a Registry for the reverse direction.
type Codec struct {
	registry *Registry
}

func New(registry *Registry) *Codec {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Codec{registry: registry}
}

// Registry exposes the underlying type table.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Marshal encodes only the event data; type and version are returned for
// storage in dedicated columns.
func (c *Codec) Marshal(event es.Event) (typeName string, schemaVersion int, data json.RawMessage, err error) {
	if event == nil {
		return "", 0, nil, pkgerrors.New(pkgerrors.CodeSerialization, "nil event")
	}
	data, err = json.Marshal(event)
	if err != nil {
		return "", 0, nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "marshal "+event.EventType())
	}
	return event.EventType(), es.SchemaVersionOf(event), data, nil
}

// Serialize encodes event into the self-describing wire format.
func (c *Codec) Serialize(event es.Event) ([]byte, error) {
	typeName, version, data, err := c.Marshal(event)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(Wire{Type: typeName, SchemaVersion: version, Data: data})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "marshal wire")
	}
	return out, nil
}

// Deserialize decodes wire bytes as typeName. An empty typeName falls back to
// the name embedded in the wire format. Unregistered names fail with
// es.ErrUnknownEventType.
func (c *Codec) Deserialize(wire []byte, typeName string) (es.Event, error) {
	var w Wire
	if err := json.Unmarshal(wire, &w); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "unmarshal wire")
	}
	if typeName == "" {
		typeName = w.Type
	}
	if w.Type != "" && w.Type != typeName {
		return nil, pkgerrors.New(pkgerrors.CodeSerialization,
			fmt.Sprintf("wire carries %q, asked for %q", w.Type, typeName))
	}
	return c.Unmarshal(typeName, w.Data)
}

// Unmarshal decodes raw event data stored under typeName.
func (c *Codec) Unmarshal(typeName string, data json.RawMessage) (es.Event, error) {
	event, err := c.registry.decode(typeName, data)
	if err != nil {
		if _, unknown := err.(*es.UnknownEventTypeError); unknown {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "decode "+typeName)
	}
	return event, nil
}

// Decode deserializes wire bytes into the concrete event type T.
func Decode[T es.Event](c *Codec, wire []byte) (T, error) {
	var zero T
	event, err := c.Deserialize(wire, TypeName[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := event.(T)
	if !ok {
		return zero, pkgerrors.New(pkgerrors.CodeSerialization,
			fmt.Sprintf("decoded %T, want %T", event, zero))
	}
	return typed, nil
}
