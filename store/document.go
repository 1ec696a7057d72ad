package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TriggerTypeCron is the trigger type whose ids are reissued on creation.
const TriggerTypeCron = "cron"

// Key identifies a stored strategy within a backend.
type Key struct {
	Application string
	ID          string
}

// String returns "application/id".
func (k Key) String() string {
	return k.Application + "/" + k.ID
}

// Document is a pipeline strategy.
//
// Only ID, Name, Application and the triggers' ID and Type are interpreted
// by the store. Every other field is kept verbatim in Attributes and
// written back unchanged.
type Document struct {
	ID          string
	Name        string
	Application string
	Triggers    []Trigger

	// Attributes holds the remaining top-level fields, keyed by JSON name.
	Attributes map[string]json.RawMessage
}

// Trigger is an entry of a strategy's "triggers" list.
type Trigger struct {
	ID   string
	Type string

	// Attributes holds the remaining trigger fields, keyed by JSON name.
	Attributes map[string]json.RawMessage
}

// IsCron reports whether t is a cron trigger.
func (t Trigger) IsCron() bool {
	return t.Type == TriggerTypeCron
}

// Key returns the backend key for d.
func (d *Document) Key() Key {
	return Key{Application: d.Application, ID: d.ID}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		ID:          d.ID,
		Name:        d.Name,
		Application: d.Application,
		Attributes:  cloneAttributes(d.Attributes),
	}
	if d.Triggers != nil {
		c.Triggers = make([]Trigger, len(d.Triggers))
		for i, t := range d.Triggers {
			c.Triggers[i] = Trigger{
				ID:         t.ID,
				Type:       t.Type,
				Attributes: cloneAttributes(t.Attributes),
			}
		}
	}
	return c
}

// validate checks the fields every stored strategy must carry.
func (d *Document) validate() error {
	if d.Application == "" {
		return fmt.Errorf("%w: application is required", ErrInvalidDocument)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDocument)
	}
	return nil
}

// MarshalJSON encodes d as a single JSON object: the opaque attributes
// merged with id, name, application and triggers.
func (d Document) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Attributes)+4)
	for k, v := range d.Attributes {
		m[k] = v
	}
	if d.ID != "" {
		m["id"] = d.ID
	}
	m["name"] = d.Name
	m["application"] = d.Application
	if d.Triggers != nil {
		m["triggers"] = d.Triggers
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a JSON object into d, keeping unknown fields in
// Attributes.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Document
	if err := takeFields(raw, map[string]any{
		"id":          &out.ID,
		"name":        &out.Name,
		"application": &out.Application,
		"triggers":    &out.Triggers,
	}); err != nil {
		return err
	}
	if len(raw) > 0 {
		out.Attributes = raw
	}
	*d = out
	return nil
}

// MarshalJSON encodes t with its attributes merged in.
func (t Trigger) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Attributes)+2)
	for k, v := range t.Attributes {
		m[k] = v
	}
	if t.ID != "" {
		m["id"] = t.ID
	}
	m["type"] = t.Type
	return json.Marshal(m)
}

// UnmarshalJSON decodes a trigger, keeping unknown fields in Attributes.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Trigger
	if err := takeFields(raw, map[string]any{
		"id":   &out.ID,
		"type": &out.Type,
	}); err != nil {
		return err
	}
	if len(raw) > 0 {
		out.Attributes = raw
	}
	*t = out
	return nil
}

// takeFields decodes and removes the named fields from raw.
func takeFields(raw map[string]json.RawMessage, fields map[string]any) error {
	for name, dst := range fields {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("decode %q: %w", name, err)
		}
		delete(raw, name)
	}
	return nil
}

func cloneAttributes(attrs map[string]json.RawMessage) map[string]json.RawMessage {
	if attrs == nil {
		return nil
	}
	c := make(map[string]json.RawMessage, len(attrs))
	for k, v := range attrs {
		c[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// sortDocuments orders docs by application, then name, then id.
func sortDocuments(docs []*Document) {
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Application != b.Application {
			return a.Application < b.Application
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
