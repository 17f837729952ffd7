package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
)

// Record is one parsed log line. It is read-only once built.
type Record struct {
	keys   []string
	fields map[string]string
	query  url.Values
	nested map[string]any
	order  []string
	raw    string
}

// Get returns the value of a field and whether it is present.
func (r *Record) Get(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.fields[name]
	return v, ok
}

// Value returns the field value or "".
func (r *Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Query returns a copy of the derived query parameters.
func (r *Record) Query() url.Values {
	if r == nil || r.query == nil {
		return nil
	}
	out := make(url.Values, len(r.query))
	for k, v := range r.query {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Nested returns the structured value merged under name, if any.
func (r *Record) Nested(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.nested[name]
	return v, ok
}

// NestedKeys returns the names of structured values in insertion order.
func (r *Record) NestedKeys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Raw returns the source line, empty when the record was built directly.
func (r *Record) Raw() string {
	if r == nil {
		return ""
	}
	return r.raw
}

// Map returns the string fields as a plain map.
func (r *Record) Map() map[string]string {
	out := make(map[string]string, r.Len())
	if r == nil {
		return out
	}
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the fields as an object, keeping field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.fields[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object written by MarshalJSON, keeping key order.
// Non-string values are stored as their text.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("record: expected a JSON object")
	}

	b := NewBuilder()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		b.Set(key, Stringify(value))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = *b.Build()
	return nil
}

// Builder assembles a Record.
type Builder struct {
	rec *Record
}

func NewBuilder() *Builder {
	return &Builder{rec: &Record{fields: map[string]string{}, nested: map[string]any{}}}
}

// Of builds a record from alternating name/value pairs.
func Of(pairs ...string) *Record {
	b := NewBuilder()
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Set(pairs[i], pairs[i+1])
	}
	return b.Build()
}

// Set adds or replaces a field. Replacing keeps the original position.
func (b *Builder) Set(name, value string) *Builder {
	if _, ok := b.rec.fields[name]; !ok {
		b.rec.keys = append(b.rec.keys, name)
	}
	b.rec.fields[name] = value
	return b
}

func (b *Builder) Has(name string) bool {
	_, ok := b.rec.fields[name]
	return ok
}

func (b *Builder) Get(name string) (string, bool) {
	return b.rec.Get(name)
}

func (b *Builder) Delete(name string) *Builder {
	if _, ok := b.rec.fields[name]; !ok {
		return b
	}
	delete(b.rec.fields, name)
	for i, k := range b.rec.keys {
		if k == name {
			b.rec.keys = append(b.rec.keys[:i], b.rec.keys[i+1:]...)
			break
		}
	}
	return b
}

func (b *Builder) SetQuery(q url.Values) *Builder {
	b.rec.query = q
	return b
}

// SetNested keeps a structured value next to its stringified field.
func (b *Builder) SetNested(name string, value any) *Builder {
	if _, ok := b.rec.nested[name]; !ok {
		b.rec.order = append(b.rec.order, name)
	}
	b.rec.nested[name] = value
	return b
}

func (b *Builder) SetRaw(line string) *Builder {
	b.rec.raw = line
	return b
}

// Build returns the record. The builder must not be used afterwards.
func (b *Builder) Build() *Record {
	rec := b.rec
	b.rec = nil
	return rec
}
