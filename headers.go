package fluxio

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderFunc is called once per header field during [Headers.Foreach].
// Return true to keep iterating, false to stop. The name and value slices
// are borrowed and only valid for the duration of the call.
type HeaderFunc func(name, value []byte) bool

// headerField keeps both the canonical lookup key and the name exactly as
// the caller or the peer spelled it.
type headerField struct {
	key   string // lower-cased
	name  string // original casing
	value string
}

// Headers is an ordered multimap of HTTP header fields. Iteration yields
// fields in insertion order with their original casing; name lookup is
// case-insensitive per HTTP semantics.
//
// A Headers handle is borrowed from its Request or Response and must not be
// used after that owner has been consumed or freed.
type Headers struct {
	fields []headerField
}

// Add appends a value for name, keeping any existing values.
func (h *Headers) Add(name, value string) error {
	if err := checkField(name, value); err != nil {
		return err
	}
	h.fields = append(h.fields, headerField{
		key:   strings.ToLower(name),
		name:  name,
		value: value,
	})
	return nil
}

// Set replaces every value of name with the single given value. The field
// keeps the list position of the first occurrence, or is appended if the
// name was not present.
func (h *Headers) Set(name, value string) error {
	if err := checkField(name, value); err != nil {
		return err
	}
	key := strings.ToLower(name)
	out := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if f.key != key {
			out = append(out, f)
			continue
		}
		if !replaced {
			out = append(out, headerField{key: key, name: name, value: value})
			replaced = true
		}
	}
	h.fields = out
	if !replaced {
		h.fields = append(h.fields, headerField{key: key, name: name, value: value})
	}
	return nil
}

// Get returns the first value for name, matching case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	key := strings.ToLower(name)
	for _, f := range h.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

// Values returns all values for name in insertion order.
func (h *Headers) Values(name string) []string {
	key := strings.ToLower(name)
	var vals []string
	for _, f := range h.fields {
		if f.key == key {
			vals = append(vals, f.value)
		}
	}
	return vals
}

// Len returns the number of header fields.
func (h *Headers) Len() int { return len(h.fields) }

// Foreach iterates the fields in insertion order, passing each name and
// value pair to fn until it returns false or the fields are exhausted.
func (h *Headers) Foreach(fn HeaderFunc) {
	for _, f := range h.fields {
		if !fn([]byte(f.name), []byte(f.value)) {
			return
		}
	}
}

func checkField(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return errorf(CodeInvalidArg, "invalid header field name %q", name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return errorf(CodeInvalidArg, "invalid header field value for %q", name)
	}
	return nil
}
