package soap

import (
	"strings"

	"github.com/beevik/etree"
)

// Keys used for element attributes and text in a decoded Object.
const (
	AttributesKey = "attributes"
	ValueKey      = "$value"
)

// Object is the generic decoded form of an XML element. Children are keyed by
// local name; repeated children collect into []any; attributes live under
// AttributesKey as map[string]string and text under ValueKey. Elements with
// neither children nor attributes decode to a plain string instead.
type Object map[string]any

// Decode converts el into an Object or a string.
func Decode(el *etree.Element) any {
	attrs := make(map[string]string)

	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}

		attrs[a.Key] = a.Value
	}

	children := el.ChildElements()
	text := strings.TrimSpace(el.Text())

	if len(children) == 0 && len(attrs) == 0 {
		return text
	}

	obj := make(Object, len(children)+2)
	if len(attrs) > 0 {
		obj[AttributesKey] = attrs
	}

	if len(children) == 0 && text != "" {
		obj[ValueKey] = text
	}

	for _, child := range children {
		value := Decode(child)

		existing, ok := obj[child.Tag]
		if !ok {
			obj[child.Tag] = value
			continue
		}

		if list, isList := existing.([]any); isList {
			obj[child.Tag] = append(list, value)
		} else {
			obj[child.Tag] = []any{existing, value}
		}
	}

	return obj
}

// Lookup walks path from v. With unwrap set, a single-element []any met
// along the way stands for its only element.
func Lookup(v any, unwrap bool, path ...string) (any, bool) {
	cur := v

	for _, key := range path {
		if unwrap {
			cur = single(cur)
		}

		obj, ok := cur.(Object)
		if !ok {
			return nil, false
		}

		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}

	if unwrap {
		cur = single(cur)
	}

	return cur, cur != nil
}

func single(v any) any {
	if list, ok := v.([]any); ok && len(list) == 1 {
		return list[0]
	}

	return v
}

// Text returns the character content of a decoded value. For a list the
// first element is used.
func Text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case Object:
		s, _ := t[ValueKey].(string)
		return s
	case []any:
		if len(t) > 0 {
			return Text(t[0])
		}
	}

	return ""
}

// Attr returns an attribute of a decoded value, or "".
func Attr(v any, name string) string {
	obj, ok := single(v).(Object)
	if !ok {
		return ""
	}

	attrs, _ := obj[AttributesKey].(map[string]string)

	return attrs[name]
}

// String is Text of the value at path, unwrapping single-element lists.
func (o Object) String(path ...string) string {
	v, _ := Lookup(o, true, path...)
	return Text(v)
}

// Get returns the value at path, unwrapping single-element lists.
func (o Object) Get(path ...string) (any, bool) {
	return Lookup(o, true, path...)
}

// All returns every value stored under key as a list.
func (o Object) All(key string) []any {
	switch v := o[key].(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}
