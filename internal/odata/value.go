package odata

import "fmt"

// ValueKind is the discriminant of Value.
type ValueKind int

const (
	Unset ValueKind = iota
	Primitive
	Composite
)

func (k ValueKind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case Composite:
		return "composite"
	default:
		return "unset"
	}
}

// Kind is the EDM type of a primitive value.
type Kind int

const (
	KindString Kind = iota
	KindGuid
	KindInt32
	KindInt64
	KindDecimal
	KindDouble
	KindBoolean
	KindDateTime
)

var kindNames = map[Kind]string{
	KindString:   "Edm.String",
	KindGuid:     "Edm.Guid",
	KindInt32:    "Edm.Int32",
	KindInt64:    "Edm.Int64",
	KindDecimal:  "Edm.Decimal",
	KindDouble:   "Edm.Double",
	KindBoolean:  "Edm.Boolean",
	KindDateTime: "Edm.DateTime",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps an EDM type name (with or without the "Edm." prefix) to a Kind.
func ParseKind(name string) (Kind, bool) {
	if len(name) > 0 && name[0] == '#' {
		name = name[1:]
	}
	for k, n := range kindNames {
		if n == name || n[len("Edm."):] == name {
			return k, true
		}
	}
	switch name {
	case "Edm.DateTimeOffset", "DateTimeOffset", "Edm.Date", "Date":
		return KindDateTime, true
	case "Edm.Int16", "Int16", "Edm.Byte", "Byte", "Edm.SByte", "SByte":
		return KindInt32, true
	case "Edm.Single", "Single":
		return KindDouble, true
	}
	return 0, false
}

// Value is a property value as returned by the server: unset, a primitive
// with its declared kind and text form, or an ordered composite.
type Value struct {
	tag  ValueKind
	kind Kind
	raw  string
	sub  *Record
}

// PrimitiveValue builds a primitive of the given kind.
func PrimitiveValue(kind Kind, raw string) Value {
	return Value{tag: Primitive, kind: kind, raw: raw}
}

// CompositeValue builds a composite from an ordered record of members.
func CompositeValue(members *Record) Value {
	if members == nil {
		members = NewRecord()
	}
	return Value{tag: Composite, sub: members}
}

func (v Value) Tag() ValueKind { return v.tag }

// Kind returns the primitive kind. Meaningless unless Tag() == Primitive.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the primitive text form.
func (v Value) Raw() string { return v.raw }

// Members returns the composite members or nil.
func (v Value) Members() *Record { return v.sub }

func (v Value) describe() string {
	if v.tag == Primitive {
		return "primitive " + v.kind.String()
	}
	return v.tag.String()
}

// Record is an insertion-ordered property bag.
type Record struct {
	names  []string
	values map[string]Value
}

func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// Set stores a field. Re-setting an existing name keeps its original position.
func (r *Record) Set(name string, v Value) *Record {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
	return r
}

// Get returns the named value or an Unset value when the field is absent.
func (r *Record) Get(name string) Value {
	if r == nil {
		return Value{}
	}
	return r.values[name]
}

func (r *Record) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.values[name]
	return ok
}

// Names returns field names in insertion order.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// First returns the first member in insertion order.
func (r *Record) First() (string, Value, bool) {
	if r.Len() == 0 {
		return "", Value{}, false
	}
	n := r.names[0]
	return n, r.values[n], true
}
