package il

import (
	"fmt"
	"strings"
)

// ElementKind classifies a type signature.
type ElementKind uint8

// Element kinds.
const (
	ElemVoid ElementKind = iota
	ElemBool
	ElemInt32
	ElemInt64
	ElemString
	ElemObject
	ElemClass
	ElemValueType
	ElemByRef
	ElemPtr
	ElemSZArray
	ElemGenericParam
)

var elementNames = map[ElementKind]string{
	ElemVoid:         "void",
	ElemBool:         "bool",
	ElemInt32:        "int32",
	ElemInt64:        "int64",
	ElemString:       "string",
	ElemObject:       "object",
	ElemClass:        "class",
	ElemValueType:    "valuetype",
	ElemByRef:        "byref",
	ElemPtr:          "ptr",
	ElemSZArray:      "szarray",
	ElemGenericParam: "generic",
}

// String returns the element keyword.
func (k ElementKind) String() string {
	if s, ok := elementNames[k]; ok {
		return s
	}
	return fmt.Sprintf("elem(%d)", uint8(k))
}

// ParseElementKind is the inverse of ElementKind.String.
func ParseElementKind(s string) (ElementKind, error) {
	for k, name := range elementNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown element kind %q", s)
}

// TypeSig describes the static type of a value, parameter, field or local.
type TypeSig struct {
	Kind ElementKind
	// Name is the full type name for ElemClass and ElemValueType, and the
	// parameter name for ElemGenericParam.
	Name string
	// Elem is the element type for ElemByRef, ElemPtr and ElemSZArray.
	Elem *TypeSig
}

// Signature constructors.
func Void() TypeSig   { return TypeSig{Kind: ElemVoid} }
func Bool() TypeSig   { return TypeSig{Kind: ElemBool} }
func Int32() TypeSig  { return TypeSig{Kind: ElemInt32} }
func Int64() TypeSig  { return TypeSig{Kind: ElemInt64} }
func String() TypeSig { return TypeSig{Kind: ElemString} }
func Object() TypeSig { return TypeSig{Kind: ElemObject} }

// Class returns a reference type signature for the named type.
func Class(name string) TypeSig { return TypeSig{Kind: ElemClass, Name: name} }

// ValueType returns a value type signature for the named type.
func ValueType(name string) TypeSig { return TypeSig{Kind: ElemValueType, Name: name} }

// ByRef returns a managed pointer to t.
func ByRef(t TypeSig) TypeSig { return TypeSig{Kind: ElemByRef, Elem: &t} }

// Ptr returns an unmanaged pointer to t.
func Ptr(t TypeSig) TypeSig { return TypeSig{Kind: ElemPtr, Elem: &t} }

// SZArray returns a single-dimension zero-based array of t.
func SZArray(t TypeSig) TypeSig { return TypeSig{Kind: ElemSZArray, Elem: &t} }

// GenericParam returns a generic parameter placeholder.
func GenericParam(name string) TypeSig { return TypeSig{Kind: ElemGenericParam, Name: name} }

// IsReference reports whether values of t are object references.
func (t TypeSig) IsReference() bool {
	switch t.Kind {
	case ElemString, ElemObject, ElemClass, ElemSZArray:
		return true
	}
	return false
}

// IsVoid reports whether t is void.
func (t TypeSig) IsVoid() bool { return t.Kind == ElemVoid }

// Equal reports structural equality.
func (t TypeSig) Equal(o TypeSig) bool {
	if t.Kind != o.Kind || t.Name != o.Name {
		return false
	}
	if t.Elem == nil || o.Elem == nil {
		return t.Elem == nil && o.Elem == nil
	}
	return t.Elem.Equal(*o.Elem)
}

// RuntimeTypeName is the name a runtime uses for type checks against t.
func (t TypeSig) RuntimeTypeName() string {
	switch t.Kind {
	case ElemString:
		return "System.String"
	case ElemObject:
		return "System.Object"
	case ElemInt32:
		return "System.Int32"
	case ElemInt64:
		return "System.Int64"
	case ElemBool:
		return "System.Boolean"
	case ElemSZArray:
		return t.Elem.RuntimeTypeName() + "[]"
	}
	return t.Name
}

func (t TypeSig) String() string {
	switch t.Kind {
	case ElemClass:
		return "class " + t.Name
	case ElemValueType:
		return "valuetype " + t.Name
	case ElemByRef:
		return t.Elem.String() + "&"
	case ElemPtr:
		return t.Elem.String() + "*"
	case ElemSZArray:
		return t.Elem.String() + "[]"
	case ElemGenericParam:
		return "!!" + t.Name
	}
	return t.Kind.String()
}

// MethodSig is a method signature. Params exclude the implicit this.
type MethodSig struct {
	HasThis      bool
	VarArg       bool
	GenericArity int
	Return       TypeSig
	Params       []TypeSig
}

// StaticSig builds a static method signature.
func StaticSig(ret TypeSig, params ...TypeSig) MethodSig {
	return MethodSig{Return: ret, Params: params}
}

// InstanceSig builds an instance method signature.
func InstanceSig(ret TypeSig, params ...TypeSig) MethodSig {
	return MethodSig{HasThis: true, Return: ret, Params: params}
}

// Clone returns a deep copy of the parameter list.
func (s MethodSig) Clone() MethodSig {
	c := s
	c.Params = append([]TypeSig(nil), s.Params...)
	return c
}

// Equal reports structural equality.
func (s MethodSig) Equal(o MethodSig) bool {
	if s.HasThis != o.HasThis || s.VarArg != o.VarArg || s.GenericArity != o.GenericArity {
		return false
	}
	if !s.Return.Equal(o.Return) || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}

// StackArgs is the number of values a call with this signature pops.
func (s MethodSig) StackArgs() int {
	n := len(s.Params)
	if s.HasThis {
		n++
	}
	return n
}

func (s MethodSig) String() string {
	var b strings.Builder
	if s.HasThis {
		b.WriteString("instance ")
	}
	if s.VarArg {
		b.WriteString("vararg ")
	}
	b.WriteString(s.Return.String())
	if s.GenericArity > 0 {
		fmt.Fprintf(&b, " <%d>", s.GenericArity)
	}
	b.WriteString("(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(")")
	return b.String()
}
