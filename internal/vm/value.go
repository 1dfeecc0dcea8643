package vm

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// Value is anything on the evaluation stack: int32, int64, string, nil or
// one of the reference types below. Booleans are int32 0 or 1.
type Value = any

// Object is a reference type instance. Module types carry Type; host types
// (exceptions, collections) carry only TypeName.
type Object struct {
	Type     *il.TypeDef
	TypeName string
	Fields   map[*il.FieldDef]Value
	// Message is set for exceptions.
	Message string
	// Entries backs dictionary instances.
	Entries map[Value]Value
}

func newObject(t *il.TypeDef) *Object {
	return &Object{Type: t, TypeName: t.FullName(), Fields: make(map[*il.FieldDef]Value)}
}

// Delegate is a delegate instance bound to a method or to a compiled
// expression tree.
type Delegate struct {
	Type   *il.TypeDef // nil for compiled lambdas
	Method il.MethodRef
	Lambda *Expr
}

// Boxed is a boxed value type.
type Boxed struct {
	TypeName string
	Value    Value
}

// Array is a single-dimension zero-based array.
type Array struct {
	Elem  il.TypeSig
	Items []Value
}

// RuntimeType is both a RuntimeTypeHandle and the Type it designates.
type RuntimeType struct {
	Name string
	Def  *il.TypeDef
}

// ModuleInfo is the reflection view of the running module.
type ModuleInfo struct {
	Module *il.Module
}

// MethodInfo is a resolved method.
type MethodInfo struct {
	Method il.MethodRef
}

// Expr is a node of a System.Linq.Expressions tree.
type Expr struct {
	Op          string // "Constant" or a binary factory name
	Value       Value
	Left, Right *Expr
}

// Lambda is an uncompiled lambda expression.
type Lambda struct {
	Body *Expr
}

// Exception is a managed exception propagating through Go frames.
type Exception struct {
	Object *Object
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Object.TypeName, e.Object.Message)
}

// hostBases maps host types to their base type.
var hostBases = map[string]string{
	"System.Exception":                                "System.Object",
	"System.SystemException":                          "System.Exception",
	"System.InvalidOperationException":                "System.SystemException",
	"System.NullReferenceException":                   "System.SystemException",
	"System.InvalidCastException":                     "System.SystemException",
	"System.ArgumentException":                        "System.SystemException",
	"System.IndexOutOfRangeException":                 "System.SystemException",
	"System.BadImageFormatException":                  "System.SystemException",
	"System.Collections.Generic.KeyNotFoundException": "System.SystemException",
	"System.MulticastDelegate":                        "System.Delegate",
	"System.Delegate":                                 "System.Object",
	"System.ValueType":                                "System.Object",
	"System.Linq.Expressions.ConstantExpression":      "System.Linq.Expressions.Expression",
	"System.Linq.Expressions.BinaryExpression":        "System.Linq.Expressions.Expression",
	"System.Linq.Expressions.LambdaExpression":        "System.Linq.Expressions.Expression",
	"System.Linq.Expressions.Expression":              "System.Object",
	"System.RuntimeType":                              "System.Type",
	"System.Type":                                     "System.Reflection.MemberInfo",
	"System.Reflection.RuntimeMethodInfo":             "System.Reflection.MethodInfo",
	"System.Reflection.MethodInfo":                    "System.Reflection.MethodBase",
	"System.Reflection.MethodBase":                    "System.Reflection.MemberInfo",
	"System.Reflection.MemberInfo":                    "System.Object",
	"System.Reflection.RuntimeModule":                 "System.Reflection.Module",
	"System.Reflection.Module":                        "System.Object",
	"System.String":                                   "System.Object",
	"System.Array":                                    "System.Object",
}

// isException reports whether a host type name is an exception type.
func isException(name string) bool {
	for name != "" {
		if name == "System.Exception" {
			return true
		}
		name = hostBases[name]
	}
	return false
}

// typeChain returns the runtime type of v followed by its base types.
func (m *Machine) typeChain(v Value) []string {
	var start string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		start = "System.String"
	case int32:
		start = "System.Int32"
	case int64:
		start = "System.Int64"
	case *Boxed:
		return []string{x.TypeName, "System.ValueType", "System.Object"}
	case *Array:
		return []string{x.Elem.RuntimeTypeName() + "[]", "System.Array", "System.Object"}
	case *Object:
		return m.objectChain(x)
	case *Delegate:
		if x.Type != nil {
			return append([]string{x.Type.FullName()}, m.hostChain(x.Type.BaseType)...)
		}
		start = "System.MulticastDelegate"
	case *RuntimeType:
		start = "System.RuntimeType"
	case *ModuleInfo:
		start = "System.Reflection.RuntimeModule"
	case *MethodInfo:
		start = "System.Reflection.RuntimeMethodInfo"
	case *Expr:
		if x.Op == "Constant" {
			start = "System.Linq.Expressions.ConstantExpression"
		} else {
			start = "System.Linq.Expressions.BinaryExpression"
		}
	case *Lambda:
		start = "System.Linq.Expressions.LambdaExpression"
	default:
		start = "System.Object"
	}
	return m.hostChain(start)
}

func (m *Machine) objectChain(o *Object) []string {
	if o.Type == nil {
		return m.hostChain(o.TypeName)
	}
	var chain []string
	for t := o.Type; ; {
		chain = append(chain, t.FullName())
		base := t.BaseType
		if base == "" {
			return append(chain, "System.Object")
		}
		next := m.mod.FindType(base)
		if next == nil {
			return append(chain, m.hostChain(base)...)
		}
		t = next
	}
}

func (m *Machine) hostChain(name string) []string {
	var chain []string
	for name != "" {
		chain = append(chain, name)
		if name == "System.Object" {
			return chain
		}
		base, ok := hostBases[name]
		if !ok {
			base = "System.Object"
		}
		name = base
	}
	return chain
}

// isInstance implements the castclass/isinst type test. null is an
// instance of every reference type.
func (m *Machine) isInstance(v Value, typeName string) bool {
	if v == nil {
		return true
	}
	for _, name := range m.typeChain(v) {
		if name == typeName {
			return true
		}
	}
	return false
}

// stripGenerics removes generic arguments: "List`1<System.String>" -> "List`1".
func stripGenerics(name string) string {
	if i := strings.IndexByte(name, '<'); i >= 0 {
		return name[:i]
	}
	return name
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int32:
		return x != 0
	case int64:
		return x != 0
	}
	return true
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func zeroValue(t il.TypeSig) Value {
	switch t.Kind {
	case il.ElemInt32, il.ElemBool:
		return int32(0)
	case il.ElemInt64:
		return int64(0)
	}
	return nil
}

func toInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		return int32(x), true
	case int64:
		return int32(x), true
	}
	return 0, false
}
