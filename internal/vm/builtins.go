package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

type builtin func(m *Machine, ref *il.MemberRef, args []Value) (Value, error)

const dictionaryType = "System.Collections.Generic.Dictionary`2"

// builtins are keyed by declaring type without generic arguments and member
// name. They are filled in init because some of them call back into the
// machine, which looks them up.
var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"System.Object::.ctor":          func(*Machine, *il.MemberRef, []Value) (Value, error) { return nil, nil },
		"System.Console::WriteLine":     consoleWriteLine,
		"System.String::Concat":         stringConcat,
		"System.String::Equals":         stringEquals,
		"System.String::op_Equality":    stringEquals,
		"System.Exception::get_Message": exceptionMessage,

		dictionaryType + "::set_Item":    dictionarySet,
		dictionaryType + "::get_Item":    dictionaryGet,
		dictionaryType + "::ContainsKey": dictionaryContains,
		dictionaryType + "::get_Count":   dictionaryCount,

		"System.Type::GetTypeFromHandle":          typeFromHandle,
		"System.Type::get_Module":                 typeModule,
		"System.Reflection.Module::ResolveMethod": resolveMethod,
		"System.Delegate::CreateDelegate":         createDelegate,
		"System.Delegate::DynamicInvoke":          dynamicInvoke,

		"System.Linq.Expressions.Expression::Constant":      exprConstant,
		"System.Linq.Expressions.Expression::Add":           exprBinary,
		"System.Linq.Expressions.Expression::Subtract":      exprBinary,
		"System.Linq.Expressions.Expression::Multiply":      exprBinary,
		"System.Linq.Expressions.Expression::ExclusiveOr":   exprBinary,
		"System.Linq.Expressions.Expression::Lambda":        exprLambda,
		"System.Linq.Expressions.LambdaExpression::Compile": exprCompile,
	}
}

func (m *Machine) callBuiltin(ref *il.MemberRef, args []Value) (Value, error) {
	key := stripGenerics(ref.TypeName) + "::" + ref.Name
	fn, ok := builtins[key]
	if !ok {
		return nil, fmt.Errorf("no host implementation of %s", ref.FullName())
	}
	if ref.Sig.HasThis && !ref.IsConstructor() && (len(args) == 0 || args[0] == nil) {
		return nil, m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
	}
	return fn(m, ref, args)
}

// construct implements newobj for host types.
func (m *Machine) construct(ref *il.MemberRef, args []Value) (Value, error) {
	name := ref.TypeName
	switch {
	case name == "System.Object":
		return &Object{TypeName: name}, nil
	case stripGenerics(name) == dictionaryType:
		return &Object{TypeName: name, Entries: make(map[Value]Value)}, nil
	case isException(name):
		msg := fmt.Sprintf("Exception of type '%s' was thrown.", name)
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				msg = s
			}
		}
		return &Object{TypeName: name, Message: msg}, nil
	}
	return nil, fmt.Errorf("no host constructor for %s", name)
}

func display(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case *Boxed:
		return display(x.Value)
	case *Object:
		return x.TypeName
	}
	return fmt.Sprint(v)
}

func consoleWriteLine(m *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	var line string
	if len(args) > 0 {
		line = display(args[0])
	}
	m.writeLine(line)
	return nil, nil
}

func stringConcat(_ *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(display(a))
	}
	return b.String(), nil
}

func stringEquals(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: %d arguments", ref.FullName(), len(args))
	}
	return boolValue(args[0] == args[1]), nil
}

func exceptionMessage(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	o, ok := args[0].(*Object)
	if !ok {
		return nil, fmt.Errorf("%s on %T", ref.FullName(), args[0])
	}
	return o.Message, nil
}

func dictionary(ref *il.MemberRef, v Value) (*Object, error) {
	o, ok := v.(*Object)
	if !ok || o.Entries == nil {
		return nil, fmt.Errorf("%s on %T", ref.FullName(), v)
	}
	return o, nil
}

func dictionarySet(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	d, err := dictionary(ref, args[0])
	if err != nil {
		return nil, err
	}
	d.Entries[args[1]] = args[2]
	return nil, nil
}

func dictionaryGet(m *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	d, err := dictionary(ref, args[0])
	if err != nil {
		return nil, err
	}
	v, ok := d.Entries[args[1]]
	if !ok {
		return nil, m.throw("System.Collections.Generic.KeyNotFoundException",
			fmt.Sprintf("The given key '%s' was not present in the dictionary.", display(args[1])))
	}
	return v, nil
}

func dictionaryContains(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	d, err := dictionary(ref, args[0])
	if err != nil {
		return nil, err
	}
	_, ok := d.Entries[args[1]]
	return boolValue(ok), nil
}

func dictionaryCount(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	d, err := dictionary(ref, args[0])
	if err != nil {
		return nil, err
	}
	return int32(len(d.Entries)), nil
}

func typeFromHandle(m *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	rt, ok := args[0].(*RuntimeType)
	if !ok {
		return nil, m.throw("System.ArgumentException", "invalid type handle")
	}
	return rt, nil
}

func typeModule(m *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	rt, ok := args[0].(*RuntimeType)
	if !ok || rt.Def == nil {
		return nil, m.throw("System.ArgumentException", "type is not defined in the running module")
	}
	return &ModuleInfo{Module: m.mod}, nil
}

func resolveMethod(m *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	mi, ok := args[0].(*ModuleInfo)
	if !ok {
		return nil, fmt.Errorf("ResolveMethod on %T", args[0])
	}
	tok, ok := args[1].(int32)
	if !ok {
		return nil, fmt.Errorf("ResolveMethod token %T", args[1])
	}
	resolved, err := mi.Module.ResolveToken(uint32(tok))
	if err == nil {
		if ref, ok := resolved.(il.MethodRef); ok {
			return &MethodInfo{Method: ref}, nil
		}
	}
	return nil, m.throw("System.ArgumentException",
		fmt.Sprintf("Token 0x%08x is not a valid MethodDef or MemberRef token.", uint32(tok)))
}

func createDelegate(m *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	rt, ok := args[0].(*RuntimeType)
	if !ok || rt.Def == nil || rt.Def.TypeKind != il.TypeDelegate {
		return nil, m.throw("System.ArgumentException", "Type must derive from Delegate.")
	}
	mi, ok := args[1].(*MethodInfo)
	if !ok {
		return nil, m.throw("System.ArgumentException", "method is null")
	}
	invoke := rt.Def.FindMethod("Invoke")
	if invoke == nil || len(invoke.Sig.Params) != mi.Method.Signature().StackArgs() {
		return nil, m.throw("System.ArgumentException",
			"Cannot bind to the target method because its signature is not compatible with that of the delegate type.")
	}
	return &Delegate{Type: rt.Def, Method: mi.Method}, nil
}

func dynamicInvoke(m *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	d, ok := args[0].(*Delegate)
	if !ok {
		return nil, fmt.Errorf("DynamicInvoke on %T", args[0])
	}
	var params []Value
	if arr, ok := args[1].(*Array); ok {
		params = arr.Items
	}
	v, err := m.invokeDelegate(d, params)
	if err != nil {
		return nil, err
	}
	if i, ok := v.(int32); ok {
		return &Boxed{TypeName: "System.Int32", Value: i}, nil
	}
	return v, nil
}

func exprConstant(_ *Machine, _ *il.MemberRef, args []Value) (Value, error) {
	return &Expr{Op: "Constant", Value: args[0]}, nil
}

func exprBinary(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	l, lok := args[0].(*Expr)
	r, rok := args[1].(*Expr)
	if !lok || !rok {
		return nil, fmt.Errorf("%s operands %T and %T", ref.FullName(), args[0], args[1])
	}
	return &Expr{Op: ref.Name, Left: l, Right: r}, nil
}

func exprLambda(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	body, ok := args[0].(*Expr)
	if !ok {
		return nil, fmt.Errorf("%s body %T", ref.FullName(), args[0])
	}
	if params, ok := args[1].(*Array); ok && len(params.Items) > 0 {
		return nil, fmt.Errorf("%s: lambdas with parameters are not supported", ref.FullName())
	}
	return &Lambda{Body: body}, nil
}

func exprCompile(_ *Machine, ref *il.MemberRef, args []Value) (Value, error) {
	l, ok := args[0].(*Lambda)
	if !ok {
		return nil, fmt.Errorf("%s on %T", ref.FullName(), args[0])
	}
	return &Delegate{Lambda: l.Body}, nil
}

var exprOps = map[string]il.OpCode{"Add": il.Add, "Subtract": il.Sub, "Multiply": il.Mul, "ExclusiveOr": il.Xor}

// evalExpr evaluates an int32 expression tree with unchecked arithmetic.
func (m *Machine) evalExpr(e *Expr) (Value, error) {
	if e.Op == "Constant" {
		v := e.Value
		if b, ok := v.(*Boxed); ok {
			v = b.Value
		}
		if _, ok := v.(int32); !ok {
			return nil, fmt.Errorf("expression constant %T", e.Value)
		}
		return v, nil
	}
	l, err := m.evalExpr(e.Left)
	if err != nil {
		return nil, err
	}
	r, err := m.evalExpr(e.Right)
	if err != nil {
		return nil, err
	}
	op, ok := exprOps[e.Op]
	if !ok {
		return nil, fmt.Errorf("expression node %s", e.Op)
	}
	return binaryOp(op, l, r)
}
