package vm

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

type frame struct {
	meth   *il.MethodDef
	body   *il.Body
	args   []Value
	locals []Value
	stack  []Value
	index  map[*il.Instruction]int
	// caught is the exception of the innermost active catch block.
	caught *Object
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, errors.New("stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("stack underflow: need %d values, have %d", n, len(f.stack))
	}
	vals := append([]Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vals, nil
}

// pos returns the index of an instruction; nil is the end of the body.
func (f *frame) pos(in *il.Instruction) (int, error) {
	if in == nil {
		return len(f.body.Instructions), nil
	}
	i, ok := f.index[in]
	if !ok {
		return 0, fmt.Errorf("branch target %s is not in %s", in, f.meth.FullName())
	}
	return i, nil
}

func (f *frame) inTry(h *il.ExceptionHandler, pc int) bool {
	start, err := f.pos(h.TryStart)
	if err != nil {
		return false
	}
	end, err := f.pos(h.TryEnd)
	if err != nil {
		return false
	}
	return pc >= start && pc < end
}

type exit uint8

const (
	exitNone exit = iota
	exitReturn
	exitEndFinally
)

// run executes f from pc until it returns or reaches endfinally.
func (m *Machine) run(f *frame, pc int) (Value, exit, error) {
	code := f.body.Instructions
	for {
		if pc < 0 || pc >= len(code) {
			return nil, exitNone, fmt.Errorf("%s: execution left the body at %d", f.meth.FullName(), pc)
		}
		if err := m.tick(); err != nil {
			return nil, exitNone, err
		}
		next, ret, ex, err := m.step(f, pc, code[pc])
		if err != nil {
			var exc *Exception
			if !errors.As(err, &exc) {
				return nil, exitNone, fmt.Errorf("%s[%d] %s: %w", f.meth.FullName(), pc, code[pc].OpCode, err)
			}
			handler, err := m.unwind(f, pc, exc)
			if err != nil {
				return nil, exitNone, err
			}
			pc = handler
			continue
		}
		if ex != exitNone {
			return ret, ex, nil
		}
		pc = next
	}
}

// unwind finds the catch block for an exception raised at pc, running the
// finally blocks it leaves on the way. An exception no handler of f catches
// is returned.
func (m *Machine) unwind(f *frame, pc int, exc *Exception) (int, error) {
	for _, h := range f.body.Handlers {
		if !f.inTry(h, pc) {
			continue
		}
		switch h.Kind {
		case il.HandlerFinally:
			if err := m.runFinally(f, h); err != nil {
				var next *Exception
				if !errors.As(err, &next) {
					return 0, err
				}
				exc = next
			}
		case il.HandlerCatch:
			catchType := h.CatchType
			if catchType == "" {
				catchType = "System.Object"
			}
			if m.isInstance(exc.Object, catchType) {
				f.stack = []Value{exc.Object}
				f.caught = exc.Object
				return f.pos(h.HandlerStart)
			}
		}
	}
	return 0, exc
}

func (m *Machine) runFinally(f *frame, h *il.ExceptionHandler) error {
	start, err := f.pos(h.HandlerStart)
	if err != nil {
		return err
	}
	saved := f.stack
	f.stack = nil
	_, ex, err := m.run(f, start)
	f.stack = saved
	if err != nil {
		return err
	}
	if ex != exitEndFinally {
		return fmt.Errorf("%s: finally block did not end with endfinally", f.meth.FullName())
	}
	return nil
}

func (m *Machine) step(f *frame, pc int, in *il.Instruction) (next int, ret Value, ex exit, err error) {
	next = pc + 1
	switch in.OpCode {
	case il.Nop, il.Tail, il.Constrained:

	case il.LdcI4:
		v, ok := toInt32(in.Operand)
		if !ok {
			return 0, nil, exitNone, fmt.Errorf("operand %T", in.Operand)
		}
		f.push(v)
	case il.LdcI8:
		switch v := in.Operand.(type) {
		case int64:
			f.push(v)
		case int:
			f.push(int64(v))
		case int32:
			f.push(int64(v))
		default:
			return 0, nil, exitNone, fmt.Errorf("operand %T", in.Operand)
		}
	case il.LdStr:
		s, _ := in.Operand.(string)
		f.push(s)
	case il.LdNull:
		f.push(nil)

	case il.LdArg, il.StArg, il.LdLoc, il.StLoc:
		err = f.slot(in)

	case il.LdSFld:
		fld, ok := in.Operand.(*il.FieldDef)
		if !ok {
			return 0, nil, exitNone, fmt.Errorf("operand %T", in.Operand)
		}
		v, set := m.statics[fld]
		if !set {
			v = zeroValue(fld.Type)
		}
		f.push(v)
	case il.StSFld:
		fld, ok := in.Operand.(*il.FieldDef)
		if !ok {
			return 0, nil, exitNone, fmt.Errorf("operand %T", in.Operand)
		}
		var v Value
		if v, err = f.pop(); err == nil {
			m.statics[fld] = v
		}
	case il.LdFld, il.StFld:
		err = m.instanceField(f, in)

	case il.Call, il.CallVirt:
		err = m.call(f, in)
	case il.NewObj:
		err = m.newObj(f, in)
	case il.Calli:
		err = errors.New("calli is not supported")
	case il.LdFtn:
		ref, ok := in.Operand.(il.MethodRef)
		if !ok {
			return 0, nil, exitNone, fmt.Errorf("operand %T", in.Operand)
		}
		f.push(&MethodInfo{Method: ref})

	case il.Ret:
		if f.meth.Sig.Return.IsVoid() {
			return 0, nil, exitReturn, nil
		}
		ret, err = f.pop()
		return 0, ret, exitReturn, err

	case il.Pop:
		_, err = f.pop()
	case il.Dup:
		var v Value
		if v, err = f.pop(); err == nil {
			f.push(v)
			f.push(v)
		}

	case il.Add, il.Sub, il.Mul, il.Xor, il.Ceq, il.Clt:
		var ops []Value
		if ops, err = f.popN(2); err == nil {
			var v Value
			if v, err = binaryOp(in.OpCode, ops[0], ops[1]); err == nil {
				f.push(v)
			}
		}

	case il.Br, il.Leave:
		target, ok := in.Operand.(*il.Instruction)
		if !ok {
			return 0, nil, exitNone, fmt.Errorf("operand %T", in.Operand)
		}
		if next, err = f.pos(target); err != nil {
			return 0, nil, exitNone, err
		}
		if in.OpCode == il.Leave {
			f.stack = f.stack[:0]
			err = m.leave(f, pc, next)
		}
	case il.BrTrue, il.BrFalse, il.Beq, il.Blt:
		next, err = m.branch(f, in, next)

	case il.Throw:
		var v Value
		if v, err = f.pop(); err != nil {
			break
		}
		o, ok := v.(*Object)
		switch {
		case v == nil:
			err = m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
		case !ok || !m.isInstance(o, "System.Exception"):
			err = fmt.Errorf("throw of non-exception %T", v)
		default:
			err = &Exception{Object: o}
		}
	case il.Rethrow:
		if f.caught == nil {
			return 0, nil, exitNone, errors.New("rethrow outside a catch block")
		}
		err = &Exception{Object: f.caught}
	case il.EndFinally:
		return 0, nil, exitEndFinally, nil

	case il.CastClass, il.IsInst, il.Box, il.UnboxAny, il.LdToken, il.NewArr:
		err = m.typed(f, in)
	case il.StElemRef, il.LdElemRef, il.LdLen:
		err = m.array(f, in)

	default:
		err = fmt.Errorf("opcode %s is not supported", in.OpCode)
	}
	return next, nil, exitNone, err
}

func (f *frame) slot(in *il.Instruction) error {
	i, ok := toInt32(in.Operand)
	if !ok {
		return fmt.Errorf("operand %T", in.Operand)
	}
	var slots []Value
	switch in.OpCode {
	case il.LdArg, il.StArg:
		slots = f.args
	default:
		slots = f.locals
	}
	if int(i) < 0 || int(i) >= len(slots) {
		return fmt.Errorf("index %d out of range", i)
	}
	switch in.OpCode {
	case il.LdArg, il.LdLoc:
		f.push(slots[i])
	default:
		v, err := f.pop()
		if err != nil {
			return err
		}
		slots[i] = v
	}
	return nil
}

func (m *Machine) instanceField(f *frame, in *il.Instruction) error {
	fld, ok := in.Operand.(*il.FieldDef)
	if !ok {
		return fmt.Errorf("operand %T", in.Operand)
	}
	var v Value
	if in.OpCode == il.StFld {
		var err error
		if v, err = f.pop(); err != nil {
			return err
		}
	}
	target, err := f.pop()
	if err != nil {
		return err
	}
	o, ok := target.(*Object)
	if !ok {
		if target == nil {
			return m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
		}
		return fmt.Errorf("field %s on %T", fld.FullName(), target)
	}
	if in.OpCode == il.StFld {
		o.Fields[fld] = v
		return nil
	}
	v, set := o.Fields[fld]
	if !set {
		v = zeroValue(fld.Type)
	}
	f.push(v)
	return nil
}

// leave runs the finally blocks protecting pc that the jump to target exits.
func (m *Machine) leave(f *frame, pc, target int) error {
	for _, h := range f.body.Handlers {
		if h.Kind == il.HandlerFinally && f.inTry(h, pc) && !f.inTry(h, target) {
			if err := m.runFinally(f, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Machine) branch(f *frame, in *il.Instruction, fall int) (int, error) {
	target, ok := in.Operand.(*il.Instruction)
	if !ok {
		return 0, fmt.Errorf("operand %T", in.Operand)
	}
	var taken bool
	switch in.OpCode {
	case il.BrTrue, il.BrFalse:
		v, err := f.pop()
		if err != nil {
			return 0, err
		}
		taken = truthy(v) == (in.OpCode == il.BrTrue)
	default:
		ops, err := f.popN(2)
		if err != nil {
			return 0, err
		}
		op := il.Ceq
		if in.OpCode == il.Blt {
			op = il.Clt
		}
		v, err := binaryOp(op, ops[0], ops[1])
		if err != nil {
			return 0, err
		}
		taken = v.(int32) == 1
	}
	if !taken {
		return fall, nil
	}
	return f.pos(target)
}

func binaryOp(op il.OpCode, a, b Value) (Value, error) {
	if op == il.Ceq {
		return boolValue(a == b), nil
	}
	switch x := a.(type) {
	case int32:
		y, ok := b.(int32)
		if !ok {
			break
		}
		switch op {
		case il.Add:
			return x + y, nil
		case il.Sub:
			return x - y, nil
		case il.Mul:
			return x * y, nil
		case il.Xor:
			return x ^ y, nil
		case il.Clt:
			return boolValue(x < y), nil
		}
	case int64:
		y, ok := b.(int64)
		if !ok {
			break
		}
		switch op {
		case il.Add:
			return x + y, nil
		case il.Sub:
			return x - y, nil
		case il.Mul:
			return x * y, nil
		case il.Xor:
			return x ^ y, nil
		case il.Clt:
			return boolValue(x < y), nil
		}
	}
	return nil, fmt.Errorf("invalid operands %T and %T", a, b)
}

func (m *Machine) call(f *frame, in *il.Instruction) error {
	ref, ok := in.Operand.(il.MethodRef)
	if !ok {
		return fmt.Errorf("operand %T", in.Operand)
	}
	sig := ref.Signature()
	args, err := f.popN(sig.StackArgs())
	if err != nil {
		return err
	}
	if in.OpCode == il.CallVirt && sig.HasThis && args[0] == nil {
		return m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
	}

	var ret Value
	switch t := ref.(type) {
	case *il.MethodDef:
		target := t
		if in.OpCode == il.CallVirt && t.Virtual {
			target = m.resolveVirtual(t, args[0])
		}
		ret, err = m.invoke(target, args)
	case *il.MemberRef:
		ret, err = m.callBuiltin(t, args)
	default:
		return fmt.Errorf("call target %T", ref)
	}
	if err != nil {
		return err
	}
	if !sig.Return.IsVoid() {
		f.push(ret)
	}
	return nil
}

func (m *Machine) newObj(f *frame, in *il.Instruction) error {
	ref, ok := in.Operand.(il.MethodRef)
	if !ok {
		return fmt.Errorf("operand %T", in.Operand)
	}
	args, err := f.popN(len(ref.Signature().Params))
	if err != nil {
		return err
	}
	switch t := ref.(type) {
	case *il.MethodDef:
		if t.DeclaringType == nil {
			return fmt.Errorf("constructor %s has no declaring type", t.FullName())
		}
		if t.DeclaringType.TypeKind == il.TypeDelegate {
			fn, ok := args[len(args)-1].(*MethodInfo)
			if !ok {
				return fmt.Errorf("delegate constructor argument %T", args[len(args)-1])
			}
			f.push(&Delegate{Type: t.DeclaringType, Method: fn.Method})
			return nil
		}
		obj := newObject(t.DeclaringType)
		if _, err := m.invoke(t, append([]Value{obj}, args...)); err != nil {
			return err
		}
		f.push(obj)
	case *il.MemberRef:
		obj, err := m.construct(t, args)
		if err != nil {
			return err
		}
		f.push(obj)
	default:
		return fmt.Errorf("constructor %T", ref)
	}
	return nil
}

func (m *Machine) typed(f *frame, in *il.Instruction) error {
	t, ok := in.Operand.(il.TypeSig)
	if !ok {
		return fmt.Errorf("operand %T", in.Operand)
	}
	name := t.RuntimeTypeName()

	switch in.OpCode {
	case il.LdToken:
		f.push(&RuntimeType{Name: name, Def: m.mod.FindType(name)})
		return nil
	case il.NewArr:
		v, err := f.pop()
		if err != nil {
			return err
		}
		n, ok := v.(int32)
		if !ok || n < 0 {
			return fmt.Errorf("invalid array length %v", v)
		}
		f.push(&Array{Elem: t, Items: make([]Value, n)})
		return nil
	}

	v, err := f.pop()
	if err != nil {
		return err
	}
	switch in.OpCode {
	case il.CastClass:
		if !m.isInstance(v, name) {
			return m.throw("System.InvalidCastException", m.castMessage(v, name))
		}
		f.push(v)
	case il.IsInst:
		if v != nil && m.isInstance(v, name) {
			f.push(v)
		} else {
			f.push(nil)
		}
	case il.Box:
		if t.IsReference() {
			f.push(v)
		} else {
			f.push(&Boxed{TypeName: name, Value: v})
		}
	case il.UnboxAny:
		if t.IsReference() {
			if !m.isInstance(v, name) {
				return m.throw("System.InvalidCastException", m.castMessage(v, name))
			}
			f.push(v)
			return nil
		}
		b, ok := v.(*Boxed)
		switch {
		case v == nil:
			return m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
		case !ok || b.TypeName != name:
			return m.throw("System.InvalidCastException", m.castMessage(v, name))
		}
		f.push(b.Value)
	}
	return nil
}

func (m *Machine) castMessage(v Value, target string) string {
	from := "null"
	if chain := m.typeChain(v); len(chain) > 0 {
		from = chain[0]
	}
	return fmt.Sprintf("Unable to cast object of type '%s' to type '%s'.", from, target)
}

func (m *Machine) array(f *frame, in *il.Instruction) error {
	var (
		vals []Value
		err  error
	)
	switch in.OpCode {
	case il.StElemRef:
		vals, err = f.popN(3)
	case il.LdElemRef:
		vals, err = f.popN(2)
	default:
		vals, err = f.popN(1)
	}
	if err != nil {
		return err
	}
	arr, ok := vals[0].(*Array)
	if !ok {
		if vals[0] == nil {
			return m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
		}
		return fmt.Errorf("array operand %T", vals[0])
	}
	if in.OpCode == il.LdLen {
		f.push(int32(len(arr.Items)))
		return nil
	}
	i, ok := vals[1].(int32)
	if !ok {
		return fmt.Errorf("array index %T", vals[1])
	}
	if i < 0 || int(i) >= len(arr.Items) {
		return m.throw("System.IndexOutOfRangeException", "Index was outside the bounds of the array.")
	}
	if in.OpCode == il.StElemRef {
		arr.Items[i] = vals[2]
		return nil
	}
	f.push(arr.Items[i])
	return nil
}
