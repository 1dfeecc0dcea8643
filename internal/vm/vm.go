// Package vm executes modules for verification. It interprets the IL
// subset that sample programs and generated proxies use, emulates the x86
// decoder functions and provides the small part of the base class library
// those programs call. The observable result of a run is the sequence of
// lines written to the console and the exit code returned by the entry
// point.
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// ErrNoEntryPoint is returned for modules without an entry point.
var ErrNoEntryPoint = errors.New("module has no entry point")

const (
	defaultStepLimit = 10_000_000
	maxCallDepth     = 512
)

// Result is the observable behavior of one run.
type Result struct {
	Output   []string
	ExitCode int32
}

// Option configures a run.
type Option func(*Machine)

// WithStdout also streams console lines to w.
func WithStdout(w io.Writer) Option {
	return func(m *Machine) { m.stdout = w }
}

// WithLogger sets the logger used for tracing calls at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStepLimit bounds the number of executed instructions.
func WithStepLimit(n int) Option {
	return func(m *Machine) { m.limit = n }
}

// Machine is the state of one run. It is not safe for concurrent use.
type Machine struct {
	ctx     context.Context
	mod     *il.Module
	statics map[*il.FieldDef]Value
	indexes map[*il.Body]map[*il.Instruction]int
	output  []string
	stdout  io.Writer
	logger  *slog.Logger
	steps   int
	limit   int
	depth   int
}

// Run loads mod, runs its type initializers and executes the entry point.
// An unhandled managed exception is returned as an error wrapping
// *Exception; the result then holds the output written so far.
func Run(ctx context.Context, mod *il.Module, opts ...Option) (*Result, error) {
	m := &Machine{
		ctx:     ctx,
		mod:     mod,
		statics: make(map[*il.FieldDef]Value),
		indexes: make(map[*il.Body]map[*il.Instruction]int),
		logger:  slog.New(slog.DiscardHandler),
		limit:   defaultStepLimit,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, t := range mod.Types {
		if cctor := t.FindMethod(".cctor"); cctor != nil && !cctor.Sig.HasThis {
			if _, err := m.invoke(cctor, nil); err != nil {
				return m.result(0), fmt.Errorf("type initializer of %s: %w", t.FullName(), err)
			}
		}
	}

	ep := mod.EntryPoint
	if ep == nil {
		return m.result(0), ErrNoEntryPoint
	}
	var args []Value
	if len(ep.Sig.Params) == 1 {
		args = []Value{&Array{Elem: il.String()}}
	}
	ret, err := m.invoke(ep, args)
	if err != nil {
		return m.result(0), fmt.Errorf("%s: %w", ep.FullName(), err)
	}
	code, _ := ret.(int32)
	return m.result(code), nil
}

func (m *Machine) result(code int32) *Result {
	return &Result{Output: m.output, ExitCode: code}
}

func (m *Machine) writeLine(s string) {
	m.output = append(m.output, s)
	if m.stdout != nil {
		_, _ = fmt.Fprintln(m.stdout, s)
	}
}

func (m *Machine) tick() error {
	m.steps++
	if m.steps > m.limit {
		return fmt.Errorf("step limit %d exceeded", m.limit)
	}
	if m.steps&0x3ff == 0 {
		return m.ctx.Err()
	}
	return nil
}

// throw returns a new managed exception of a host type.
func (m *Machine) throw(typeName, message string) error {
	return &Exception{Object: &Object{TypeName: typeName, Message: message}}
}

// invoke calls a method defined in the module.
func (m *Machine) invoke(meth *il.MethodDef, args []Value) (Value, error) {
	m.depth++
	defer func() { m.depth-- }()
	if m.depth > maxCallDepth {
		return nil, fmt.Errorf("call depth %d exceeded in %s", maxCallDepth, meth.FullName())
	}
	m.logger.Debug("call", slog.String("method", meth.FullName()), slog.Int("args", len(args)))

	switch meth.Impl {
	case il.ImplNative:
		if !m.mod.Machine.Is32BitCompatible() {
			return nil, m.throw("System.BadImageFormatException",
				fmt.Sprintf("native method %s cannot run in a %s process", meth.FullName(), m.mod.Machine))
		}
		ints := make([]int32, len(args))
		for i, a := range args {
			v, ok := a.(int32)
			if !ok {
				return nil, fmt.Errorf("native method %s: argument %d is %T, want int32", meth.FullName(), i, a)
			}
			ints[i] = v
		}
		return EmulateX86(meth.NativeCode, ints)
	case il.ImplRuntime:
		if meth.Name == "Invoke" && meth.DeclaringType != nil && meth.DeclaringType.TypeKind == il.TypeDelegate {
			d, ok := args[0].(*Delegate)
			if !ok {
				if args[0] == nil {
					return nil, m.throw("System.NullReferenceException", "delegate is null")
				}
				return nil, fmt.Errorf("%s: receiver is %T, want delegate", meth.FullName(), args[0])
			}
			return m.invokeDelegate(d, args[1:])
		}
		return nil, fmt.Errorf("runtime method %s is not supported", meth.FullName())
	}

	if meth.Body == nil {
		return nil, fmt.Errorf("method %s has no body", meth.FullName())
	}
	f := &frame{
		meth:   meth,
		body:   meth.Body,
		args:   append([]Value(nil), args...),
		locals: make([]Value, len(meth.Body.Locals)),
		index:  m.indexOf(meth.Body),
	}
	for i, l := range meth.Body.Locals {
		f.locals[i] = zeroValue(l)
	}
	ret, _, err := m.run(f, 0)
	return ret, err
}

func (m *Machine) indexOf(body *il.Body) map[*il.Instruction]int {
	if idx, ok := m.indexes[body]; ok {
		return idx
	}
	idx := make(map[*il.Instruction]int, len(body.Instructions))
	for i, in := range body.Instructions {
		idx[in] = i
	}
	m.indexes[body] = idx
	return idx
}

// invokeDelegate calls the method or compiled expression a delegate is bound to.
func (m *Machine) invokeDelegate(d *Delegate, args []Value) (Value, error) {
	if d.Lambda != nil {
		return m.evalExpr(d.Lambda)
	}
	switch t := d.Method.(type) {
	case *il.MethodDef:
		target := t
		if t.Virtual && t.Sig.HasThis && len(args) > 0 {
			if args[0] == nil {
				return nil, m.throw("System.NullReferenceException", "Object reference not set to an instance of an object.")
			}
			target = m.resolveVirtual(t, args[0])
		}
		return m.invoke(target, args)
	case *il.MemberRef:
		return m.callBuiltin(t, args)
	}
	return nil, fmt.Errorf("delegate bound to %T", d.Method)
}

// resolveVirtual finds the override of meth for the runtime type of this.
func (m *Machine) resolveVirtual(meth *il.MethodDef, this Value) *il.MethodDef {
	o, ok := this.(*Object)
	if !ok || o.Type == nil {
		return meth
	}
	for t := o.Type; t != nil; t = m.mod.FindType(t.BaseType) {
		for _, cand := range t.Methods {
			if cand.Name == meth.Name && cand.Sig.Equal(meth.Sig) {
				return cand
			}
		}
		if t.BaseType == "" {
			break
		}
	}
	return meth
}
