package il

import "fmt"

// OpCode identifies an instruction.
type OpCode uint16

// Supported opcodes.
const (
	Nop OpCode = iota
	LdcI4
	LdcI8
	LdStr
	LdNull
	LdArg
	StArg
	LdLoc
	StLoc
	LdSFld
	StSFld
	LdFld
	StFld
	Call
	CallVirt
	Calli
	NewObj
	Ret
	Pop
	Dup
	Add
	Sub
	Mul
	Xor
	Ceq
	Clt
	Br
	BrTrue
	BrFalse
	Beq
	Blt
	Throw
	Rethrow
	Leave
	EndFinally
	CastClass
	IsInst
	Box
	UnboxAny
	LdToken
	NewArr
	StElemRef
	LdElemRef
	LdLen
	LdFtn
	Tail
	Constrained
)

var opNames = map[OpCode]string{
	Nop: "nop", LdcI4: "ldc.i4", LdcI8: "ldc.i8", LdStr: "ldstr", LdNull: "ldnull",
	LdArg: "ldarg", StArg: "starg", LdLoc: "ldloc", StLoc: "stloc",
	LdSFld: "ldsfld", StSFld: "stsfld", LdFld: "ldfld", StFld: "stfld",
	Call: "call", CallVirt: "callvirt", Calli: "calli", NewObj: "newobj", Ret: "ret",
	Pop: "pop", Dup: "dup", Add: "add", Sub: "sub", Mul: "mul", Xor: "xor",
	Ceq: "ceq", Clt: "clt", Br: "br", BrTrue: "brtrue", BrFalse: "brfalse",
	Beq: "beq", Blt: "blt", Throw: "throw", Rethrow: "rethrow", Leave: "leave",
	EndFinally: "endfinally", CastClass: "castclass", IsInst: "isinst", Box: "box",
	UnboxAny: "unbox.any", LdToken: "ldtoken", NewArr: "newarr", StElemRef: "stelem.ref",
	LdElemRef: "ldelem.ref", LdLen: "ldlen", LdFtn: "ldftn", Tail: "tail.",
	Constrained: "constrained.",
}

var opByName = func() map[string]OpCode {
	m := make(map[string]OpCode, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

func (op OpCode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint16(op))
}

// ParseOpCode resolves an opcode mnemonic.
func ParseOpCode(s string) (OpCode, error) {
	if op, ok := opByName[s]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown opcode %q", s)
}

// IsPrefix reports whether op modifies the following instruction.
func (op OpCode) IsPrefix() bool { return op == Tail || op == Constrained }

// IsBranch reports whether the operand of op is a branch target.
func (op OpCode) IsBranch() bool {
	switch op {
	case Br, BrTrue, BrFalse, Beq, Blt, Leave:
		return true
	}
	return false
}

// IsCall reports whether op invokes a method operand.
func (op OpCode) IsCall() bool { return op == Call || op == CallVirt || op == NewObj }

// Instruction is a single IL instruction. Operand types by opcode:
//
//	ldc.i4, ldarg, starg, ldloc, stloc   int32 / int
//	ldc.i8                               int64
//	ldstr                                string
//	branches                             *Instruction
//	field access                         *FieldDef
//	call, callvirt, newobj, ldftn        MethodRef
//	calli                                MethodSig
//	castclass, isinst, box, unbox.any,
//	ldtoken, newarr, constrained.        TypeSig
type Instruction struct {
	OpCode  OpCode
	Operand any
}

// Instr builds an instruction.
func Instr(op OpCode, operand any) *Instruction {
	return &Instruction{OpCode: op, Operand: operand}
}

// Op builds an instruction without operand.
func Op(op OpCode) *Instruction { return &Instruction{OpCode: op} }

func (i *Instruction) String() string {
	switch v := i.Operand.(type) {
	case nil:
		return i.OpCode.String()
	case string:
		return fmt.Sprintf("%s %q", i.OpCode, v)
	case *Instruction:
		return fmt.Sprintf("%s -> %s", i.OpCode, v.OpCode)
	case MethodRef:
		return fmt.Sprintf("%s %s", i.OpCode, v.FullName())
	case *FieldDef:
		return fmt.Sprintf("%s %s", i.OpCode, v.FullName())
	default:
		return fmt.Sprintf("%s %v", i.OpCode, v)
	}
}

// HandlerKind distinguishes exception clauses.
type HandlerKind uint8

// Handler kinds.
const (
	HandlerCatch HandlerKind = iota
	HandlerFinally
)

// ExceptionHandler is a protected region. End markers are exclusive; a nil
// end marker means the end of the body.
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     *Instruction
	TryEnd       *Instruction
	HandlerStart *Instruction
	HandlerEnd   *Instruction
	// CatchType is the runtime type name a catch clause accepts.
	CatchType string
}

// Body is the IL body of a method.
type Body struct {
	Locals       []TypeSig
	Instructions []*Instruction
	Handlers     []*ExceptionHandler
}

// NewBody builds a body from instructions.
func NewBody(instrs ...*Instruction) *Body {
	return &Body{Instructions: instrs}
}

// Append adds instructions at the end of the body.
func (b *Body) Append(instrs ...*Instruction) {
	b.Instructions = append(b.Instructions, instrs...)
}

// Prepend inserts instructions before the first instruction. Branch targets
// and handler markers keep pointing at the original instructions.
func (b *Body) Prepend(instrs ...*Instruction) {
	out := make([]*Instruction, 0, len(instrs)+len(b.Instructions))
	out = append(out, instrs...)
	b.Instructions = append(out, b.Instructions...)
}

// IndexOf returns the position of instr, or -1.
func (b *Body) IndexOf(instr *Instruction) int {
	if instr == nil {
		return len(b.Instructions)
	}
	for i, in := range b.Instructions {
		if in == instr {
			return i
		}
	}
	return -1
}

// AddLocal declares a local and returns its index.
func (b *Body) AddLocal(t TypeSig) int {
	b.Locals = append(b.Locals, t)
	return len(b.Locals) - 1
}
