package refproxy

import (
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// External types the generated code refers to.
const (
	typeType          = "System.Type"
	typeModule        = "System.Reflection.Module"
	typeMethodBase    = "System.Reflection.MethodBase"
	typeMethodInfo    = "System.Reflection.MethodInfo"
	typeDelegate      = "System.Delegate"
	typeMulticast     = "System.MulticastDelegate"
	typeNullReference = "System.NullReferenceException"
	typeExpression    = "System.Linq.Expressions.Expression"
	typeConstantExpr  = "System.Linq.Expressions.ConstantExpression"
	typeBinaryExpr    = "System.Linq.Expressions.BinaryExpression"
	typeLambdaExpr    = "System.Linq.Expressions.LambdaExpression"
	typeParameterExpr = "System.Linq.Expressions.ParameterExpression"
	typeRuntimeHandle = "System.RuntimeTypeHandle"
	typeInt32         = "System.Int32"
	typeNativeInt     = "System.IntPtr"
)

func (rw *rewriter) proxyFor(target il.MethodRef, op il.OpCode, enc Encoding, s *Settings) *Proxy {
	key := proxyKey{target: target, op: op, encoding: enc, erased: s.TypeErasure}
	if p, ok := rw.byKey[key]; ok {
		return p
	}

	invoke := invokeSig(target)
	dt := rw.delegateFor(invoke)
	global := rw.mod.GlobalType()

	fieldType := il.Class(dt.FullName())
	if s.TypeErasure {
		fieldType = il.Object()
	}
	field := global.AddField(&il.FieldDef{
		Name:       rw.name("f"),
		Type:       fieldType,
		Static:     true,
		Visibility: il.Internal,
	})

	p := &Proxy{
		Field:        field,
		DelegateType: dt,
		Encoding:     enc,
		Target:       target,
		OpCode:       op,
		Erased:       s.TypeErasure,
		dec:          newDecoder(rw.rng, s.Depth),
	}
	p.Bridge = global.AddMethod(&il.MethodDef{
		Name:       rw.name("b"),
		Sig:        bridgeSig(invoke, p.Erased),
		Visibility: il.Internal,
		Body:       rw.bridgeBody(p, invoke),
	})
	rw.bridges[p.Bridge] = true
	rw.byKey[key] = p
	rw.proxies = append(rw.proxies, p)
	rw.logger.Debug("proxy created",
		slog.String("target", target.FullName()),
		slog.String("opcode", op.String()),
		slog.String("encoding", string(enc)),
	)
	return p
}

// invokeSig is the delegate Invoke signature of target: instance targets are
// bound as open delegates taking the receiver first.
func invokeSig(target il.MethodRef) il.MethodSig {
	sig := target.Signature()
	params := make([]il.TypeSig, 0, sig.StackArgs())
	if sig.HasThis {
		params = append(params, il.Class(target.DeclaringTypeName()))
	}
	params = append(params, sig.Params...)
	return il.StaticSig(sig.Return, params...)
}

func bridgeSig(invoke il.MethodSig, erased bool) il.MethodSig {
	sig := invoke.Clone()
	if erased {
		for i, p := range sig.Params {
			if p.IsReference() {
				sig.Params[i] = il.Object()
			}
		}
	}
	return sig
}

// delegateFor returns the delegate type for an invoke signature, creating
// it on first use.
func (rw *rewriter) delegateFor(invoke il.MethodSig) *il.TypeDef {
	key := invoke.String()
	if dt, ok := rw.delegates[key]; ok {
		return dt
	}
	dt := rw.mod.AddType(&il.TypeDef{
		Name:       rw.name("d"),
		Visibility: il.Internal,
		TypeKind:   il.TypeDelegate,
		BaseType:   typeMulticast,
	})
	dt.AddMethod(&il.MethodDef{
		Name:       ".ctor",
		Sig:        il.InstanceSig(il.Void(), il.Object(), il.ValueType(typeNativeInt)),
		Visibility: il.Public,
		Impl:       il.ImplRuntime,
	})
	dt.AddMethod(&il.MethodDef{
		Name:       "Invoke",
		Sig:        il.InstanceSig(invoke.Return, invoke.Params...),
		Virtual:    true,
		Visibility: il.Public,
		Impl:       il.ImplRuntime,
	})
	rw.delegates[key] = dt
	return dt
}

// bridgeBody loads the delegate and forwards the original stack arguments.
// For callvirt targets the receiver is null-checked first, as the original
// instruction did.
func (rw *rewriter) bridgeBody(p *Proxy, invoke il.MethodSig) *il.Body {
	load := il.Instr(il.LdSFld, p.Field)
	body := il.NewBody()
	if p.OpCode == il.CallVirt && p.Target.Signature().HasThis {
		nre := rw.mod.ImportMethod(typeNullReference, ".ctor", il.InstanceSig(il.Void()))
		body.Append(
			il.Instr(il.LdArg, 0),
			il.Instr(il.BrTrue, load),
			il.Instr(il.NewObj, nre),
			il.Op(il.Throw),
		)
	}
	body.Append(load)
	if p.Erased {
		body.Append(il.Instr(il.CastClass, il.Class(p.DelegateType.FullName())))
	}
	for i, param := range invoke.Params {
		body.Append(il.Instr(il.LdArg, i))
		if p.Erased && param.IsReference() && param.Kind != il.ElemObject {
			body.Append(il.Instr(il.CastClass, param))
		}
	}
	body.Append(
		il.Instr(il.CallVirt, p.DelegateType.FindMethod("Invoke")),
		il.Op(il.Ret),
	)
	return body
}

// initializer returns the module initializer code that decodes the target
// token of p, resolves it and stores the delegate.
func (rw *rewriter) initializer(p *Proxy) []*il.Instruction {
	tok, err := rw.mod.TokenOf(p.Target)
	if err != nil {
		panic(fmt.Sprintf("proxy target %s: %v", p.Target.FullName(), err))
	}
	encoded := p.dec.encode(tok)

	typeSig := il.Class(typeType)
	getTypeFromHandle := rw.mod.ImportMethod(typeType, "GetTypeFromHandle",
		il.StaticSig(typeSig, il.ValueType(typeRuntimeHandle)))
	getModule := rw.mod.ImportMethod(typeType, "get_Module", il.InstanceSig(il.Class(typeModule)))
	resolveMethod := rw.mod.ImportMethod(typeModule, "ResolveMethod",
		il.InstanceSig(il.Class(typeMethodBase), il.Int32()))
	createDelegate := rw.mod.ImportMethod(typeDelegate, "CreateDelegate",
		il.StaticSig(il.Class(typeDelegate), typeSig, il.Class(typeMethodInfo)))

	code := []*il.Instruction{
		il.Instr(il.LdToken, il.Class(p.DelegateType.FullName())),
		il.Instr(il.Call, getTypeFromHandle),
		il.Instr(il.LdToken, il.Class(il.GlobalTypeName)),
		il.Instr(il.Call, getTypeFromHandle),
		il.Instr(il.CallVirt, getModule),
	}
	switch p.Encoding {
	case Expression:
		code = append(code, rw.expressionDecoder(p.dec, encoded)...)
	case X86:
		code = append(code, rw.nativeDecoder(p.dec, encoded)...)
	default:
		code = append(code, ilDecoder(p.dec, encoded)...)
	}
	code = append(code,
		il.Instr(il.CallVirt, resolveMethod),
		il.Instr(il.CastClass, il.Class(typeMethodInfo)),
		il.Instr(il.Call, createDelegate),
	)
	if !p.Erased {
		code = append(code, il.Instr(il.CastClass, il.Class(p.DelegateType.FullName())))
	}
	return append(code, il.Instr(il.StSFld, p.Field))
}

var ilLayerOps = [...]il.OpCode{opXor: il.Xor, opAdd: il.Add, opSub: il.Sub, opMul: il.Mul}

// ilDecoder computes the token with inline arithmetic.
func ilDecoder(dec decoder, encoded uint32) []*il.Instruction {
	code := []*il.Instruction{il.Instr(il.LdcI4, int32(encoded))}
	for _, l := range dec {
		code = append(code, il.Instr(il.LdcI4, int32(l.key)), il.Op(ilLayerOps[l.op]))
	}
	return code
}

var expressionFactories = [...]string{opXor: "ExclusiveOr", opAdd: "Add", opSub: "Subtract", opMul: "Multiply"}

// expressionDecoder builds the decoding arithmetic as an expression tree,
// compiles it and invokes the result.
func (rw *rewriter) expressionDecoder(dec decoder, encoded uint32) []*il.Instruction {
	exprSig := il.Class(typeExpression)
	constant := rw.mod.ImportMethod(typeExpression, "Constant", il.StaticSig(il.Class(typeConstantExpr), il.Object()))
	lambda := rw.mod.ImportMethod(typeExpression, "Lambda",
		il.StaticSig(il.Class(typeLambdaExpr), exprSig, il.SZArray(il.Class(typeParameterExpr))))
	compile := rw.mod.ImportMethod(typeLambdaExpr, "Compile", il.InstanceSig(il.Class(typeDelegate)))
	invoke := rw.mod.ImportMethod(typeDelegate, "DynamicInvoke", il.InstanceSig(il.Object(), il.SZArray(il.Object())))
	int32Sig := il.ValueType(typeInt32)

	code := []*il.Instruction{
		il.Instr(il.LdcI4, int32(encoded)),
		il.Instr(il.Box, int32Sig),
		il.Instr(il.Call, constant),
	}
	for _, l := range dec {
		factory := rw.mod.ImportMethod(typeExpression, expressionFactories[l.op],
			il.StaticSig(il.Class(typeBinaryExpr), exprSig, exprSig))
		code = append(code,
			il.Instr(il.LdcI4, int32(l.key)),
			il.Instr(il.Box, int32Sig),
			il.Instr(il.Call, constant),
			il.Instr(il.Call, factory),
		)
	}
	return append(code,
		il.Instr(il.LdcI4, 0),
		il.Instr(il.NewArr, il.Class(typeParameterExpr)),
		il.Instr(il.Call, lambda),
		il.Instr(il.CallVirt, compile),
		il.Op(il.LdNull),
		il.Instr(il.CallVirt, invoke),
		il.Instr(il.UnboxAny, int32Sig),
	)
}

// nativeDecoder emits an x86 decoding function and calls it.
func (rw *rewriter) nativeDecoder(dec decoder, encoded uint32) []*il.Instruction {
	native := rw.mod.GlobalType().AddMethod(&il.MethodDef{
		Name:       rw.name("n"),
		Sig:        il.StaticSig(il.Int32(), il.Int32()),
		Visibility: il.Private,
		Impl:       il.ImplNative,
		NativeCode: dec.x86(),
	})
	return []*il.Instruction{
		il.Instr(il.LdcI4, int32(encoded)),
		il.Instr(il.Call, native),
	}
}
