package image

import (
	"encoding/hex"
	"fmt"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

var typeKindNames = map[il.TypeKind]string{
	il.TypeClass:    "",
	il.TypeDelegate: "delegate",
	il.TypeGlobal:   "global",
}

var implNames = map[il.MethodImpl]string{
	il.ImplIL:      "",
	il.ImplNative:  "native",
	il.ImplRuntime: "runtime",
}

var handlerNames = map[il.HandlerKind]string{
	il.HandlerCatch:   "catch",
	il.HandlerFinally: "finally",
}

func toDoc(mod *il.Module) (*moduleDoc, error) {
	doc := &moduleDoc{
		Name:           mod.Name,
		Machine:        string(mod.Machine),
		RuntimeVersion: mod.RuntimeVersion,
		Attributes:     attrsToDoc(mod.Attributes),
	}
	if mod.Assembly != nil {
		doc.Assembly = &assemblyDoc{
			Name:       mod.Assembly.Name,
			Version:    mod.Assembly.Version,
			Attributes: attrsToDoc(mod.Assembly.Attributes),
		}
	}
	if mod.EntryPoint != nil {
		doc.EntryPoint = mod.EntryPoint.RID
	}
	for _, ref := range mod.MemberRefs {
		doc.MemberRefs = append(doc.MemberRefs, memberRefDoc{
			Type:     ref.TypeName,
			Name:     ref.Name,
			Sig:      sigToDoc(ref.Sig),
			Virtual:  ref.Virtual,
			Assembly: ref.Assembly,
		})
	}
	for _, t := range mod.Types {
		td := typeDefDoc{
			RID:        t.RID,
			Namespace:  t.Namespace,
			Name:       t.Name,
			Visibility: t.Visibility.String(),
			Kind:       typeKindNames[t.TypeKind],
			BaseType:   t.BaseType,
		}
		for _, f := range t.Fields {
			td.Fields = append(td.Fields, fieldDoc{
				RID:        f.RID,
				Name:       f.Name,
				Type:       typeToDoc(f.Type),
				Static:     f.Static,
				Visibility: f.Visibility.String(),
			})
		}
		for _, m := range t.Methods {
			md := methodDoc{
				RID:        m.RID,
				Name:       m.Name,
				Sig:        sigToDoc(m.Sig),
				Virtual:    m.Virtual,
				Visibility: m.Visibility.String(),
				Impl:       implNames[m.Impl],
			}
			if len(m.NativeCode) > 0 {
				md.Native = hex.EncodeToString(m.NativeCode)
			}
			if m.Body != nil {
				body, err := bodyToDoc(mod, m.Body)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", m.FullName(), err)
				}
				md.Body = body
			}
			td.Methods = append(td.Methods, md)
		}
		doc.Types = append(doc.Types, td)
	}
	return doc, nil
}

func attrsToDoc(attrs []il.CustomAttribute) []attributeDoc {
	var out []attributeDoc
	for _, a := range attrs {
		out = append(out, attributeDoc{Type: a.Type, Args: a.Args})
	}
	return out
}

func typeToDoc(t il.TypeSig) sigType {
	d := sigType{K: t.Kind.String(), N: t.Name}
	if t.Elem != nil {
		e := typeToDoc(*t.Elem)
		d.E = &e
	}
	return d
}

func sigToDoc(s il.MethodSig) methodSig {
	d := methodSig{
		HasThis:      s.HasThis,
		VarArg:       s.VarArg,
		GenericArity: s.GenericArity,
		Return:       typeToDoc(s.Return),
	}
	for _, p := range s.Params {
		d.Params = append(d.Params, typeToDoc(p))
	}
	return d
}

func bodyToDoc(mod *il.Module, b *il.Body) (*bodyDoc, error) {
	d := &bodyDoc{}
	for _, l := range b.Locals {
		d.Locals = append(d.Locals, typeToDoc(l))
	}
	index := func(in *il.Instruction) (int, error) {
		i := b.IndexOf(in)
		if i < 0 {
			return 0, fmt.Errorf("reference to an instruction outside the body")
		}
		return i, nil
	}
	for pos, in := range b.Instructions {
		id := instrDoc{Op: in.OpCode.String()}
		switch v := in.Operand.(type) {
		case nil:
		case int32:
			n := int64(v)
			id.I = &n
		case int:
			n := int64(v)
			id.I = &n
		case int64:
			id.I = &v
		case string:
			id.S = &v
		case *il.Instruction:
			i, err := index(v)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", pos, err)
			}
			id.Br = &i
		case *il.FieldDef:
			tok, err := mod.TokenOf(v)
			if err != nil {
				return nil, err
			}
			id.Tok = tok
		case il.MethodRef:
			tok, err := mod.TokenOf(v)
			if err != nil {
				return nil, err
			}
			id.Tok = tok
		case il.MethodSig:
			s := sigToDoc(v)
			id.Sig = &s
		case il.TypeSig:
			t := typeToDoc(v)
			id.Type = &t
		default:
			return nil, fmt.Errorf("instruction %d: unsupported operand %T", pos, v)
		}
		d.Code = append(d.Code, id)
	}
	for _, h := range b.Handlers {
		hd := handlerDoc{Kind: handlerNames[h.Kind], CatchType: h.CatchType}
		var err error
		if hd.TryStart, err = index(h.TryStart); err != nil {
			return nil, err
		}
		if hd.TryEnd, err = index(h.TryEnd); err != nil {
			return nil, err
		}
		if hd.HandlerStart, err = index(h.HandlerStart); err != nil {
			return nil, err
		}
		if hd.HandlerEnd, err = index(h.HandlerEnd); err != nil {
			return nil, err
		}
		d.Handlers = append(d.Handlers, hd)
	}
	return d, nil
}
