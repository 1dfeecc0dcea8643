package image

import (
	"encoding/hex"
	"fmt"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

func lookup[K comparable](names map[K]string, s, what string) (K, error) {
	for k, name := range names {
		if name == s {
			return k, nil
		}
	}
	var zero K
	return zero, fmt.Errorf("unknown %s %q", what, s)
}

func fromDoc(doc *moduleDoc) (*il.Module, error) {
	mod := &il.Module{
		Name:           doc.Name,
		Machine:        il.Machine(doc.Machine),
		RuntimeVersion: doc.RuntimeVersion,
		Attributes:     attrsFromDoc(doc.Attributes),
	}
	if doc.Assembly != nil {
		mod.Assembly = &il.Assembly{
			Name:       doc.Assembly.Name,
			Version:    doc.Assembly.Version,
			Attributes: attrsFromDoc(doc.Assembly.Attributes),
		}
	}
	for _, rd := range doc.MemberRefs {
		sig, err := sigFromDoc(rd.Sig)
		if err != nil {
			return nil, fmt.Errorf("ref %s::%s: %w", rd.Type, rd.Name, err)
		}
		mod.AddMemberRef(&il.MemberRef{
			TypeName: rd.Type,
			Name:     rd.Name,
			Sig:      sig,
			Virtual:  rd.Virtual,
			Assembly: rd.Assembly,
		})
	}

	// Definitions first so bodies can resolve tokens to any member.
	type pending struct {
		method *il.MethodDef
		body   *bodyDoc
	}
	var bodies []pending
	for _, td := range doc.Types {
		t, err := typeFromDoc(td)
		if err != nil {
			return nil, err
		}
		for i, md := range td.Methods {
			if md.Body != nil {
				bodies = append(bodies, pending{method: t.Methods[i], body: md.Body})
			}
		}
		mod.AddType(t)
	}
	for _, p := range bodies {
		body, err := bodyFromDoc(mod, p.body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.method.FullName(), err)
		}
		p.method.Body = body
	}

	if doc.EntryPoint != 0 {
		ep, err := mod.ResolveToken(il.Token(il.TableMethodDef, doc.EntryPoint))
		if err != nil {
			return nil, fmt.Errorf("entry point: %w", err)
		}
		mod.EntryPoint = ep.(*il.MethodDef)
	}
	return mod, nil
}

func attrsFromDoc(docs []attributeDoc) []il.CustomAttribute {
	var out []il.CustomAttribute
	for _, a := range docs {
		out = append(out, il.CustomAttribute{Type: a.Type, Args: a.Args})
	}
	return out
}

func typeFromDoc(td typeDefDoc) (*il.TypeDef, error) {
	vis, err := il.ParseVisibility(td.Visibility)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", td.Name, err)
	}
	kind, err := lookup(typeKindNames, td.Kind, "type kind")
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", td.Name, err)
	}
	t := &il.TypeDef{
		RID:        td.RID,
		Namespace:  td.Namespace,
		Name:       td.Name,
		Visibility: vis,
		TypeKind:   kind,
		BaseType:   td.BaseType,
	}
	for _, fd := range td.Fields {
		ft, err := typeSigFromDoc(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		fv, err := il.ParseVisibility(fd.Visibility)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		t.Fields = append(t.Fields, &il.FieldDef{
			RID: fd.RID, Name: fd.Name, Type: ft, Static: fd.Static, Visibility: fv,
		})
	}
	for _, md := range td.Methods {
		sig, err := sigFromDoc(md.Sig)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", md.Name, err)
		}
		mv, err := il.ParseVisibility(md.Visibility)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", md.Name, err)
		}
		impl, err := lookup(implNames, md.Impl, "method impl")
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", md.Name, err)
		}
		m := &il.MethodDef{
			RID: md.RID, Name: md.Name, Sig: sig, Virtual: md.Virtual, Visibility: mv, Impl: impl,
		}
		if md.Native != "" {
			if m.NativeCode, err = hex.DecodeString(md.Native); err != nil {
				return nil, fmt.Errorf("method %s: native code: %w", md.Name, err)
			}
		}
		t.Methods = append(t.Methods, m)
	}
	return t, nil
}

func typeSigFromDoc(d sigType) (il.TypeSig, error) {
	kind, err := il.ParseElementKind(d.K)
	if err != nil {
		return il.TypeSig{}, err
	}
	t := il.TypeSig{Kind: kind, Name: d.N}
	if d.E != nil {
		e, err := typeSigFromDoc(*d.E)
		if err != nil {
			return il.TypeSig{}, err
		}
		t.Elem = &e
	}
	return t, nil
}

func sigFromDoc(d methodSig) (il.MethodSig, error) {
	ret, err := typeSigFromDoc(d.Return)
	if err != nil {
		return il.MethodSig{}, err
	}
	s := il.MethodSig{HasThis: d.HasThis, VarArg: d.VarArg, GenericArity: d.GenericArity, Return: ret}
	for _, pd := range d.Params {
		p, err := typeSigFromDoc(pd)
		if err != nil {
			return il.MethodSig{}, err
		}
		s.Params = append(s.Params, p)
	}
	return s, nil
}

func bodyFromDoc(mod *il.Module, d *bodyDoc) (*il.Body, error) {
	b := &il.Body{Instructions: make([]*il.Instruction, len(d.Code))}
	for i := range d.Code {
		b.Instructions[i] = &il.Instruction{}
	}
	at := func(i int) (*il.Instruction, error) {
		switch {
		case i == len(b.Instructions):
			return nil, nil
		case i < 0 || i > len(b.Instructions):
			return nil, fmt.Errorf("instruction index %d out of range", i)
		}
		return b.Instructions[i], nil
	}
	for _, l := range d.Locals {
		t, err := typeSigFromDoc(l)
		if err != nil {
			return nil, err
		}
		b.Locals = append(b.Locals, t)
	}
	for i, id := range d.Code {
		op, err := il.ParseOpCode(id.Op)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		operand, err := operandFromDoc(mod, op, id, at)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, op, err)
		}
		b.Instructions[i].OpCode = op
		b.Instructions[i].Operand = operand
	}
	for _, hd := range d.Handlers {
		kind, err := lookup(handlerNames, hd.Kind, "handler kind")
		if err != nil {
			return nil, err
		}
		h := &il.ExceptionHandler{Kind: kind, CatchType: hd.CatchType}
		for _, f := range []struct {
			dst **il.Instruction
			idx int
		}{
			{&h.TryStart, hd.TryStart}, {&h.TryEnd, hd.TryEnd},
			{&h.HandlerStart, hd.HandlerStart}, {&h.HandlerEnd, hd.HandlerEnd},
		} {
			if *f.dst, err = at(f.idx); err != nil {
				return nil, fmt.Errorf("handler: %w", err)
			}
		}
		b.Handlers = append(b.Handlers, h)
	}
	return b, nil
}

func operandFromDoc(mod *il.Module, op il.OpCode, id instrDoc, at func(int) (*il.Instruction, error)) (any, error) {
	switch {
	case op.IsBranch():
		if id.Br == nil {
			return nil, fmt.Errorf("missing branch target")
		}
		target, err := at(*id.Br)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, fmt.Errorf("branch past the end of the body")
		}
		return target, nil
	}
	switch op {
	case il.LdcI4:
		if id.I == nil {
			return nil, fmt.Errorf("missing constant")
		}
		return int32(*id.I), nil
	case il.LdcI8:
		if id.I == nil {
			return nil, fmt.Errorf("missing constant")
		}
		return *id.I, nil
	case il.LdArg, il.StArg, il.LdLoc, il.StLoc:
		if id.I == nil {
			return nil, fmt.Errorf("missing index")
		}
		return int(*id.I), nil
	case il.LdStr:
		if id.S == nil {
			return nil, fmt.Errorf("missing string")
		}
		return *id.S, nil
	case il.LdSFld, il.StSFld, il.LdFld, il.StFld:
		m, err := mod.ResolveToken(id.Tok)
		if err != nil {
			return nil, err
		}
		f, ok := m.(*il.FieldDef)
		if !ok {
			return nil, fmt.Errorf("token 0x%08x is not a field", id.Tok)
		}
		return f, nil
	case il.Call, il.CallVirt, il.NewObj, il.LdFtn:
		m, err := mod.ResolveToken(id.Tok)
		if err != nil {
			return nil, err
		}
		ref, ok := m.(il.MethodRef)
		if !ok {
			return nil, fmt.Errorf("token 0x%08x is not a method", id.Tok)
		}
		return ref, nil
	case il.Calli:
		if id.Sig == nil {
			return nil, fmt.Errorf("missing signature")
		}
		return sigFromDoc(*id.Sig)
	case il.CastClass, il.IsInst, il.Box, il.UnboxAny, il.LdToken, il.NewArr, il.Constrained:
		if id.Type == nil {
			return nil, fmt.Errorf("missing type")
		}
		return typeSigFromDoc(*id.Type)
	}
	return nil, nil
}
