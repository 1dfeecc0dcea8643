package il

import "fmt"

// Machine is the processor architecture a module targets.
type Machine string

// Machine values.
const (
	MachineAnyCPU            Machine = "anycpu"
	MachineAnyCPU32Preferred Machine = "anycpu32"
	MachineI386              Machine = "i386"
	MachineAMD64             Machine = "amd64"
	MachineARM64             Machine = "arm64"
)

// Is32BitCompatible reports whether native x86 code can run in a process
// hosting a module of this machine type.
func (m Machine) Is32BitCompatible() bool {
	return m == MachineI386 || m == MachineAnyCPU32Preferred
}

// Metadata table identifiers used in tokens.
const (
	TableTypeDef   uint32 = 0x02
	TableField     uint32 = 0x04
	TableMethodDef uint32 = 0x06
	TableMemberRef uint32 = 0x0A
)

// Token builds a metadata token.
func Token(table, rid uint32) uint32 { return table<<24 | rid&0x00FFFFFF }

// TokenTable returns the table of a token.
func TokenTable(tok uint32) uint32 { return tok >> 24 }

// TokenRID returns the row id of a token.
func TokenRID(tok uint32) uint32 { return tok & 0x00FFFFFF }

// CustomAttribute is a custom attribute with string arguments.
type CustomAttribute struct {
	Type string
	Args []string
}

// Assembly is the assembly manifest of a module.
type Assembly struct {
	Name       string
	Version    string
	Attributes []CustomAttribute
}

// FindAttribute returns the first attribute of the given type.
func (a *Assembly) FindAttribute(typeName string) (CustomAttribute, bool) {
	if a == nil {
		return CustomAttribute{}, false
	}
	for _, attr := range a.Attributes {
		if attr.Type == typeName {
			return attr, true
		}
	}
	return CustomAttribute{}, false
}

// Module is the in-memory form of one compiled unit.
//
// Row ids are assigned when members are attached and are never reused, so
// tokens handed out by one rewrite stay valid for every later stage.
type Module struct {
	Name           string
	Path           string
	Machine        Machine
	RuntimeVersion string
	Assembly       *Assembly
	Attributes     []CustomAttribute
	Types          []*TypeDef
	MemberRefs     []*MemberRef
	EntryPoint     *MethodDef

	nextType   uint32
	nextField  uint32
	nextMethod uint32
}

// NewModule creates an empty module with its global type.
func NewModule(name string) *Module {
	m := &Module{Name: name, Machine: MachineAnyCPU, RuntimeVersion: "v4.0.30319"}
	m.AddType(&TypeDef{Name: GlobalTypeName, TypeKind: TypeGlobal})
	return m
}

// GlobalType returns the <Module> type, creating it when missing.
func (m *Module) GlobalType() *TypeDef {
	for _, t := range m.Types {
		if t.TypeKind == TypeGlobal {
			return t
		}
	}
	t := &TypeDef{Name: GlobalTypeName, TypeKind: TypeGlobal}
	m.Types = append([]*TypeDef{t}, m.Types...)
	m.attachType(t)
	return t
}

// AddType attaches t and all of its members.
func (m *Module) AddType(t *TypeDef) *TypeDef {
	m.Types = append(m.Types, t)
	m.attachType(t)
	return t
}

func (m *Module) attachType(t *TypeDef) {
	t.module = m
	if t.RID == 0 {
		m.nextType++
		t.RID = m.nextType
	} else if t.RID > m.nextType {
		m.nextType = t.RID
	}
	for _, f := range t.Fields {
		f.DeclaringType = t
		m.assignField(f)
	}
	for _, meth := range t.Methods {
		meth.DeclaringType = t
		m.assignMethod(meth)
	}
}

func (m *Module) assignField(f *FieldDef) {
	if f.RID == 0 {
		m.nextField++
		f.RID = m.nextField
	} else if f.RID > m.nextField {
		m.nextField = f.RID
	}
}

func (m *Module) assignMethod(meth *MethodDef) {
	if meth.RID == 0 {
		m.nextMethod++
		meth.RID = m.nextMethod
	} else if meth.RID > m.nextMethod {
		m.nextMethod = meth.RID
	}
}

// FindType returns the type with the given full name.
func (m *Module) FindType(fullName string) *TypeDef {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// ImportMethod returns a reference to an external method, reusing an
// existing reference with the same owner, name and signature.
func (m *Module) ImportMethod(typeName, name string, sig MethodSig) *MemberRef {
	for _, r := range m.MemberRefs {
		if r.TypeName == typeName && r.Name == name && r.Sig.Equal(sig) {
			return r
		}
	}
	ref := &MemberRef{TypeName: typeName, Name: name, Sig: sig}
	m.AddMemberRef(ref)
	return ref
}

// AddMemberRef appends a reference and assigns its row id.
func (m *Module) AddMemberRef(ref *MemberRef) *MemberRef {
	m.MemberRefs = append(m.MemberRefs, ref)
	ref.RID = uint32(len(m.MemberRefs))
	return ref
}

// Methods returns every method of the module in type order.
func (m *Module) Methods() []*MethodDef {
	var out []*MethodDef
	for _, t := range m.Types {
		out = append(out, t.Methods...)
	}
	return out
}

// Members returns every type, field and method in declaration order.
func (m *Module) Members() []Member {
	var out []Member
	for _, t := range m.Types {
		out = append(out, t)
		for _, f := range t.Fields {
			out = append(out, f)
		}
		for _, meth := range t.Methods {
			out = append(out, meth)
		}
	}
	return out
}

// TokenOf returns the metadata token of a member or method reference.
func (m *Module) TokenOf(member any) (uint32, error) {
	switch v := member.(type) {
	case *TypeDef:
		return Token(TableTypeDef, v.RID), nil
	case *FieldDef:
		return Token(TableField, v.RID), nil
	case *MethodDef:
		return Token(TableMethodDef, v.RID), nil
	case *MemberRef:
		return Token(TableMemberRef, v.RID), nil
	}
	return 0, fmt.Errorf("no token for %T", member)
}

// ResolveToken returns the member a token designates.
func (m *Module) ResolveToken(tok uint32) (any, error) {
	rid := TokenRID(tok)
	switch TokenTable(tok) {
	case TableTypeDef:
		for _, t := range m.Types {
			if t.RID == rid {
				return t, nil
			}
		}
	case TableField:
		for _, t := range m.Types {
			for _, f := range t.Fields {
				if f.RID == rid {
					return f, nil
				}
			}
		}
	case TableMethodDef:
		for _, t := range m.Types {
			for _, meth := range t.Methods {
				if meth.RID == rid {
					return meth, nil
				}
			}
		}
	case TableMemberRef:
		if rid >= 1 && int(rid) <= len(m.MemberRefs) {
			return m.MemberRefs[rid-1], nil
		}
	}
	return nil, fmt.Errorf("token 0x%08x does not resolve", tok)
}

// ModuleInitializer returns <Module>::.cctor, creating an empty one on demand.
func (m *Module) ModuleInitializer() *MethodDef {
	g := m.GlobalType()
	if cctor := g.FindMethod(".cctor"); cctor != nil {
		return cctor
	}
	return g.AddMethod(&MethodDef{
		Name:       ".cctor",
		Sig:        StaticSig(Void()),
		Visibility: Private,
		Body:       NewBody(Op(Ret)),
	})
}

// HasAttribute reports whether a module-level attribute of the given type exists.
func (m *Module) HasAttribute(typeName string) bool {
	for _, a := range m.Attributes {
		if a.Type == typeName {
			return true
		}
	}
	return false
}
