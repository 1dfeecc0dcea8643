package il

import "fmt"

// Visibility is the accessibility of a type or member.
type Visibility uint8

// Visibility levels.
const (
	Private Visibility = iota
	Internal
	Family
	Public
)

var visibilityNames = [...]string{"private", "internal", "family", "public"}

func (v Visibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return fmt.Sprintf("visibility(%d)", uint8(v))
}

// ParseVisibility is the inverse of Visibility.String.
func ParseVisibility(s string) (Visibility, error) {
	for i, name := range visibilityNames {
		if name == s {
			return Visibility(i), nil
		}
	}
	return 0, fmt.Errorf("unknown visibility %q", s)
}

// MemberKind classifies members for rule selection.
type MemberKind string

// Member kinds.
const (
	KindType   MemberKind = "type"
	KindMethod MemberKind = "method"
	KindField  MemberKind = "field"
)

// Member is a definition owned by a module: a type, method or field.
type Member interface {
	Kind() MemberKind
	MemberName() string
	FullName() string
	IsPublic() bool
}

// TypeKind distinguishes the special types a rewriter cares about.
type TypeKind uint8

// Type kinds.
const (
	TypeClass TypeKind = iota
	TypeDelegate
	TypeGlobal
)

// GlobalTypeName is the name of the module-level type holding the module initializer.
const GlobalTypeName = "<Module>"

// TypeDef is a type defined in a module.
type TypeDef struct {
	RID        uint32
	Namespace  string
	Name       string
	Visibility Visibility
	TypeKind   TypeKind
	BaseType   string
	Fields     []*FieldDef
	Methods    []*MethodDef

	module *Module
}

// Kind implements Member.
func (t *TypeDef) Kind() MemberKind { return KindType }

// MemberName implements Member.
func (t *TypeDef) MemberName() string { return t.Name }

// FullName returns Namespace.Name.
func (t *TypeDef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsPublic implements Member.
func (t *TypeDef) IsPublic() bool { return t.Visibility == Public }

// Module returns the owning module, or nil for a detached type.
func (t *TypeDef) Module() *Module { return t.module }

// AddField attaches f to t and assigns it a row id when t belongs to a module.
func (t *TypeDef) AddField(f *FieldDef) *FieldDef {
	f.DeclaringType = t
	t.Fields = append(t.Fields, f)
	if t.module != nil {
		t.module.assignField(f)
	}
	return f
}

// AddMethod attaches m to t and assigns it a row id when t belongs to a module.
func (t *TypeDef) AddMethod(m *MethodDef) *MethodDef {
	m.DeclaringType = t
	t.Methods = append(t.Methods, m)
	if t.module != nil {
		t.module.assignMethod(m)
	}
	return m
}

// FindMethod returns the first method with the given name.
func (t *TypeDef) FindMethod(name string) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindField returns the field with the given name.
func (t *TypeDef) FindField(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldDef is a field defined in a module.
type FieldDef struct {
	RID           uint32
	Name          string
	Type          TypeSig
	Static        bool
	Visibility    Visibility
	DeclaringType *TypeDef
}

// Kind implements Member.
func (f *FieldDef) Kind() MemberKind { return KindField }

// MemberName implements Member.
func (f *FieldDef) MemberName() string { return f.Name }

// FullName returns DeclaringType::Name.
func (f *FieldDef) FullName() string {
	if f.DeclaringType == nil {
		return f.Name
	}
	return f.DeclaringType.FullName() + "::" + f.Name
}

// IsPublic implements Member.
func (f *FieldDef) IsPublic() bool { return f.Visibility == Public }

// MethodImpl describes where a method's implementation lives.
type MethodImpl uint8

// Method implementation kinds.
const (
	ImplIL MethodImpl = iota
	ImplNative
	ImplRuntime
)

// MethodRef is anything a call instruction can target: a MethodDef or a MemberRef.
type MethodRef interface {
	FullName() string
	MemberName() string
	DeclaringTypeName() string
	Signature() MethodSig
	IsStatic() bool
	IsVirtual() bool
	IsPublic() bool
}

// MethodDef is a method defined in a module.
type MethodDef struct {
	RID           uint32
	Name          string
	Sig           MethodSig
	Virtual       bool
	Visibility    Visibility
	Impl          MethodImpl
	Body          *Body
	NativeCode    []byte
	DeclaringType *TypeDef
}

// Kind implements Member.
func (m *MethodDef) Kind() MemberKind { return KindMethod }

// MemberName implements Member.
func (m *MethodDef) MemberName() string { return m.Name }

// FullName returns DeclaringType::Name.
func (m *MethodDef) FullName() string {
	return m.DeclaringTypeName() + "::" + m.Name
}

// DeclaringTypeName implements MethodRef.
func (m *MethodDef) DeclaringTypeName() string {
	if m.DeclaringType == nil {
		return ""
	}
	return m.DeclaringType.FullName()
}

// Signature implements MethodRef.
func (m *MethodDef) Signature() MethodSig { return m.Sig }

// IsStatic implements MethodRef.
func (m *MethodDef) IsStatic() bool { return !m.Sig.HasThis }

// IsVirtual implements MethodRef.
func (m *MethodDef) IsVirtual() bool { return m.Virtual }

// IsPublic implements Member.
func (m *MethodDef) IsPublic() bool { return m.Visibility == Public }

// IsConstructor reports whether m is an instance or type initializer.
func (m *MethodDef) IsConstructor() bool { return m.Name == ".ctor" || m.Name == ".cctor" }

// MemberRef references a method defined outside the module.
type MemberRef struct {
	RID      uint32
	TypeName string
	Name     string
	Sig      MethodSig
	Virtual  bool
	Assembly string
}

// FullName returns TypeName::Name.
func (r *MemberRef) FullName() string { return r.TypeName + "::" + r.Name }

// MemberName implements MethodRef.
func (r *MemberRef) MemberName() string { return r.Name }

// DeclaringTypeName implements MethodRef.
func (r *MemberRef) DeclaringTypeName() string { return r.TypeName }

// Signature implements MethodRef.
func (r *MemberRef) Signature() MethodSig { return r.Sig }

// IsStatic implements MethodRef.
func (r *MemberRef) IsStatic() bool { return !r.Sig.HasThis }

// IsVirtual implements MethodRef.
func (r *MemberRef) IsVirtual() bool { return r.Virtual }

// IsPublic is always true: only accessible members can be referenced across modules.
func (r *MemberRef) IsPublic() bool { return true }

// IsConstructor reports whether r references a constructor.
func (r *MemberRef) IsConstructor() bool { return r.Name == ".ctor" || r.Name == ".cctor" }
