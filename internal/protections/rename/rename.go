// Package rename implements the renaming protection: non-public members
// get meaningless names derived from the module seed.
package rename

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// ID is the protection id.
const ID = "rename"

const streamKey = 0x72656e616d65

// Mode selects the alphabet of generated names.
type Mode string

// Modes.
const (
	Letters Mode = "Letters"
	Unicode Mode = "Unicode"
	Hex     Mode = "Hex"
)

// Settings are the typed parameters of one renamed member.
type Settings struct {
	Mode Mode `mapstructure:"mode"`
}

// Protection is the rename protection.
type Protection struct{}

// New returns the protection.
func New() *Protection { return &Protection{} }

// Descriptor implements core.Protection.
func (*Protection) Descriptor() core.ProtectionDescriptor {
	return core.ProtectionDescriptor{
		ID:          ID,
		Name:        "Rename",
		Description: "Replaces the names of non-public types, methods and fields.",
		Schema: core.Schema{
			{Name: "mode", Kind: core.ParamEnum, Domain: []string{string(Letters), string(Unicode), string(Hex)},
				Default: string(Hex), Description: "alphabet of generated names"},
		},
	}
}

// Accepts implements core.Protection. Public members, runtime-special
// methods and virtual methods keep their names because code outside the
// module binds to them by name.
func (*Protection) Accepts(m il.Member) bool {
	if m.IsPublic() {
		return false
	}
	switch v := m.(type) {
	case *il.TypeDef:
		return v.TypeKind != il.TypeGlobal
	case *il.MethodDef:
		if v.IsConstructor() || v.Virtual || v.Impl == il.ImplRuntime {
			return false
		}
		return v.DeclaringType == nil || v.DeclaringType.TypeKind != il.TypeDelegate
	case *il.FieldDef:
		return true
	}
	return false
}

// NewSettings implements core.Protection.
func (*Protection) NewSettings() any { return &Settings{} }

// Apply implements core.Protection.
func (*Protection) Apply(ctx context.Context, sc *core.StageContext) error {
	mod := sc.Module
	logger := sc.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := &namer{
		rng:  rand.New(rand.NewPCG(sc.Seed, streamKey)), //nolint:gosec // names, not secrets
		used: make(map[string]bool),
	}
	for _, m := range mod.Members() {
		n.used[m.MemberName()] = true
	}

	types := make(map[string]string)
	renamed := 0
	for _, target := range sc.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		mode := Hex
		if s, ok := target.Settings.(*Settings); ok && s.Mode != "" {
			mode = s.Mode
		}
		switch v := target.Member.(type) {
		case *il.TypeDef:
			old := v.FullName()
			v.Name = n.next(mode)
			types[old] = v.FullName()
		case *il.MethodDef:
			if v == mod.EntryPoint {
				continue
			}
			v.Name = n.next(mode)
		case *il.FieldDef:
			v.Name = n.next(mode)
		default:
			continue
		}
		renamed++
	}
	if len(types) > 0 {
		retarget(mod, types)
	}

	logger.Debug("members renamed", slog.String("module", mod.Name), slog.Int("renamed", renamed))
	if sc.Report != nil {
		sc.Report.Count(ID+".renamed", renamed)
	}
	return nil
}

type namer struct {
	rng  *rand.Rand
	used map[string]bool
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func (n *namer) next(mode Mode) string {
	for {
		var name string
		switch mode {
		case Letters:
			var b strings.Builder
			for range 8 {
				b.WriteByte(letters[n.rng.IntN(len(letters))])
			}
			name = b.String()
		case Unicode:
			var b strings.Builder
			for range 6 {
				b.WriteRune(rune(0x4E00 + n.rng.IntN(0x9FFF-0x4E00)))
			}
			name = b.String()
		default:
			name = fmt.Sprintf("_%08x", n.rng.Uint32())
		}
		if !n.used[name] {
			n.used[name] = true
			return name
		}
	}
}

// retarget rewrites every type reference by name after types were renamed.
func retarget(mod *il.Module, renames map[string]string) {
	ts := func(t il.TypeSig) il.TypeSig { return renameSig(t, renames) }
	ms := func(s il.MethodSig) il.MethodSig {
		s = s.Clone()
		s.Return = ts(s.Return)
		for i, p := range s.Params {
			s.Params[i] = ts(p)
		}
		return s
	}

	for _, ref := range mod.MemberRefs {
		ref.Sig = ms(ref.Sig)
	}
	for _, t := range mod.Types {
		if to, ok := renames[t.BaseType]; ok {
			t.BaseType = to
		}
		for _, f := range t.Fields {
			f.Type = ts(f.Type)
		}
		for _, m := range t.Methods {
			m.Sig = ms(m.Sig)
			if m.Body == nil {
				continue
			}
			for i, l := range m.Body.Locals {
				m.Body.Locals[i] = ts(l)
			}
			for _, h := range m.Body.Handlers {
				if to, ok := renames[h.CatchType]; ok {
					h.CatchType = to
				}
			}
			for _, in := range m.Body.Instructions {
				switch op := in.Operand.(type) {
				case il.TypeSig:
					in.Operand = ts(op)
				case il.MethodSig:
					in.Operand = ms(op)
				}
			}
		}
	}
}

func renameSig(t il.TypeSig, renames map[string]string) il.TypeSig {
	if to, ok := renames[t.Name]; ok && (t.Kind == il.ElemClass || t.Kind == il.ElemValueType) {
		t.Name = to
	}
	if t.Elem != nil {
		elem := renameSig(*t.Elem, renames)
		t.Elem = &elem
	}
	return t
}
