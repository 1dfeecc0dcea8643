// Package antiildasm marks modules with the attribute that disassemblers
// honor as a request not to disassemble.
package antiildasm

import (
	"context"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// ID is the protection id.
const ID = "anti ildasm"

// Attribute is the marker attribute type.
const Attribute = "System.Runtime.CompilerServices.SuppressIldasmAttribute"

// Settings is empty: the protection has no parameters.
type Settings struct{}

// Protection is the anti ildasm protection.
type Protection struct{}

// New returns the protection.
func New() *Protection { return &Protection{} }

// Descriptor implements core.Protection.
func (*Protection) Descriptor() core.ProtectionDescriptor {
	return core.ProtectionDescriptor{
		ID:          ID,
		Name:        "Anti ILDasm",
		Description: "Marks the module with SuppressIldasmAttribute.",
		After:       []string{"ref proxy"},
	}
}

// Accepts implements core.Protection. The attribute is module wide, so any
// selected member enables it.
func (*Protection) Accepts(il.Member) bool { return true }

// NewSettings implements core.Protection.
func (*Protection) NewSettings() any { return &Settings{} }

// Apply implements core.Protection.
func (*Protection) Apply(_ context.Context, sc *core.StageContext) error {
	if len(sc.Targets) == 0 || sc.Module.HasAttribute(Attribute) {
		return nil
	}
	sc.Module.Attributes = append(sc.Module.Attributes, il.CustomAttribute{Type: Attribute})
	if sc.Report != nil {
		sc.Report.Count(ID+".marked", 1)
	}
	return nil
}
