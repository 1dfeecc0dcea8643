package refproxy

import (
	"fmt"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// Mode selects which call sites are eligible.
type Mode string

// Modes.
const (
	// Mild proxies only calls that cross the module boundary.
	Mild Mode = "Mild"
	// Strong proxies every candidate call.
	Strong Mode = "Strong"
)

// Encoding is how a proxy's target token is hidden and recovered.
type Encoding string

// Encodings.
const (
	Normal     Encoding = "Normal"
	Expression Encoding = "Expression"
	X86        Encoding = "x86"
)

// Settings are the typed parameters of one target method.
type Settings struct {
	Mode        Mode     `mapstructure:"mode"`
	Encoding    Encoding `mapstructure:"encoding"`
	Internal    bool     `mapstructure:"internal"`
	TypeErasure bool     `mapstructure:"typeErasure"`
	Fallback    bool     `mapstructure:"fallback"`
	Depth       int      `mapstructure:"depth"`
}

// Validate implements core.SettingsValidator.
func (s *Settings) Validate() error {
	switch s.Mode {
	case Mild, Strong:
	default:
		return fmt.Errorf("mode %q", s.Mode)
	}
	switch s.Encoding {
	case Normal, Expression, X86:
	default:
		return fmt.Errorf("encoding %q", s.Encoding)
	}
	if s.Depth < 1 {
		return fmt.Errorf("depth %d", s.Depth)
	}
	return nil
}

// DefaultSettings returns the settings of an empty parameter map.
func DefaultSettings() Settings {
	return Settings{Mode: Mild, Encoding: Normal, Fallback: true, Depth: 3}
}

var schema = core.Schema{
	{Name: "mode", Kind: core.ParamEnum, Domain: []string{string(Mild), string(Strong)}, Default: string(Mild),
		Description: "Mild proxies calls to external members only, Strong proxies every call"},
	{Name: "encoding", Kind: core.ParamEnum, Domain: []string{string(Normal), string(Expression), string(X86)}, Default: string(Normal),
		Description: "how proxy targets are decoded at load"},
	{Name: "internal", Kind: core.ParamBool, Default: "false",
		Description: "also proxy calls involving non-public members"},
	{Name: "typeErasure", Kind: core.ParamBool, Default: "false",
		Description: "widen proxy fields and bridge parameters to object"},
	{Name: "fallback", Kind: core.ParamBool, Default: "true",
		Description: "use Normal when the requested encoding is unavailable"},
	{Name: "depth", Kind: core.ParamInt, Min: 1, Max: 8, Default: "3",
		Description: "arithmetic layers in the token decoder"},
}

// requirement returns why enc cannot be used in a module, or "".
func requirement(enc Encoding, mod *il.Module, caps core.CapabilitySet) string {
	switch enc {
	case Expression:
		if !caps.Has(core.CapDelegateTreeCodegen) {
			return "runtime lacks " + string(core.CapDelegateTreeCodegen)
		}
	case X86:
		if !caps.Has(core.CapUnmanagedCallTrampoline) {
			return "runtime lacks " + string(core.CapUnmanagedCallTrampoline)
		}
		if !mod.Machine.Is32BitCompatible() {
			return fmt.Sprintf("machine %s cannot host x86 code", mod.Machine)
		}
	}
	return ""
}

// unsupported returns why sig cannot be proxied with enc, or "".
func unsupported(enc Encoding, sig il.MethodSig) string {
	if sig.VarArg {
		return "vararg signature"
	}
	if sig.GenericArity > 0 {
		return "generic method instantiation"
	}
	for _, p := range sig.Params {
		switch {
		case p.Kind == il.ElemByRef && (enc == Expression || enc == X86):
			return "by-ref parameter"
		case p.Kind == il.ElemPtr && enc == Expression:
			return "pointer parameter"
		}
	}
	return ""
}
