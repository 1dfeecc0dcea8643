// Package refproxy implements the reference proxy protection. Eligible call
// sites are redirected through generated bridge methods that invoke the
// original target through a delegate stored in a static field. The field is
// filled by the module initializer from an encoded metadata token, so the
// call graph no longer names the targets directly.
package refproxy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// ID is the protection id.
const ID = "ref proxy"

// streamKey selects the ref proxy random stream of a module seed.
const streamKey = 0x72656670726f7879

// Protection is the reference proxy protection.
type Protection struct{}

// New returns the protection.
func New() *Protection { return &Protection{} }

// Descriptor implements core.Protection.
func (*Protection) Descriptor() core.ProtectionDescriptor {
	return core.ProtectionDescriptor{
		ID:          ID,
		Name:        "Reference Proxy",
		Description: "Hides call targets behind delegate proxies decoded at load time.",
		Schema:      schema,
		Before:      []string{"rename"},
	}
}

// Accepts implements core.Protection: only methods with IL bodies contain
// call sites.
func (*Protection) Accepts(m il.Member) bool {
	meth, ok := m.(*il.MethodDef)
	return ok && meth.Impl == il.ImplIL && meth.Body != nil
}

// NewSettings implements core.Protection.
func (*Protection) NewSettings() any { return &Settings{} }

// Advise implements core.Advisor.
func (*Protection) Advise(settings any, mod *il.Module, fw core.FrameworkDescriptor, caps core.CapabilitySet) []string {
	s, ok := settings.(*Settings)
	if !ok || s.Encoding == Normal {
		return nil
	}
	reason := requirement(s.Encoding, mod, caps)
	if reason == "" {
		return nil
	}
	effect := "sites fall back to Normal"
	if !s.Fallback {
		effect = "sites are skipped"
	}
	return []string{fmt.Sprintf("%s encoding unavailable for %s (%s), %s", s.Encoding, fw, reason, effect)}
}

// Apply implements core.Protection.
func (p *Protection) Apply(ctx context.Context, sc *core.StageContext) error {
	rw := newRewriter(sc.Module, sc.Capabilities, sc.Seed, sc.Logger)
	for _, target := range sc.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		meth, ok := target.Member.(*il.MethodDef)
		if !ok || !p.Accepts(meth) {
			continue
		}
		s, ok := target.Settings.(*Settings)
		if !ok {
			def := DefaultSettings()
			s = &def
		}
		rw.rewriteMethod(meth, s)
	}
	report := rw.finish()

	if sc.Report != nil {
		for _, d := range report.Diagnostics {
			sc.Report.Diagnose(d)
		}
		sc.Report.Count(ID+".proxies", report.Proxies)
		sc.Report.Count(ID+".rewritten", report.Rewritten)
		sc.Report.Count(ID+".ineligible", report.Ineligible)
	}
	return nil
}

// Report summarizes one module rewrite.
type Report struct {
	Proxies     int
	Rewritten   int
	Ineligible  int
	Diagnostics []core.SiteDiagnostic
}

// Proxy is the set of artifacts generated for one (target, opcode) pair.
type Proxy struct {
	Field        *il.FieldDef
	Bridge       *il.MethodDef
	DelegateType *il.TypeDef
	Encoding     Encoding
	Target       il.MethodRef
	OpCode       il.OpCode
	Erased       bool

	dec decoder
}

// callSite is a call instruction, identified by method and position.
type callSite struct {
	Method *il.MethodDef
	Index  int
	Instr  *il.Instruction
}

type proxyKey struct {
	target   il.MethodRef
	op       il.OpCode
	encoding Encoding
	erased   bool
}

type rewriter struct {
	mod    *il.Module
	caps   core.CapabilitySet
	rng    *rand.Rand
	logger *slog.Logger

	proxies   []*Proxy
	byKey     map[proxyKey]*Proxy
	delegates map[string]*il.TypeDef
	bridges   map[*il.MethodDef]bool
	names     map[string]bool
	report    Report
}

func newRewriter(mod *il.Module, caps core.CapabilitySet, seed uint64, logger *slog.Logger) *rewriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rw := &rewriter{
		mod:       mod,
		caps:      caps,
		rng:       rand.New(rand.NewPCG(seed, streamKey)), //nolint:gosec // obfuscation keys, not secrets
		logger:    logger.With(slog.String("protection", ID)),
		byKey:     make(map[proxyKey]*Proxy),
		delegates: make(map[string]*il.TypeDef),
		bridges:   make(map[*il.MethodDef]bool),
		names:     make(map[string]bool),
	}
	for _, m := range mod.Members() {
		rw.names[m.MemberName()] = true
	}
	return rw
}

// rewriteMethod walks the call sites of meth in positional order.
func (rw *rewriter) rewriteMethod(meth *il.MethodDef, s *Settings) {
	if rw.bridges[meth] {
		return
	}
	for i, in := range meth.Body.Instructions {
		target, ok := rw.candidate(meth.Body, i)
		if !ok {
			continue
		}
		if !eligible(s, meth, target) {
			rw.report.Ineligible++
			continue
		}
		rw.rewriteSite(callSite{Method: meth, Index: i, Instr: in}, target, s)
	}
}

// candidate reports whether instruction i is a call that can be proxied at all.
func (rw *rewriter) candidate(body *il.Body, i int) (il.MethodRef, bool) {
	in := body.Instructions[i]
	if in.OpCode != il.Call && in.OpCode != il.CallVirt {
		return nil, false
	}
	if i > 0 && body.Instructions[i-1].OpCode.IsPrefix() {
		return nil, false
	}
	target, ok := in.Operand.(il.MethodRef)
	if !ok || target.IsVirtual() {
		return nil, false
	}
	switch t := target.(type) {
	case *il.MethodDef:
		if t.IsConstructor() || t.Impl == il.ImplRuntime || rw.bridges[t] {
			return nil, false
		}
		if t.DeclaringType != nil && t.DeclaringType.TypeKind == il.TypeDelegate {
			return nil, false
		}
		if t.Sig.HasThis && valueTypeReceiver(t.DeclaringType) {
			return nil, false
		}
	case *il.MemberRef:
		// External declaring types are assumed to be reference types; a value
		// type receiver would be bound through a class-typed parameter.
		if t.IsConstructor() {
			return nil, false
		}
	default:
		return nil, false
	}
	return target, true
}

// valueTypeReceiver reports whether instance methods of t receive this as a
// managed pointer rather than an object reference.
func valueTypeReceiver(t *il.TypeDef) bool {
	return t != nil && (t.BaseType == "System.ValueType" || t.BaseType == "System.Enum")
}

func eligible(s *Settings, caller *il.MethodDef, target il.MethodRef) bool {
	if s.Mode != Strong {
		if _, external := target.(*il.MemberRef); !external {
			return false
		}
	}
	if s.Internal {
		return true
	}
	if !caller.IsPublic() || (caller.DeclaringType != nil && !caller.DeclaringType.IsPublic()) {
		return false
	}
	if !target.IsPublic() {
		return false
	}
	if def, ok := target.(*il.MethodDef); ok && def.DeclaringType != nil && !def.DeclaringType.IsPublic() {
		return false
	}
	return true
}

func (rw *rewriter) rewriteSite(site callSite, target il.MethodRef, s *Settings) {
	defer func() {
		if r := recover(); r != nil {
			rw.diagnose(site, target, s.Encoding, "", core.SiteFailed, fmt.Sprint(r))
		}
	}()

	enc, reason := rw.chooseEncoding(target.Signature(), s)
	if enc == "" {
		rw.diagnose(site, target, s.Encoding, "", core.SiteSkipped, reason)
		return
	}
	p := rw.proxyFor(target, site.Instr.OpCode, enc, s)
	site.Instr.OpCode = il.Call
	site.Instr.Operand = p.Bridge
	rw.report.Rewritten++
	if enc != s.Encoding {
		rw.diagnose(site, target, s.Encoding, enc, core.SiteFellBack, reason)
	}
}

// chooseEncoding returns the encoding to use, or "" when the site must be
// skipped. reason explains a fallback or a skip.
func (rw *rewriter) chooseEncoding(sig il.MethodSig, s *Settings) (Encoding, string) {
	reason := requirement(s.Encoding, rw.mod, rw.caps)
	if reason == "" {
		reason = unsupported(s.Encoding, sig)
	}
	if reason == "" {
		return s.Encoding, ""
	}
	if s.Fallback && s.Encoding != Normal {
		if r := unsupported(Normal, sig); r != "" {
			return "", r
		}
		return Normal, reason
	}
	return "", reason
}

func (rw *rewriter) diagnose(site callSite, target il.MethodRef, requested, used Encoding, outcome core.SiteOutcome, reason string) {
	d := core.SiteDiagnostic{
		Protection: ID,
		Method:     site.Method.FullName(),
		Index:      site.Index,
		Target:     target.FullName(),
		Requested:  string(requested),
		Used:       string(used),
		Outcome:    outcome,
		Reason:     reason,
	}
	rw.report.Diagnostics = append(rw.report.Diagnostics, d)
	rw.logger.Debug("call site not rewritten as requested", slog.String("site", d.String()))
}

// finish emits the module initializer code for every proxy and returns the report.
func (rw *rewriter) finish() Report {
	if len(rw.proxies) > 0 {
		var code []*il.Instruction
		for _, p := range rw.proxies {
			code = append(code, rw.initializer(p)...)
		}
		rw.mod.ModuleInitializer().Body.Prepend(code...)
	}
	rw.report.Proxies = len(rw.proxies)
	rw.logger.Debug("rewrite complete",
		slog.String("module", rw.mod.Name),
		slog.Int("proxies", rw.report.Proxies),
		slog.Int("rewritten", rw.report.Rewritten),
		slog.Int("diagnostics", len(rw.report.Diagnostics)),
	)
	return rw.report
}

// name returns a fresh member name.
func (rw *rewriter) name(prefix string) string {
	for {
		n := fmt.Sprintf("%s%08x", prefix, rw.rng.Uint32())
		if !rw.names[n] {
			rw.names[n] = true
			return n
		}
	}
}
