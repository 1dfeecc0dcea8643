// Package selector compiles rule selectors. A selector is a Starlark
// expression evaluated once per member with the predeclared values:
//
//	module   struct(name, path, framework, framework_kind)
//	member   struct(kind, name, full_name, namespace, type, visibility,
//	                is_public, is_static, is_constructor, is_entry_point)
//	match(pattern, s)   regular expression search
//	glob(pattern, s)    shell pattern match (path.Match)
//
// An empty selector matches every member.
package selector

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leapcloak/pkg/core"
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

const fnName = "__select__"

// Selector is a compiled selector expression. It is safe for concurrent use.
type Selector struct {
	source string
	fn     *starlark.Function // nil: match all

	regexps sync.Map // pattern -> *regexp.Regexp
}

// Compile parses and compiles a selector expression.
func Compile(name, source string) (*Selector, error) {
	s := &Selector{source: strings.TrimSpace(source)}
	if s.source == "" {
		return s, nil
	}
	// Parenthesized so selectors may span lines.
	if _, err := syntax.ParseExpr(name, "("+s.source+"\n)", 0); err != nil { //nolint:staticcheck // SA1019: will migrate to FileOptions later
		return nil, &Error{Selector: s.source, Message: err.Error()}
	}

	src := fmt.Sprintf("def %s(module, member):\n    return (%s\n)\n", fnName, s.source)
	thread := newThread(name)
	globals, err := starlark.ExecFile(thread, name, src, s.builtins()) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return nil, &Error{Selector: s.source, Message: err.Error()}
	}
	fn, ok := globals[fnName].(*starlark.Function)
	if !ok {
		return nil, &Error{Selector: s.source, Message: "selector did not compile to a function"}
	}
	s.fn = fn
	return s, nil
}

// Source returns the selector expression.
func (s *Selector) Source() string { return s.source }

// MatchAll reports whether the selector is empty.
func (s *Selector) MatchAll() bool { return s.fn == nil }

// Match evaluates the selector for one member. A non-boolean result or a
// runtime error is returned as an *Error.
func (s *Selector) Match(mod *il.Module, fw core.FrameworkDescriptor, member il.Member) (bool, error) {
	if s.fn == nil {
		return true, nil
	}
	thread := newThread(s.source)
	args := starlark.Tuple{ModuleValue(mod, fw), MemberValue(mod, member)}
	result, err := starlark.Call(thread, s.fn, args, nil)
	if err != nil {
		return false, &Error{Selector: s.source, Member: member.FullName(), Message: err.Error()}
	}
	b, ok := result.(starlark.Bool)
	if !ok {
		return false, &Error{
			Selector: s.source,
			Member:   member.FullName(),
			Message:  fmt.Sprintf("selector returned %s, want bool", result.Type()),
		}
	}
	return bool(b), nil
}

func (s *Selector) builtins() starlark.StringDict {
	return starlark.StringDict{
		"match": starlark.NewBuiltin("match", s.match),
		"glob":  starlark.NewBuiltin("glob", glob),
	}
}

func (s *Selector) match(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, str string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &pattern, &str); err != nil {
		return nil, err
	}
	var re *regexp.Regexp
	if v, ok := s.regexps.Load(pattern); ok {
		re = v.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		v, _ := s.regexps.LoadOrStore(pattern, compiled)
		re = v.(*regexp.Regexp)
	}
	return starlark.Bool(re.MatchString(str)), nil
}

func glob(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, str string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &pattern, &str); err != nil {
		return nil, err
	}
	ok, err := path.Match(pattern, str)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Bool(ok), nil
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, _ string) {
			// Selectors should not print
		},
	}
}

// ModuleValue exposes a module to selectors.
func ModuleValue(mod *il.Module, fw core.FrameworkDescriptor) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("module"), starlark.StringDict{
		"name":           starlark.String(mod.Name),
		"path":           starlark.String(mod.Path),
		"framework":      starlark.String(fw.String()),
		"framework_kind": starlark.String(fw.Kind.String()),
	})
}

// MemberValue exposes a member to selectors.
func MemberValue(mod *il.Module, m il.Member) starlark.Value {
	fields := starlark.StringDict{
		"kind":           starlark.String(m.Kind()),
		"name":           starlark.String(m.MemberName()),
		"full_name":      starlark.String(m.FullName()),
		"is_public":      starlark.Bool(m.IsPublic()),
		"is_static":      starlark.False,
		"is_constructor": starlark.False,
		"is_entry_point": starlark.False,
		"namespace":      starlark.String(""),
		"type":           starlark.String(""),
		"visibility":     starlark.String(""),
	}
	var owner *il.TypeDef
	switch v := m.(type) {
	case *il.TypeDef:
		fields["namespace"] = starlark.String(v.Namespace)
		fields["visibility"] = starlark.String(v.Visibility.String())
	case *il.FieldDef:
		owner = v.DeclaringType
		fields["is_static"] = starlark.Bool(v.Static)
		fields["visibility"] = starlark.String(v.Visibility.String())
	case *il.MethodDef:
		owner = v.DeclaringType
		fields["is_static"] = starlark.Bool(v.IsStatic())
		fields["is_constructor"] = starlark.Bool(v.IsConstructor())
		fields["is_entry_point"] = starlark.Bool(mod != nil && mod.EntryPoint == v)
		fields["visibility"] = starlark.String(v.Visibility.String())
	}
	if owner != nil {
		fields["namespace"] = starlark.String(owner.Namespace)
		fields["type"] = starlark.String(owner.FullName())
	}
	return starlarkstruct.FromStringDict(starlark.String("member"), fields)
}

// Error is a selector compile or evaluation failure.
type Error struct {
	Selector string
	Member   string
	Message  string
}

func (e *Error) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("selector %q on %s: %s", e.Selector, e.Member, e.Message)
	}
	return fmt.Sprintf("selector %q: %s", e.Selector, e.Message)
}
