package testutil

import (
	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// Runtime type names used by the sample program.
const (
	DictionaryType  = "System.Collections.Generic.Dictionary`2<System.String,System.String>"
	TargetFramework = "System.Runtime.Versioning.TargetFrameworkAttribute"
)

// Expected observable behavior of the sample program.
var (
	SampleOutput   = []string{"START", "dictTest[TestKey] = TestValue", "END"}
	SampleExitCode = int32(42)
)

// Framework is a sample build flavor.
type Framework struct {
	Name    string
	Moniker string // empty: no target framework attribute
	Machine il.Machine
}

// Frameworks are the three build flavors of the sample program. net20
// predates the target framework attribute.
var Frameworks = []Framework{
	{Name: "net20", Machine: il.MachineAnyCPU},
	{Name: "net40", Moniker: ".NETFramework,Version=v4.0", Machine: il.MachineAnyCPU32Preferred},
	{Name: "net471", Moniker: ".NETFramework,Version=v4.7.1", Machine: il.MachineI386},
}

// SampleOptions tweak the sample program.
type SampleOptions struct {
	Framework Framework
	// VarargSite adds a call to a vararg method that no encoding supports.
	VarargSite bool
}

// SampleModule builds the sample program: Main prints START, a dictionary
// lookup and END through a mix of static, instance, internal and external
// calls, exercises a caught exception, and returns 42.
func SampleModule(opts SampleOptions) *il.Module {
	fw := opts.Framework
	if fw.Name == "" {
		fw = Frameworks[2]
	}
	mod := il.NewModule("Sample")
	mod.Path = "bin/" + fw.Name + "/Sample.lcim"
	mod.Machine = fw.Machine
	mod.Assembly = &il.Assembly{Name: "Sample", Version: "1.0.0.0"}
	if fw.Moniker != "" {
		mod.Assembly.Attributes = append(mod.Assembly.Attributes, il.CustomAttribute{
			Type: TargetFramework,
			Args: []string{fw.Moniker},
		})
	}

	str := il.String()
	writeLine := mod.ImportMethod("System.Console", "WriteLine", il.StaticSig(il.Void(), str))
	concat4 := mod.ImportMethod("System.String", "Concat", il.StaticSig(str, str, str, str, str))
	strEquals := mod.ImportMethod("System.String", "Equals", il.StaticSig(il.Bool(), str, str))
	objCtor := mod.ImportMethod("System.Object", ".ctor", il.InstanceSig(il.Void()))
	dictCtor := mod.ImportMethod(DictionaryType, ".ctor", il.InstanceSig(il.Void()))
	setItem := mod.ImportMethod(DictionaryType, "set_Item", il.InstanceSig(il.Void(), str, str))
	getItem := mod.ImportMethod(DictionaryType, "get_Item", il.InstanceSig(str, str))
	invalidOpCtor := mod.ImportMethod("System.InvalidOperationException", ".ctor", il.InstanceSig(il.Void(), str))
	getMessage := mod.ImportMethod("System.Exception", "get_Message", il.InstanceSig(str))
	getMessage.Virtual = true

	greeter := mod.AddType(&il.TypeDef{Namespace: "App", Name: "Greeter", Visibility: il.Public, BaseType: "System.Object"})
	greeterCtor := greeter.AddMethod(&il.MethodDef{
		Name: ".ctor", Sig: il.InstanceSig(il.Void()), Visibility: il.Public,
		Body: il.NewBody(
			il.Instr(il.LdArg, 0),
			il.Instr(il.Call, objCtor),
			il.Op(il.Ret),
		),
	})
	emit := greeter.AddMethod(&il.MethodDef{
		Name: "Emit", Sig: il.InstanceSig(il.Void(), str), Visibility: il.Public,
		Body: il.NewBody(
			il.Instr(il.LdArg, 1),
			il.Instr(il.Call, writeLine),
			il.Op(il.Ret),
		),
	})

	prog := mod.AddType(&il.TypeDef{Namespace: "App", Name: "Program", Visibility: il.Public, BaseType: "System.Object"})
	lastThrown := prog.AddField(&il.FieldDef{
		Name: "lastThrown", Type: il.Class("System.Exception"), Static: true, Visibility: il.Private,
	})
	describe := prog.AddMethod(&il.MethodDef{
		Name: "Describe", Sig: il.StaticSig(str, str, str), Visibility: il.Private,
		Body: il.NewBody(
			il.Instr(il.LdStr, "dictTest["),
			il.Instr(il.LdArg, 0),
			il.Instr(il.LdStr, "] = "),
			il.Instr(il.LdArg, 1),
			il.Instr(il.Call, concat4),
			il.Op(il.Ret),
		),
	})
	fail := prog.AddMethod(&il.MethodDef{
		Name: "Fail", Sig: il.StaticSig(il.Void(), str), Visibility: il.Internal,
		Body: il.NewBody(
			il.Instr(il.LdArg, 0),
			il.Instr(il.NewObj, invalidOpCtor),
			il.Op(il.Dup),
			il.Instr(il.StSFld, lastThrown),
			il.Op(il.Throw),
		),
	})
	trace := prog.AddMethod(&il.MethodDef{
		Name: "Trace", Sig: il.MethodSig{Return: il.Void(), Params: []il.TypeSig{str}, VarArg: true},
		Visibility: il.Public,
		Body:       il.NewBody(il.Op(il.Ret)),
	})

	// Main
	endLabel := il.Instr(il.LdLoc, 0)
	okIdentity := il.Instr(il.LdLoc, 2)
	okMessage := il.Instr(il.Leave, endLabel)
	tryStart := il.Instr(il.LdStr, "boom")
	handlerStart := il.Instr(il.StLoc, 2)

	body := il.NewBody(
		il.Instr(il.NewObj, greeterCtor),
		il.Instr(il.StLoc, 0),
		il.Instr(il.LdLoc, 0),
		il.Instr(il.LdStr, "START"),
		il.Instr(il.CallVirt, emit),
		il.Instr(il.NewObj, dictCtor),
		il.Instr(il.StLoc, 1),
		il.Instr(il.LdLoc, 1),
		il.Instr(il.LdStr, "TestKey"),
		il.Instr(il.LdStr, "TestValue"),
		il.Instr(il.CallVirt, setItem),
		il.Instr(il.LdStr, "TestKey"),
		il.Instr(il.LdLoc, 1),
		il.Instr(il.LdStr, "TestKey"),
		il.Instr(il.CallVirt, getItem),
		il.Instr(il.Call, describe),
		il.Instr(il.Call, writeLine),
	)
	if opts.VarargSite {
		body.Append(
			il.Instr(il.LdStr, "trace"),
			il.Instr(il.Call, trace),
		)
	}
	body.Append(
		tryStart,
		il.Instr(il.Call, fail),
		il.Instr(il.Leave, endLabel),
		handlerStart,
		il.Instr(il.LdLoc, 2),
		il.Instr(il.LdSFld, lastThrown),
		il.Op(il.Ceq),
		il.Instr(il.BrTrue, okIdentity),
		il.Instr(il.LdStr, "exception identity changed"),
		il.Instr(il.Call, writeLine),
		okIdentity,
		il.Instr(il.CallVirt, getMessage),
		il.Instr(il.LdStr, "boom"),
		il.Instr(il.Call, strEquals),
		il.Instr(il.BrTrue, okMessage),
		il.Instr(il.LdStr, "exception message changed"),
		il.Instr(il.Call, writeLine),
		okMessage,
		endLabel,
		il.Instr(il.LdStr, "END"),
		il.Instr(il.CallVirt, emit),
		il.Instr(il.LdcI4, SampleExitCode),
		il.Op(il.Ret),
	)
	body.Locals = []il.TypeSig{il.Class("App.Greeter"), il.Class(DictionaryType), il.Class("System.Exception")}
	body.Handlers = []*il.ExceptionHandler{{
		Kind:         il.HandlerCatch,
		TryStart:     tryStart,
		TryEnd:       handlerStart,
		HandlerStart: handlerStart,
		HandlerEnd:   endLabel,
		CatchType:    "System.InvalidOperationException",
	}}

	mod.EntryPoint = prog.AddMethod(&il.MethodDef{
		Name: "Main", Sig: il.StaticSig(il.Int32()), Visibility: il.Public, Body: body,
	})
	return mod
}
