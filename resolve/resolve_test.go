package resolve

import (
	"bytes"
	"strings"
	"testing"

	"github.com/patrickpdx/stm8dce/parser"
	"github.com/patrickpdx/stm8dce/relfile"
)

func TestResolveCallsGlobalUnique(t *testing.T) {
	prog := parser.NewProgram()
	mainRef := prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 3, Name: "_main", CallsOut: []string{"_helper"}})
	_ = mainRef
	helperRef := prog.AddFunction(&parser.Function{Path: "extra.asm", StartLine: 1, EndLine: 3, Name: "_helper"})
	prog.Globals = append(prog.Globals, &parser.GlobalDecl{Path: "extra.asm", Line: 0, Name: "_helper"})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	main := prog.Functions[0]
	if len(main.ResolvedRefs) != 1 || main.ResolvedRefs[0] != helperRef {
		t.Errorf("expected _main to resolve to _helper, got %v", main.ResolvedRefs)
	}
}

func TestResolveCallsGlobalAmbiguity(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 1, Name: "_main", CallsOut: []string{"_dup"}})
	prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 5, EndLine: 5, Name: "_dup"})
	prog.AddFunction(&parser.Function{Path: "b.asm", StartLine: 9, EndLine: 9, Name: "_dup"})
	prog.Globals = append(prog.Globals,
		&parser.GlobalDecl{Path: "a.asm", Line: 4, Name: "_dup"},
		&parser.GlobalDecl{Path: "b.asm", Line: 8, Name: "_dup"},
	)

	_, err := Resolve(prog, nil, false, nil)
	if err == nil {
		t.Fatal("expected ambiguity error")
	}
	ambErr, ok := err.(*AmbiguityError)
	if !ok {
		t.Fatalf("expected *AmbiguityError, got %T", err)
	}
	if len(ambErr.Sites) != 2 {
		t.Errorf("expected 2 conflicting sites, got %d", len(ambErr.Sites))
	}
}

func TestResolveCallsStaticDisambiguation(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 1, EndLine: 2, Name: "_main", CallsOut: []string{"_util"}})
	aUtil := prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 5, EndLine: 6, Name: "_util"})
	prog.AddFunction(&parser.Function{Path: "b.asm", StartLine: 1, EndLine: 2, Name: "_util"})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	main := prog.Functions[0]
	if len(main.ResolvedRefs) != 1 || main.ResolvedRefs[0] != aUtil {
		t.Errorf("expected _main to resolve to a.asm's _util, got %v", main.ResolvedRefs)
	}
}

func TestResolveCallsStaticMultipleInFileFatal(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 1, EndLine: 2, Name: "_main", CallsOut: []string{"_util"}})
	prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 5, EndLine: 6, Name: "_util"})
	prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 10, EndLine: 11, Name: "_util"})

	_, err := Resolve(prog, nil, false, nil)
	if _, ok := err.(*AmbiguityError); !ok {
		t.Fatalf("expected *AmbiguityError, got %v", err)
	}
}

func TestResolveCallsExternal(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 2, Name: "_main", CallsOut: []string{"_getchar"}})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	main := prog.Functions[0]
	if len(main.ExternalRefs) != 1 || main.ExternalRefs[0] != "_getchar" {
		t.Errorf("expected external ref [_getchar], got %v", main.ExternalRefs)
	}
}

func TestResolveLongReadsFunctionAndConstant(t *testing.T) {
	prog := parser.NewProgram()
	fn := prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 4, Name: "_main", LongReads: []string{"_table", "_cb"}})
	constRef := prog.AddConstant(&parser.Constant{Path: "main.asm", StartLine: 10, EndLine: 12, Name: "_table"})
	cbRef := prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 20, EndLine: 22, Name: "_cb"})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	main := prog.Func(fn)
	if len(main.ResolvedConsts) != 1 || main.ResolvedConsts[0] != constRef {
		t.Errorf("expected resolved const [_table], got %v", main.ResolvedConsts)
	}
	if len(main.ResolvedRefs) != 1 || main.ResolvedRefs[0] != cbRef {
		t.Errorf("expected resolved func ref [_cb], got %v", main.ResolvedRefs)
	}
}

func TestResolveInitializerPrefersConstant(t *testing.T) {
	prog := parser.NewProgram()
	constRef := prog.AddConstant(&parser.Constant{Path: "init.asm", StartLine: 1, EndLine: 2, Name: "_shared"})
	prog.AddFunction(&parser.Function{Path: "init.asm", StartLine: 10, EndLine: 11, Name: "_shared"})
	prog.Initializers = append(prog.Initializers, &parser.Initializer{
		Path: "init.asm", StartLine: 20, EndLine: 22, Name: "_init_table",
		PointerNames: []string{"_shared"},
	})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	init := prog.Initializers[0]
	if len(init.ResolvedConstantPtrs) != 1 || init.ResolvedConstantPtrs[0] != constRef {
		t.Errorf("expected initializer to resolve to the constant first, got consts=%v funcs=%v", init.ResolvedConstantPtrs, init.ResolvedFunctionPtrs)
	}
	if len(init.ResolvedFunctionPtrs) != 0 {
		t.Errorf("expected no function ptr resolved when a constant matches, got %v", init.ResolvedFunctionPtrs)
	}
}

func TestResolveInitializerUnresolved(t *testing.T) {
	prog := parser.NewProgram()
	prog.Initializers = append(prog.Initializers, &parser.Initializer{
		Path: "init.asm", StartLine: 1, EndLine: 3, Name: "_init_table",
		PointerNames: []string{"_missing"},
	})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	init := prog.Initializers[0]
	if len(init.UnresolvedPtrs) != 1 || init.UnresolvedPtrs[0] != "_missing" {
		t.Errorf("expected unresolved [_missing], got %v", init.UnresolvedPtrs)
	}
}

func TestResolveModulesInboundOutbound(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 2, Name: "_main", CallsOut: []string{"_helper"}})
	fnY := prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 10, EndLine: 11, Name: "_fn_y"})
	constX := prog.AddConstant(&parser.Constant{Path: "main.asm", StartLine: 20, EndLine: 21, Name: "_CONSTANT_X"})

	modules := []*relfile.Module{
		{
			Path: "lib.lib", HeaderLine: 1, Name: "helper_mod",
			Defined:    []relfile.Symbol{{Name: "_helper", Kind: relfile.SymbolDef}},
			Referenced: []relfile.Symbol{{Name: "_CONSTANT_X", Kind: relfile.SymbolRef}, {Name: "_fn_y", Kind: relfile.SymbolRef}},
		},
	}

	infos, err := Resolve(prog, modules, false, nil)
	if err != nil {
		t.Fatalf("Resolve with modules: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 module info, got %d", len(infos))
	}
	info := infos[0]
	if len(info.InboundFuncs) != 1 || prog.Func(info.InboundFuncs[0]).Name != "_main" {
		t.Errorf("expected _main in inbound, got %v", info.InboundFuncs)
	}
	if len(info.OutboundFuncs) != 1 || info.OutboundFuncs[0] != fnY {
		t.Errorf("expected outbound func _fn_y, got %v", info.OutboundFuncs)
	}
	if len(info.OutboundConst) != 1 || info.OutboundConst[0] != constX {
		t.Errorf("expected outbound const _CONSTANT_X, got %v", info.OutboundConst)
	}
}

func TestAttachGlobalsAndInterrupts(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 2, Name: "_tim1_isr"})
	prog.Globals = append(prog.Globals, &parser.GlobalDecl{Path: "main.asm", Line: 0, Name: "_tim1_isr"})
	prog.Interrupts = append(prog.Interrupts, &parser.InterruptEntry{Path: "main.asm", Line: 4, Name: "_tim1_isr"})

	if _, err := Resolve(prog, nil, false, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fn := prog.Functions[0]
	if len(fn.GlobalDecls) != 1 {
		t.Errorf("expected 1 global decl attached, got %d", len(fn.GlobalDecls))
	}
	if fn.ISRDecl == nil || fn.ISRDecl.Name != "_tim1_isr" {
		t.Errorf("expected isr_decl attached, got %v", fn.ISRDecl)
	}
}

func TestResolveDebugTracesTieBreak(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 1, EndLine: 2, Name: "_main", CallsOut: []string{"_util"}})
	aUtil := prog.AddFunction(&parser.Function{Path: "a.asm", StartLine: 5, EndLine: 6, Name: "_util"})
	prog.AddFunction(&parser.Function{Path: "b.asm", StartLine: 1, EndLine: 2, Name: "_util"})
	_ = aUtil

	var trace bytes.Buffer
	if _, err := Resolve(prog, nil, true, &trace); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	out := trace.String()
	if !strings.Contains(out, "_util") {
		t.Errorf("expected trace to name the resolved symbol, got %q", out)
	}
	if !strings.Contains(out, "a.asm") || !strings.Contains(out, "b.asm") {
		t.Errorf("expected trace to list both candidate sites, got %q", out)
	}
	if !strings.Contains(out, "tie-break") {
		t.Errorf("expected trace to report the tie-break outcome, got %q", out)
	}
}

func TestResolveDebugFalseEmitsNoTrace(t *testing.T) {
	prog := parser.NewProgram()
	prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 1, EndLine: 2, Name: "_main", CallsOut: []string{"_helper"}})
	prog.AddFunction(&parser.Function{Path: "main.asm", StartLine: 5, EndLine: 6, Name: "_helper"})

	var trace bytes.Buffer
	if _, err := Resolve(prog, nil, false, &trace); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if trace.Len() != 0 {
		t.Errorf("expected no trace output when debug is false, got %q", trace.String())
	}
}
