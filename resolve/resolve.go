// Package resolve implements the Symbol Resolver: it links the raw call and
// read names collected by the assembly parser into handles on the entities
// that actually define them, enforcing the global/static visibility
// discipline SDCC itself enforces at link time.
package resolve

import (
	"fmt"
	"io"
	"strings"

	"github.com/patrickpdx/stm8dce/parser"
	"github.com/patrickpdx/stm8dce/relfile"
)

// AmbiguityError reports a fatal symbol collision, naming every conflicting
// definition site so the user can fix the source without guessing.
type AmbiguityError struct {
	Message string
	Sites   []parser.Position
}

func (e *AmbiguityError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, s := range e.Sites {
		sb.WriteString("\n  at ")
		sb.WriteString(s.String())
	}
	return sb.String()
}

// ModuleInfo carries the inbound/outbound edges computed for one object
// module: who in our translation units needs it (inbound), and what it in
// turn pulls from our translation units once it is actually linked in
// (outbound).
type ModuleInfo struct {
	Module *relfile.Module

	InboundFuncs []parser.FuncRef
	InboundInits []*parser.Initializer

	OutboundFuncs []parser.FuncRef
	OutboundConst []parser.ConstRef
}

// Resolve runs the full resolution pipeline over prog, in the order fixed
// by the algorithm: globals, interrupts, call edges, long-read edges,
// initializer pointers, and finally module inbound/outbound edges. It
// mutates prog's entities in place and returns the per-module resolution
// results, or the first fatal ambiguity encountered.
//
// When debug is true, every name resolved through resolveFuncByName or
// resolveConstByName writes one line to trace naming the symbol, the
// candidate sites it considered, and which one won; trace may be nil
// when debug is false.
func Resolve(prog *parser.Program, modules []*relfile.Module, debug bool, trace io.Writer) ([]*ModuleInfo, error) {
	attachGlobals(prog)
	attachInterrupts(prog)

	if err := resolveCalls(prog, debug, trace); err != nil {
		return nil, err
	}
	if err := resolveLongReads(prog, debug, trace); err != nil {
		return nil, err
	}
	if err := resolveInitializers(prog, debug, trace); err != nil {
		return nil, err
	}

	infos := resolveModules(prog, modules)
	return infos, nil
}

func attachGlobals(prog *parser.Program) {
	for _, g := range prog.Globals {
		for _, fref := range prog.FunctionsNamed(g.Name) {
			f := prog.Func(fref)
			f.GlobalDecls = append(f.GlobalDecls, g)
		}
		for _, cref := range prog.ConstantsNamed(g.Name) {
			c := prog.Const(cref)
			c.GlobalDecls = append(c.GlobalDecls, g)
		}
	}
}

func attachInterrupts(prog *parser.Program) {
	for _, entry := range prog.Interrupts {
		for _, fref := range prog.FunctionsNamed(entry.Name) {
			prog.Func(fref).ISRDecl = entry
		}
	}
}

// outcome classifies how a raw reference name resolved.
type outcome int

const (
	outcomeResolved outcome = iota
	outcomeExternal          // no candidate anywhere carries this name
	outcomeDropped           // static candidates exist, but none in the caller's file
)

func resolveFuncByName(prog *parser.Program, name, callerPath string, debug bool, trace io.Writer) (parser.FuncRef, outcome, error) {
	candidates := prog.FunctionsNamed(name)
	if len(candidates) == 0 {
		tracef(debug, trace, "function %s: no candidate definition found, treated as external", name)
		return 0, outcomeExternal, nil
	}

	var globalCandidates []parser.FuncRef
	for _, c := range candidates {
		if len(prog.Func(c).GlobalDecls) > 0 {
			globalCandidates = append(globalCandidates, c)
		}
	}
	if len(globalCandidates) > 0 {
		if len(globalCandidates) > 1 {
			tracef(debug, trace, "function %s: ambiguous, global candidates %s", name, funcSites(prog, globalCandidates))
			return 0, 0, ambiguousFuncs(fmt.Sprintf("conflicting definitions for non-static function %q", name), prog, globalCandidates)
		}
		tracef(debug, trace, "function %s: global candidates %s, won by %s", name, funcSites(prog, globalCandidates), prog.Func(globalCandidates[0]).Pos())
		return globalCandidates[0], outcomeResolved, nil
	}

	var sameFile []parser.FuncRef
	for _, c := range candidates {
		if prog.Func(c).Path == callerPath {
			sameFile = append(sameFile, c)
		}
	}
	if len(sameFile) == 0 {
		tracef(debug, trace, "function %s: no global candidate, static candidates %s none in %s, dropped", name, funcSites(prog, candidates), callerPath)
		return 0, outcomeDropped, nil
	}
	if len(sameFile) > 1 {
		tracef(debug, trace, "function %s: ambiguous, static candidates in %s %s", name, callerPath, funcSites(prog, sameFile))
		return 0, 0, ambiguousFuncs(fmt.Sprintf("multiple static definitions for function %q in %s", name, callerPath), prog, sameFile)
	}
	tracef(debug, trace, "function %s: no global candidate, static candidates %s, won by %s in %s (same-file tie-break)", name, funcSites(prog, candidates), prog.Func(sameFile[0]).Pos(), callerPath)
	return sameFile[0], outcomeResolved, nil
}

func resolveConstByName(prog *parser.Program, name, callerPath string, debug bool, trace io.Writer) (parser.ConstRef, outcome, error) {
	candidates := prog.ConstantsNamed(name)
	if len(candidates) == 0 {
		tracef(debug, trace, "constant %s: no candidate definition found, treated as external", name)
		return 0, outcomeExternal, nil
	}

	var globalCandidates []parser.ConstRef
	for _, c := range candidates {
		if len(prog.Const(c).GlobalDecls) > 0 {
			globalCandidates = append(globalCandidates, c)
		}
	}
	if len(globalCandidates) > 0 {
		if len(globalCandidates) > 1 {
			tracef(debug, trace, "constant %s: ambiguous, global candidates %s", name, constSites(prog, globalCandidates))
			return 0, 0, ambiguousConsts(fmt.Sprintf("conflicting definitions for global constant %q", name), prog, globalCandidates)
		}
		tracef(debug, trace, "constant %s: global candidates %s, won by %s", name, constSites(prog, globalCandidates), prog.Const(globalCandidates[0]).Pos())
		return globalCandidates[0], outcomeResolved, nil
	}

	var sameFile []parser.ConstRef
	for _, c := range candidates {
		if prog.Const(c).Path == callerPath {
			sameFile = append(sameFile, c)
		}
	}
	if len(sameFile) == 0 {
		tracef(debug, trace, "constant %s: no global candidate, static candidates %s none in %s, dropped", name, constSites(prog, candidates), callerPath)
		return 0, outcomeDropped, nil
	}
	if len(sameFile) > 1 {
		tracef(debug, trace, "constant %s: ambiguous, static candidates in %s %s", name, callerPath, constSites(prog, sameFile))
		return 0, 0, ambiguousConsts(fmt.Sprintf("multiple static definitions for constant %q in %s", name, callerPath), prog, sameFile)
	}
	tracef(debug, trace, "constant %s: no global candidate, static candidates %s, won by %s in %s (same-file tie-break)", name, constSites(prog, candidates), prog.Const(sameFile[0]).Pos(), callerPath)
	return sameFile[0], outcomeResolved, nil
}

// tracef writes one resolution-decision line when debug is set; it is a
// no-op otherwise, so call sites never need to guard on trace being nil.
func tracef(debug bool, trace io.Writer, format string, args ...any) {
	if !debug || trace == nil {
		return
	}
	fmt.Fprintf(trace, format+"\n", args...)
}

func funcSites(prog *parser.Program, refs []parser.FuncRef) string {
	var sites []string
	for _, r := range refs {
		sites = append(sites, prog.Func(r).Pos().String())
	}
	return "[" + strings.Join(sites, ", ") + "]"
}

func constSites(prog *parser.Program, refs []parser.ConstRef) string {
	var sites []string
	for _, r := range refs {
		sites = append(sites, prog.Const(r).Pos().String())
	}
	return "[" + strings.Join(sites, ", ") + "]"
}

func ambiguousFuncs(msg string, prog *parser.Program, refs []parser.FuncRef) *AmbiguityError {
	var sites []parser.Position
	for _, r := range refs {
		sites = append(sites, prog.Func(r).Pos())
	}
	return &AmbiguityError{Message: msg, Sites: sites}
}

func ambiguousConsts(msg string, prog *parser.Program, refs []parser.ConstRef) *AmbiguityError {
	var sites []parser.Position
	for _, r := range refs {
		sites = append(sites, prog.Const(r).Pos())
	}
	return &AmbiguityError{Message: msg, Sites: sites}
}

func resolveCalls(prog *parser.Program, debug bool, trace io.Writer) error {
	for _, f := range prog.Functions {
		for _, name := range f.CallsOut {
			ref, oc, err := resolveFuncByName(prog, name, f.Path, debug, trace)
			if err != nil {
				return err
			}
			switch oc {
			case outcomeResolved:
				f.ResolvedRefs = appendUniqueFuncRef(f.ResolvedRefs, ref)
			case outcomeExternal:
				f.ExternalRefs = appendUniqueString(f.ExternalRefs, name)
			case outcomeDropped:
				// candidates exist, but none visible from this file; SDCC
				// itself would fail to link this, so there is nothing
				// useful to record.
			}
		}
	}
	return nil
}

func resolveLongReads(prog *parser.Program, debug bool, trace io.Writer) error {
	for _, f := range prog.Functions {
		for _, name := range f.LongReads {
			fref, focFunc, err := resolveFuncByName(prog, name, f.Path, debug, trace)
			if err != nil {
				return err
			}
			cref, occConst, err := resolveConstByName(prog, name, f.Path, debug, trace)
			if err != nil {
				return err
			}

			resolvedSomething := false
			if focFunc == outcomeResolved {
				f.ResolvedRefs = appendUniqueFuncRef(f.ResolvedRefs, fref)
				resolvedSomething = true
			}
			if occConst == outcomeResolved {
				f.ResolvedConsts = appendUniqueConstRef(f.ResolvedConsts, cref)
				resolvedSomething = true
			}
			if !resolvedSomething {
				f.ExternalRefs = appendUniqueString(f.ExternalRefs, name)
			}
		}
	}
	return nil
}

func resolveInitializers(prog *parser.Program, debug bool, trace io.Writer) error {
	for _, init := range prog.Initializers {
		for _, name := range init.PointerNames {
			cref, occConst, err := resolveConstByName(prog, name, init.Path, debug, trace)
			if err != nil {
				return err
			}
			if occConst == outcomeResolved {
				init.ResolvedConstantPtrs = appendUniqueConstRef(init.ResolvedConstantPtrs, cref)
				continue
			}

			fref, occFunc, err := resolveFuncByName(prog, name, init.Path, debug, trace)
			if err != nil {
				return err
			}
			if occFunc == outcomeResolved {
				init.ResolvedFunctionPtrs = appendUniqueFuncRef(init.ResolvedFunctionPtrs, fref)
				continue
			}

			init.UnresolvedPtrs = appendUniqueString(init.UnresolvedPtrs, name)
		}
	}
	return nil
}

// resolveModules computes each module's inbound (who needs it) and, where
// inbound is non-empty, its outbound (what it pulls back from our
// translation units) edges.
func resolveModules(prog *parser.Program, modules []*relfile.Module) []*ModuleInfo {
	var infos []*ModuleInfo
	for _, m := range modules {
		info := &ModuleInfo{Module: m}

		for _, sym := range m.Defined {
			for _, f := range prog.Functions {
				if containsString(f.ExternalRefs, sym.Name) {
					info.InboundFuncs = append(info.InboundFuncs, funcRefOf(prog, f))
				}
			}
			for _, init := range prog.Initializers {
				if containsString(init.UnresolvedPtrs, sym.Name) {
					info.InboundInits = append(info.InboundInits, init)
				}
			}
		}

		if len(info.InboundFuncs) > 0 || len(info.InboundInits) > 0 {
			for _, sym := range m.Referenced {
				for i, f := range prog.Functions {
					if f.Name == sym.Name {
						info.OutboundFuncs = append(info.OutboundFuncs, parser.FuncRef(i))
						break
					}
				}
				for i, c := range prog.Constants {
					if c.Name == sym.Name {
						info.OutboundConst = append(info.OutboundConst, parser.ConstRef(i))
						break
					}
				}
			}
		}

		infos = append(infos, info)
	}
	return infos
}

func funcRefOf(prog *parser.Program, f *parser.Function) parser.FuncRef {
	for i, candidate := range prog.Functions {
		if candidate == f {
			return parser.FuncRef(i)
		}
	}
	return -1
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func appendUniqueString(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	return append(list, s)
}

func appendUniqueFuncRef(list []parser.FuncRef, r parser.FuncRef) []parser.FuncRef {
	for _, existing := range list {
		if existing == r {
			return list
		}
	}
	return append(list, r)
}

func appendUniqueConstRef(list []parser.ConstRef, r parser.ConstRef) []parser.ConstRef {
	for _, existing := range list {
		if existing == r {
			return list
		}
	}
	return append(list, r)
}
