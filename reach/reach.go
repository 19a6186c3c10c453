// Package reach implements the Reachability Engine: starting from the
// configured entry point and every other mandatory root, it walks resolved
// call and read edges to partition every parsed Function and Constant into
// a keep-set and a remove-set.
package reach

import (
	"fmt"
	"io"
	"strings"

	"github.com/patrickpdx/stm8dce/parser"
	"github.com/patrickpdx/stm8dce/resolve"
)

// sdccRequired lists the functions SDCC's runtime may call even though
// nothing in the translation units calls them directly (see section 3.14.2
// of the SDCC manual: printf/scanf family routines reach these through
// libc glue the assembler never sees as a plain call).
var sdccRequired = []string{"_getchar", "_putchar"}

// Options configures a reachability run.
type Options struct {
	Entry            string
	OptIRQ           bool
	ExcludeFunctions []string // NAME or FILE.asm:NAME
	ExcludeConstants []string
	Debug            bool
}

// Result is the final partition produced by Run.
type Result struct {
	KeepFunctions map[parser.FuncRef]bool
	KeepConstants map[parser.ConstRef]bool

	// Warnings collects non-fatal exclusion lookups that matched nothing.
	Warnings []string
}

func (r *Result) keepsFunc(ref parser.FuncRef) bool { return r.KeepFunctions[ref] }

// Run computes the keep-sets for prog given modules (possibly empty) and
// opts. It returns a fatal error only for configuration or ambiguity
// failures (unknown/ambiguous entry label, ambiguous exclusion).
//
// When opts.Debug is set, every traversal step writes one "traversing
// in"/"traversing out" line to trace; trace may be nil otherwise.
func Run(prog *parser.Program, modules []*resolve.ModuleInfo, opts Options, trace io.Writer) (*Result, error) {
	res := &Result{
		KeepFunctions: map[parser.FuncRef]bool{},
		KeepConstants: map[parser.ConstRef]bool{},
	}

	entryRefs := prog.FunctionsNamed(opts.Entry)
	var moduleEntryFuncs []parser.FuncRef
	if len(entryRefs) == 0 {
		// The entry symbol may instead be something only an object module
		// defines; in that case its outbound functions become the roots.
		found := false
		for _, m := range modules {
			if m.Module.DefinesSymbol(opts.Entry) {
				if found {
					return nil, fmt.Errorf("multiple definitions for entry label: %s", opts.Entry)
				}
				found = true
				moduleEntryFuncs = append(moduleEntryFuncs, m.OutboundFuncs...)
			}
		}
		if !found {
			return nil, fmt.Errorf("entry label not found: %s", opts.Entry)
		}
	} else if len(entryRefs) > 1 {
		return nil, fmt.Errorf("multiple definitions for entry label: %s", opts.Entry)
	}

	var roots []parser.FuncRef
	if len(entryRefs) == 1 {
		roots = append(roots, entryRefs[0])
	}
	roots = append(roots, moduleEntryFuncs...)

	// Every interrupt handler, unless opt-irq drops the empty ones.
	for i, f := range prog.Functions {
		if f.ISRDecl == nil {
			continue
		}
		if opts.OptIRQ && f.IsEmpty {
			continue
		}
		roots = append(roots, parser.FuncRef(i))
	}

	// Every function targeted by an initializer's function-pointer entries.
	for _, init := range prog.Initializers {
		roots = append(roots, init.ResolvedFunctionPtrs...)
	}

	// User exclusions.
	excludedFuncs, warnings, err := resolveExclusions(prog, opts.ExcludeFunctions)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, warnings...)
	roots = append(roots, excludedFuncs...)

	// SDCC-required runtime entry points, if present in this program.
	for _, name := range sdccRequired {
		refs := prog.FunctionsNamed(name)
		if len(refs) == 0 {
			continue
		}
		if len(refs) > 1 {
			return nil, fmt.Errorf("multiple definitions for SDCC-required function: %s", name)
		}
		roots = append(roots, refs[0])
	}

	for _, r := range roots {
		traverseFunc(prog, res, r, opts.Debug, trace)
	}

	// Constants referenced by anything kept so far, plus initializer
	// constant pointers and user-excluded constants.
	collectConstants(prog, res)
	for _, init := range prog.Initializers {
		for _, c := range init.ResolvedConstantPtrs {
			res.KeepConstants[c] = true
		}
	}
	excludedConsts, cwarnings, err := resolveConstExclusions(prog, opts.ExcludeConstants)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, cwarnings...)
	for _, c := range excludedConsts {
		res.KeepConstants[c] = true
	}

	// Module coupling: a single additional pass is sufficient because
	// inbound membership depends only on external-reference strings and
	// initializer unresolved pointers, neither of which changes as the
	// keep-set grows.
	var newRoots []parser.FuncRef
	for _, m := range modules {
		if len(m.InboundFuncs) == 0 && len(m.InboundInits) == 0 {
			continue
		}
		inboundLive := false
		for _, fref := range m.InboundFuncs {
			if res.keepsFunc(fref) {
				inboundLive = true
				break
			}
		}
		if !inboundLive {
			for _, init := range m.InboundInits {
				if initializerIsLive(prog, res, init) {
					inboundLive = true
					break
				}
			}
		}
		if !inboundLive {
			continue
		}
		for _, fref := range m.OutboundFuncs {
			if !res.keepsFunc(fref) {
				newRoots = append(newRoots, fref)
			}
		}
		for _, cref := range m.OutboundConst {
			res.KeepConstants[cref] = true
		}
	}
	for _, r := range newRoots {
		traverseFunc(prog, res, r, opts.Debug, trace)
	}
	collectConstants(prog, res)

	return res, nil
}

// initializerIsLive reports whether an Initializer is reachable: it is, as
// soon as any function it feeds a pointer to is kept, since initializers
// themselves have no incoming call edge to test.
func initializerIsLive(prog *parser.Program, res *Result, init *parser.Initializer) bool {
	for _, fref := range init.ResolvedFunctionPtrs {
		if res.keepsFunc(fref) {
			return true
		}
	}
	return false
}

// traverseFunc runs a visited-set-pruned depth-first walk from root along
// resolved_refs, adding every function it reaches to the keep-set. Pruning
// makes recursive and mutually-recursive call cycles safe.
func traverseFunc(prog *parser.Program, res *Result, root parser.FuncRef, debug bool, trace io.Writer) {
	if res.KeepFunctions[root] {
		return
	}
	res.KeepFunctions[root] = true
	top := prog.Func(root)
	if debug && trace != nil {
		fmt.Fprintf(trace, "traversing in %s at %s\n", top.Name, top.Pos())
	}
	for _, edge := range top.ResolvedRefs {
		traverseFunc(prog, res, edge, debug, trace)
	}
	if debug && trace != nil {
		fmt.Fprintf(trace, "traversing out %s at %s\n", top.Name, top.Pos())
	}
}

// collectConstants unions resolved_consts over every currently-kept
// Function into the keep-constants set.
func collectConstants(prog *parser.Program, res *Result) {
	for ref := range res.KeepFunctions {
		for _, c := range prog.Func(ref).ResolvedConsts {
			res.KeepConstants[c] = true
		}
	}
}

// resolveExclusions parses NAME or FILE.asm:NAME exclusion entries and
// returns the matching function handles plus any "not found" warnings. An
// ambiguous unqualified name is a fatal configuration error.
func resolveExclusions(prog *parser.Program, names []string) ([]parser.FuncRef, []string, error) {
	var refs []parser.FuncRef
	var warnings []string
	for _, raw := range names {
		file, name := splitExclusion(raw)
		if file != "" {
			ref, ok := findFuncInFile(prog, file, name)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("excluded function not found: %s", raw))
				continue
			}
			refs = append(refs, ref)
			continue
		}
		candidates := prog.FunctionsNamed(name)
		if len(candidates) == 0 {
			warnings = append(warnings, fmt.Sprintf("excluded function not found: %s", name))
			continue
		}
		if len(candidates) > 1 {
			return nil, nil, fmt.Errorf("ambiguous excluded function %q: use FILE.asm:%s to disambiguate", name, name)
		}
		refs = append(refs, candidates[0])
	}
	return refs, warnings, nil
}

func resolveConstExclusions(prog *parser.Program, names []string) ([]parser.ConstRef, []string, error) {
	var refs []parser.ConstRef
	var warnings []string
	for _, raw := range names {
		file, name := splitExclusion(raw)
		if file != "" {
			ref, ok := findConstInFile(prog, file, name)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("excluded constant not found: %s", raw))
				continue
			}
			refs = append(refs, ref)
			continue
		}
		candidates := prog.ConstantsNamed(name)
		if len(candidates) == 0 {
			warnings = append(warnings, fmt.Sprintf("excluded constant not found: %s", name))
			continue
		}
		if len(candidates) > 1 {
			return nil, nil, fmt.Errorf("ambiguous excluded constant %q: use FILE.asm:%s to disambiguate", name, name)
		}
		refs = append(refs, candidates[0])
	}
	return refs, warnings, nil
}

func splitExclusion(raw string) (file, name string) {
	if idx := strings.LastIndexByte(raw, ':'); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return "", raw
}

func findFuncInFile(prog *parser.Program, file, name string) (parser.FuncRef, bool) {
	for i, f := range prog.Functions {
		if f.Name == name && pathMatches(f.Path, file) {
			return parser.FuncRef(i), true
		}
	}
	return 0, false
}

func findConstInFile(prog *parser.Program, file, name string) (parser.ConstRef, bool) {
	for i, c := range prog.Constants {
		if c.Name == name && pathMatches(c.Path, file) {
			return parser.ConstRef(i), true
		}
	}
	return 0, false
}

// pathMatches compares a file qualifier against a full path by suffix, so
// "main.asm" matches "/full/path/to/main.asm".
func pathMatches(path, file string) bool {
	return path == file || strings.HasSuffix(path, "/"+file)
}
