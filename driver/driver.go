// Package driver wires the Object Reader, Assembly Parser, Symbol
// Resolver, Reachability Engine, and Rewriter into the single batch
// pipeline the command line exposes.
package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/patrickpdx/stm8dce/parser"
	"github.com/patrickpdx/stm8dce/reach"
	"github.com/patrickpdx/stm8dce/relfile"
	"github.com/patrickpdx/stm8dce/resolve"
	"github.com/patrickpdx/stm8dce/rewrite"
)

// Options is the fully-merged configuration for one run (flags layered
// over a loaded project config).
type Options struct {
	Inputs           []string
	OutputDir        string
	Entry            string
	CodeSegment      string
	ConstSegment     string
	ExcludeFunctions []string
	ExcludeConstants []string
	Verbose          bool
	Debug            bool
	OptIRQ           bool
}

// Summary is what the driver prints on success.
type Summary struct {
	RemovedFunctions, TotalFunctions int
	RemovedConstants, TotalConstants int
}

// Run executes one full pipeline pass: copy, parse, resolve, traverse,
// rewrite. out and errOut receive the summary and verbose/debug/warning
// text respectively; nothing touches the real stdout/stderr directly, so
// the driver itself stays testable.
func Run(opts Options, out, errOut io.Writer) (*Summary, error) {
	if err := checkOutputDir(opts.OutputDir); err != nil {
		return nil, err
	}

	asmPaths, objPaths, err := classifyAndCopyInputs(opts.Inputs, opts.OutputDir)
	if err != nil {
		return nil, err
	}

	prog := parser.NewProgram()
	for _, path := range asmPaths {
		if opts.Debug {
			fmt.Fprintf(errOut, "parsing %s\n", path)
		}
		if err := parser.ParseFile(prog, path, opts.CodeSegment, opts.ConstSegment); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if prog.Errors.HasErrors() {
		return nil, fmt.Errorf("%s", prog.Errors.Error())
	}
	if s := prog.Errors.PrintWarnings(); s != "" {
		fmt.Fprint(errOut, s)
	}

	var modules []*relfile.Module
	for _, path := range objPaths {
		if opts.Debug {
			fmt.Fprintf(errOut, "reading object file %s\n", path)
		}
		mods, err := relfile.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		modules = append(modules, mods...)
	}

	moduleInfos, err := resolve.Resolve(prog, modules, opts.Debug, errOut)
	if err != nil {
		return nil, err
	}

	result, err := reach.Run(prog, moduleInfos, reach.Options{
		Entry:            opts.Entry,
		OptIRQ:           opts.OptIRQ,
		ExcludeFunctions: opts.ExcludeFunctions,
		ExcludeConstants: opts.ExcludeConstants,
		Debug:            opts.Debug,
	}, errOut)
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(errOut, "warning: %s\n", w)
	}

	var removeFuncs []*parser.Function
	var keepFuncs []*parser.Function
	for i, f := range prog.Functions {
		if result.KeepFunctions[parser.FuncRef(i)] {
			keepFuncs = append(keepFuncs, f)
		} else {
			removeFuncs = append(removeFuncs, f)
		}
	}
	var removeConsts []*parser.Constant
	var keepConsts []*parser.Constant
	for i, c := range prog.Constants {
		if result.KeepConstants[parser.ConstRef(i)] {
			keepConsts = append(keepConsts, c)
		} else {
			removeConsts = append(removeConsts, c)
		}
	}

	if opts.Verbose || opts.Debug {
		printVerbose(errOut, "Keeping functions", keepFuncs)
		printVerbose(errOut, "Removing functions", removeFuncs)
		printVerboseConsts(errOut, "Keeping constants", keepConsts)
		printVerboseConsts(errOut, "Removing constants", removeConsts)
	}

	plan := rewrite.Plan{RemoveFunctions: removeFuncs, RemoveConstants: removeConsts}
	if err := rewrite.Apply(plan); err != nil {
		return nil, fmt.Errorf("rewriting output: %w", err)
	}

	summary := &Summary{
		RemovedFunctions: len(removeFuncs),
		TotalFunctions:   len(prog.Functions),
		RemovedConstants: len(removeConsts),
		TotalConstants:   len(prog.Constants),
	}
	fmt.Fprintf(out, "Removed %d/%d functions\n", summary.RemovedFunctions, summary.TotalFunctions)
	fmt.Fprintf(out, "Removed %d/%d constants\n", summary.RemovedConstants, summary.TotalConstants)

	return summary, nil
}

func checkOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("output directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", dir)
	}
	return nil
}

// classifyAndCopyInputs copies every .asm input into the output directory
// (so rewriting never touches the originals) and returns the copies'
// paths, plus the untouched paths of any .rel/.lib object inputs. Both
// lists preserve the order the files were given on the command line.
func classifyAndCopyInputs(inputs []string, outDir string) (asmPaths, objPaths []string, err error) {
	for _, path := range inputs {
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".asm":
			dst := filepath.Join(outDir, filepath.Base(path))
			if err := copyFile(path, dst); err != nil {
				return nil, nil, fmt.Errorf("copying %s: %w", path, err)
			}
			asmPaths = append(asmPaths, dst)
		case ".rel", ".lib":
			objPaths = append(objPaths, path)
		default:
			return nil, nil, fmt.Errorf("unrecognized input file type: %s", path)
		}
	}
	return asmPaths, objPaths, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- user-provided input file path
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst) // #nosec G304 -- destination under user-provided output dir
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func printVerbose(w io.Writer, label string, fns []*parser.Function) {
	fmt.Fprintf(w, "%s:\n", label)
	for _, f := range fns {
		fmt.Fprintf(w, "\t%s - %s:%d\n", f.Name, f.Path, f.StartLine)
	}
}

func printVerboseConsts(w io.Writer, label string, consts []*parser.Constant) {
	fmt.Fprintf(w, "%s:\n", label)
	for _, c := range consts {
		fmt.Fprintf(w, "\t%s - %s:%d\n", c.Name, c.Path, c.StartLine)
	}
}
