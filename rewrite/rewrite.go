// Package rewrite implements the final neutralization pass: given the
// functions and constants the Reachability Engine decided to remove, it
// comments out their source lines in place, substituting a byte-exact
// neutral slot for any removed interrupt vector entry so the vector
// table's layout never shifts.
package rewrite

import (
	"bufio"
	"os"
	"sort"

	"github.com/patrickpdx/stm8dce/parser"
)

// neutralVector is substituted verbatim for a removed InterruptEntry's
// line. The four leading spaces and exact spelling are load-bearing: the
// vector table is a fixed-size array indexed by byte offset, so every
// slot must stay an `int` instruction of the same encoded size whether it
// is live or neutralized.
const neutralVector = "    int 0x000000\n"

// Plan names everything that must be neutralized in one run.
type Plan struct {
	RemoveFunctions []*parser.Function
	RemoveConstants []*parser.Constant
}

// fileEdits collects everything that must change in one file. A removed
// entity's GlobalDecls and ISRDecl routinely live in a different file than
// the entity's own body, since globals are unique (and interrupt vectors
// declared) across the whole program, not per file; every edit is keyed by
// its own Path rather than assumed to share the entity's file.
type fileEdits struct {
	bodyRanges  [][2]int
	globalLines []int
	isrLines    []int
}

// Apply rewrites every file touched by plan, one file at a time. Each file
// is read fully into memory, edited, and written back in a single pass; a
// file is either rewritten in full or, on error, left untouched.
func Apply(plan Plan) error {
	edits := map[string]*fileEdits{}
	edit := func(path string) *fileEdits {
		e := edits[path]
		if e == nil {
			e = &fileEdits{}
			edits[path] = e
		}
		return e
	}

	for _, f := range plan.RemoveFunctions {
		e := edit(f.Path)
		e.bodyRanges = append(e.bodyRanges, [2]int{f.StartLine, f.EndLine})
		for _, g := range f.GlobalDecls {
			edit(g.Path).globalLines = append(edit(g.Path).globalLines, g.Line)
		}
		if f.ISRDecl != nil {
			edit(f.ISRDecl.Path).isrLines = append(edit(f.ISRDecl.Path).isrLines, f.ISRDecl.Line)
		}
	}
	for _, c := range plan.RemoveConstants {
		e := edit(c.Path)
		e.bodyRanges = append(e.bodyRanges, [2]int{c.StartLine, c.EndLine})
		for _, g := range c.GlobalDecls {
			edit(g.Path).globalLines = append(edit(g.Path).globalLines, g.Line)
		}
	}

	paths := make([]string, 0, len(edits))
	for path := range edits {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := rewriteFile(path, edits[path]); err != nil {
			return err
		}
	}
	return nil
}

func rewriteFile(path string, e *fileEdits) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	for _, r := range e.bodyRanges {
		commentRange(lines, r[0], r[1])
	}
	for _, ln := range e.globalLines {
		commentRange(lines, ln, ln)
	}
	for _, ln := range e.isrLines {
		replaceLine(lines, ln, neutralVector)
	}

	return writeLines(path, lines)
}

// commentRange prefixes every line in [start, end] (1-indexed, inclusive)
// with ';'. Lines already commented are left as-is so re-running the
// rewriter on its own output is a no-op.
func commentRange(lines []string, start, end int) {
	for ln := start; ln <= end; ln++ {
		i := ln - 1
		if i < 0 || i >= len(lines) {
			continue
		}
		if len(lines[i]) > 0 && lines[i][0] == ';' {
			continue
		}
		lines[i] = ";" + lines[i]
	}
}

func replaceLine(lines []string, lineNum int, text string) {
	i := lineNum - 1
	if i < 0 || i >= len(lines) {
		return
	}
	// Strip the trailing newline; it is reattached by writeLines.
	if len(text) > 0 && text[len(text)-1] == '\n' {
		text = text[:len(text)-1]
	}
	lines[i] = text
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}
