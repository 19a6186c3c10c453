// Package relfile reads SDCC-generated .rel object files and .lib archives,
// extracting the module boundaries and symbol definitions/references needed
// to decide which translation units a linker would pull in.
//
// The format is documented at:
// https://sourceforge.net/p/sdcc/code/HEAD/tree/trunk/sdcc/sdas/doc/format.txt
package relfile

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// SymbolKind distinguishes a defined symbol from a referenced one.
type SymbolKind int

const (
	SymbolDef SymbolKind = iota
	SymbolRef
)

// Symbol is one `S NAME (Def|Ref)HHHH` line.
type Symbol struct {
	Name   string
	Kind   SymbolKind
	Offset int
}

// absoluteSymbol is the placeholder SDCC emits for the absolute segment; it
// carries no meaning for dead-code elimination.
const absoluteSymbol = ".__.ABS."

// Module is one `H ` block: a single translation unit's worth of defined and
// referenced external symbols, as seen in a .rel file or inside a .lib
// archive.
type Module struct {
	Path       string
	HeaderLine int
	Name       string

	Defined    []Symbol
	Referenced []Symbol
}

// symbolLineRE matches an `S` line. This is the one place in the codebase
// that reaches for a regular expression: the symbol name may itself contain
// punctuation valid in SDCC's mangled names, so a split on whitespace alone
// cannot reliably separate name from Def/Ref/offset.
var symbolLineRE = regexp.MustCompile(`^S (\S+) (Def|Ref)([0-9A-Fa-f]+)$`)

// ParseFile reads path (a .rel or .lib file) and returns its modules.
// Malformed bytes are replaced rather than rejected, matching SDCC's own
// tolerance for slightly non-UTF8 object output.
func ParseFile(path string) ([]*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var modules []*Module
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := sanitizeLine(scanner.Text())

		switch {
		case strings.HasPrefix(line, "H "):
			modules = append(modules, &Module{
				Path:       path,
				HeaderLine: lineNum - 1,
				Name:       "UNNAMED MODULE",
			})
		case strings.HasPrefix(line, "M "):
			if len(modules) > 0 {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					modules[len(modules)-1].Name = fields[1]
				}
			}
		default:
			if m := symbolLineRE.FindStringSubmatch(line); m != nil {
				if len(modules) == 0 {
					continue
				}
				name := m[1]
				if name == absoluteSymbol {
					continue
				}
				offset, _ := strconv.ParseInt(m[3], 16, 64)
				sym := Symbol{Name: name, Offset: int(offset)}
				if m[2] == "Def" {
					sym.Kind = SymbolDef
					cur := modules[len(modules)-1]
					cur.Defined = append(cur.Defined, sym)
				} else {
					sym.Kind = SymbolRef
					cur := modules[len(modules)-1]
					cur.Referenced = append(cur.Referenced, sym)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return modules, nil
}

// sanitizeLine replaces invalid UTF-8 sequences with the Unicode replacement
// character, matching Python's open(..., errors="replace").
func sanitizeLine(line string) string {
	return strings.ToValidUTF8(line, "�")
}

// DefinesSymbol reports whether m defines name.
func (m *Module) DefinesSymbol(name string) bool {
	for _, s := range m.Defined {
		if s.Name == name {
			return true
		}
	}
	return false
}
