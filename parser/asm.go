package parser

// longReadMnemonics is the set of STM8 instructions capable of long (16-bit)
// addressing, whose operands may therefore reference a constant or a
// function pointer rather than just a register or immediate.
var longReadMnemonics = map[string]bool{
	"ld": true, "ldf": true, "ldw": true, "mov": true,
	"adc": true, "add": true, "and": true, "bcp": true, "cp": true,
	"or": true, "sub": true, "sbc": true, "xor": true,
	"addw": true, "subw": true, "cpw": true,
	"btjt": true, "btjf": true,
	"push": true, "call": true, "callf": true, "jp": true, "jpf": true,
	"int": true,
}

// tokenStream is a single-lookahead cursor over a flat token slice, used by
// the area sub-parsers to peek at a boundary token (the next absolute label
// or area directive) without consuming it, so the caller that owns the
// boundary can handle it.
type tokenStream struct {
	tokens     []Token
	pos        int
	totalLines int // length of the file being tokenized, for EndLine at EOF
}

func (ts *tokenStream) peek() (Token, bool) {
	if ts.pos >= len(ts.tokens) {
		return Token{}, false
	}
	return ts.tokens[ts.pos], true
}

func (ts *tokenStream) next() (Token, bool) {
	tok, ok := ts.peek()
	if ok {
		ts.pos++
	}
	return tok, ok
}

// tokenizeFile classifies every line of a file into a flat token stream.
func tokenizeFile(path string, lines []string) []Token {
	var tokens []Token
	for i, line := range lines {
		tokens = append(tokens, ClassifyLine(path, i+1, line)...)
	}
	return tokens
}

// ParseFileLines runs the Assembly Parser over one file's already-split
// lines, appending every entity it finds to prog. codeSeg and constSeg name
// the two configurable area names; the initializer area name is always
// "INITIALIZER".
func ParseFileLines(prog *Program, path string, lines []string, codeSeg, constSeg string) {
	ts := &tokenStream{tokens: tokenizeFile(path, lines), totalLines: len(lines)}
	for {
		tok, ok := ts.next()
		if !ok {
			return
		}
		switch tok.Kind {
		case TokenDirective:
			name, rest := SplitDirective(tok.Text)
			switch name {
			case "globl":
				if rest == "" {
					prog.Errors.AddWarning(&Warning{
						Pos:     Position{Path: path, Line: tok.Pos.Line},
						Message: ".globl with no symbol name, ignored",
					})
					continue
				}
				prog.Globals = append(prog.Globals, &GlobalDecl{Path: path, Line: tok.Pos.Line, Name: rest})
			case "area":
				if rest == "" {
					prog.Errors.AddWarning(&Warning{
						Pos:     Position{Path: path, Line: tok.Pos.Line},
						Message: ".area with no area name, treated as between-areas text",
					})
					continue
				}
				switch rest {
				case codeSeg:
					parseCodeArea(prog, path, ts)
				case constSeg:
					parseConstArea(prog, path, ts)
				case "INITIALIZER":
					parseInitArea(prog, path, ts)
				}
				// any other area name is ignored; the outer loop simply
				// keeps reading the lines that follow as "between areas"
			}
		case TokenInstruction:
			mnem, args := SplitInstruction(tok.Text)
			if mnem == "int" && len(args) > 0 {
				prog.Interrupts = append(prog.Interrupts, &InterruptEntry{Path: path, Line: tok.Pos.Line, Name: args[0]})
			}
		}
	}
}

// isAreaBoundary reports whether tok ends the current area (a new .area
// directive) without consuming it.
func isAreaBoundary(tok Token) bool {
	if tok.Kind != TokenDirective {
		return false
	}
	name, _ := SplitDirective(tok.Text)
	return name == "area"
}

func parseCodeArea(prog *Program, path string, ts *tokenStream) {
	for {
		tok, ok := ts.peek()
		if !ok || isAreaBoundary(tok) {
			return
		}
		ts.next()
		if tok.Kind == TokenLabel && !tok.Local {
			parseFunction(prog, path, ts, tok)
		}
	}
}

func parseConstArea(prog *Program, path string, ts *tokenStream) {
	for {
		tok, ok := ts.peek()
		if !ok || isAreaBoundary(tok) {
			return
		}
		ts.next()
		if tok.Kind == TokenLabel && !tok.Local {
			parseConstant(prog, path, ts, tok)
		}
	}
}

func parseInitArea(prog *Program, path string, ts *tokenStream) {
	for {
		tok, ok := ts.peek()
		if !ok || isAreaBoundary(tok) {
			return
		}
		ts.next()
		if tok.Kind == TokenLabel && !tok.Local {
			parseInitializer(prog, path, ts, tok)
		}
	}
}

func parseFunction(prog *Program, path string, ts *tokenStream, label Token) {
	fn := &Function{Path: path, StartLine: label.Pos.Line, Name: label.Text, IsEmpty: true}
	endLine := label.Pos.Line

	for {
		tok, ok := ts.peek()
		if !ok {
			endLine = ts.totalLines
			break
		}
		if isAreaBoundary(tok) || (tok.Kind == TokenLabel && !tok.Local) {
			endLine = tok.Pos.Line - 1 // boundary not yet consumed
			break
		}
		ts.next()

		if tok.Kind != TokenInstruction {
			continue
		}
		mnem, args := SplitInstruction(tok.Text)

		if mnem == "iret" {
			continue // is_empty is not affected by iret alone
		}
		fn.IsEmpty = false

		if target, ok := callTarget(mnem, args); ok {
			appendUnique(&fn.CallsOut, target)
			continue
		}
		for _, label := range longReadLabels(mnem, args) {
			appendUnique(&fn.LongReads, label)
		}
	}

	fn.EndLine = endLine
	prog.AddFunction(fn)
}

func parseConstant(prog *Program, path string, ts *tokenStream, label Token) {
	c := &Constant{Path: path, StartLine: label.Pos.Line, Name: label.Text}
	endLine := label.Pos.Line

	for {
		tok, ok := ts.peek()
		if !ok {
			endLine = ts.totalLines
			break
		}
		if isAreaBoundary(tok) || (tok.Kind == TokenLabel && !tok.Local) {
			endLine = tok.Pos.Line - 1
			break
		}
		ts.next()
	}

	c.EndLine = endLine
	prog.AddConstant(c)
}

func parseInitializer(prog *Program, path string, ts *tokenStream, label Token) {
	init := &Initializer{Path: path, StartLine: label.Pos.Line, Name: label.Text}
	endLine := label.Pos.Line

	for {
		tok, ok := ts.peek()
		if !ok {
			endLine = ts.totalLines
			break
		}
		if isAreaBoundary(tok) || (tok.Kind == TokenLabel && !tok.Local) {
			endLine = tok.Pos.Line - 1
			break
		}
		ts.next()

		if tok.Kind != TokenDirective {
			continue
		}
		name, rest := SplitDirective(tok.Text)
		if name != "dw" {
			continue
		}
		if isPlainIdentifier(rest) {
			appendUnique(&init.PointerNames, rest)
		}
	}

	init.EndLine = endLine
	prog.Initializers = append(prog.Initializers, init)
}

// callTarget returns the call target of a classified instruction, if any.
// A call is mnemonic "call" (target is the first argument) or mnemonic "jp"
// whose sole argument is a plain label; other jp forms (register-indirect,
// numeric) are not calls. jpf is deliberately excluded — a long jump to a
// plain label counts only as a long read, never a call.
func callTarget(mnem string, args []string) (string, bool) {
	switch mnem {
	case "call":
		if len(args) > 0 && args[0] != "" {
			return args[0], true
		}
	case "jp":
		if len(args) > 0 && isPlainIdentifier(args[0]) {
			return args[0], true
		}
	}
	return "", false
}

// longReadLabels returns every label operand read by a long-read-capable
// instruction, per the one/two/three-operand selection rule.
func longReadLabels(mnem string, args []string) []string {
	if !longReadMnemonics[mnem] {
		return nil
	}

	var evalArgs []string
	switch len(args) {
	case 3:
		evalArgs = args
	case 2:
		evalArgs = args[1:]
	default:
		evalArgs = args
	}

	var labels []string
	for _, arg := range evalArgs {
		if label := ExtractLabel(arg); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

// isPlainIdentifier reports whether s, in full, is a valid bare label:
// starts with a letter or '_' and contains only [A-Za-z0-9_].
func isPlainIdentifier(s string) bool {
	if s == "" || !isLabelStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isLabelCont(s[i]) {
			return false
		}
	}
	return true
}

func appendUnique(list *[]string, name string) {
	for _, existing := range *list {
		if existing == name {
			return
		}
	}
	*list = append(*list, name)
}
