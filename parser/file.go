package parser

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"
)

// ReadLines reads path and splits it into physical lines, stripping any
// trailing newline. SDCC's assembly output is always valid UTF-8; unlike
// the Object Reader, malformed bytes here are a hard failure rather than
// something to paper over.
func ReadLines(path string) ([]string, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- user-provided assembly file path
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(content) {
		return nil, errors.New("assembly file is not valid UTF-8")
	}
	text := strings.TrimSuffix(string(content), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// ParseFile reads path and runs the Assembly Parser over it, appending
// every entity it finds to prog.
func ParseFile(prog *Program, path, codeSeg, constSeg string) error {
	lines, err := ReadLines(path)
	if err != nil {
		return err
	}
	ParseFileLines(prog, path, lines, codeSeg, constSeg)
	return nil
}
