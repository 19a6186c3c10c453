package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/patrickpdx/stm8dce/config"
	"github.com/patrickpdx/stm8dce/driver"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// stringList collects a repeatable flag's values in the order they were
// given on the command line.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		showVersion  = flag.Bool("version", false, "Show version information")
		entry        = flag.String("entry", "_main", "Entry label")
		output       = flag.String("o", "", "Output directory to store processed ASM files (required)")
		codeSegment  = flag.String("code-segment", "CODE", "Name of the code area directive")
		constSegment = flag.String("const-segment", "CONST", "Name of the const area directive")
		verbose      = flag.Bool("verbose", false, "Print every kept/removed symbol with file and line")
		debug        = flag.Bool("debug", false, "Verbose plus resolution and traversal tracing")
		optIRQ       = flag.Bool("opt-irq", false, "Remove empty IRQ handlers (caution: drops their iret and neutralizes their vector slots)")
		configPath   = flag.String("config", "", "Load project settings from this TOML file instead of the platform default")
	)

	var excludeFuncs, excludeConsts stringList
	flag.Var(&excludeFuncs, "exclude-function", "Exclude a function (NAME or FILE.asm:NAME); may be repeated")
	flag.Var(&excludeConsts, "exclude-constant", "Exclude a constant (NAME or FILE.asm:NAME); may be repeated")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] -o output/ file1.asm file2.asm ...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("stm8dce %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	opts := driver.Options{
		Inputs:           flag.Args(),
		OutputDir:        *output,
		Entry:            mergeString(*entry, "_main", cfg.DCE.Entry),
		CodeSegment:      mergeString(*codeSegment, "CODE", cfg.DCE.CodeSegment),
		ConstSegment:     mergeString(*constSegment, "CONST", cfg.DCE.ConstSegment),
		ExcludeFunctions: append(append([]string{}, cfg.Exclude.Functions...), excludeFuncs...),
		ExcludeConstants: append(append([]string{}, cfg.Exclude.Constants...), excludeConsts...),
		Verbose:          *verbose || *debug || cfg.DCE.Verbose,
		Debug:            *debug || cfg.DCE.Debug,
		OptIRQ:           *optIRQ || cfg.DCE.OptIRQ,
	}

	if opts.OutputDir == "" {
		fmt.Fprintln(os.Stderr, "Error: output directory is required (-o)")
		os.Exit(1)
	}
	if len(opts.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no input files given")
		os.Exit(1)
	}

	if _, err := driver.Run(opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the project config from path, or the platform default
// location when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

// mergeString returns flagVal unless it equals flagDefault, in which case a
// non-empty config value takes over (so a flag given explicitly with its
// default value does not override the config).
func mergeString(flagVal, flagDefault, cfgVal string) string {
	if flagVal != flagDefault || cfgVal == "" {
		return flagVal
	}
	return cfgVal
}
