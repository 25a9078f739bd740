// Command objemit reads a JSON node description and emits a native object
// file for it, grounded on the teacher toolchain's cli.go/main.go flag
// handling, adapted from "drive the whole compiler" to "drive one call to
// objemit.EmitObject."
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit"
)

const versionString = "objemit 1.0.0"

var verboseFlag bool

func objemitVerbose() bool { return verboseFlag }

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "objemit:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("objemit", flag.ContinueOnError)

	defaultTarget := env.Str("OBJEMIT_TARGET", target.New(target.ArchX86_64, target.OSLinux).String())
	defaultVerbose := env.Bool("OBJEMIT_VERBOSE")

	targetStr := fs.String("target", defaultTarget, "target as arch-os (e.g. x86_64-linux, arm64-darwin, x86_64-windows)")
	output := fs.String("o", "", "output object file path (required)")
	verbose := fs.Bool("v", defaultVerbose, "verbose logging to stderr")
	watch := fs.Bool("watch", false, "re-emit whenever the input file changes")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(versionString)
		return nil
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: objemit [flags] <nodes.json>")
	}
	if *output == "" {
		return fmt.Errorf("-o is required")
	}

	objemit.Verbose = *verbose
	verboseFlag = *verbose
	t, err := parseTarget(*targetStr)
	if err != nil {
		return err
	}

	input := fs.Arg(0)
	emit := func() error {
		nodes, factory, err := loadNodes(input, t)
		if err != nil {
			return err
		}
		backend, err := newBackend(t, *verbose)
		if err != nil {
			return err
		}
		return objemit.EmitObject(*output, nodes, factory, backend)
	}

	if !*watch {
		return emit()
	}
	return watchAndEmit(input, emit)
}

// parseTarget splits "arch-os" into a target.Target.
func parseTarget(s string) (target.Target, error) {
	i := lastDash(s)
	if i < 0 {
		return target.Target{}, fmt.Errorf("invalid -target %q (want arch-os)", s)
	}
	arch, err := target.ParseArch(s[:i])
	if err != nil {
		return target.Target{}, err
	}
	os_, err := target.ParseOS(s[i+1:])
	if err != nil {
		return target.Target{}, err
	}
	return target.New(arch, os_), nil
}

func lastDash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '-' {
			return i
		}
	}
	return -1
}
