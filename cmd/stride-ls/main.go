// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// stride-ls lists the contents of a Stride pack file: its variables,
// attributes, and committed steps, read from the consolidated footer.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/internal/cli"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/lib/version"
	"github.com/stride-data/stride/transport"
	"github.com/stride-data/stride/variable"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var showAttrs bool
	var showSteps bool
	var verbose bool

	flagSet := pflag.NewFlagSet("stride-ls", pflag.ContinueOnError)
	flagSet.BoolVarP(&showAttrs, "attributes", "a", false, "list attributes")
	flagSet.BoolVarP(&showSteps, "steps", "s", false, "list the per-step offsets table")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("stride-ls")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return fmt.Errorf("exactly one pack path expected, got %d arguments", len(args))
	}

	log := cli.NewLogger(verbose)
	f, err := transport.OpenFile(args[0], transport.AccessRead, nil, log)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := format.OpenPack(f)
	if err != nil {
		return err
	}
	footer := r.Footer()
	size, err := f.Size()
	if err != nil {
		return err
	}

	state := "final"
	if !footer.Final {
		state = "in progress"
	}
	fmt.Printf("%s: %s, %d steps, %d variables, %d attributes (%s)\n",
		args[0], humanize.IBytes(uint64(size)), len(r.Steps()), len(footer.Vars), len(footer.Attrs), state)

	for i := range footer.Vars {
		v := &footer.Vars[i]
		fmt.Printf("  %-10s %-13s %s%s  {%d steps}\n",
			v.Type, v.Class, v.Name, shapeSuffix(v.Shape), len(v.Steps))
	}

	if showAttrs {
		for _, attr := range footer.Attrs {
			name := attr.Name
			if attr.Of != "" {
				name = attr.Of + "/" + attr.Name
			}
			fmt.Printf("  attribute %-10s %s = %s\n", attr.Type, name, attrValue(&attr))
		}
	}

	if showSteps {
		for _, entry := range footer.Steps {
			flags := ""
			if entry.Continued {
				flags = " continued"
			}
			if entry.Partial {
				flags += " partial"
			}
			fmt.Printf("  step %-6d offset %-12d %s%s\n",
				entry.Step, entry.Offset, humanize.IBytes(entry.Size), flags)
		}
	}
	return nil
}

func shapeSuffix(shape []uint64) string {
	if len(shape) == 0 {
		return ""
	}
	parts := make([]string, len(shape))
	for i, extent := range shape {
		parts[i] = fmt.Sprintf("%d", extent)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// attrValue renders an attribute's elements, eliding long vectors.
func attrValue(attr *variable.Attribute) string {
	const shown = 8
	n := attr.Elements
	if n > shown {
		n = shown
	}
	parts := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		parts = append(parts, dtype.Format(attr.Type, attr.Value(i)))
	}
	if attr.Elements > shown {
		parts = append(parts, fmt.Sprintf("… %d more", attr.Elements-shown))
	}
	if attr.Scalar {
		return parts[0]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `List the variables, attributes, and steps of a Stride pack file.

Usage: stride-ls [flags] PACK

Flags:
%s`, flagSet.FlagUsages())
}
