// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// stride-dump prints the full structure of a Stride pack file: the
// header, every step record's variable and block metadata, and the
// consolidated footer. With --json the dump is a single JSON document
// for scripted inspection.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/internal/cli"
	"github.com/stride-data/stride/lib/dtype"
	"github.com/stride-data/stride/lib/version"
	"github.com/stride-data/stride/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var asJSON bool
	var verbose bool

	flagSet := pflag.NewFlagSet("stride-dump", pflag.ContinueOnError)
	flagSet.BoolVar(&asJSON, "json", false, "emit one JSON document instead of text")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("stride-dump")
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

	if asJSON {
		return dumpJSON(args[0], r)
	}
	return dumpText(args[0], r)
}

// jsonDump is the --json document shape.
type jsonDump struct {
	Pack   string         `json:"pack"`
	Header jsonHeader     `json:"header"`
	Steps  []jsonStep     `json:"steps"`
	Footer *format.Footer `json:"footer"`
}

type jsonHeader struct {
	Version   string `json:"version"`
	ByteOrder string `json:"byte_order"`
	UintWidth int    `json:"uint_width"`
}

type jsonStep struct {
	Step  uint64           `json:"step"`
	Index format.StepIndex `json:"index"`
}

func dumpJSON(path string, r *format.PackReader) error {
	header := r.Header()
	doc := jsonDump{
		Pack: path,
		Header: jsonHeader{
			Version:   fmt.Sprintf("%d.%d.%d", header.Major, header.Minor, header.Patch),
			ByteOrder: header.OrderName(),
			UintWidth: int(header.UintWidth),
		},
		Footer: r.Footer(),
	}
	for _, step := range r.Steps() {
		view, err := r.View(step)
		if err != nil {
			return err
		}
		doc.Steps = append(doc.Steps, jsonStep{Step: step, Index: view.Index})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func dumpText(path string, r *format.PackReader) error {
	header := r.Header()
	fmt.Printf("pack %s\n", path)
	fmt.Printf("  format %d.%d.%d, %s byte order, %d-byte uints\n",
		header.Major, header.Minor, header.Patch, header.OrderName(), header.UintWidth)

	for _, step := range r.Steps() {
		view, err := r.View(step)
		if err != nil {
			return err
		}
		fmt.Printf("step %d (%s payload)\n", step, humanize.IBytes(uint64(len(view.Data))))
		for i := range view.Index.Vars {
			rec := &view.Index.Vars[i]
			fmt.Printf("  %s %s %s%s\n", rec.Type, rec.Class, rec.Name, shapeSuffix(rec.Shape))
			for j := range rec.Blocks {
				blk := &rec.Blocks[j]
				line := fmt.Sprintf("    block %d: rank %d", j, blk.Rank)
				if len(blk.Count) > 0 {
					line += fmt.Sprintf(", start %v, count %v", blk.Start, blk.Count)
				}
				line += fmt.Sprintf(", %d bytes", blk.Size)
				if blk.Size != blk.RawSize {
					line += fmt.Sprintf(" (raw %d)", blk.RawSize)
				}
				if len(blk.Min) > 0 {
					line += fmt.Sprintf(", min %s, max %s",
						dtype.Format(rec.Type, blk.Min), dtype.Format(rec.Type, blk.Max))
				}
				for _, op := range blk.Ops {
					line += ", op " + opString(op.Name, op.Params)
				}
				fmt.Println(line)
			}
		}
		for _, attr := range view.Index.Attrs {
			name := attr.Name
			if attr.Of != "" {
				name = attr.Of + "/" + attr.Name
			}
			fmt.Printf("  attribute %s %s (%d elements)\n", attr.Type, name, attr.Elements)
		}
	}

	footer := r.Footer()
	fmt.Printf("footer: %d steps, %d variables, %d attributes, final=%v\n",
		len(footer.Steps), len(footer.Vars), len(footer.Attrs), footer.Final)
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

func opString(name string, params map[string]string) string {
	if len(params) == 0 {
		return name
	}
	parts := make([]string, 0, len(params))
	for key, value := range params {
		parts = append(parts, key+"="+value)
	}
	return name + "(" + strings.Join(parts, ",") + ")"
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Dump the structure of a Stride pack file: header, step records, footer.

Usage: stride-dump [flags] PACK

Flags:
%s`, flagSet.FlagUsages())
}
