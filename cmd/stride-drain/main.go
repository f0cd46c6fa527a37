// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// stride-drain subscribes to a live Stride stream and writes every
// step it delivers into a pack file, turning an in-transit stream into
// a durable, seekable archive. It exits when the writer sends the
// end-of-stream sentinel; on interrupt it commits a non-final footer
// so the partial pack stays readable.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/stride-data/stride/format"
	"github.com/stride-data/stride/internal/cli"
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
	var from string
	var address string
	var url string
	var output string
	var verbose bool

	flagSet := pflag.NewFlagSet("stride-drain", pflag.ContinueOnError)
	flagSet.StringVar(&from, "from", "tcp", "stream carrier: tcp or nats")
	flagSet.StringVar(&address, "address", "", "publisher address for the tcp carrier")
	flagSet.StringVar(&url, "url", "", "server URL for the nats carrier")
	flagSet.StringVarP(&output, "output", "o", "", "pack file to write (default: STREAM.sp)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("stride-drain")
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
		return fmt.Errorf("exactly one stream name expected, got %d arguments", len(args))
	}
	stream := args[0]
	if output == "" {
		output = stream + ".sp"
	}

	log := cli.NewLogger(verbose)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := transport.Params{transport.ParamType: from}
	if address != "" {
		params[transport.ParamAddress] = address
	}
	if url != "" {
		params[transport.ParamURL] = url
	}
	recv, err := transport.OpenReceiver(ctx, stream, params, log)
	if err != nil {
		return err
	}
	defer recv.Close()

	f, err := transport.OpenFile(output, transport.AccessCreate, nil, log)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := format.NewPackWriter(f)
	if err != nil {
		return err
	}

	log.Info("draining stream", "stream", stream, "output", output)
	final, drainErr := drain(ctx, recv, w, log)

	// Interrupt or carrier failure still leaves a committed footer
	// over everything appended so far.
	if err := w.WriteFooter(final); err != nil {
		return errors.Join(drainErr, err)
	}
	if drainErr != nil {
		return drainErr
	}
	fmt.Printf("%s: %d steps\n", output, w.StepCount())
	return nil
}

// drain pumps frames into the pack writer until the sentinel, an
// interrupt, or a carrier failure. Returns whether the stream ended
// cleanly, which decides the footer's final flag.
func drain(ctx context.Context, recv transport.Receiver, w *format.PackWriter, log *slog.Logger) (final bool, err error) {
	for {
		kind, payload, err := recv.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("interrupted, committing partial pack")
				return false, nil
			}
			if errors.Is(err, io.EOF) {
				log.Warn("stream closed without end-of-stream sentinel")
				return false, nil
			}
			return false, err
		}

		switch kind {
		case format.FrameHandshake:
			hs, err := format.DecodeHandshake(payload)
			if err != nil {
				return false, err
			}
			log.Info("stream handshake", "stream", hs.StreamID, "writers", hs.Writers)

		case format.FrameRecord:
			rec, err := format.DecodeRecordPayload(payload)
			if err != nil {
				log.Warn("skipping undecodable step record", "error", err)
				continue
			}
			entry, err := w.AppendRecord(&rec.Index, rec.Data)
			if err != nil {
				return false, err
			}
			log.Info("step archived", "step", rec.Step, "size", humanize.IBytes(entry.Size))

		case format.FrameEOF:
			if err := format.VerifyEOFPayload(payload); err != nil {
				log.Warn("mangled end-of-stream sentinel", "error", err)
			}
			return true, nil

		default:
			log.Warn("skipping unknown frame kind", "kind", kind)
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Archive a live Stride stream into a pack file.

Usage: stride-drain [flags] STREAM

Flags:
%s`, flagSet.FlagUsages())
}
