// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package stride is the application-facing surface of the Stride I/O
// middleware: step-based publish/subscribe of multidimensional typed
// arrays between coupled applications, over durable pack files or live
// streams.
//
// A [Context] owns named IO configurations and the operator registry.
// The application declares an [IO], defines variables and attributes
// on it, and opens an engine:
//
//	sctx, _ := stride.NewContext(stride.Options{})
//	io := sctx.DeclareIO("simulation")
//	temp, _ := stride.DefineVariable[float64](io, "temperature",
//		[]uint64{100, 50}, []uint64{0, 0}, []uint64{100, 50}, false)
//
//	eng, _ := io.Open(ctx, "run.sp", engine.Write)
//	eng.BeginStep(ctx, engine.NextAvailable, -1)
//	engine.Put(eng, temp, data, engine.Sync)
//	eng.EndStep(ctx)
//	eng.Close()
//
// The step protocol itself — BeginStep, Put, Get, PerformPuts,
// PerformGets, EndStep, Close — lives on [engine.Engine]; this package
// only builds engines from declared configuration. Variables and
// selections are documented in [variable], operators in [transform],
// carriers in [transport], multi-peer collectives in [coordinator].
package stride
