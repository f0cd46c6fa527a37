// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import "os"

func preallocate(*os.File, int64) {}

func adviseSequential(*os.File) {}
