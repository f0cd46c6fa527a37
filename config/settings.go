// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transport"
)

// Engine parameter keys. Matching is case-insensitive; these are the
// canonical spellings.
const (
	KeyThreads                       = "Threads"
	KeyAsyncTasks                    = "AsyncTasks"
	KeyInitialBufferSize             = "InitialBufferSize"
	KeyBufferGrowthFactor            = "BufferGrowthFactor"
	KeyMaxBufferSize                 = "MaxBufferSize"
	KeyBufferOverflow                = "BufferOverflow"
	KeyFlushStepsCount               = "FlushStepsCount"
	KeyStatsLevel                    = "StatsLevel"
	KeyOpenTimeoutSecs               = "OpenTimeoutSecs"
	KeyBeginStepPollingFrequencySecs = "BeginStepPollingFrequencySecs"
)

// settingsKeys is the recognized set, for unknown-key warnings.
var settingsKeys = []string{
	KeyThreads, KeyAsyncTasks, KeyInitialBufferSize, KeyBufferGrowthFactor,
	KeyMaxBufferSize, KeyBufferOverflow, KeyFlushStepsCount, KeyStatsLevel,
	KeyOpenTimeoutSecs, KeyBeginStepPollingFrequencySecs,
}

// OverflowPolicy selects what happens when a step's staged data would
// grow the arena past MaxBufferSize.
type OverflowPolicy int

const (
	// OverflowSpill flushes the staged partial step as a continuation
	// record and keeps going. The default.
	OverflowSpill OverflowPolicy = iota
	// OverflowFail rejects the Put that would cross the ceiling.
	OverflowFail
)

func (p OverflowPolicy) String() string {
	if p == OverflowFail {
		return "fail"
	}
	return "spill"
}

// Settings are the parsed engine parameters of one I/O block.
type Settings struct {
	// Threads bounds transform and checksum parallelism inside
	// EndStep. One means serial.
	Threads int

	// AsyncTasks moves flush work off the step loop: EndStep hands
	// the staged step to a background task and returns.
	AsyncTasks bool

	// InitialBufferSize is the staging arena's starting size.
	InitialBufferSize uint64

	// BufferGrowthFactor scales the arena on growth. At least 1.
	BufferGrowthFactor float64

	// MaxBufferSize caps the arena. Zero means unbounded.
	MaxBufferSize uint64

	// BufferOverflow selects the policy at the MaxBufferSize ceiling.
	BufferOverflow OverflowPolicy

	// FlushStepsCount batches footer commits: the writer rewrites the
	// pack footer every N steps instead of every step. One means
	// every step.
	FlushStepsCount int

	// StatsLevel gates statistics: 0 disables min/max tracking and
	// metrics, 1 enables them, higher levels add detail.
	StatsLevel int

	// OpenTimeout bounds how long a reader Open waits for the stream
	// or file to appear. Zero fails immediately.
	OpenTimeout time.Duration

	// BeginStepPolling is the poll interval of a blocking BeginStep.
	BeginStepPolling time.Duration
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		Threads:            1,
		AsyncTasks:         false,
		InitialBufferSize:  16 << 20,
		BufferGrowthFactor: 2,
		MaxBufferSize:      0,
		BufferOverflow:     OverflowSpill,
		FlushStepsCount:    1,
		StatsLevel:         1,
		OpenTimeout:        10 * time.Second,
		BeginStepPolling:   time.Second,
	}
}

// ParseSettings interprets the recognized engine parameters in params
// over the defaults. Unknown keys are warned about and ignored, so a
// configuration written for a richer build still loads; a recognized
// key with an uninterpretable value is an error.
func ParseSettings(params transport.Params, log *slog.Logger) (Settings, error) {
	const op = "config.ParseSettings"
	s := DefaultSettings()
	if len(params) == 0 {
		return s, nil
	}
	params.WarnUnknown(log, settingsKeys...)

	var err error
	if s.Threads, err = params.Int(KeyThreads, s.Threads); err != nil {
		return s, err
	}
	if s.AsyncTasks, err = params.Bool(KeyAsyncTasks, s.AsyncTasks); err != nil {
		return s, err
	}
	if s.InitialBufferSize, err = params.Size(KeyInitialBufferSize, s.InitialBufferSize); err != nil {
		return s, err
	}
	if s.BufferGrowthFactor, err = params.Float(KeyBufferGrowthFactor, s.BufferGrowthFactor); err != nil {
		return s, err
	}
	if s.MaxBufferSize, err = params.Size(KeyMaxBufferSize, s.MaxBufferSize); err != nil {
		return s, err
	}
	if s.FlushStepsCount, err = params.Int(KeyFlushStepsCount, s.FlushStepsCount); err != nil {
		return s, err
	}
	if s.StatsLevel, err = params.Int(KeyStatsLevel, s.StatsLevel); err != nil {
		return s, err
	}

	if v := params.String(KeyBufferOverflow, ""); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "spill":
			s.BufferOverflow = OverflowSpill
		case "fail":
			s.BufferOverflow = OverflowFail
		default:
			return s, sterr.InvalidArgumentf(op,
				"parameter %q = %q is neither spill nor fail", KeyBufferOverflow, v)
		}
	}

	openSecs, err := params.Float(KeyOpenTimeoutSecs, s.OpenTimeout.Seconds())
	if err != nil {
		return s, err
	}
	pollSecs, err := params.Float(KeyBeginStepPollingFrequencySecs, s.BeginStepPolling.Seconds())
	if err != nil {
		return s, err
	}
	s.OpenTimeout = secondsToDuration(openSecs)
	s.BeginStepPolling = secondsToDuration(pollSecs)

	return s, s.validate()
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func (s *Settings) validate() error {
	const op = "config.ParseSettings"
	switch {
	case s.Threads < 1:
		return sterr.InvalidArgumentf(op, "%s must be at least 1, got %d", KeyThreads, s.Threads)
	case s.BufferGrowthFactor < 1:
		return sterr.InvalidArgumentf(op, "%s must be at least 1, got %g", KeyBufferGrowthFactor, s.BufferGrowthFactor)
	case s.MaxBufferSize != 0 && s.MaxBufferSize < s.InitialBufferSize:
		return sterr.InvalidArgumentf(op, "%s (%d) is below %s (%d)",
			KeyMaxBufferSize, s.MaxBufferSize, KeyInitialBufferSize, s.InitialBufferSize)
	case s.FlushStepsCount < 1:
		return sterr.InvalidArgumentf(op, "%s must be at least 1, got %d", KeyFlushStepsCount, s.FlushStepsCount)
	case s.StatsLevel < 0 || s.StatsLevel > 5:
		return sterr.InvalidArgumentf(op, "%s must be between 0 and 5, got %d", KeyStatsLevel, s.StatsLevel)
	case s.OpenTimeout < 0:
		return sterr.InvalidArgumentf(op, "%s must not be negative", KeyOpenTimeoutSecs)
	case s.BeginStepPolling <= 0:
		return sterr.InvalidArgumentf(op, "%s must be positive", KeyBeginStepPollingFrequencySecs)
	}
	return nil
}
