// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/stride-data/stride/sterr"
)

// Params carries transport and engine key/value settings. Keys are
// matched case-insensitively, following the convention that settings
// files and call sites may capitalize freely. Values keep their case.
type Params map[string]string

// lookup finds key case-insensitively.
func (p Params) lookup(key string) (string, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// String returns the value for key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

// Require returns the value for key. A missing required parameter is
// NotSupported: the caller asked for a transport configuration this
// build cannot satisfy without it.
func (p Params) Require(key string) (string, error) {
	if v, ok := p.lookup(key); ok {
		return v, nil
	}
	return "", sterr.NotSupportedf("transport.Params.Require",
		"required parameter %q is not set", key)
}

// Int returns the integer value for key, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, sterr.InvalidArgumentf("transport.Params.Int",
			"parameter %q = %q is not an integer", key, v)
	}
	return n, nil
}

// Bool returns the boolean value for key, or def when absent. Accepts
// the usual spellings plus yes/no and on/off.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on", "true", "1":
		return true, nil
	case "no", "off", "false", "0":
		return false, nil
	}
	return false, sterr.InvalidArgumentf("transport.Params.Bool",
		"parameter %q = %q is not a boolean", key, v)
}

// Float returns the float value for key, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, sterr.InvalidArgumentf("transport.Params.Float",
			"parameter %q = %q is not a number", key, v)
	}
	return f, nil
}

// Size returns the byte-size value for key, or def when absent. Values
// take humanized forms ("64 MB", "1GiB") or plain byte counts.
func (p Params) Size(key string, def uint64) (uint64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, sterr.InvalidArgumentf("transport.Params.Size",
			"parameter %q = %q is not a byte size", key, v)
	}
	return n, nil
}

// WarnUnknown logs one warning per key that is not in the known set.
// Unknown keys never fail: settings written for a richer build degrade
// to warnings here.
func (p Params) WarnUnknown(log *slog.Logger, known ...string) {
	if log == nil {
		return
	}
	var unknown []string
	for key := range p {
		recognized := false
		for _, k := range known {
			if strings.EqualFold(key, k) {
				recognized = true
				break
			}
		}
		if !recognized {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		log.Warn("ignoring unknown transport parameter", "key", key)
	}
}

// Merge returns a copy of p with overrides applied on top.
func (p Params) Merge(overrides Params) Params {
	merged := make(Params, len(p)+len(overrides))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
