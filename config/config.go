// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads run configuration files.
//
// A configuration file declares named I/O blocks. Each block selects
// an engine, sets its parameters, and lists its transports; at run
// time an application asks for the block matching the name it passed
// to DeclareIO, and parameters set programmatically override the
// file's. There is no config discovery: the application names the
// file, or runs without one.
//
// Two syntaxes are accepted, chosen by file extension: YAML
// (.yaml/.yml) and JSONC (.json/.jsonc, JSON extended with comments
// and trailing commas). Both describe the same structure:
//
//	ios:
//	  simulation:
//	    engine: file
//	    parameters:
//	      Threads: 4
//	      InitialBufferSize: 16MiB
//	    transports:
//	      - type: file
//	        preallocate: 256MiB
//
// Parameter values keep whatever scalar type the file gives them;
// they are carried as strings and interpreted by the consumer.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/stride-data/stride/sterr"
	"github.com/stride-data/stride/transport"
)

// Config is a parsed configuration file: I/O blocks by name.
type Config struct {
	IOs map[string]IOConfig
}

// IOConfig is one named I/O block.
type IOConfig struct {
	// Engine selects the engine type ("file", "stream", ...). Empty
	// means the application's programmatic choice stands.
	Engine string

	// Params are the engine parameters of the block.
	Params transport.Params

	// Transports are the transport declarations of the block, in
	// file order. Each needs at least a "type" key.
	Transports []transport.Params
}

// IO returns the block for name.
func (c *Config) IO(name string) (IOConfig, bool) {
	if c == nil {
		return IOConfig{}, false
	}
	io, ok := c.IOs[name]
	return io, ok
}

// Load reads and parses the configuration file at path. The syntax is
// chosen by extension; anything that is not YAML is treated as JSONC,
// since JSONC is a superset of JSON.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sterr.IOFailuref(op, "reading configuration: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	default:
		cfg, err := ParseJSONC(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, nil
	}
}

// fileRoot is the on-disk shape shared by both syntaxes. Parameter
// values stay untyped here and are stringified afterwards, so the
// file may write Threads: 4 and InitialBufferSize: 16MiB alike.
type fileRoot struct {
	IOs map[string]fileIO `yaml:"ios" json:"ios"`
}

type fileIO struct {
	Engine     string           `yaml:"engine" json:"engine"`
	Parameters map[string]any   `yaml:"parameters" json:"parameters"`
	Transports []map[string]any `yaml:"transports" json:"transports"`
}

// ParseYAML parses a YAML configuration document.
func ParseYAML(data []byte) (*Config, error) {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, sterr.InvalidArgumentf("config.ParseYAML", "parsing configuration: %v", err)
	}
	return root.convert()
}

// ParseJSONC parses a JSONC configuration document: JSON extended
// with // line comments, /* block comments */, and trailing commas.
func ParseJSONC(data []byte) (*Config, error) {
	stripped := jsonc.ToJSON(data)
	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.UseNumber()
	var root fileRoot
	if err := dec.Decode(&root); err != nil {
		return nil, sterr.InvalidArgumentf("config.ParseJSONC", "parsing configuration: %v", err)
	}
	return root.convert()
}

func (r *fileRoot) convert() (*Config, error) {
	cfg := &Config{IOs: make(map[string]IOConfig, len(r.IOs))}
	for name, io := range r.IOs {
		out := IOConfig{Engine: io.Engine, Params: stringify(io.Parameters)}
		for i, tr := range io.Transports {
			params := stringify(tr)
			if params.String(transport.ParamType, "") == "" {
				return nil, sterr.InvalidArgumentf("config.Load",
					"io %q transport %d has no type", name, i)
			}
			out.Transports = append(out.Transports, params)
		}
		cfg.IOs[name] = out
	}
	return cfg, nil
}

// stringify flattens decoded scalar values into the string form the
// parameter consumers expect. Floats render in positional notation:
// a buffer size must never come out as 1.6777216e+07.
func stringify(values map[string]any) transport.Params {
	if len(values) == 0 {
		return nil
	}
	params := make(transport.Params, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case string:
			params[key] = v
		case bool:
			params[key] = strconv.FormatBool(v)
		case int:
			params[key] = strconv.Itoa(v)
		case int64:
			params[key] = strconv.FormatInt(v, 10)
		case uint64:
			params[key] = strconv.FormatUint(v, 10)
		case float64:
			params[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			params[key] = v.String()
		default:
			params[key] = fmt.Sprint(v)
		}
	}
	return params
}
