// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "testing"

func TestNATSSubjectSanitization(t *testing.T) {
	// Stream names are file-like; broker subjects must not contain
	// separators or whitespace.
	tests := []struct {
		name string
		want string
	}{
		{"run.sp", "stride.stream.run-sp"},
		{"out/heat 3d.sp", "stride.stream.out-heat-3d-sp"},
		{"plain_name-01", "stride.stream.plain_name-01"},
	}
	for _, tt := range tests {
		if got := natsSubject(tt.name); got != tt.want {
			t.Errorf("natsSubject(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
