// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		err   string
	}{
		{
			name:  "all subsystems",
			level: "debug",
		},
		{
			name:  "per subsystem",
			level: "SETL=trace,DSYN=warn",
		},
		{
			name:  "invalid level",
			level: "verbose",
			err:   "debug level [verbose] is invalid",
		},
		{
			name:  "unknown subsystem",
			level: "BTCW=info",
			err:   "subsystem [BTCW] is invalid",
		},
		{
			name:  "missing level",
			level: "SETL=info,EDB",
			err:   "invalid subsystem/level pair [EDB]",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := parseAndSetDebugLevels(tc.level)
			if tc.err != "" {
				require.ErrorContains(t, err, tc.err)
				return
			}
			require.NoError(t, err)
		})
	}

	setLogLevels(defaultLogLevel)
}

func TestSupportedSubsystems(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{
		"CSWL", "DSYN", "EDB", "KCHN", "PROJ", "SETL", "SQLD",
	}, supportedSubsystems())
}
