// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStatusTransitions checks the forward-only ordering of statuses.
func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		from    OperationStatus
		to      OperationStatus
		allowed bool
	}{
		{StatusDrafted, StatusSubmitted, true},
		{StatusDrafted, StatusSettled, true},
		{StatusSubmitted, StatusCoSigned, true},
		{StatusCoSigned, StatusBroadcast, true},
		{StatusBroadcast, StatusSettled, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusBroadcast, StatusSubmitted, false},
		{StatusCoSigned, StatusCoSigned, false},
		{StatusSettled, StatusFailed, false},
		{StatusFailed, StatusSubmitted, false},
		{StatusDrafted, OperationStatus(42), false},
	}

	for _, tc := range testCases {
		require.Equal(
			t, tc.allowed, tc.from.CanAdvanceTo(tc.to),
			"%v -> %v", tc.from, tc.to,
		)
	}
}
