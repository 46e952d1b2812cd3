//go:build property
// +build property

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package diffsync

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/btcsuite/cosignwallet/internal/sqltest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// minus returns the sorted keys of a that are not in b.
func minus(a, b map[string]struct{}) []string {
	out := []string{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestReconcileDiffProperty checks that for any two scans the added keys
// are those only in the second scan and the removed keys those only in the
// first.
func TestReconcileDiffProperty(t *testing.T) {
	db := sqltest.NewSQLiteDB(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("diff is the set difference", prop.ForAll(
		func(first, second []string) bool {
			run++
			c, err := NewCollection(
				ctx, db, fmt.Sprintf("items_%d", run), nil,
			)
			if err != nil {
				return false
			}

			if _, err := c.Reconcile(ctx, items(first...), 1); err != nil {
				return false
			}
			diff, err := c.Reconcile(ctx, items(second...), 2)
			if err != nil {
				return false
			}

			before, after := keySet(first), keySet(second)

			return equalKeys(diff.AddedKeys(), minus(after, before)) &&
				equalKeys(diff.RemovedKeys(), minus(before, after))
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
