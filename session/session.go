// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package session defines the value identifying the user on whose behalf
// the wallet's stores and settlement engine act.  A Session is passed
// explicitly to every call that needs it; there is no process-wide current
// user.
package session

import (
	"errors"
	"time"

	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/lightningnetwork/lnd/clock"
)

// ErrNoSession is returned by operations that were handed a nil session.
var ErrNoSession = errors.New("no session")

// Session is the authenticated user and the clock used to stamp records
// created on its behalf.
type Session struct {
	// Profile is the user's own public profile.  Its UserID is the
	// user's remote identifier.
	Profile ledger.PublicProfile

	// Clock provides the time for stamping records.
	Clock clock.Clock
}

// New creates a session for the user with the given profile.  A nil clock
// selects the system clock.
func New(profile ledger.PublicProfile, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Session{
		Profile: profile,
		Clock:   clk,
	}
}

// UserID returns the remote identifier of the session's user.
func (s *Session) UserID() int64 {
	return s.Profile.UserID
}

// Now returns the current time of the session's clock.
func (s *Session) Now() time.Time {
	return s.Clock.Now()
}

// Validate returns ErrNoSession if s is unusable.
func Validate(s *Session) error {
	if s == nil || s.Clock == nil {
		return ErrNoSession
	}
	return nil
}
