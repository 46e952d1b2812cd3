// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptSignals defines the signals that are handled to do a clean
// shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// interruptListener returns a context derived from parent that is canceled
// on the first interrupt signal.  Further signals are only logged until
// parent is done.
func interruptListener(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, interruptSignals...)

	go func() {
		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s).  Shutting down...", sig)

		case <-parent.Done():
		}
		cancel()

		for {
			select {
			case sig := <-interruptChannel:
				log.Infof("Received signal (%s).  Already "+
					"shutting down...", sig)

			case <-parent.Done():
				signal.Stop(interruptChannel)
				return
			}
		}
	}()

	return ctx
}
