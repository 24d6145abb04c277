// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memstore_test

import (
	"testing"

	"github.com/benbjohnson/clock"
	"gopkg.in/check.v1"

	"github.com/alamin-khalid/planet-orchestrator/core/storetest"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
)

// Test is the top-level entry point check.v1 hooks into testing.T.
func Test(t *testing.T) { check.TestingT(t) }

func init() {
	clk := clock.NewMock()
	check.Suite(&storetest.Suite{
		Store: memstore.NewWithClock(clk),
		Clock: clk,
	})
}
