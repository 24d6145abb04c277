// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package pgstore_test

import (
	"database/sql"
	"os"
	"testing"

	"github.com/benbjohnson/clock"
	"gopkg.in/check.v1"

	"github.com/alamin-khalid/planet-orchestrator/core/storetest"
	"github.com/alamin-khalid/planet-orchestrator/pgstore"
)

// Test runs the backend-conformance suite against a real Postgres,
// selected by PGSTORE_TEST_DSN. Without it the suite is skipped, so
// the package still passes in environments with no database.
func Test(t *testing.T) {
	dsn := os.Getenv("PGSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGSTORE_TEST_DSN not set; skipping postgres store tests")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	// Drop leftovers from a prior run so the suite starts clean.
	_ = pgstore.Drop(db)
	db.Close()

	store, err := pgstore.New(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	check.Suite(&storetest.Suite{Store: store, Clock: clock.NewMock()})
	check.TestingT(t)
}
