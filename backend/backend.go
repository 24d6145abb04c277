// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package backend provides a standard way to construct a core.Store
// based on command-line flags.
package backend

import (
	"errors"
	"strings"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
	"github.com/alamin-khalid/planet-orchestrator/pgstore"
)

// Backend describes user-visible parameters to store orchestrator
// state. This implements the flag.Value interface, so a typical use
// is
//
//	func main() {
//	    backend := backend.Backend{Implementation: "memory"}
//	    flag.Var(&backend, "backend", "impl:address of orchestrator storage")
//	    flag.Parse()
//	    store, err := backend.Store()
//	}
type Backend struct {
	// Implementation holds the name of the implementation: "memory"
	// or "postgres".
	Implementation string

	// Address holds some backend-specific address, such as a
	// database connect string.
	Address string
}

// Store creates a new core.Store. If Implementation is "memory", each
// call creates an independent in-process store; calling it more than
// once will not share state. If Implementation does not match a known
// implementation, returns an error.
func (b *Backend) Store() (core.Store, error) {
	switch b.Implementation {
	case "", "memory":
		return memstore.New(), nil
	case "postgres":
		return pgstore.New(b.Address)
	default:
		return nil, errors.New("unknown orchestrator backend " + b.Implementation)
	}
}

// String renders a backend description as a string, part of the
// flag.Value interface.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set parses a string of the form "implementation:address" into an
// existing backend description. Part of the flag.Value interface.
func (b *Backend) Set(param string) error {
	parts := strings.SplitN(param, ":", 2)
	switch len(parts) {
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	default:
		return errors.New("backend: empty flag value")
	}
	switch b.Implementation {
	case "memory", "postgres":
		return nil
	default:
		return errors.New("unknown orchestrator backend " + b.Implementation)
	}
}
