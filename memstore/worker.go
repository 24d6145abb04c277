// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memstore

import (
	"github.com/alamin-khalid/planet-orchestrator/core"
)

func (s *Store) GetWorker(serverID string) (*core.Worker, error) {
	s.lock()
	defer s.unlock()

	mw, ok := s.workers[serverID]
	if !ok {
		return nil, core.ErrNoSuchWorker{ServerID: serverID}
	}
	cw := mw.data
	return &cw, nil
}

func (s *Store) UpsertWorker(w *core.Worker) error {
	s.lock()
	defer s.unlock()

	mw, ok := s.workers[w.ServerID]
	if !ok {
		cw := *w
		cw.Version = 1
		s.workers[w.ServerID] = &memWorker{data: cw, version: 1}
		w.Version = 1
		return nil
	}
	if w.Version != 0 && mw.version != w.Version {
		return core.ErrConflict
	}
	cw := *w
	mw.version++
	cw.Version = mw.version
	mw.data = cw
	w.Version = mw.version
	return nil
}

func (s *Store) ListWorkers() ([]*core.Worker, error) {
	s.lock()
	defer s.unlock()

	result := make([]*core.Worker, 0, len(s.workers))
	for _, mw := range s.workers {
		cw := mw.data
		result = append(result, &cw)
	}
	return result, nil
}
