// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memstore

import (
	"sort"
	"time"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// StartAttempt keeps one TaskHistory row per (planet, worker) pair,
// born at the first attempt; a row previously marked Failed is reused
// on retry rather than appended.
func (s *Store) StartAttempt(planetID, serverID string, start time.Time) (int64, error) {
	s.lock()
	defer s.unlock()

	key := historyKey{planetID: planetID, serverID: serverID}
	if existing, ok := s.history[key]; ok && existing.data.Status == core.Failed {
		existing.data.Status = core.Started
		existing.data.StartTime = start
		existing.data.EndTime = time.Time{}
		existing.data.ErrorMessage = ""
		existing.data.HasDuration = false
		return existing.data.ID, nil
	}

	s.nextHist++
	id := s.nextHist
	s.history[key] = &memHistory{data: core.TaskHistory{
		ID:        id,
		PlanetID:  planetID,
		ServerID:  serverID,
		StartTime: start,
		Status:    core.Started,
	}}
	return id, nil
}

func (s *Store) FinishAttempt(planetID, serverID string, status core.AttemptStatus, end time.Time, errMsg string) error {
	s.lock()
	defer s.unlock()

	key := historyKey{planetID: planetID, serverID: serverID}
	row, ok := s.history[key]
	if !ok {
		// Nothing to close; logic-guard condition, not an error the
		// caller needs to act on.
		return nil
	}
	row.data.Status = status
	row.data.EndTime = end
	row.data.ErrorMessage = errMsg
	if !row.data.StartTime.IsZero() {
		row.data.DurationSeconds = end.Sub(row.data.StartTime).Seconds()
		row.data.HasDuration = true
	}
	return nil
}

func (s *Store) TaskHistoryFor(planetID string) ([]*core.TaskHistory, error) {
	s.lock()
	defer s.unlock()

	var result []*core.TaskHistory
	for key, row := range s.history {
		if key.planetID == planetID {
			th := row.data
			result = append(result, &th)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	return result, nil
}

func (s *Store) OpenAttempt(planetID, serverID string) (*core.TaskHistory, error) {
	s.lock()
	defer s.unlock()

	key := historyKey{planetID: planetID, serverID: serverID}
	row, ok := s.history[key]
	if !ok || row.data.Status != core.Started {
		return nil, nil
	}
	th := row.data
	return &th, nil
}
