// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package pgstore

import (
	"database/sql"
	"time"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// StartAttempt implements core.Store, mirroring memstore's row-reuse
// handling: a row left Failed from a previous attempt on the same
// (planet, worker) pair is reused rather than appended to.
func (s *Store) StartAttempt(planetID, serverID string, start time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM task_history
		WHERE planet_id = $1 AND server_id = $2 AND status = $3
		ORDER BY start_time DESC LIMIT 1`,
		planetID, serverID, int(core.Failed)).Scan(&id)

	if err == nil {
		_, execErr := s.db.Exec(`
			UPDATE task_history SET
				status = $1, start_time = $2, end_time = NULL,
				error_message = '', duration_seconds = NULL
			WHERE id = $3`, int(core.Started), start, id)
		return id, execErr
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	err = s.db.QueryRow(`
		INSERT INTO task_history (planet_id, server_id, start_time, status, error_message)
		VALUES ($1, $2, $3, $4, '')
		RETURNING id`,
		planetID, serverID, start, int(core.Started)).Scan(&id)
	return id, err
}

// FinishAttempt implements core.Store. A missing row is a logic-guard
// condition: log-and-drop at the caller, not an error here.
func (s *Store) FinishAttempt(planetID, serverID string, status core.AttemptStatus, end time.Time, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE task_history SET
			status = $1, end_time = $2, error_message = $3,
			duration_seconds = EXTRACT(EPOCH FROM ($2::timestamptz - start_time))
		WHERE id = (
			SELECT id FROM task_history
			WHERE planet_id = $4 AND server_id = $5
			ORDER BY start_time DESC LIMIT 1
		)`, int(status), end, errMsg, planetID, serverID)
	return err
}

// TaskHistoryFor implements core.Store, most recent first.
func (s *Store) TaskHistoryFor(planetID string) ([]*core.TaskHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, planet_id, server_id, start_time, end_time, status,
		       error_message, duration_seconds
		FROM task_history WHERE planet_id = $1 ORDER BY start_time DESC`, planetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.TaskHistory
	for rows.Next() {
		th, err := scanTaskHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// OpenAttempt implements core.Store.
func (s *Store) OpenAttempt(planetID, serverID string) (*core.TaskHistory, error) {
	row := s.db.QueryRow(`
		SELECT id, planet_id, server_id, start_time, end_time, status,
		       error_message, duration_seconds
		FROM task_history
		WHERE planet_id = $1 AND server_id = $2 AND status = $3
		ORDER BY start_time DESC LIMIT 1`, planetID, serverID, int(core.Started))
	th, err := scanTaskHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return th, err
}

func scanTaskHistory(row scannable) (*core.TaskHistory, error) {
	var th core.TaskHistory
	var status int
	var endTime sql.NullTime
	var duration sql.NullFloat64
	err := row.Scan(&th.ID, &th.PlanetID, &th.ServerID, &th.StartTime, &endTime,
		&status, &th.ErrorMessage, &duration)
	if err != nil {
		return nil, err
	}
	th.Status = core.AttemptStatus(status)
	if endTime.Valid {
		th.EndTime = endTime.Time
	}
	if duration.Valid {
		th.DurationSeconds = duration.Float64
		th.HasDuration = true
	}
	return &th, nil
}
