// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package pgstore

import (
	"database/sql"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// GetWorker implements core.Store.
func (s *Store) GetWorker(serverID string) (*core.Worker, error) {
	row := s.db.QueryRow(`
		SELECT server_id, server_ip, status, last_heartbeat, idle_cpu, max_cpu,
		       idle_ram, max_ram, disk, current_task, total_assigned,
		       total_completed, total_failed, connected_at, disconnected_at, version
		FROM workers WHERE server_id = $1`, serverID)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNoSuchWorker{ServerID: serverID}
	}
	return w, err
}

// UpsertWorker implements core.Store. Version == 0 means "insert a new
// row"; any other value is a conditional update, matching the
// semantics documented on core.Store.
func (s *Store) UpsertWorker(w *core.Worker) error {
	if w.Version == 0 {
		err := s.db.QueryRow(`
			INSERT INTO workers
				(server_id, server_ip, status, last_heartbeat, idle_cpu, max_cpu,
				 idle_ram, max_ram, disk, current_task, total_assigned,
				 total_completed, total_failed, connected_at, disconnected_at, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1)
			ON CONFLICT (server_id) DO UPDATE SET
				server_ip = EXCLUDED.server_ip, status = EXCLUDED.status,
				last_heartbeat = EXCLUDED.last_heartbeat, idle_cpu = EXCLUDED.idle_cpu,
				max_cpu = EXCLUDED.max_cpu, idle_ram = EXCLUDED.idle_ram,
				max_ram = EXCLUDED.max_ram, disk = EXCLUDED.disk,
				current_task = EXCLUDED.current_task, total_assigned = EXCLUDED.total_assigned,
				total_completed = EXCLUDED.total_completed, total_failed = EXCLUDED.total_failed,
				connected_at = EXCLUDED.connected_at, disconnected_at = EXCLUDED.disconnected_at,
				version = workers.version + 1
			RETURNING version`,
			w.ServerID, w.ServerIP, int(w.Status), nullTime(w.LastHeartbeat),
			w.IdleCPU, w.MaxCPU, w.IdleRAM, w.MaxRAM, w.Disk, w.CurrentTask,
			w.TotalAssigned, w.TotalCompleted, w.TotalFailed,
			nullTime(w.ConnectedAt), nullTime(w.DisconnectedAt)).Scan(&w.Version)
		return err
	}

	res, err := s.db.Exec(`
		UPDATE workers SET
			server_ip = $1, status = $2, last_heartbeat = $3, idle_cpu = $4,
			max_cpu = $5, idle_ram = $6, max_ram = $7, disk = $8, current_task = $9,
			total_assigned = $10, total_completed = $11, total_failed = $12,
			connected_at = $13, disconnected_at = $14, version = version + 1
		WHERE server_id = $15 AND version = $16`,
		w.ServerIP, int(w.Status), nullTime(w.LastHeartbeat), w.IdleCPU, w.MaxCPU,
		w.IdleRAM, w.MaxRAM, w.Disk, w.CurrentTask, w.TotalAssigned, w.TotalCompleted,
		w.TotalFailed, nullTime(w.ConnectedAt), nullTime(w.DisconnectedAt),
		w.ServerID, w.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetWorker(w.ServerID); getErr != nil {
			return getErr
		}
		return core.ErrConflict
	}
	w.Version++
	return nil
}

// ListWorkers implements core.Store.
func (s *Store) ListWorkers() ([]*core.Worker, error) {
	rows, err := s.db.Query(`
		SELECT server_id, server_ip, status, last_heartbeat, idle_cpu, max_cpu,
		       idle_ram, max_ram, disk, current_task, total_assigned,
		       total_completed, total_failed, connected_at, disconnected_at, version
		FROM workers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorker(row scannable) (*core.Worker, error) {
	var w core.Worker
	var status int
	var lastHeartbeat, connectedAt, disconnectedAt sql.NullTime
	err := row.Scan(&w.ServerID, &w.ServerIP, &status, &lastHeartbeat, &w.IdleCPU,
		&w.MaxCPU, &w.IdleRAM, &w.MaxRAM, &w.Disk, &w.CurrentTask, &w.TotalAssigned,
		&w.TotalCompleted, &w.TotalFailed, &connectedAt, &disconnectedAt, &w.Version)
	if err != nil {
		return nil, err
	}
	w.Status = core.WorkerStatus(status)
	if lastHeartbeat.Valid {
		w.LastHeartbeat = lastHeartbeat.Time
	}
	if connectedAt.Valid {
		w.ConnectedAt = connectedAt.Time
	}
	if disconnectedAt.Valid {
		w.DisconnectedAt = disconnectedAt.Time
	}
	return &w, nil
}
