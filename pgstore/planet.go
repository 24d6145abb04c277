// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package pgstore

import (
	"database/sql"

	"github.com/alamin-khalid/planet-orchestrator/core"
)

// CreatePlanet implements core.Store.
func (s *Store) CreatePlanet(p *core.Planet) error {
	_, err := s.db.Exec(`
		INSERT INTO planets
			(planet_id, season_id, round_id, current_round_number,
			 next_round_time, status, processing_server_id, error_retry_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)`,
		p.PlanetID, p.SeasonID, p.RoundID, p.CurrentRoundNumber,
		p.NextRoundTime, int(p.Status), p.ProcessingServerID, p.ErrorRetryCount)
	if isUniqueViolation(err) {
		return core.ErrPlanetExists
	}
	if err != nil {
		return err
	}
	p.Version = 1
	return nil
}

// GetPlanet implements core.Store.
func (s *Store) GetPlanet(planetID string) (*core.Planet, error) {
	row := s.db.QueryRow(`
		SELECT planet_id, season_id, round_id, current_round_number,
		       next_round_time, status, last_processed, processing_server_id,
		       error_retry_count, version
		FROM planets WHERE planet_id = $1`, planetID)
	p, err := scanPlanet(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNoSuchPlanet{PlanetID: planetID}
	}
	return p, err
}

// UpdatePlanet implements core.Store, enforcing optimistic concurrency
// on Version.
func (s *Store) UpdatePlanet(p *core.Planet) error {
	res, err := s.db.Exec(`
		UPDATE planets SET
			season_id = $1, round_id = $2, current_round_number = $3,
			next_round_time = $4, status = $5, last_processed = $6,
			processing_server_id = $7, error_retry_count = $8, version = version + 1
		WHERE planet_id = $9 AND version = $10`,
		p.SeasonID, p.RoundID, p.CurrentRoundNumber, p.NextRoundTime,
		int(p.Status), nullTime(p.LastProcessed), p.ProcessingServerID,
		p.ErrorRetryCount, p.PlanetID, p.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetPlanet(p.PlanetID); getErr != nil {
			return getErr
		}
		return core.ErrConflict
	}
	p.Version++
	return nil
}

// DeletePlanet implements core.Store.
func (s *Store) DeletePlanet(planetID string) error {
	existing, err := s.GetPlanet(planetID)
	if err != nil {
		return err
	}
	if existing.Status == core.Processing {
		return core.ErrPlanetProcessing
	}
	_, err = s.db.Exec(`DELETE FROM planets WHERE planet_id = $1`, planetID)
	return err
}

// ListPlanets implements core.Store.
func (s *Store) ListPlanets() ([]*core.Planet, error) {
	rows, err := s.db.Query(`
		SELECT planet_id, season_id, round_id, current_round_number,
		       next_round_time, status, last_processed, processing_server_id,
		       error_retry_count, version
		FROM planets`)
	if err != nil {
		return nil, err
	}
	return scanPlanets(rows)
}

// ListPlanetsByStatus implements core.Store.
func (s *Store) ListPlanetsByStatus(status core.PlanetStatus) ([]*core.Planet, error) {
	rows, err := s.db.Query(`
		SELECT planet_id, season_id, round_id, current_round_number,
		       next_round_time, status, last_processed, processing_server_id,
		       error_retry_count, version
		FROM planets WHERE status = $1`, int(status))
	if err != nil {
		return nil, err
	}
	return scanPlanets(rows)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPlanet(row scannable) (*core.Planet, error) {
	var p core.Planet
	var lastProcessed sql.NullTime
	var status int
	err := row.Scan(&p.PlanetID, &p.SeasonID, &p.RoundID, &p.CurrentRoundNumber,
		&p.NextRoundTime, &status, &lastProcessed, &p.ProcessingServerID,
		&p.ErrorRetryCount, &p.Version)
	if err != nil {
		return nil, err
	}
	p.Status = core.PlanetStatus(status)
	if lastProcessed.Valid {
		p.LastProcessed = lastProcessed.Time
	}
	return &p, nil
}

func scanPlanets(rows *sql.Rows) ([]*core.Planet, error) {
	defer rows.Close()
	var out []*core.Planet
	for rows.Next() {
		p, err := scanPlanet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
