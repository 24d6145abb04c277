// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memstore

import (
	"github.com/alamin-khalid/planet-orchestrator/core"
)

func (s *Store) CreatePlanet(p *core.Planet) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.planets[p.PlanetID]; ok {
		return core.ErrPlanetExists
	}
	cp := *p
	cp.Version = 1
	s.planets[p.PlanetID] = &memPlanet{data: cp, version: 1}
	p.Version = 1
	return nil
}

func (s *Store) GetPlanet(planetID string) (*core.Planet, error) {
	s.lock()
	defer s.unlock()

	mp, ok := s.planets[planetID]
	if !ok {
		return nil, core.ErrNoSuchPlanet{PlanetID: planetID}
	}
	cp := mp.data
	return &cp, nil
}

func (s *Store) UpdatePlanet(p *core.Planet) error {
	s.lock()
	defer s.unlock()

	mp, ok := s.planets[p.PlanetID]
	if !ok {
		return core.ErrNoSuchPlanet{PlanetID: p.PlanetID}
	}
	if mp.version != p.Version {
		return core.ErrConflict
	}
	cp := *p
	mp.version++
	cp.Version = mp.version
	mp.data = cp
	p.Version = mp.version
	return nil
}

func (s *Store) DeletePlanet(planetID string) error {
	s.lock()
	defer s.unlock()

	mp, ok := s.planets[planetID]
	if !ok {
		return core.ErrNoSuchPlanet{PlanetID: planetID}
	}
	if mp.data.Status == core.Processing {
		return core.ErrPlanetProcessing
	}
	delete(s.planets, planetID)
	return nil
}

func (s *Store) ListPlanets() ([]*core.Planet, error) {
	s.lock()
	defer s.unlock()

	result := make([]*core.Planet, 0, len(s.planets))
	for _, mp := range s.planets {
		cp := mp.data
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) ListPlanetsByStatus(status core.PlanetStatus) ([]*core.Planet, error) {
	s.lock()
	defer s.unlock()

	var result []*core.Planet
	for _, mp := range s.planets {
		if mp.data.Status == status {
			cp := mp.data
			result = append(result, &cp)
		}
	}
	return result, nil
}
