// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package config loads orchestratord's global YAML configuration file
// into a typed struct rather than a bare map[string]interface{}.
package config

import (
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is orchestratord's optional YAML configuration. Every field
// has a workable zero value, so the file itself is optional and the
// command-line flags alone are enough to run.
type Config struct {
	Bind        string `yaml:"bind"`
	MetricsBind string `yaml:"metrics_bind"`

	// Intervals are given in the YAML file either as a duration
	// string such as "5s" or as an integer count of nanoseconds; a
	// config file normally omits these and takes the defaults below.
	AssignTickInterval time.Duration `yaml:"assign_tick_interval"`
	HealthPeriod       time.Duration `yaml:"health_period"`
	MetricsPeriod      time.Duration `yaml:"metrics_period"`
}

// Default returns the zero-config defaults used when no file is
// given.
func Default() Config {
	return Config{
		Bind:               ":5932",
		MetricsBind:        ":9100",
		AssignTickInterval: 5 * time.Second,
		HealthPeriod:       5 * time.Second,
		MetricsPeriod:      10 * time.Second,
	}
}

// Load reads and parses a YAML configuration file, starting from
// Default() so a partial file only overrides what it mentions.
func Load(filename string) (Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}
	bytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
