// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command orchestratord is the server-orchestration core daemon: it
// accepts worker websocket connections, runs the Assignment Engine,
// Completion Handler, Health Loop, and Startup Reconciler, and serves
// the administrative HTTP surface over a flag-selected backend with
// optional YAML config and a single listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/backend"
	"github.com/alamin-khalid/planet-orchestrator/config"
	"github.com/alamin-khalid/planet-orchestrator/httpapi"
	"github.com/alamin-khalid/planet-orchestrator/memstore"
	"github.com/alamin-khalid/planet-orchestrator/metrics"
	"github.com/alamin-khalid/planet-orchestrator/orchestrator"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	be := backend.Backend{Implementation: "memory"}
	flag.Var(&be, "backend", "impl[:address] of the storage backend (memory, postgres)")
	bind := flag.String("bind", "", "[ip]:port to listen on, overrides config file")
	metricsBind := flag.String("metrics-bind", "", "[ip]:port for the Prometheus metrics endpoint, overrides config file")
	configFile := flag.String("config", "", "optional YAML configuration file")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load config file")
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *metricsBind != "" {
		cfg.MetricsBind = *metricsBind
	}

	store, err := be.Store()
	if err != nil {
		log.WithError(err).Fatal("failed to construct storage backend")
	}
	// The Pending-Due Index is always in-process: it is a cache, not
	// durable state, even when the Store is Postgres.
	index := memstore.NewIndex()

	clk := clock.New()
	o := orchestrator.New(store, index, clk, log, orchestrator.Config{
		AssignTickInterval: cfg.AssignTickInterval,
		HealthPeriod:       cfg.HealthPeriod,
	})

	if err := o.Reconcile(); err != nil {
		log.WithError(err).Fatal("startup reconciliation failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	go metrics.Observe(ctx, o, cfg.MetricsPeriod, log)

	if cfg.MetricsBind != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.WithField("bind", cfg.MetricsBind).Info("metrics listening")
			if err := http.ListenAndServe(cfg.MetricsBind, mux); err != nil {
				log.WithError(err).Error("metrics listener stopped")
			}
		}()
	}

	router := httpapi.NewRouter(o, log)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		log.Info("shutting down")
		cancel()
		os.Exit(0)
	}()

	log.WithField("bind", cfg.Bind).Info("orchestratord listening")
	if err := http.ListenAndServe(cfg.Bind, router); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
