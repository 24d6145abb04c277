// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package session implements the per-worker bidirectional message
// channel. One Session is created per connected worker; it owns the
// websocket connection, parses inbound frames, serializes outbound
// frames, and tracks the connection lifecycle from accept through
// teardown.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/alamin-khalid/planet-orchestrator/core"
	"github.com/alamin-khalid/planet-orchestrator/proto"
	"github.com/alamin-khalid/planet-orchestrator/registry"
)

// outboundQueueCapacity bounds each session's outbound queue: once
// full, the Assignment Engine aborts rather than blocking on a stuck
// worker.
const outboundQueueCapacity = 16

// CompletionHandler is the subset of the Completion Handler that the
// Session Layer dispatches terminal job frames to. Defined here, not
// imported from the completion package, so session depends only on
// the shape it needs.
type CompletionHandler interface {
	JobDone(serverID string, f *proto.JobDone) error
	JobSkipped(serverID string, f *proto.JobSkipped) error
	JobError(serverID string, f *proto.ErrorFrame) error
}

// Manager owns every live Session and is the Session Layer's entry
// point from the transport (an HTTP handler performing the websocket
// upgrade).
type Manager struct {
	Store      core.Store
	Registry   *registry.Registry
	Completion CompletionHandler
	Clock      clock.Clock
	Logger     logrus.FieldLogger

	// OnWorkerIdle is called synchronously on the session's read loop
	// goroutine whenever a status_update frame moves a worker to idle,
	// so the Assignment Engine can be nudged immediately rather than
	// waiting for its next tick.
	OnWorkerIdle func(serverID string)
}

// Session is one worker's bidirectional channel.
type Session struct {
	serverID string
	// sessionID identifies a single connection in log lines, distinct
	// from serverID which is stable across reconnects.
	sessionID string
	conn      *websocket.Conn
	mgr       *Manager

	outbound  chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// ServerID implements registry.Session.
func (s *Session) ServerID() string { return s.serverID }

// Accept performs session-establishment for a new websocket
// connection, then starts the read and write loops. It blocks until
// the session closes.
func (mgr *Manager) Accept(ctx context.Context, serverID, serverIP string, conn *websocket.Conn) error {
	now := mgr.Clock.Now()

	w, err := mgr.Store.GetWorker(serverID)
	if _, ok := err.(core.ErrNoSuchWorker); ok {
		w = &core.Worker{
			ServerID:      serverID,
			ServerIP:      serverIP,
			Status:        core.NotInitialized,
			LastHeartbeat: now,
			ConnectedAt:   now,
		}
	} else if err != nil {
		return err
	} else {
		// Reconnect: any prior in-flight work is reclaimed by the
		// Health Loop; the caller is expected to send
		// status_update:idle once it has reloaded its own state.
		w.ServerIP = serverIP
		w.Status = core.NotInitialized
		w.CurrentTask = ""
		w.LastHeartbeat = now
		w.ConnectedAt = now
		w.DisconnectedAt = time.Time{}
	}
	if err := mgr.Store.UpsertWorker(w); err != nil {
		return err
	}

	sess := &Session{
		serverID:  serverID,
		sessionID: uuid.NewV4().String(),
		conn:      conn,
		mgr:       mgr,
		outbound:  make(chan []byte, outboundQueueCapacity),
		closed:    make(chan struct{}),
	}
	mgr.Registry.Attach(serverID, sess, w.Status, w.TotalCompleted, w.ConnectedAt.UnixNano())

	mgr.logger().WithField("server_id", serverID).WithField("session_id", sess.sessionID).Info("worker connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.writeLoop()
	}()
	go func() {
		defer wg.Done()
		sess.readLoop(ctx)
	}()
	wg.Wait()
	return nil
}

func (mgr *Manager) logger() logrus.FieldLogger {
	if mgr.Logger != nil {
		return mgr.Logger
	}
	return logrus.StandardLogger()
}

// readLoop processes inbound frames until the connection closes or
// the context is canceled. Frames within a session are processed in
// arrival order.
func (s *Session) readLoop(ctx context.Context) {
	defer s.teardown("channel closed")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) dispatch(raw []byte) {
	log := s.mgr.logger().WithField("server_id", s.serverID)

	frame, err := proto.ParseInbound(raw)
	if err != nil {
		if _, ok := err.(proto.ErrUnknownFrameType); ok {
			log.WithError(err).Warn("ignoring unrecognized frame type")
			return
		}
		log.WithError(err).Warn("malformed frame, closing session")
		s.Close()
		return
	}

	switch f := frame.(type) {
	case *proto.Heartbeat:
		s.handleHeartbeat(f)
	case *proto.StatusUpdate:
		s.handleStatusUpdate(f)
	case *proto.JobDone:
		if err := s.mgr.Completion.JobDone(s.serverID, f); err != nil {
			log.WithError(err).Warn("job_done handling failed")
		}
	case *proto.JobSkipped:
		if err := s.mgr.Completion.JobSkipped(s.serverID, f); err != nil {
			log.WithError(err).Warn("job_skipped handling failed")
		}
	case *proto.ErrorFrame:
		if err := s.mgr.Completion.JobError(s.serverID, f); err != nil {
			log.WithError(err).Warn("error frame handling failed")
		}
	case *proto.Disconnect:
		s.teardown("peer disconnect")
	}
}

func (s *Session) handleHeartbeat(f *proto.Heartbeat) {
	w, err := s.mgr.Store.GetWorker(s.serverID)
	if err != nil {
		return
	}
	w.IdleCPU, w.MaxCPU, w.IdleRAM, w.MaxRAM, w.Disk = f.IdleCPU, f.MaxCPU, f.IdleRAM, f.MaxRAM, f.Disk
	w.LastHeartbeat = s.mgr.Clock.Now()
	_ = s.mgr.Store.UpsertWorker(w)
}

func (s *Session) handleStatusUpdate(f *proto.StatusUpdate) {
	var status core.WorkerStatus
	switch f.Status {
	case "idle":
		status = core.Idle
	case "busy":
		status = core.Busy
	case "not_initialized":
		status = core.NotInitialized
	default:
		s.mgr.logger().WithField("server_id", s.serverID).WithField("status", f.Status).Warn("unknown status_update value")
		return
	}

	w, err := s.mgr.Store.GetWorker(s.serverID)
	if err != nil {
		return
	}
	w.Status = status
	if err := s.mgr.Store.UpsertWorker(w); err != nil {
		return
	}
	s.mgr.Registry.SetStatus(s.serverID, status)

	if status == core.Idle && s.mgr.OnWorkerIdle != nil {
		s.mgr.OnWorkerIdle(s.serverID)
	}
}

// teardown marks the worker offline and detaches the session. It is
// idempotent: only the first caller (readLoop exit or an explicit
// disconnect frame) takes effect. A session that has already been
// superseded by a reconnect leaves the worker row alone: the
// replacement session owns it now.
func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.mgr.Registry.DetachIfCurrent(s.serverID, s) {
			w, err := s.mgr.Store.GetWorker(s.serverID)
			if err == nil {
				w.Status = core.Offline
				w.DisconnectedAt = s.mgr.Clock.Now()
				_ = s.mgr.Store.UpsertWorker(w)
			}
		}
		s.mgr.logger().WithField("server_id", s.serverID).WithField("reason", reason).Info("worker session closed")
		_ = s.conn.Close()
	})
}

// writeLoop serializes outbound frames in submission order.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case msg, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.teardown("write error")
				return
			}
		}
	}
}

func (s *Session) enqueue(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outbound <- raw:
		return nil
	default:
		return core.ErrQueueFull
	}
}

// SendAssignJob implements registry.Session.
func (s *Session) SendAssignJob(planetID string, seasonID, roundID int) error {
	return s.enqueue(&proto.AssignJob{
		Type:     proto.TypeAssignJob,
		PlanetID: planetID,
		SeasonID: seasonID,
		RoundID:  roundID,
	})
}

// SendCommand implements registry.Session.
func (s *Session) SendCommand(command string, params map[string]interface{}) error {
	return s.enqueue(&proto.Command{
		Type:    proto.TypeCommand,
		Command: command,
		Params:  params,
	})
}

// Close implements registry.Session. It is safe to call from the
// Health Loop to force-close a non-responding worker's session.
func (s *Session) Close() {
	s.teardown("forced close")
}
