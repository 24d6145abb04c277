// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package proto_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alamin-khalid/planet-orchestrator/proto"
)

func TestParseInboundHeartbeat(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"heartbeat","idle_cpu":0.5,"max_cpu":4,"idle_ram":2.1,"max_ram":8,"disk":100}`))
	require.NoError(t, err)
	hb, ok := frame.(*proto.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, 0.5, hb.IdleCPU)
	assert.Equal(t, 100.0, hb.Disk)
}

func TestParseInboundUnknownTypeIsNonFatal(t *testing.T) {
	_, err := proto.ParseInbound([]byte(`{"type":"wizbang"}`))
	require.Error(t, err)
	_, ok := err.(proto.ErrUnknownFrameType)
	assert.True(t, ok)
}

func TestParseInboundMalformedJSON(t *testing.T) {
	_, err := proto.ParseInbound([]byte(`not json`))
	require.Error(t, err)
	_, ok := err.(proto.ErrUnknownFrameType)
	assert.False(t, ok, "malformed JSON is a protocol violation, not an unknown-type frame")
}

func TestJobDoneAcceptsCanonicalFieldNames(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"job_done","planet_id":"p1","next_round_time":"2025-01-01T00:01:00Z"}`))
	require.NoError(t, err)
	jd := frame.(*proto.JobDone)
	assert.Equal(t, "p1", jd.PlanetID)
	assert.True(t, jd.NextRoundTime.Equal(time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)))
}

func TestJobDoneAcceptsLegacyFieldNames(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"job_done","map_id":"p1","next_calculation_time":"2025-01-01T00:01:00Z"}`))
	require.NoError(t, err)
	jd := frame.(*proto.JobDone)
	assert.Equal(t, "p1", jd.PlanetID)
	assert.True(t, jd.NextRoundTime.Equal(time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)))
}

func TestJobSkippedAcceptsLegacyFieldNames(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"job_skipped","map_id":"p2","next_calculation_time":"2025-01-01T00:02:00Z","reason":"no map"}`))
	require.NoError(t, err)
	js := frame.(*proto.JobSkipped)
	assert.Equal(t, "p2", js.PlanetID)
	assert.Equal(t, "no map", js.Reason)
}

func TestErrorFrameOptionalPlanetID(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"error","error":"segfault"}`))
	require.NoError(t, err)
	ef := frame.(*proto.ErrorFrame)
	assert.Equal(t, "", ef.PlanetID)
	assert.Equal(t, "segfault", ef.Error)
}

func TestParseInboundDisconnect(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"disconnect"}`))
	require.NoError(t, err)
	_, ok := frame.(*proto.Disconnect)
	assert.True(t, ok)
}

func TestParseInboundStatusUpdate(t *testing.T) {
	frame, err := proto.ParseInbound([]byte(`{"type":"status_update","status":"idle"}`))
	require.NoError(t, err)
	su := frame.(*proto.StatusUpdate)
	assert.Equal(t, "idle", su.Status)
}
