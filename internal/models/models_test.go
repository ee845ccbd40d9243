package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEvent = `{
	"_id": "E1",
	"process": {"session_id": "S1", "result_id": "R1", "parent_id": "P1", "image1_id": "IMG1", "status": 50, "repr": "image_1"},
	"plugin": {"id": "p1", "type": "INDEX", "version": "1.0", "data_type": "MX"},
	"extra": {"nested": true}
}`

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(sampleEvent))
	require.NoError(t, err)

	assert.Equal(t, "E1", ev.ID)
	assert.Equal(t, "S1", ev.SessionID())
	assert.False(t, ev.IsHeartbeat())
	assert.Equal(t, Refs{Image1ID: "IMG1"}, ev.Refs())
	assert.Equal(t, map[string]interface{}{"nested": true}, ev.Raw["extra"])
}

func TestDecodeEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{nope`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"string", `"E1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}
}

func TestDecodeEvent_HeartbeatAndMissingSession(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"command":"ECHO"}`))
	require.NoError(t, err)
	assert.True(t, ev.IsHeartbeat())
	assert.Empty(t, ev.SessionID())
	assert.True(t, ev.Refs().Empty())
}

func TestDecodeEvent_TolerantFields(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		heartbeat bool
		session   string
		check     func(t *testing.T, ev *Event)
	}{
		{
			name:    "parent id false",
			payload: `{"_id":"E1","process":{"session_id":"S1","parent_id":false,"image1_id":"IMG1"}}`,
			session: "S1",
			check: func(t *testing.T, ev *Event) {
				assert.Empty(t, ev.Process.ParentID)
				assert.Equal(t, "IMG1", ev.Refs().Image1ID)
			},
		},
		{
			name:    "numeric plugin version",
			payload: `{"_id":"E1","process":{"session_id":"S1"},"plugin":{"id":"p1","version":2,"data_type":"mx"}}`,
			session: "S1",
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, "2", ev.Plugin.Version)
				assert.Equal(t, "mx", ev.Plugin.DataType)
			},
		},
		{
			name:    "plugin not an object",
			payload: `{"_id":"E1","process":{"session_id":"S1"},"plugin":"none"}`,
			session: "S1",
			check: func(t *testing.T, ev *Event) {
				assert.Equal(t, Plugin{}, ev.Plugin)
			},
		},
		{name: "numeric session id", payload: `{"process":{"session_id":42}}`},
		{name: "object session id", payload: `{"process":{"session_id":{"$oid":"S1"}}}`},
		{name: "process not an object", payload: `{"_id":"E1","process":"none"}`},
		{name: "echo with ill-typed process", payload: `{"command":"ECHO","process":"none"}`, heartbeat: true},
		{name: "echo with ill-typed plugin", payload: `{"command":"ECHO","plugin":[1],"_id":false}`, heartbeat: true},
		{name: "non-string command", payload: `{"command":1,"process":{"session_id":"S1"}}`, session: "S1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.heartbeat, ev.IsHeartbeat())
			assert.Equal(t, tt.session, ev.SessionID())
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}
}

func TestNewSummary(t *testing.T) {
	ev, err := DecodeEvent([]byte(sampleEvent))
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(NewSummary(ev, now))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"_id": "R1",
		"data_type": "mx",
		"parent_id": "P1",
		"plugin_id": "p1",
		"plugin_type": "index",
		"plugin_version": "1.0",
		"projects": [],
		"repr": "image_1",
		"result_id": "E1",
		"session_id": "S1",
		"status": 50,
		"timestamp": "2024-03-01T12:00:00Z"
	}`, string(data))
}

func TestEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{"empty results", ResultsEnvelope(nil), `{"msg_type":"results","results":[]}`},
		{"detail", DetailEnvelope(Record{"_id": "R1"}), `{"msg_type":"result_details","success":true,"results":{"_id":"R1"}}`},
		{"failure", FailureEnvelope(MsgTypeResults, "store unavailable"), `{"msg_type":"results","success":false,"results":{"error":"store unavailable"}}`},
		{"auth failure", AuthFailureEnvelope(), `{"success":false,"message":"Failed to authenticate token."}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestRefsFromRecord(t *testing.T) {
	assert.Equal(t, Refs{}, RefsFromRecord(Record{}))
	assert.Equal(t, Refs{}, RefsFromRecord(Record{"process": "flat"}))
	assert.Equal(t,
		Refs{Image1ID: "IMG1", Image2ID: "IMG2"},
		RefsFromRecord(Record{"process": map[string]interface{}{"image1_id": "IMG1", "image2_id": "IMG2"}}),
	)
	assert.Equal(t,
		Refs{Image2ID: "IMG2"},
		RefsFromRecord(Record{"process": Record{"image1_id": false, "image2_id": "IMG2"}}),
	)
}

func TestSplitDataType(t *testing.T) {
	ns, class := SplitDataType("MX:Snap")
	assert.Equal(t, "mx", ns)
	assert.Equal(t, "snap", class)

	ns, class = SplitDataType("mx")
	assert.Equal(t, "mx", ns)
	assert.Empty(t, class)
}

func TestRecordClone(t *testing.T) {
	orig := Record{"a": 1}
	clone := orig.Clone()
	clone["b"] = 2
	assert.NotContains(t, orig, "b")
}
