package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-roomcast/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("TASK_CREATED", nil)
	assert.Equal(t, "TASK_CREATED", env.Type)
	assert.NotNil(t, env.Payload, "expected missing payload to become an empty object")
	assert.Empty(t, env.UserId)

	data, err := serializeEnvelope(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"TASK_CREATED","payload":{},"timestamp":0}`, string(data))
}

func TestPresenceEnvelope(t *testing.T) {
	env := PresenceEnvelope(types.EventUserLeft, "project-1", types.User{Id: "u1", Name: "Ada"})
	env.Timestamp = 42

	data, err := serializeEnvelope(env)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"USER_LEFT","payload":{"userId":"u1","userName":"Ada","projectId":"project-1"},"timestamp":42,"userId":"u1"}`,
		string(data))
}

func TestConnectedEnvelope(t *testing.T) {
	env := ConnectedEnvelope("project-1", "abc", 3)
	assert.Equal(t, types.EventConnected, env.Type)
	assert.Equal(t, map[string]any{
		"roomId":          "project-1",
		"connectionId":    "abc",
		"connectionCount": 3,
	}, env.Payload)
	assert.Empty(t, env.UserId, "expected connected envelope to carry no top-level user id")
}

func Test_parseEnvelope(t *testing.T) {
	tcases := []struct {
		name    string
		raw     string
		typ     string
		wantErr bool
	}{
		{name: "ping", raw: `{"type":"PING"}`, typ: types.EventPing},
		{name: "with payload", raw: `{"type":"CURSOR","payload":{"x":1},"timestamp":5}`, typ: "CURSOR"},
		{name: "empty object", raw: `{}`, typ: ""},
		{name: "malformed", raw: `{"type":`, wantErr: true},
		{name: "wrong payload shape", raw: `{"type":"PING","payload":[1,2]}`, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tc.raw))
			if tc.wantErr {
				assert.Error(t, err, "expected parse error for %s", tc.raw)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.typ, env.Type)
		})
	}
}

func TestNow(t *testing.T) {
	assert.InDelta(t, time.Now().UnixMilli(), Now(), 1000, "expected milliseconds since epoch")
}
