package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventKind(t *testing.T) {
	tests := []struct {
		input   string
		want    EventKind
		wantErr bool
	}{
		{"ping", KindPing, false},
		{"new_job", KindNewJob, false},
		{"team_update", KindTeamUpdate, false},
		{"", "", true},
		{"PING", "", true},
		{"subscribe", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEventKind(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownEventKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventKinds_Directions(t *testing.T) {
	assert.Len(t, EventKinds(), 14)
	for _, kind := range EventKinds() {
		if kind == KindPing {
			assert.Equal(t, Inbound, kind.Direction())
			continue
		}
		assert.Equal(t, Outbound, kind.Direction(), "kind %s", kind)
	}
	assert.Equal(t, Direction(0), EventKind("nope").Direction())
}

func TestNewEnvelope_NilPayloadIsEmptyObject(t *testing.T) {
	env, err := NewEnvelope(KindPong, nil)
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","payload":{}}`, string(data))
}

func TestNewEnvelope_RejectsUnknownKind(t *testing.T) {
	_, err := NewEnvelope(EventKind("bogus"), nil)
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestNewEnvelope_RawPayloadIsCopied(t *testing.T) {
	raw := json.RawMessage(`{"id":"j1"}`)
	env, err := NewEnvelope(KindJobUpdated, raw)
	require.NoError(t, err)

	raw[2] = 'X'
	assert.JSONEq(t, `{"id":"j1"}`, string(env.Payload()))
}

func TestEnvelope_WithRoom(t *testing.T) {
	env, err := NewEnvelope(KindChatDeleted, map[string]string{"chatId": "c1"})
	require.NoError(t, err)

	roomed := env.WithRoom("c1")
	assert.Empty(t, env.RoomID())
	assert.Equal(t, "c1", roomed.RoomID())

	data, err := json.Marshal(roomed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat_deleted","payload":{"chatId":"c1"},"roomId":"c1"}`, string(data))
}

func TestEnvelope_WithPayloadFieldLeavesOriginalUntouched(t *testing.T) {
	env, err := NewEnvelope(KindNewJob, map[string]any{"id": "j1", "title": "Go dev"})
	require.NoError(t, err)

	flagged, err := env.WithPayloadField("matches", true)
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"j1","title":"Go dev"}`, string(env.Payload()))
	assert.JSONEq(t, `{"id":"j1","title":"Go dev","matches":true}`, string(flagged.Payload()))
	assert.Equal(t, KindNewJob, flagged.Kind())
}

func TestEnvelope_WithPayloadFieldRequiresObject(t *testing.T) {
	env, err := NewEnvelope(KindNotification, []string{"a", "b"})
	require.NoError(t, err)

	_, err = env.WithPayloadField("matches", true)
	assert.ErrorIs(t, err, ErrPayloadNotObject)
}

func TestSetField(t *testing.T) {
	t.Run("empty input creates object", func(t *testing.T) {
		got, err := SetField(nil, "chat", map[string]string{"id": "c1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"chat":{"id":"c1"}}`, string(got))
	})

	t.Run("null is rejected", func(t *testing.T) {
		_, err := SetField(json.RawMessage(`null`), "k", 1)
		assert.ErrorIs(t, err, ErrPayloadNotObject)
	})

	t.Run("overwrites existing key", func(t *testing.T) {
		got, err := SetField(json.RawMessage(`{"matches":false}`), "matches", true)
		require.NoError(t, err)
		assert.JSONEq(t, `{"matches":true}`, string(got))
	})
}

func TestNewConnectionAck(t *testing.T) {
	data, err := json.Marshal(NewConnectionAck("user-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection","status":"success","userId":"user-1"}`, string(data))
}
