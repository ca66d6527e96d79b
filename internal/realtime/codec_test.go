package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/jobpulse/internal/domain"
)

type mockInboundHandler struct {
	kind     domain.EventKind
	handleFn func(ctx context.Context, conn *Conn, frame domain.InboundFrame) error
}

func (m *mockInboundHandler) Kind() domain.EventKind { return m.kind }

func (m *mockInboundHandler) Handle(ctx context.Context, conn *Conn, frame domain.InboundFrame) error {
	if m.handleFn != nil {
		return m.handleFn(ctx, conn, frame)
	}
	return nil
}

func TestCodec_Decode(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"ping", `{"type":"ping"}`, nil},
		{"ping with payload", `{"type":"ping","payload":{"ts":1}}`, nil},
		{"empty", ``, domain.ErrMalformedFrame},
		{"whitespace", `   `, domain.ErrMalformedFrame},
		{"array", `[1,2]`, domain.ErrMalformedFrame},
		{"plain text", `hello`, domain.ErrMalformedFrame},
		{"truncated", `{"type":"pi`, domain.ErrMalformedFrame},
		{"unknown type", `{"type":"subscribe"}`, domain.ErrUnknownEventKind},
		{"missing type", `{"payload":{}}`, domain.ErrUnknownEventKind},
		{"outbound kind from client", `{"type":"new_job"}`, domain.ErrUnknownEventKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := codec.Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.KindPing, frame.Kind)
		})
	}
}

func TestCodec_Encode(t *testing.T) {
	codec := NewCodec()
	env, err := domain.NewEnvelope(domain.KindMessagesRead, map[string]string{"chatId": "c1"})
	require.NoError(t, err)

	data, err := codec.Encode(env.WithRoom("c1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"messages_read","payload":{"chatId":"c1"},"roomId":"c1"}`, string(data))
}

func TestCodec_RegisterRejectsOutboundKind(t *testing.T) {
	codec := NewCodec()
	err := codec.Register(&mockInboundHandler{kind: domain.KindNewJob})
	assert.Error(t, err)
}

func TestCodec_DispatchRoutesToHandler(t *testing.T) {
	codec := NewCodec()
	var got domain.InboundFrame
	require.NoError(t, codec.Register(&mockInboundHandler{
		kind: domain.KindPing,
		handleFn: func(_ context.Context, _ *Conn, frame domain.InboundFrame) error {
			got = frame
			return nil
		},
	}))

	err := codec.Dispatch(context.Background(), nil, []byte(`{"type":"ping","payload":{"n":7}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.KindPing, got.Kind)
	assert.JSONEq(t, `{"n":7}`, string(got.Payload))
}

func TestCodec_DispatchWithoutHandler(t *testing.T) {
	codec := NewCodec()
	err := codec.Dispatch(context.Background(), nil, []byte(`{"type":"ping"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownEventKind)
}

func TestPingHandler_RepliesWithPong(t *testing.T) {
	codec := NewCodec()
	require.NoError(t, codec.Register(NewPingHandler(codec)))
	ft := newFakeTransport()
	conn := testConn(t, clockwork.NewRealClock(), "alice", ft)

	require.NoError(t, codec.Dispatch(context.Background(), conn, []byte(`{"type":"ping"}`)))

	msgs := waitForMessages(t, ft, 1)
	var pong map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &pong))
	assert.JSONEq(t, `"pong"`, string(pong["type"]))
}
