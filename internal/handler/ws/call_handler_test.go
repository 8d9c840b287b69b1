package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/middleware"
	"lingochat-backend/internal/repository/memory"
	"lingochat-backend/internal/service/call"
	"lingochat-backend/internal/service/reaper"
	"lingochat-backend/internal/service/signaling"
	"lingochat-backend/internal/service/turn"
	"lingochat-backend/pkg/constants"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/jwt"
)

type testEnv struct {
	server       *httptest.Server
	jwt          *jwt.JWTManager
	store        *memory.CallStore
	hub          *Hub
	handler      *CallHandler
	conversation uuid.UUID
	alice        uuid.UUID
	bob          uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		jwt:          jwt.NewJWTManager("ws-test-secret", "lingochat-api", time.Hour),
		store:        memory.NewCallStore(),
		conversation: uuid.New(),
		alice:        uuid.New(),
		bob:          uuid.New(),
	}

	directory := memory.NewDirectory()
	directory.AddConversation(domain.Conversation{
		ConversationID:    env.conversation,
		Type:              domain.ConversationDirect,
		VideoCallsEnabled: true,
	}, env.alice, env.bob)

	hub := NewHub(nil, nil)
	handler := NewCallHandler(hub)
	env.hub, env.handler = hub, handler
	svc := call.NewService(env.store, directory, turn.NewIssuer("turn-secret", []string{"relay.test:3478"}, time.Hour),
		call.WithNotifier(handler))
	t.Cleanup(svc.Shutdown)
	handler.Bind(svc, signaling.NewRelay(env.store, nil, hub, nil))

	dispatcher := NewDispatcher(nil)
	handler.Register(dispatcher)

	server := NewServer(hub, dispatcher, middleware.NewAuthenticator(env.jwt, nil), nil, 10)
	router := gin.New()
	router.GET("/ws", server.ServeWS)

	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken(userID, "user-"+userID.String()[:4], "user")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Event: event, Data: raw}))
}

// await reads frames until one with the wanted event arrives and returns it
// together with the events skipped on the way
func await(t *testing.T, conn *websocket.Conn, event string, into any) []string {
	t.Helper()
	var skipped []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s, skipped %v", event, skipped)
		if msg.Event != event {
			skipped = append(skipped, msg.Event)
			continue
		}
		if into != nil {
			require.NoError(t, json.Unmarshal(msg.Data, into))
		}
		return skipped
	}
}

func TestCallFlow_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, env.alice)
	b := env.dial(t, env.bob)
	aliceID, bobID := env.alice.String(), env.bob.String()

	for _, conn := range []*websocket.Conn{a, b} {
		send(t, conn, domain.EventConversationSubscribe, map[string]any{"conversationId": env.conversation})
		await(t, conn, domain.EventConversationSubscribed, nil)
	}

	// A starts a video call
	send(t, a, domain.EventCallInitiate, map[string]any{"conversationId": env.conversation, "type": "video"})
	var initiated CallInitiatedPayload
	await(t, a, domain.EventCallInitiated, &initiated)
	assert.Equal(t, domain.CallModeP2P, initiated.Mode)
	assert.Equal(t, aliceID, initiated.Initiator)
	assert.Len(t, initiated.Participants, 1)
	callID := initiated.CallID

	var announced CallInitiatedPayload
	await(t, b, domain.EventCallInitiated, &announced)
	assert.Equal(t, callID, announced.CallID)

	// B answers
	send(t, b, domain.EventCallJoin, map[string]any{"callId": callID})
	var joined CallJoinedPayload
	await(t, b, domain.EventCallJoined, &joined)
	assert.Equal(t, domain.CallStatusActive, joined.CallSession.Status)
	assert.NotNil(t, joined.CallSession.AnsweredAt)
	assert.Len(t, joined.Participants, 2)
	require.Len(t, joined.IceServers, 2)
	assert.NotEmpty(t, joined.IceServers[1].Username)
	assert.NotEmpty(t, joined.IceServers[1].Credential)

	var peer ParticipantJoinedPayload
	await(t, a, domain.EventCallParticipantJoined, &peer)
	assert.Equal(t, bobID, peer.ParticipantID)

	// B offers to A; only A receives it
	send(t, b, domain.EventCallSignal, domain.SignalEnvelope{
		CallID: callID,
		Signal: domain.Signal{Type: domain.SignalTypeOffer, From: bobID, To: aliceID, SDP: "v=0\r\n"},
	})
	var relayed domain.SignalEnvelope
	await(t, a, domain.EventCallSignalReceived, &relayed)
	assert.Equal(t, bobID, relayed.Signal.From)
	assert.Equal(t, "v=0\r\n", relayed.Signal.SDP)

	// A leaves; the call stays up with B alone
	send(t, a, domain.EventCallLeave, map[string]any{"callId": callID})
	var left ParticipantLeftPayload
	skipped := await(t, b, domain.EventCallParticipantLeft, &left)
	assert.Equal(t, aliceID, left.ParticipantID)
	assert.NotContains(t, skipped, domain.EventCallSignalReceived)

	session, err := env.store.GetSession(testContext(t), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, session.Status)

	// B leaves; the call ends
	send(t, b, domain.EventCallLeave, map[string]any{"callId": callID})
	var ended CallEndedPayload
	await(t, a, domain.EventCallEnded, &ended)
	assert.Equal(t, callID, ended.CallID)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.Equal(t, domain.EndReasonLastLeft, ended.Reason)
	assert.GreaterOrEqual(t, ended.Duration, 0)

	session, err = env.store.GetSession(testContext(t), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, session.Status)
}

func TestCallFlow_ErrorsGoToOriginOnly(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, env.alice)

	send(t, a, "call:teleport", map[string]any{})
	var unknown ErrorPayload
	await(t, a, domain.EventCallError, &unknown)
	assert.Equal(t, apperrors.ErrCodeValidation, unknown.Code)

	send(t, a, domain.EventCallJoin, map[string]any{"callId": uuid.New()})
	var missing ErrorPayload
	await(t, a, domain.EventCallError, &missing)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, missing.Code)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var malformed ErrorPayload
	await(t, a, domain.EventCallError, &malformed)
	assert.Equal(t, apperrors.ErrCodeValidation, malformed.Code)
}

func TestCallFlow_ForgedSignalRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, env.alice)
	b := env.dial(t, env.bob)

	send(t, a, domain.EventCallInitiate, map[string]any{"conversationId": env.conversation, "type": "audio"})
	var initiated CallInitiatedPayload
	await(t, a, domain.EventCallInitiated, &initiated)
	send(t, b, domain.EventCallJoin, map[string]any{"callId": initiated.CallID})
	await(t, b, domain.EventCallJoined, nil)

	send(t, b, domain.EventCallSignal, domain.SignalEnvelope{
		CallID: initiated.CallID,
		Signal: domain.Signal{Type: domain.SignalTypeOffer, From: env.alice.String(), To: env.alice.String(), SDP: "v=0"},
	})
	var rejected ErrorPayload
	await(t, b, domain.EventCallError, &rejected)
	assert.Equal(t, apperrors.ErrCodeSignalSenderMismatch, rejected.Code)
}

func TestServeWS_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestZombieCloseNotifiesRooms(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, env.alice)
	b := env.dial(t, env.bob)

	send(t, b, domain.EventConversationSubscribe, map[string]any{"conversationId": env.conversation})
	await(t, b, domain.EventConversationSubscribed, nil)

	send(t, a, domain.EventCallInitiate, map[string]any{"conversationId": env.conversation, "type": "audio"})
	var initiated CallInitiatedPayload
	await(t, a, domain.EventCallInitiated, &initiated)
	await(t, b, domain.EventCallInitiated, nil)
	room := domain.CallRoom(initiated.CallID)
	require.Equal(t, 1, env.hub.RoomSize(room))

	later := time.Now().Add(2 * time.Hour)
	sweeper := reaper.New(env.store, nil, time.Hour, time.Hour).
		WithClock(func() time.Time { return later }).
		WithNotifier(env.handler)
	require.Equal(t, reaper.Result{Cleaned: 1}, sweeper.RunOnce(testContext(t)))

	for _, conn := range []*websocket.Conn{a, b} {
		var ended CallEndedPayload
		await(t, conn, domain.EventCallEnded, &ended)
		assert.Equal(t, initiated.CallID, ended.CallID)
		assert.Equal(t, domain.CallStatusEnded, ended.Status)
		assert.Equal(t, domain.EndReasonZombieCleanup, ended.Reason)
	}
	assert.Equal(t, 0, env.hub.RoomSize(room))
}

func TestCallFlow_LargeSDPReachesRelay(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, env.alice)
	b := env.dial(t, env.bob)

	send(t, a, domain.EventCallInitiate, map[string]any{"conversationId": env.conversation, "type": "audio"})
	var initiated CallInitiatedPayload
	await(t, a, domain.EventCallInitiated, &initiated)
	send(t, b, domain.EventCallJoin, map[string]any{"callId": initiated.CallID})
	await(t, b, domain.EventCallJoined, nil)

	// short lines inflate the JSON frame well past the SDP size
	sdp := strings.Repeat("a=x\r\n", constants.MaxSDPSize/5)
	require.Len(t, sdp, constants.MaxSDPSize)

	send(t, b, domain.EventCallSignal, domain.SignalEnvelope{
		CallID: initiated.CallID,
		Signal: domain.Signal{Type: domain.SignalTypeOffer, From: env.bob.String(), To: env.alice.String(), SDP: sdp + "a"},
	})
	var rejected ErrorPayload
	await(t, b, domain.EventCallError, &rejected)
	assert.Equal(t, apperrors.ErrCodeInvalidSignal, rejected.Code)

	// the connection survived and still relays a maximal offer
	send(t, b, domain.EventCallSignal, domain.SignalEnvelope{
		CallID: initiated.CallID,
		Signal: domain.Signal{Type: domain.SignalTypeOffer, From: env.bob.String(), To: env.alice.String(), SDP: sdp},
	})
	var relayed domain.SignalEnvelope
	await(t, a, domain.EventCallSignalReceived, &relayed)
	assert.Equal(t, sdp, relayed.Signal.SDP)
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// cancelled when the test's cleanup runs.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
