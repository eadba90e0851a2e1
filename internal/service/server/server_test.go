package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/registry"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/presence"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/relay"

	"github.com/gorilla/websocket"
)

type staticValidator struct{ valid bool }

func (v staticValidator) IsValid(context.Context, string) (bool, error) { return v.valid, nil }

type memKeyStore struct {
	records map[string]*model.KeyExchangeRecord
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{records: make(map[string]*model.KeyExchangeRecord)}
}

func (s *memKeyStore) Upsert(_ context.Context, record *model.KeyExchangeRecord) error {
	s.records[record.Channel+"/"+record.User] = record
	return nil
}

func (s *memKeyStore) Get(_ context.Context, channel, user string) (*model.KeyExchangeRecord, error) {
	return s.records[channel+"/"+user], nil
}

func (s *memKeyStore) DeleteByChannel(_ context.Context, channel string) error {
	for k := range s.records {
		if strings.HasPrefix(k, channel+"/") {
			delete(s.records, k)
		}
	}
	return nil
}

type nopConn struct{}

func (nopConn) Emit(model.EventKind, any) error { return nil }
func (nopConn) Close() error                    { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	keys := newMemKeyStore()
	relaySvc := relay.New(reg, staticValidator{valid: true}, keys)
	presenceSvc := presence.New(reg, staticValidator{valid: true}, keys)
	s := NewHttpServer("", nil, reg, presenceSvc, relaySvc)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, reg
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/init"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind model.EventKind, data any) {
	t.Helper()
	frame, err := model.NewFrame(kind, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *model.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame model.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	return &frame
}

func waitForCount(t *testing.T, reg *registry.Registry, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if reg.CountOf(channel) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("channel %s never reached %d members", channel, want)
}

func TestPrivateChatEndToEnd(t *testing.T) {
	ts, reg := newTestServer(t)

	u1 := dialWS(t, ts)
	sendFrame(t, u1, model.EventChatJoin, &model.ChatJoinPayload{
		UserID: "u1", ChannelID: "c1", PublicKey: "pk-u1",
	})
	waitForCount(t, reg, "c1", 1)

	u2 := dialWS(t, ts)
	sendFrame(t, u2, model.EventChatJoin, &model.ChatJoinPayload{
		UserID: "u2", ChannelID: "c1", PublicKey: "pk-u2",
	})
	waitForCount(t, reg, "c1", 2)

	// first member learns the joiner's public key
	frame := readFrame(t, u1)
	if frame.Event != model.EventAliceJoin {
		t.Fatalf("expected on-alice-join, got %s", frame.Event)
	}
	var joined model.AliceJoinPayload
	json.Unmarshal(frame.Data, &joined)
	if joined.PublicKey != "pk-u2" {
		t.Fatalf("unexpected publicKey %q", joined.PublicKey)
	}

	// u1 sends, u2 receives
	body, _ := json.Marshal(&model.MessageRequest{Channel: "c1", Sender: "u1", Message: "hi"})
	resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	frame = readFrame(t, u2)
	if frame.Event != model.EventChatMessage {
		t.Fatalf("expected chat-message, got %s", frame.Event)
	}
	var msg model.ChatMessage
	json.Unmarshal(frame.Data, &msg)
	if msg.Sender != "u1" || msg.Message != "hi" {
		t.Fatalf("unexpected message %+v", msg)
	}

	// u2 acks with the original sender's id; the receipt reaches u1
	sendFrame(t, u2, model.EventReceived, &model.ReceivedPayload{
		Channel: msg.Channel, Sender: msg.Sender, ID: msg.ID,
	})
	frame = readFrame(t, u1)
	if frame.Event != model.EventDelivered {
		t.Fatalf("expected delivered, got %s", frame.Event)
	}

	// u2 disconnects, u1 is told
	u2.Close()
	frame = readFrame(t, u1)
	if frame.Event != model.EventAliceDisconnect {
		t.Fatalf("expected on-alice-disconnect, got %s", frame.Event)
	}
}

func TestThirdJoinerGetsLimitReached(t *testing.T) {
	ts, reg := newTestServer(t)

	for i, id := range []string{"u1", "u2"} {
		conn := dialWS(t, ts)
		sendFrame(t, conn, model.EventChatJoin, &model.ChatJoinPayload{
			UserID: id, ChannelID: "c3", PublicKey: "pk-" + id,
		})
		waitForCount(t, reg, "c3", i+1)
	}

	u3 := dialWS(t, ts)
	sendFrame(t, u3, model.EventChatJoin, &model.ChatJoinPayload{
		UserID: "u3", ChannelID: "c3", PublicKey: "pk-u3",
	})

	frame := readFrame(t, u3)
	if frame.Event != model.EventLimitReached {
		t.Fatalf("expected limit-reached, got %s", frame.Event)
	}
	if got := reg.CountOf("c3"); got != 2 {
		t.Fatalf("membership must stay at 2, got %d", got)
	}
}

func TestMessageStatusCodes(t *testing.T) {
	ts, reg := newTestServer(t)
	reg.Register("u1", "c1", nopConn{})

	cases := []struct {
		name string
		body *model.MessageRequest
		want int
	}{
		{"empty content", &model.MessageRequest{Channel: "c1", Sender: "u1"}, http.StatusBadRequest},
		{"not a member", &model.MessageRequest{Channel: "c1", Sender: "intruder", Message: "x"}, http.StatusUnauthorized},
		{"no receiver", &model.MessageRequest{Channel: "c1", Sender: "u1", Message: "x"}, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		body, _ := json.Marshal(tc.body)
		resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestShareAndGetPublicKey(t *testing.T) {
	ts, reg := newTestServer(t)
	reg.Register("u1", "c1", nopConn{})
	reg.Register("u2", "c1", nopConn{})

	body, _ := json.Marshal(&sharePublicKeyRequest{
		AESKey: "wrapped", PublicKey: "pk-u2", Sender: "u2", Channel: "c1",
	})
	resp, err := http.Post(ts.URL+"/share-public-key", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/get-public-key?userId=u1&channel=c1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var keys model.PublicKeyResponse
	json.NewDecoder(resp.Body).Decode(&keys)
	if keys.PublicKey == nil || *keys.PublicKey != "pk-u2" {
		t.Fatalf("unexpected publicKey %v", keys.PublicKey)
	}
	if keys.AESKey == nil || *keys.AESKey != "wrapped" {
		t.Fatalf("unexpected aesKey %v", keys.AESKey)
	}
}

func TestChannelInfoAndUsers(t *testing.T) {
	ts, reg := newTestServer(t)
	reg.Register("u1", "c1", nopConn{})
	reg.Register("u2", "c1", nopConn{})

	resp, err := http.Get(ts.URL + "/get-users-in-channel?channel=c1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var users usersInChannelResponse
	json.NewDecoder(resp.Body).Decode(&users)
	if users.Count != 2 || users.Mode != model.ModePrivate || users.MaxMembers != 2 {
		t.Fatalf("unexpected response %+v", users)
	}

	resp2, err := http.Get(ts.URL + "/channel-info?channel=c1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var info channelInfoResponse
	json.NewDecoder(resp2.Body).Decode(&info)
	if info.ChannelID != "c1" || info.MemberCount != 2 {
		t.Fatalf("unexpected response %+v", info)
	}
}

func TestWebsocketOriginRestriction(t *testing.T) {
	reg := registry.New()
	keys := newMemKeyStore()
	relaySvc := relay.New(reg, staticValidator{valid: true}, keys)
	presenceSvc := presence.New(reg, staticValidator{valid: true}, keys)
	s := NewHttpServer("", []string{"https://chat.example"}, reg, presenceSvc, relaySvc)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/init"

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Origin": []string{"https://evil.example"},
	}); err == nil {
		t.Fatal("expected handshake from a disallowed origin to fail")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Origin": []string{"https://chat.example"},
	})
	if err != nil {
		t.Fatalf("allowed origin must connect: %v", err)
	}
	conn.Close()

	// non-browser clients carry no Origin header and always pass
	conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("originless dial must connect: %v", err)
	}
	conn.Close()
}

func TestGroupFanOutOverWebsocket(t *testing.T) {
	ts, reg := newTestServer(t)

	conns := make(map[string]*websocket.Conn)
	ids := []string{"u1", "u2", "u3", "u4", "u5"}
	for i, id := range ids {
		conn := dialWS(t, ts)
		conns[id] = conn
		sendFrame(t, conn, model.EventGroupJoin, &model.GroupJoinPayload{
			UserID: id, ChannelID: "c2", PublicKey: "pk-" + id, UserName: "name-" + id,
		})
		waitForCount(t, reg, "c2", i+1)
	}

	body, _ := json.Marshal(&model.MessageRequest{Channel: "c2", Sender: "u3", Message: "hello"})
	resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sent model.MessageResponse
	json.NewDecoder(resp.Body).Decode(&sent)
	if sent.DeliveredTo == nil || *sent.DeliveredTo != 4 {
		t.Fatalf("expected deliveredTo 4, got %+v", sent.DeliveredTo)
	}

	for _, id := range []string{"u1", "u2", "u4", "u5"} {
		for {
			frame := readFrame(t, conns[id])
			if frame.Event != model.EventChatMessage {
				// membership churn events precede the message
				continue
			}
			var msg model.ChatMessage
			json.Unmarshal(frame.Data, &msg)
			if msg.Sender != "u3" || msg.Message != "hello" {
				t.Fatalf("member %s got unexpected message %+v", id, msg)
			}
			break
		}
	}
}
