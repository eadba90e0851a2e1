package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/registry"
)

type fakeConn struct {
	events []model.EventKind
	data   []any
	broken bool
}

func (f *fakeConn) Emit(kind model.EventKind, data any) error {
	if f.broken {
		return errors.New("stale handle")
	}
	f.events = append(f.events, kind)
	f.data = append(f.data, data)
	return nil
}

func (f *fakeConn) Close() error { return nil }

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

func newRelay(valid bool) (*Relay, *registry.Registry, *memKeyStore) {
	reg := registry.New()
	keys := newMemKeyStore()
	return New(reg, staticValidator{valid: valid}, keys), reg, keys
}

func TestSendMessagePrivateDeliversToPeerOnly(t *testing.T) {
	r, reg, _ := newRelay(true)
	sender := &fakeConn{}
	receiver := &fakeConn{}
	reg.Register("u1", "c1", sender)
	reg.Register("u2", "c1", receiver)

	res, err := r.SendMessage(context.Background(), &model.MessageRequest{
		Channel: "c1", Sender: "u1", Message: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Group {
		t.Fatal("expected private delivery")
	}
	if len(sender.events) != 0 {
		t.Fatal("sender must not receive its own message")
	}
	if len(receiver.events) != 1 || receiver.events[0] != model.EventChatMessage {
		t.Fatalf("unexpected receiver events: %v", receiver.events)
	}
	envelope := receiver.data[0].(*model.ChatMessage)
	if envelope.Sender != "u1" || envelope.Message != "hi" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestSendMessageGroupDeliversToAllOthers(t *testing.T) {
	r, reg, _ := newRelay(true)
	conns := map[string]*fakeConn{}
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		conns[id] = &fakeConn{}
		reg.Register(id, "c2", conns[id])
	}
	reg.SetMode("c2", model.ModeGroup)

	res, err := r.SendMessage(context.Background(), &model.MessageRequest{
		Channel: "c2", Sender: "u3", Message: "hello all",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Group || res.DeliveredTo != 4 {
		t.Fatalf("expected deliveredTo=4, got %+v", res)
	}
	for id, conn := range conns {
		want := 1
		if id == "u3" {
			want = 0
		}
		if len(conn.events) != want {
			t.Fatalf("member %s received %d messages, want %d", id, len(conn.events), want)
		}
	}
}

func TestSendMessageGroupPartialDelivery(t *testing.T) {
	r, reg, _ := newRelay(true)
	reg.Register("u1", "c1", &fakeConn{})
	reg.Register("u2", "c1", &fakeConn{broken: true})
	reg.Register("u3", "c1", &fakeConn{})
	reg.SetMode("c1", model.ModeGroup)

	res, err := r.SendMessage(context.Background(), &model.MessageRequest{
		Channel: "c1", Sender: "u1", Message: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.DeliveredTo != 1 {
		t.Fatalf("expected deliveredTo=1, got %d", res.DeliveredTo)
	}
}

func TestSendMessageErrors(t *testing.T) {
	ctx := context.Background()

	r, _, _ := newRelay(true)
	if _, err := r.SendMessage(ctx, &model.MessageRequest{Channel: "c1", Sender: "u1"}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	r, _, _ = newRelay(false)
	if _, err := r.SendMessage(ctx, &model.MessageRequest{Channel: "gone", Sender: "u1", Message: "x"}); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}

	r, reg, _ := newRelay(true)
	reg.Register("u2", "c1", &fakeConn{})
	if _, err := r.SendMessage(ctx, &model.MessageRequest{Channel: "c1", Sender: "u1", Message: "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	r, reg, _ = newRelay(true)
	reg.Register("u1", "c1", &fakeConn{})
	if _, err := r.SendMessage(ctx, &model.MessageRequest{Channel: "c1", Sender: "u1", Message: "x"}); !errors.Is(err, ErrReceiverUnavailable) {
		t.Fatalf("expected ErrReceiverUnavailable, got %v", err)
	}

	r, reg, _ = newRelay(true)
	reg.Register("u1", "c1", &fakeConn{})
	reg.SetMode("c1", model.ModeGroup)
	if _, err := r.SendMessage(ctx, &model.MessageRequest{Channel: "c1", Sender: "u1", Message: "x"}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestSharePublicKeyRoundTrip(t *testing.T) {
	r, reg, _ := newRelay(true)
	reg.Register("u1", "c1", &fakeConn{})
	reg.Register("u2", "c1", &fakeConn{})

	err := r.SharePublicKey(context.Background(), &model.KeyExchangeRecord{
		Channel: "c1", User: "u2", PublicKey: "pk-u2", AESKey: "wrapped",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := r.GetPublicKey(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.PublicKey == nil || *resp.PublicKey != "pk-u2" {
		t.Fatalf("unexpected publicKey: %v", resp.PublicKey)
	}
	if resp.AESKey == nil || *resp.AESKey != "wrapped" {
		t.Fatalf("unexpected aesKey: %v", resp.AESKey)
	}
}

func TestGetPublicKeyNullsWhenAbsent(t *testing.T) {
	r, reg, _ := newRelay(true)
	reg.Register("u1", "c1", &fakeConn{})
	reg.Register("u2", "c1", &fakeConn{})

	resp, err := r.GetPublicKey(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.PublicKey != nil || resp.AESKey != nil {
		t.Fatalf("expected null fields, got %+v", resp)
	}
}

func TestGetGroupPublicKeys(t *testing.T) {
	r, reg, _ := newRelay(true)
	for _, id := range []string{"u1", "u2", "u3"} {
		reg.Register(id, "c1", &fakeConn{})
	}
	reg.SetMode("c1", model.ModeGroup)

	r.SharePublicKey(context.Background(), &model.KeyExchangeRecord{
		Channel: "c1", User: "u2", PublicKey: "pk-u2",
	})

	keys, members, err := r.GetGroupPublicKeys(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || len(keys) != 2 {
		t.Fatalf("expected 2 members, got %v / %v", members, keys)
	}
	if keys["u2"].PublicKey == nil || *keys["u2"].PublicKey != "pk-u2" {
		t.Fatalf("unexpected key for u2: %+v", keys["u2"])
	}
	if keys["u3"].PublicKey != nil {
		t.Fatal("expected null publicKey for u3")
	}
}

func TestGetGroupPublicKeysRejectsPrivateChannel(t *testing.T) {
	r, reg, _ := newRelay(true)
	reg.Register("u1", "c1", &fakeConn{})
	reg.Register("u2", "c1", &fakeConn{})

	if _, _, err := r.GetGroupPublicKeys(context.Background(), "c1", "u1"); !errors.Is(err, ErrNotGroupChannel) {
		t.Fatalf("expected ErrNotGroupChannel, got %v", err)
	}
}
