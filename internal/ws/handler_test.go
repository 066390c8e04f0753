package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/codec"
	"github.com/DoyleJ11/crimecity-live/internal/hub"
	"github.com/DoyleJ11/crimecity-live/internal/store"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

func TestEmit_ConcurrentWithDisconnectAll(t *testing.T) {
	h := hub.NewHub(context.Background(), nil)
	out := make(chan []byte, hub.SessionBuffer)
	h.Inbox() <- hub.Join{ID: "s1", Outbox: out}

	s := &session{id: "s1", store: store.NewMemoryStore(), log: zap.NewNop(), hub: h}

	// drain like the writer goroutine does, until the hub releases the outbox
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range out {
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.emit(types.ServerError{Message: "boom"})
		}
	}()
	h.DisconnectAll()
	wg.Wait()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("outbox not closed after DisconnectAll")
	}

	// a released session keeps emitting without effect
	s.emit(types.ServerError{Message: "after release"})
}

func TestEmit_GoesToOwnOutbox(t *testing.T) {
	h := hub.NewHub(context.Background(), nil)
	mine := make(chan []byte, hub.SessionBuffer)
	other := make(chan []byte, hub.SessionBuffer)
	h.Inbox() <- hub.Join{ID: "mine", Outbox: mine}
	h.Inbox() <- hub.Join{ID: "other", Outbox: other}

	s := &session{id: "mine", store: store.NewMemoryStore(), log: zap.NewNop(), hub: h}
	s.sendError(msgCombatIDRequired)

	select {
	case b := <-mine:
		ev, err := codec.Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev != (types.ServerError{Message: msgCombatIDRequired}) {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply")
	}
	if h.Count() != 2 {
		t.Fatalf("expected both sessions to stay joined")
	}
	select {
	case b := <-other:
		t.Fatalf("other session got %s", b)
	default:
	}
}

func TestCombatID(t *testing.T) {
	cases := []struct {
		name   string
		raw    any
		want   string
		wantOK bool
	}{
		{name: "string", raw: "12", want: "12", wantOK: true},
		{name: "empty string", raw: ""},
		{name: "integral number", raw: json.Number("7"), want: "7", wantOK: true},
		{name: "large number keeps digits", raw: json.Number("9007199254740993"), want: "9007199254740993", wantOK: true},
		{name: "fractional number", raw: json.Number("1.5")},
		{name: "exponent", raw: json.Number("1e3")},
		{name: "zero", raw: json.Number("0")},
		{name: "int", raw: 4, want: "4", wantOK: true},
		{name: "missing", raw: nil},
		{name: "bool", raw: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := combatID(tc.raw)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("combatID(%v) = %q, %v; want %q, %v", tc.raw, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestCombatID_FromDecodedCommand(t *testing.T) {
	cmd, err := codec.DecodeCommand([]byte(`{"action":"refresh_combat","combat_id":1.5}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id, ok := combatID(cmd.CombatID); ok {
		t.Fatalf("fractional id accepted as %q", id)
	}
}
