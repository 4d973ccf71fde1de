package bus

import (
	"testing"
	"time"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
	"github.com/family-mruby/fmrbcore/internal/rtos"
)

func newTestBus() *Bus {
	return New(rtos.NewGoExecutive(), nil)
}

type countingObserver struct {
	sendOK, sendFail, receives int
}

func (o *countingObserver) ObserveBusSend(ok bool) {
	if ok {
		o.sendOK++
	} else {
		o.sendFail++
	}
}

func (o *countingObserver) ObserveBusReceive() { o.receives++ }

func TestObserverSeesSendsAndReceives(t *testing.T) {
	obs := &countingObserver{}
	b := New(rtos.NewGoExecutive(), obs)
	_ = b.CreateQueue(1, Config{Capacity: 1})

	if err := b.Send(1, NewMessage(MsgAppControl, 0, nil), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := b.Send(1, NewMessage(MsgAppControl, 0, nil), 0); !coreerr.IsCode(err, coreerr.CodeTimeout) {
		t.Fatalf("expected second send to fail on a full queue, got %v", err)
	}
	if _, err := b.Receive(1, 10*time.Millisecond); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if obs.sendOK != 1 || obs.sendFail != 1 {
		t.Fatalf("expected 1 ok + 1 failed send observed, got ok=%d fail=%d", obs.sendOK, obs.sendFail)
	}
	if obs.receives != 1 {
		t.Fatalf("expected 1 receive observed, got %d", obs.receives)
	}
}

func TestCreateQueueRejectsDuplicateAndBadCapacity(t *testing.T) {
	b := newTestBus()
	if err := b.CreateQueue(2, Config{Capacity: 4}); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if err := b.CreateQueue(2, Config{Capacity: 4}); !coreerr.IsCode(err, coreerr.CodeInvalidState) {
		t.Fatalf("expected InvalidState for duplicate queue, got %v", err)
	}
	if err := b.CreateQueue(3, Config{Capacity: 0}); !coreerr.IsCode(err, coreerr.CodeInvalidParam) {
		t.Fatalf("expected InvalidParam for zero capacity, got %v", err)
	}
}

func TestSendReceiveFIFO(t *testing.T) {
	b := newTestBus()
	_ = b.CreateQueue(5, Config{Capacity: 4})

	for i := 0; i < 3; i++ {
		msg := NewMessage(MsgAppControl, 0, []byte{byte(i)})
		if err := b.Send(5, msg, 10*time.Millisecond); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		msg, err := b.Receive(5, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if msg.Bytes()[0] != byte(i) {
			t.Fatalf("expected FIFO order, got %d at position %d", msg.Bytes()[0], i)
		}
	}
}

func TestSendToUnknownPidIsNotFound(t *testing.T) {
	b := newTestBus()
	err := b.Send(9, NewMessage(MsgAppControl, 0, nil), 0)
	if !coreerr.IsCode(err, coreerr.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSendTimeoutWhenQueueFull(t *testing.T) {
	b := newTestBus()
	_ = b.CreateQueue(1, Config{Capacity: 1})

	if err := b.Send(1, NewMessage(MsgAppControl, 0, nil), 0); err != nil {
		t.Fatalf("first send should succeed: %v", err)
	}
	err := b.Send(1, NewMessage(MsgAppControl, 0, nil), 0)
	if !coreerr.IsCode(err, coreerr.CodeTimeout) {
		t.Fatalf("expected Timeout on full queue, got %v", err)
	}
	stats, _ := b.QueueStats(1)
	if stats.SendFailures != 1 {
		t.Fatalf("expected 1 send failure, got %d", stats.SendFailures)
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	b := newTestBus()
	_ = b.CreateQueue(1, Config{Capacity: 1})
	_ = b.CreateQueue(2, Config{Capacity: 1})
	_ = b.CreateQueue(3, Config{Capacity: 1})

	// Fill queue 1 to capacity so the broadcast fails exactly there.
	_ = b.Send(1, NewMessage(MsgAppControl, 0, nil), 0)

	count := b.Broadcast(NewMessage(MsgAppControl, 0, []byte("hi")), 0)
	if count != 2 {
		t.Fatalf("expected 2 successful broadcasts, got %d", count)
	}
	stats, _ := b.QueueStats(1)
	if stats.SendFailures != 1 {
		t.Fatalf("expected the full queue's send_failures to increment, got %d", stats.SendFailures)
	}
}

func TestDeleteQueueThenExists(t *testing.T) {
	b := newTestBus()
	_ = b.CreateQueue(4, Config{Capacity: 1})
	if !b.Exists(4) {
		t.Fatal("expected queue to exist")
	}
	if err := b.DeleteQueue(4); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if b.Exists(4) {
		t.Fatal("expected queue to no longer exist")
	}
}
