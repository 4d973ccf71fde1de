package mempool

import (
	"testing"

	"github.com/family-mruby/fmrbcore/internal/coreerr"
)

func TestCreateAndDestroyHandle(t *testing.T) {
	r := NewRegistry(nil)
	h, err := r.CreateHandle(make([]byte, 4096))
	if err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}
	if !h.Valid() {
		t.Fatal("expected a valid handle")
	}
	if err := r.DestroyHandle(h); err != nil {
		t.Fatalf("DestroyHandle: %v", err)
	}
	if _, err := r.Stats(h); !coreerr.IsCode(err, coreerr.CodeNotFound) {
		t.Fatalf("expected NotFound after destroy, got %v", err)
	}
}

func TestMallocFreeRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	h, _ := r.CreateHandle(make([]byte, 4096))

	buf, err := r.Malloc(h, 128)
	if err != nil || buf == nil {
		t.Fatalf("Malloc failed: buf=%v err=%v", buf, err)
	}
	for i := range buf {
		buf[i] = byte(i)
	}

	stats, _ := r.Stats(h)
	if stats.UsedBlocks != 1 || stats.Used < 128 {
		t.Fatalf("unexpected stats after malloc: %+v", stats)
	}

	if err := r.Free(h, buf); err != nil {
		t.Fatalf("Free: %v", err)
	}
	stats, _ = r.Stats(h)
	if stats.UsedBlocks != 0 || stats.FreeBlocks != 1 {
		t.Fatalf("expected fully coalesced pool after free, got %+v", stats)
	}
}

func TestPoolExhaustionThenFreeSucceeds(t *testing.T) {
	r := NewRegistry(nil)
	h, _ := r.CreateHandle(make([]byte, 4096))

	var blocks [][]byte
	for {
		b, err := r.Malloc(h, 1024)
		if err != nil {
			t.Fatalf("Malloc error: %v", err)
		}
		if b == nil {
			break
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		t.Fatal("expected at least one successful allocation before OOM")
	}

	stats, _ := r.Stats(h)
	if stats.Free >= 1024 {
		t.Fatalf("expected free space < 1024 at exhaustion, got %d", stats.Free)
	}

	if err := r.Free(h, blocks[0]); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if b, err := r.Malloc(h, 1024); err != nil || b == nil {
		t.Fatalf("expected malloc to succeed after a free, got buf=%v err=%v", b, err)
	}
}

func TestIsolationAcrossPools(t *testing.T) {
	r := NewRegistry(nil)
	h1, _ := r.CreateHandle(make([]byte, 256))
	h2, _ := r.CreateHandle(make([]byte, 256))

	b1, _ := r.Malloc(h1, 64)
	b2, _ := r.Malloc(h2, 64)

	for i := range b1 {
		b1[i] = 0xAA
	}
	for i := range b2 {
		b2[i] = 0x00
	}

	for i, v := range b2 {
		if v != 0x00 {
			t.Fatalf("pool 2 byte %d corrupted by pool 1 write: %x", i, v)
		}
	}
}

func TestFreeOfNilIsNoOp(t *testing.T) {
	r := NewRegistry(nil)
	h, _ := r.CreateHandle(make([]byte, 256))
	if err := r.Free(h, nil); err != nil {
		t.Fatalf("Free(nil) should be a no-op, got %v", err)
	}
}

func TestReallocGrowsAndPreservesData(t *testing.T) {
	r := NewRegistry(nil)
	h, _ := r.CreateHandle(make([]byte, 4096))

	buf, _ := r.Malloc(h, 32)
	copy(buf, []byte("hello world"))

	grown, err := r.Realloc(h, buf, 64)
	if err != nil || grown == nil {
		t.Fatalf("Realloc failed: %v", err)
	}
	if string(grown[:11]) != "hello world" {
		t.Fatalf("expected data preserved across realloc, got %q", grown[:11])
	}
}

func TestCheckDetectsHealthyPool(t *testing.T) {
	r := NewRegistry(nil)
	h, _ := r.CreateHandle(make([]byte, 1024))
	_, _ = r.Malloc(h, 100)
	_, _ = r.Malloc(h, 200)
	if err := r.Check(h); err != nil {
		t.Fatalf("expected healthy pool to pass Check, got %v", err)
	}
}

func TestMallocBadHandle(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Malloc(Invalid, 16); !coreerr.IsCode(err, coreerr.CodeNotFound) {
		t.Fatalf("expected NotFound for bad handle, got %v", err)
	}
}

type countingObserver struct {
	ok, oom int
}

func (o *countingObserver) ObserveAlloc(ok bool) {
	if ok {
		o.ok++
	} else {
		o.oom++
	}
}

func TestObserverSeesAllocAndOOM(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(obs)
	h, _ := r.CreateHandle(make([]byte, 256))

	if _, err := r.Malloc(h, 64); err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if _, err := r.Malloc(h, 4096); err != nil {
		t.Fatalf("Malloc (OOM case): %v", err)
	}

	if obs.ok != 1 || obs.oom != 1 {
		t.Fatalf("expected 1 ok + 1 oom observed, got ok=%d oom=%d", obs.ok, obs.oom)
	}
}
