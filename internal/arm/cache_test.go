package arm

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testCache() *Cache {
	return NewCache(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestArmAndGetDEK(t *testing.T) {
	c := testCache()
	dek := []byte{1, 2, 3, 4}
	c.Arm("u1", "w1", dek, time.Minute)

	got := c.GetDEK("u1", "w1")
	if !bytes.Equal(got, dek) {
		t.Fatalf("GetDEK = %v, want %v", got, dek)
	}
	if c.GetDEK("u1", "w2") != nil {
		t.Fatal("unarmed wallet returned a DEK")
	}

	st := c.GetStatus("u1", "w1")
	if !st.Armed || st.ExpiresAt.Before(time.Now()) {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestArmCopiesCallerBuffer(t *testing.T) {
	c := testCache()
	dek := []byte{9, 9, 9, 9}
	c.Arm("u1", "w1", dek, time.Minute)

	// Mutating the caller's buffer must not reach the cached copy.
	dek[0] = 0
	if got := c.GetDEK("u1", "w1"); got[0] != 9 {
		t.Fatal("cache shares the caller's buffer")
	}
}

func TestSessionExpiry(t *testing.T) {
	c := testCache()
	c.Arm("u1", "w1", []byte{1}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if c.GetDEK("u1", "w1") != nil {
		t.Fatal("expired session still returned a DEK")
	}
	if c.GetStatus("u1", "w1").Armed {
		t.Fatal("expired session reports armed")
	}
}

func TestExtend(t *testing.T) {
	c := testCache()
	c.Arm("u1", "w1", []byte{1}, 30*time.Millisecond)
	if !c.Extend("u1", "w1", time.Minute) {
		t.Fatal("Extend on live session returned false")
	}
	time.Sleep(50 * time.Millisecond)
	if c.GetDEK("u1", "w1") == nil {
		t.Fatal("extended session expired")
	}
	if c.Extend("u1", "nope", time.Minute) {
		t.Fatal("Extend on missing session returned true")
	}
}

func TestDisarmZeroises(t *testing.T) {
	c := testCache()
	c.Arm("u1", "w1", []byte{7, 7, 7}, time.Minute)
	held := c.GetDEK("u1", "w1")

	c.Disarm("u1", "w1")
	if c.GetDEK("u1", "w1") != nil {
		t.Fatal("disarmed session still live")
	}
	// The cache owned that buffer; disarm must wipe it.
	for _, b := range held {
		if b != 0 {
			t.Fatal("DEK not zeroised on disarm")
		}
	}
}

func TestZeroizeAll(t *testing.T) {
	c := testCache()
	c.Arm("u1", "w1", []byte{1}, time.Minute)
	c.Arm("u2", "w2", []byte{2}, time.Minute)

	c.ZeroizeAll()
	if c.GetDEK("u1", "w1") != nil || c.GetDEK("u2", "w2") != nil {
		t.Fatal("sessions survived ZeroizeAll")
	}
}

func TestRearmReplacesSession(t *testing.T) {
	c := testCache()
	c.Arm("u1", "w1", []byte{1}, time.Minute)
	first := c.GetStatus("u1", "w1").ArmedAt

	time.Sleep(5 * time.Millisecond)
	c.Arm("u1", "w1", []byte{2}, time.Minute)
	if got := c.GetDEK("u1", "w1"); got[0] != 2 {
		t.Fatal("re-arm did not replace the DEK")
	}
	if !c.GetStatus("u1", "w1").ArmedAt.After(first) {
		t.Fatal("re-arm did not reset armedAt")
	}
}
