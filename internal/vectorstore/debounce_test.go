package vectorstore

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_LeadingAndTrailing(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var calls int32
	fn := func() { atomic.AddInt32(&calls, 1) }

	d.Trigger("team", fn)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "leading edge fires immediately")

	for i := 0; i < 5; i++ {
		d.Trigger("team", fn)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond, "repeats coalesce into one trailing fire")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	d := NewDebouncer(time.Minute)
	defer d.Stop()

	var calls int32
	fn := func() { atomic.AddInt32(&calls, 1) }

	d.Trigger("a", fn)
	d.Trigger("b", fn)
	d.Trigger("a", fn)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDebouncer_QuietWindowResets(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var calls int32
	fn := func() { atomic.AddInt32(&calls, 1) }

	d.Trigger("k", fn)
	time.Sleep(80 * time.Millisecond)
	d.Trigger("k", fn)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
