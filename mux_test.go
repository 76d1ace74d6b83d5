package canmon

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeDriver is a scriptable in-memory Driver. Recv pops from a step list,
// an empty list behaves like a quiet bus (timeout, nil frame).
type fakeDriver struct {
	mu       sync.Mutex
	steps    []fakeStep
	connects atomic.Int32
	failNext atomic.Int32 // Connect failures remaining
}

type fakeStep struct {
	frame *Frame
	err   error
}

func (d *fakeDriver) Connect() error {
	if d.failNext.Load() > 0 {
		d.failNext.Add(-1)
		return errors.New("adapter unavailable")
	}
	d.connects.Add(1)
	return nil
}

func (d *fakeDriver) Disconnect() error { return nil }

func (d *fakeDriver) Recv() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.steps) == 0 {
		// Quiet bus: emulate the driver read timeout.
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	return step.frame, step.err
}

func (d *fakeDriver) script(steps ...fakeStep) {
	d.mu.Lock()
	d.steps = append(d.steps, steps...)
	d.mu.Unlock()
}

func frameStep(id uint32) fakeStep {
	return fakeStep{frame: &Frame{ID: id, DLC: 1, Timestamp: time.Now()}}
}

func errStep() fakeStep {
	return fakeStep{err: errors.New("read failed")}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNewMuxValidation(t *testing.T) {
	_, err := NewMux(nil)
	assert.ErrorIs(t, err, ErrNoInterfaces)

	_, err = NewMux([]string{"can0", "can0"})
	assert.ErrorIs(t, err, ErrDuplicateInterface)

	_, err = NewMuxWithInterfaces(nil)
	assert.ErrorIs(t, err, ErrNoInterfaces)
}

func TestMuxDeliversFramesInOrder(t *testing.T) {
	driver := &fakeDriver{}
	driver.script(frameStep(0x181), frameStep(0x182), frameStep(0x183))

	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("fake0", driver)})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())
	defer mux.Shutdown()

	waitFor(t, func() bool { return mux.QueueLen() == 3 })

	for _, want := range []uint32{0x181, 0x182, 0x183} {
		frame, ok := mux.Poll()
		assert.True(t, ok)
		assert.Equal(t, want, frame.ID)
		assert.Equal(t, "fake0", frame.Interface)
	}
	_, ok := mux.Poll()
	assert.False(t, ok)
}

func TestMuxRestartsOnRecvErrors(t *testing.T) {
	driver := &fakeDriver{}
	// Three consecutive read failures, each must trigger a restart, then
	// traffic resumes and the worker is still alive to deliver it.
	driver.script(errStep(), errStep(), errStep(), frameStep(0x080))

	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("fake0", driver)})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())
	defer mux.Shutdown()

	waitFor(t, func() bool { return mux.QueueLen() == 1 })
	// One initial connect plus one per recovery.
	assert.Equal(t, int32(4), driver.connects.Load())

	frame, ok := mux.Poll()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x080), frame.ID)
}

func TestMuxInterfaceThatNeverComesUp(t *testing.T) {
	driver := &fakeDriver{}
	driver.failNext.Store(1 << 30)

	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("dead0", driver)})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())

	// The worker keeps retrying without ever surfacing a hard error, and
	// the interface never shows as active.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, mux.ActiveInterfaces())
	assert.Equal(t, 0, mux.QueueLen())

	done := make(chan struct{})
	go func() {
		mux.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not join the retrying worker")
	}
}

func TestMuxShutdownJoinsAndIsIdempotent(t *testing.T) {
	d1 := &fakeDriver{}
	d2 := &fakeDriver{}
	mux, err := NewMuxWithInterfaces([]*Interface{
		NewInterfaceWithDriver("fake0", d1),
		NewInterfaceWithDriver("fake1", d2),
	})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())

	waitFor(t, func() bool { return len(mux.ActiveInterfaces()) == 2 })

	mux.Shutdown()
	assert.Empty(t, mux.ActiveInterfaces())

	// Second call is a no-op and returns immediately.
	done := make(chan struct{})
	go func() {
		mux.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second shutdown blocked")
	}
}

func TestMuxStartTwice(t *testing.T) {
	driver := &fakeDriver{}
	mux, err := NewMuxWithInterfaces([]*Interface{NewInterfaceWithDriver("fake0", driver)})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())
	defer mux.Shutdown()
	assert.ErrorIs(t, mux.Start(), ErrAlreadyStarted)
}

func TestMuxMergesMultipleInterfaces(t *testing.T) {
	d1 := &fakeDriver{}
	d2 := &fakeDriver{}
	d1.script(frameStep(0x181), frameStep(0x182))
	d2.script(frameStep(0x281), frameStep(0x282))

	mux, err := NewMuxWithInterfaces([]*Interface{
		NewInterfaceWithDriver("fake0", d1),
		NewInterfaceWithDriver("fake1", d2),
	})
	assert.Nil(t, err)
	assert.Nil(t, mux.Start())
	defer mux.Shutdown()

	waitFor(t, func() bool { return mux.QueueLen() == 4 })

	// Interleaving across interfaces is unspecified, per interface order
	// is not.
	var fake0, fake1 []uint32
	for {
		frame, ok := mux.Poll()
		if !ok {
			break
		}
		if frame.Interface == "fake0" {
			fake0 = append(fake0, frame.ID)
		} else {
			fake1 = append(fake1, frame.ID)
		}
	}
	assert.Equal(t, []uint32{0x181, 0x182}, fake0)
	assert.Equal(t, []uint32{0x281, 0x282}, fake1)
}
