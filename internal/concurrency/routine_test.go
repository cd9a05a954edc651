package concurrency

import (
	"errors"
	"testing"
	"time"

	parleyErrors "github.com/harunnryd/parley/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	got := make(chan interface{}, 1)
	SafeGo(func() { panic("boom") }, func(r interface{}) { got <- r })

	select {
	case r := <-got:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("onPanic was not called")
	}
}

func TestRunDetached(t *testing.T) {
	assert.NoError(t, RunDetached(time.Second, func() error { return nil }))

	want := errors.New("disconnect failed")
	assert.ErrorIs(t, RunDetached(time.Second, func() error { return want }), want)

	err := RunDetached(time.Second, func() error { panic("boom") })
	assert.ErrorIs(t, err, parleyErrors.ErrInternal)

	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	err = RunDetached(20*time.Millisecond, func() error { <-release; return nil })
	assert.ErrorIs(t, err, parleyErrors.ErrTransient)
	assert.Less(t, time.Since(start), time.Second)
}
