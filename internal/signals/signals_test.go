package signals

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainNoPending(t *testing.T) {
	b := &Broker{
		OnInfo:      func() { t.Fatal("unexpected info callback") },
		OnInterrupt: func(os.Signal) { t.Fatal("unexpected interrupt callback") },
	}
	b.Drain() // not installed, nothing pending
}

func TestInfoSignalCounted(t *testing.T) {
	var infos int
	b := &Broker{OnInfo: func() { infos++ }}
	b.Install()
	defer b.Uninstall()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	// Wait for the flag-setting goroutine to observe the signal.
	deadline := time.Now().Add(2 * time.Second)
	for b.infos.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.NotZero(t, b.infos.Load(), "info signal not observed")

	b.Drain()
	assert.Equal(t, 1, infos)
	assert.Zero(t, b.infos.Load())
}

func TestDrainWithoutSignalsIsIdle(t *testing.T) {
	called := false
	b := &Broker{OnInfo: func() { called = true }}
	b.Install()
	defer b.Uninstall()

	b.Drain()
	assert.False(t, called)
	assert.False(t, b.InterruptPending())
}

func TestUninstallTwice(t *testing.T) {
	b := &Broker{}
	b.Install()
	b.Uninstall()
	b.Uninstall() // must not panic
}
