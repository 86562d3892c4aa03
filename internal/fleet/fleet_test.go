package fleet

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenonhq/xenon/internal/config"
	"github.com/xenonhq/xenon/internal/port"
)

// helperPort registers the --port flag that Spawn passes first, so the
// re-exec'd test binary's flag parsing accepts it.
var helperPort = flag.Int("port", 0, "port to listen on, set by Spawn when used as a helper process")

// TestHelperProcess is a re-exec'd fixture standing in for a real
// chromedriver/geckodriver binary; see internal/process's test of the
// same name for the pattern this follows.
func TestHelperProcess(t *testing.T) {
	isHelper := false
	for _, arg := range os.Args {
		if arg == "xenon-helper-fixture" {
			isHelper = true
			break
		}
	}
	if !isHelper {
		return
	}

	port := *helperPort

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		os.Exit(1)
	}
	defer ln.Close()
	time.Sleep(30 * time.Second)
}

func fixtureConfig(name string, sessionsPerDriver, maxSessions int) config.BrowserConfig {
	return config.BrowserConfig{
		Name:              name,
		DriverPath:        os.Args[0],
		Args:              []string{"-test.run=TestHelperProcess", "xenon-helper-fixture"},
		SessionsPerDriver: sessionsPerDriver,
		MaxSessions:       maxSessions,
	}
}

func freePorts(t *testing.T, n int) []int {
	t.Helper()
	ports := make([]int, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		ports[i] = ln.Addr().(*net.TCPAddr).Port
		ln.Close()
	}
	return ports
}

func TestAcquirePacksBeforeSpawningNewProcess(t *testing.T) {
	cfg := fixtureConfig("chrome", 2, 4)
	pool := port.NewPool(freePorts(t, 2))
	f := New(cfg, pool)

	l1, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ProcessCount())

	l2, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ProcessCount(), "second session should pack into the existing process")
	assert.Same(t, l1.Process(), l2.Process())

	l3, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.ProcessCount(), "third session exceeds sessions_per_driver, must spawn")
	assert.NotSame(t, l1.Process(), l3.Process())
}

func TestAcquireFleetFullAtMaxSessions(t *testing.T) {
	cfg := fixtureConfig("chrome", 1, 1)
	pool := port.NewPool(freePorts(t, 1))
	f := New(cfg, pool)

	_, err := f.Acquire(context.Background())
	require.NoError(t, err)

	_, err = f.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrFull)
}

func TestAcquireRespectsMaxSessionsWhenNotAMultipleOfSessionsPerDriver(t *testing.T) {
	// sessions_per_driver=2, max_sessions=3: process A packs to 2, process B
	// takes the 3rd session and is capped at total=3 even though B itself
	// still has one slot of per-process room free. A 4th acquire must not
	// reuse B's spare per-process capacity once the fleet total is at cap.
	cfg := fixtureConfig("chrome", 2, 3)
	pool := port.NewPool(freePorts(t, 2))
	f := New(cfg, pool)

	l1, err := f.Acquire(context.Background())
	require.NoError(t, err)
	l2, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, l1.Process(), l2.Process(), "first two sessions pack onto process A")

	l3, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, l1.Process(), l3.Process(), "third session spawns process B")
	assert.Equal(t, 3, f.TotalSessions())

	_, err = f.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrFull, "fleet is at max_sessions even though B has spare per-process room")
}

func TestAcquirePortExhaustionSurfacesAsFull(t *testing.T) {
	cfg := fixtureConfig("chrome", 1, 5)
	pool := port.NewPool(freePorts(t, 1))
	f := New(cfg, pool)

	_, err := f.Acquire(context.Background())
	require.NoError(t, err)

	// sessions_per_driver=1 means the process is full after one session,
	// so this acquire must spawn a second process -- but the pool only has
	// one port, so it should surface as "full" even though max_sessions=5
	// has not been reached.
	_, err = f.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrFull)
}

func TestReleaseRecyclesIdleProcessAndFreesPort(t *testing.T) {
	cfg := fixtureConfig("chrome", 1, 1)
	pool := port.NewPool(freePorts(t, 1))
	f := New(cfg, pool)

	l, err := f.Acquire(context.Background())
	require.NoError(t, err)
	avail, leased := pool.Size()
	assert.Equal(t, 0, avail)
	assert.Equal(t, 1, leased)

	f.Release(l)

	require.Eventually(t, func() bool {
		avail, _ := pool.Size()
		return avail == 1
	}, 5*time.Second, 20*time.Millisecond, "port should be reclaimed once the recycled process exits")

	assert.Equal(t, 0, f.ProcessCount())
}

func TestHasCapacity(t *testing.T) {
	cfg := fixtureConfig("chrome", 1, 1)
	pool := port.NewPool(freePorts(t, 1))
	f := New(cfg, pool)

	assert.True(t, f.HasCapacity())
	_, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, f.HasCapacity())
}

func TestShutdownTerminatesAllProcesses(t *testing.T) {
	cfg := fixtureConfig("chrome", 1, 2)
	pool := port.NewPool(freePorts(t, 2))
	f := New(cfg, pool)

	_, err := f.Acquire(context.Background())
	require.NoError(t, err)
	_, err = f.Acquire(context.Background())
	require.NoError(t, err)

	f.Shutdown(context.Background())
	assert.Equal(t, 0, f.ProcessCount())
}
