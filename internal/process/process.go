// Package process supervises a single WebDriver binary child process
// bound to one leased TCP port, adapted from the teacher's container
// lifecycle management (internal/browser/pool.go's waitForBrowserReady
// polling loop, internal/session/manager.go's process-supervision
// goroutines) to a plain os/exec.Cmd.
package process

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/xenonhq/xenon/internal/config"
	"github.com/xenonhq/xenon/internal/xerr"
	"github.com/xenonhq/xenon/internal/xlog"
)

// State is a BrowserProcess lifecycle state.
type State int

const (
	Starting State = iota
	Ready
	Draining
	Dead
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// These are vars, not consts, so tests can shrink them.
var (
	readyDeadline     = 10 * time.Second
	readyPollInterval = 200 * time.Millisecond
	termGrace         = 2 * time.Second
)

// Process is a supervised WebDriver binary instance bound to one leased
// port.
type Process struct {
	ID      string
	Browser config.BrowserConfig
	Port    int

	mu       sync.Mutex
	state    State
	sessions int
	cmd      *exec.Cmd

	// onDead is invoked exactly once, the first time this process
	// transitions to Dead, so the owning fleet can release the port and
	// drop the process from its roster.
	onDead func(*Process)
}

// BaseURL is the process's stable forwarding base URL.
func (p *Process) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", p.Port)
}

// Spawn starts a new driver binary on the given leased port and blocks
// until it is Ready or the readiness deadline elapses.
func Spawn(ctx context.Context, cfg config.BrowserConfig, port int, onDead func(*Process)) (*Process, error) {
	args := append([]string{fmt.Sprintf("--port=%d", port)}, cfg.Args...)
	cmd := exec.CommandContext(context.Background(), cfg.DriverPath, args...)

	p := &Process{
		ID:      uuid.New().String(),
		Browser: cfg,
		Port:    port,
		state:   Starting,
		cmd:     cmd,
		onDead:  onDead,
	}

	if err := cmd.Start(); err != nil {
		p.markDead()
		return nil, xerr.Wrap(xerr.KindDriverStartupFailed, err)
	}

	go p.supervise()

	if err := p.waitReady(ctx); err != nil {
		p.Terminate(context.Background())
		return nil, err
	}

	p.mu.Lock()
	p.state = Ready
	p.mu.Unlock()

	return p, nil
}

// supervise waits for the child process to exit and marks the process
// Dead whenever that happens, whether from a graceful shutdown, a crash,
// or an external kill.
func (p *Process) supervise() {
	_ = p.cmd.Wait()
	p.markDead()
}

// markDead runs the onDead callback (which reclaims the port and drops the
// process from its fleet's roster) and only then flips the state to Dead,
// so that anything polling State() for Dead is guaranteed to observe a
// fully-reclaimed process, not one mid-teardown.
func (p *Process) markDead() {
	p.mu.Lock()
	already := p.state == Dead
	p.mu.Unlock()
	if already {
		return
	}

	xlog.Default.Infof("browser process %s (port %d) is now dead", p.ID, p.Port)
	if p.onDead != nil {
		p.onDead(p)
	}

	p.mu.Lock()
	p.state = Dead
	p.mu.Unlock()
}

// waitReady polls for a successful TCP connect to the leased port, with
// bounded attempts and a small backoff, per the "TCP connect is sufficient"
// design decision.
func (p *Process) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readyDeadline)
	addr := fmt.Sprintf("127.0.0.1:%d", p.Port)

	for {
		conn, err := net.DialTimeout("tcp", addr, readyPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return xerr.New(xerr.KindDriverStartupFailed, fmt.Sprintf("driver on port %d did not become ready within %s", p.Port, readyDeadline))
		}

		select {
		case <-ctx.Done():
			return xerr.Wrap(xerr.KindDriverStartupFailed, ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// AcceptSession atomically checks capacity and increments the session
// count, returning false if the process is full or not Ready.
func (p *Process) AcceptSession() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Ready {
		return false
	}
	if p.sessions >= p.Browser.SessionsPerDriver {
		return false
	}
	p.sessions++
	return true
}

// ReleaseSession decrements the session count. It reports whether the
// process is now idle (zero sessions), so the caller (the owning fleet)
// can decide whether to recycle it.
func (p *Process) ReleaseSession() (idle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessions > 0 {
		p.sessions--
	}
	return p.sessions == 0
}

// SessionCount returns the current number of sessions this process is
// serving.
func (p *Process) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions
}

// MarkDraining transitions the process out of Ready so it accepts no more
// new sessions. It is a no-op once the process is already Dead.
func (p *Process) MarkDraining() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Ready {
		p.state = Draining
	}
}

// State returns the process's current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Terminate attempts a graceful WebDriver shutdown, falling back to a
// process signal, and finally a hard kill if the driver doesn't exit
// within the grace period.
func (p *Process) Terminate(ctx context.Context) {
	p.MarkDraining()

	if !p.tryGracefulHTTPShutdown(ctx) {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	done := make(chan struct{})
	go func() {
		p.waitExited()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(termGrace):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-done
	}
}

func (p *Process) waitExited() {
	for p.State() != Dead {
		time.Sleep(10 * time.Millisecond)
	}
}

// tryGracefulHTTPShutdown issues the conventional WebDriver shutdown
// request, returning true only if the driver actually acknowledged it. Many
// drivers (geckodriver among them) don't implement this undocumented
// chromedriver extension at all and answer 404, which means "not
// supported," not "supported and succeeded" -- that case must fall through
// to the signal-based shutdown below, not be treated as a success.
func (p *Process) tryGracefulHTTPShutdown(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL()+"/shutdown", nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}
