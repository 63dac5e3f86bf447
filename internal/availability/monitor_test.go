package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu     sync.Mutex
	status string
	err    error
	calls  int
}

func (p *fakeProber) Status(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.status, p.err
}

func (p *fakeProber) set(status string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.err = err
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestClassify(t *testing.T) {
	require.Equal(t, Online, Classify("online"))
	require.Equal(t, Online, Classify(" ONLINE "))
	require.Equal(t, Offline, Classify("offline"))
	require.Equal(t, Unknown, Classify("degraded"))
	require.Equal(t, Unknown, Classify(""))
}

func TestMonitorStartsUnknown(t *testing.T) {
	m := NewMonitor(&fakeProber{status: "online"}, time.Hour, 0, nil)
	require.Equal(t, Unknown, m.State())
	require.True(t, m.CheckedAt().IsZero())
}

func TestMonitorProbesImmediatelyOnStart(t *testing.T) {
	p := &fakeProber{status: "online"}
	m := NewMonitor(p, time.Hour, 0, nil)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return m.State() == Online }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, p.callCount())
}

func TestMonitorFailureMeansOffline(t *testing.T) {
	p := &fakeProber{err: errors.New("connection refused")}
	m := NewMonitor(p, time.Hour, 0, nil)
	require.Equal(t, Offline, m.ProbeNow(context.Background()))
}

func TestMonitorPollsOnInterval(t *testing.T) {
	p := &fakeProber{status: "online"}
	m := NewMonitor(p, 10*time.Millisecond, 0, nil)

	var mu sync.Mutex
	var changes []State
	m.OnChange(func(s State) {
		mu.Lock()
		changes = append(changes, s)
		mu.Unlock()
	})

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return m.State() == Online }, time.Second, 5*time.Millisecond)
	p.set("", errors.New("503"))
	require.Eventually(t, func() bool { return m.State() == Offline }, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, p.callCount(), 2)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{Online, Offline}, changes)
}

func TestMonitorStopHaltsPolling(t *testing.T) {
	p := &fakeProber{status: "online"}
	m := NewMonitor(p, 5*time.Millisecond, 0, nil)
	m.Start(context.Background())
	require.Eventually(t, func() bool { return p.callCount() >= 2 }, time.Second, time.Millisecond)

	m.Stop()
	calls := p.callCount()
	p.set("offline", nil)
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, calls, p.callCount())
	require.Equal(t, Online, m.State())

	// a manual probe after teardown must not mutate state either
	m.ProbeNow(context.Background())
	require.Equal(t, Online, m.State())

	// Stop and Start after Stop are no-ops
	m.Stop()
	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Online, m.State())
}

func TestMonitorStopsWithContext(t *testing.T) {
	p := &fakeProber{status: "online"}
	m := NewMonitor(p, 5*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, func() bool { return p.callCount() >= 1 }, time.Second, time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestMonitorProbeTimeout(t *testing.T) {
	slow := proberFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	m := NewMonitor(slow, time.Hour, 10*time.Millisecond, nil)
	require.Equal(t, Offline, m.ProbeNow(context.Background()))
}

type proberFunc func(ctx context.Context) (string, error)

func (f proberFunc) Status(ctx context.Context) (string, error) {
	return f(ctx)
}
