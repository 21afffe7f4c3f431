package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDependency struct {
	name      string
	dependsOn []string
	failures  int
	stopErr   error
	calls     *[]string
}

func (d *fakeDependency) GetName() string     { return d.name }
func (d *fakeDependency) DependsOn() []string { return d.dependsOn }

func (d *fakeDependency) Start(ctx context.Context) error {
	if d.failures > 0 {
		d.failures--
		return errors.New(d.name + " unavailable")
	}
	*d.calls = append(*d.calls, "start "+d.name)
	return nil
}

func (d *fakeDependency) Stop(ctx context.Context) error {
	*d.calls = append(*d.calls, "stop "+d.name)
	return d.stopErr
}

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}), maxAttempts)
	s.backoff = time.Millisecond
	return s
}

func TestStartup_OrderAndReverseStop(t *testing.T) {
	var calls []string
	s := newTestStartup(1)
	s.AddDependency(&fakeDependency{name: "kafka", dependsOn: []string{"tracing"}, calls: &calls})
	s.AddDependency(&fakeDependency{name: "redis", calls: &calls})
	s.AddDependency(&fakeDependency{name: "tracing", calls: &calls})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StartupStatusStarted, s.Status("kafka"))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{
		"start tracing", "start kafka", "start redis",
		"stop redis", "stop kafka", "stop tracing",
	}, calls)
	assert.Equal(t, StartupStatusStopped, s.Status("tracing"))
}

func TestStartup_Retries(t *testing.T) {
	var calls []string
	s := newTestStartup(3)
	s.AddDependency(&fakeDependency{name: "redis", failures: 2, calls: &calls})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start redis"}, calls)
}

func TestStartup_GivesUp(t *testing.T) {
	var calls []string
	s := newTestStartup(2)
	s.AddDependency(&fakeDependency{name: "redis", failures: 5, calls: &calls})

	err := s.Start(context.Background())
	assert.ErrorContains(t, err, "startup failed after 2 attempts")
	assert.ErrorContains(t, err, "redis unavailable")
	assert.Equal(t, StartupStatusFailed, s.Status("redis"))
}

func TestStartup_UnregisteredDependency(t *testing.T) {
	var calls []string
	s := newTestStartup(1)
	s.AddDependency(&fakeDependency{name: "kafka", dependsOn: []string{"zookeeper"}, calls: &calls})

	assert.ErrorContains(t, s.Start(context.Background()), "unregistered 'zookeeper'")
}

func TestStartup_StopAttemptsEveryDependency(t *testing.T) {
	var calls []string
	s := newTestStartup(1)
	s.AddDependency(&fakeDependency{name: "a", calls: &calls})
	s.AddDependency(&fakeDependency{name: "b", stopErr: errors.New("stuck"), calls: &calls})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorContains(t, s.Stop(context.Background()), "stuck")
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, calls)
}

func TestStartup_CancelledDuringBackoff(t *testing.T) {
	var calls []string
	s := newTestStartup(3)
	s.backoff = time.Hour
	s.AddDependency(&fakeDependency{name: "redis", failures: 5, calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Start(ctx), context.Canceled)
}
