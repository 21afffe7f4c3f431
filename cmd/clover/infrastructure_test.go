package main

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/compiler"
)

func TestNewInfrastructure_ResolvesCompiler(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	cfg := &config.Config{AppName: "clover-test", StartupMaxAttempts: 1, TracingProtocol: "none"}

	first, err := newInfrastructure(context.Background(), cfg, logger, true)
	require.NoError(t, err)
	defer first.stop(context.Background())
	second, err := newInfrastructure(context.Background(), cfg, logger, true)
	require.NoError(t, err)
	defer second.stop(context.Background())

	assert.NotEqual(t, first.containerID, second.containerID)

	ctx, err := first.withContainer(context.Background())
	require.NoError(t, err)
	_, c, err := ectoinject.GetContext[*compiler.Compiler](ctx)
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, resolved, err := ectoinject.GetContext[ectologger.Logger](ctx)
	require.NoError(t, err)
	assert.NotNil(t, resolved)

	_, got, err := ectoinject.GetContext[*config.Config](ctx)
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestNewInfrastructure_BadTracingHeaders(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	cfg := &config.Config{StartupMaxAttempts: 1, TracingProtocol: "console", TracingHeaders: "nope"}

	_, err := newInfrastructure(context.Background(), cfg, logger, true)
	assert.ErrorContains(t, err, "TRACING_HEADERS")
}
