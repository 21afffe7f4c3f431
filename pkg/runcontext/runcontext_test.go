package runcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRunID(ctx))

	ctx = SetRunID(ctx, "run-1")
	assert.Equal(t, "run-1", GetRunID(ctx))
}
