package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, runError(ctx, nil))
	failure := errors.New("bad batch")
	require.ErrorIs(t, runError(ctx, failure), failure)

	// Interrupted runs fail even when the benchmark returned no error.
	cancel()
	err := runError(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "interrupted")
	require.ErrorIs(t, runError(ctx, failure), failure)
}
