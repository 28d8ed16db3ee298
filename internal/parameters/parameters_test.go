package parameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	params := NewFromConfigString("classes=10,with_accuracy,scale=0.5,name=a=b,,seed=-3")
	assert.Len(t, params, 5)

	classes, err := PopParamOr(params, "classes", 1000)
	require.NoError(t, err)
	assert.Equal(t, 10, classes)

	withAccuracy, err := PopParamOr(params, "with_accuracy", false)
	require.NoError(t, err)
	assert.True(t, withAccuracy)

	scale, err := GetParamOr(params, "scale", float32(1))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), scale)

	name, err := PopParamOr(params, "name", "")
	require.NoError(t, err)
	assert.Equal(t, "a=b", name)

	seed, err := PopParamOr(params, "seed", int64(0))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), seed)

	missing, err := GetParamOr(params, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)

	// "scale" was only read, not popped.
	err = CheckAllUsed(params, "model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale")
	_, _ = PopParamOr(params, "scale", float32(1))
	require.NoError(t, CheckAllUsed(params, "model"))
}

func TestParamsErrors(t *testing.T) {
	params := NewFromConfigString("n=abc,flag=maybe")
	_, err := GetParamOr(params, "n", 1)
	require.Error(t, err)
	_, err = GetParamOr(params, "flag", false)
	require.Error(t, err)
	assert.Empty(t, NewFromConfigString(""))
}
