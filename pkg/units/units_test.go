package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	value, err := ToBaseUnits(20.01, 6)
	require.NoError(t, err)
	assert.Equal(t, "20010000", value.String())

	value, err = ToBaseUnits(0.000001, 6)
	require.NoError(t, err)
	assert.Equal(t, "1", value.String())

	value, err = ToBaseUnits(5, 0)
	require.NoError(t, err)
	assert.Equal(t, "5", value.String())

	_, err = ToBaseUnits(-1, 6)
	assert.Error(t, err)
}

func TestFromBaseUnits(t *testing.T) {
	amount, err := FromBaseUnits("20010000", 6)
	require.NoError(t, err)
	assert.InDelta(t, 20.01, amount, 1e-9)

	_, err = FromBaseUnits("abc", 6)
	assert.Error(t, err)
}
