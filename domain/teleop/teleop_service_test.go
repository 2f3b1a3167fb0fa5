package teleop

import (
	"testing"

	"github.com/open-teleop/console/domain/motion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestValidateCommand(t *testing.T) {
	cmd, err := ValidateCommand(Command{VX: f(1), VY: f(0), W: f(-0.5)})
	require.NoError(t, err)
	assert.Equal(t, motion.Command{VX: 1, VY: 0, W: -0.5}, cmd)

	_, err = ValidateCommand(Command{VX: f(1), W: f(0)})
	assert.ErrorIs(t, err, ErrMissingAxis)
}

func TestValidateMode(t *testing.T) {
	for _, name := range []string{"AUTO", "manual", "follow_wall", "td3-v2"} {
		assert.NoError(t, ValidateMode(name), name)
	}
	for _, name := range []string{"", "two words", "AUTO\n", "a;b"} {
		assert.ErrorIs(t, ValidateMode(name), ErrInvalidMode, name)
	}
}
