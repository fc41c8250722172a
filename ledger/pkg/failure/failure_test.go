package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailure_Error(t *testing.T) {
	t.Parallel()

	errCooldown := New(ClassTemporal, "CooldownNotMet", "cooldown period has not elapsed")

	t.Run("matches through wrapping", func(t *testing.T) {
		t.Parallel()
		wrapped := fmt.Errorf("failed to request tokens: %w", errCooldown)
		require.ErrorIs(t, wrapped, errCooldown)
		assert.Equal(t, ClassTemporal, ClassOf(wrapped))
	})

	t.Run("distinct codes do not match", func(t *testing.T) {
		t.Parallel()
		other := New(ClassTemporal, "DecreaseTimeLockNotMet", "time lock has not elapsed")
		assert.False(t, errors.Is(other, errCooldown))
	})

	t.Run("unclassified errors report unknown", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, ClassUnknown, ClassOf(errors.New("boom")))
		_, ok := As(errors.New("boom"))
		assert.False(t, ok)
	})

	t.Run("formats code and message", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "CooldownNotMet: cooldown period has not elapsed", errCooldown.Error())
		assert.Equal(t, "temporal", errCooldown.Class.String())
	})
}
