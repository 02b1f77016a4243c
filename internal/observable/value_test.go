package observable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	var v Value[bool]
	require.False(t, v.Get())

	var calls []string

	v.Subscribe(func(b bool) {
		calls = append(calls, "first")
		require.True(t, b)
	})
	unsubscribe := v.Subscribe(func(bool) {
		calls = append(calls, "second")
	})

	v.Set(true)
	require.True(t, v.Get())
	require.Equal(t, []string{"first", "second"}, calls)

	unsubscribe()
	calls = nil

	v.Set(true)
	require.Equal(t, []string{"first"}, calls)
}
