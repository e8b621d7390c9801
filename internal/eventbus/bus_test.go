package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/pkg/logger"
)

func TestBus_EmitInRegistrationOrder(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var order []int
	bus.On("ev", func(any) { order = append(order, 1) })
	bus.On("ev", func(any) { order = append(order, 2) })
	bus.On("ev", func(any) { order = append(order, 3) })

	bus.Emit("ev", nil)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_PanickingHandlerDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var calls []string
	bus.On("ev", func(any) { calls = append(calls, "first") })
	bus.On("ev", func(any) { panic("boom") })
	bus.On("ev", func(any) { calls = append(calls, "last") })

	require.NotPanics(t, func() { bus.Emit("ev", nil) })
	require.Equal(t, []string{"first", "last"}, calls)
}

func TestBus_Off(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var calls int
	id := bus.On("ev", func(any) { calls++ })
	bus.Emit("ev", nil)
	bus.Off("ev", id)
	bus.Emit("ev", nil)

	require.Equal(t, 1, calls)
	require.Equal(t, 0, bus.ListenerCount("ev"))
}

func TestBus_Once(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var calls int
	bus.Once("ev", func(any) { calls++ })

	bus.Emit("ev", nil)
	bus.Emit("ev", nil)
	require.Equal(t, 1, calls)
}

func TestBus_MutationDuringEmitDoesNotAffectInFlightDispatch(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var calls []string

	var lateID int
	bus.On("ev", func(any) {
		calls = append(calls, "a")
		// Registered mid-dispatch: must not run for this emission.
		lateID = bus.On("ev", func(any) { calls = append(calls, "late") })
	})
	bID := bus.On("ev", func(any) { calls = append(calls, "b") })

	bus.Emit("ev", nil)
	require.Equal(t, []string{"a", "b"}, calls)

	bus.Off("ev", lateID)
	bus.Off("ev", bID)
}

func TestBus_OffDuringEmitStillDispatchesSnapshot(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var calls []string

	var bID int
	bus.On("ev", func(any) {
		calls = append(calls, "a")
		bus.Off("ev", bID)
	})
	bID = bus.On("ev", func(any) { calls = append(calls, "b") })

	bus.Emit("ev", nil)
	require.Equal(t, []string{"a", "b"}, calls)

	bus.Emit("ev", nil)
	require.Equal(t, []string{"a", "b", "a"}, calls)
}

func TestBus_Introspection(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	bus.On("beta", func(any) {})
	bus.On("alpha", func(any) {})
	bus.On("alpha", func(any) {})

	require.Equal(t, 2, bus.ListenerCount("alpha"))
	require.Equal(t, 1, bus.ListenerCount("beta"))
	require.Equal(t, 0, bus.ListenerCount("gamma"))
	require.Equal(t, []string{"alpha", "beta"}, bus.EventNames())
}

func TestBus_PayloadDeliveredByValue(t *testing.T) {
	t.Parallel()

	bus := New(logger.Nop())
	var got any
	bus.On("ev", func(p any) { got = p })
	bus.Emit("ev", 42)
	require.Equal(t, 42, got)
}
