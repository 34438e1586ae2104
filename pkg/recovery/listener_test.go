package recovery

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	calls []string
	errs  []error
}

func (l *recordingListener) OnConnected()    { l.calls = append(l.calls, "connected") }
func (l *recordingListener) OnDisconnected() { l.calls = append(l.calls, "disconnected") }
func (l *recordingListener) OnError(err error) {
	l.calls = append(l.calls, "error")
	l.errs = append(l.errs, err)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(nil)
	l := &recordingListener{}

	// dropped before bind
	r.Connected()

	require.NoError(t, r.Bind(l))
	assert.ErrorIs(t, r.Bind(&recordingListener{}), ErrAlreadyBound)

	boom := stderrors.New("boom")
	r.Connected()
	r.Disconnected()
	r.Error(boom)
	r.Reconnected()
	r.Dispatch(Signal(99), nil)

	assert.Equal(t, []string{"connected", "disconnected", "error", "connected"}, l.calls)
	assert.Equal(t, []error{boom}, l.errs)
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "connected", SignalConnected.String())
	assert.Equal(t, "disconnected", SignalDisconnected.String())
	assert.Equal(t, "error", SignalError.String())
	assert.Equal(t, "reconnected", SignalReconnected.String())
	assert.Equal(t, "unknown", Signal(42).String())
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDegraded, "degraded"},
		{StateClosed, "closed"},
		{ConnectionState(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
		text, err := tt.state.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.expected, string(text))
	}
}
