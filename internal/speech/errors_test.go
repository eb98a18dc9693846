package speech

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap("piper", "synthesize", nil))

	err := Wrap("piper", "synthesize", errors.New("connection refused"))
	require.EqualError(t, err, "piper synthesize: connection refused")
	require.Equal(t, "adapter", Kind(err))

	again := Wrap("session", "speak", err)
	require.Same(t, err, again)

	unavailable := fmt.Errorf("deepgram: %w", ErrCapabilityUnavailable)
	require.Equal(t, unavailable, Wrap("deepgram", "start", unavailable))
	require.Equal(t, "capability_unavailable", Kind(unavailable))

	require.Equal(t, "internal", Kind(errors.New("boom")))
}

func TestPublic(t *testing.T) {
	tcs := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{
			name: "synthesis detail hidden",
			err:  Wrap("elevenlabs", "synthesize", errors.New("status 401 at https://api.internal/v1 key=sk-XYZ")),
			want: "speech synthesis failed",
		},
		{
			name: "recognition detail hidden",
			err:  fmt.Errorf("feeding: %w", Wrap("deepgram", "receive", errors.New("connection reset by 10.0.0.7"))),
			want: "speech recognition failed",
		},
		{
			name: "capability unavailable kept",
			err:  fmt.Errorf("speech recognition: %w", ErrCapabilityUnavailable),
			want: "speech recognition: capability unavailable",
		},
		{name: "internal kept", err: errors.New("invalid command: missing action"), want: "invalid command: missing action"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Public(tc.err))
		})
	}
}
