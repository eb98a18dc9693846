package tts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/speech"
)

type fakeSynth struct{ Unavailable }

func (fakeSynth) Name() string { return "fake" }

func TestUnavailable(t *testing.T) {
	var s Synthesizer = Unavailable{}
	res, err := s.Synthesize(context.Background(), "hello", SynthesizeOpts{Language: language.English})
	require.Nil(t, res)
	require.ErrorIs(t, err, speech.ErrCapabilityUnavailable)
	require.NoError(t, s.Close())

	require.False(t, Available(s))
	require.False(t, Available(nil))
	require.True(t, Available(fakeSynth{}))
}
