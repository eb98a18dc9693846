package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("speak")
	require.NoError(t, err)
	require.Equal(t, KindSpeak, k)

	_, err = ParseKind("sing")
	require.EqualError(t, err, `unknown session kind "sing"`)
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"action":"set_text","text":"ሰላም"}`))
	require.NoError(t, err)
	require.Equal(t, Command{Action: ActionSetText, Text: "ሰላም"}, cmd)

	_, err = DecodeCommand([]byte(`{"text":"x"}`))
	require.EqualError(t, err, "invalid command: missing action")

	_, err = DecodeCommand([]byte(`start`))
	require.Error(t, err)
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventAudio, Audio: []byte("RIFF"), ContentType: "audio/wav"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"audio","audio":"UklGRg==","content_type":"audio/wav"}`, string(data))

	data, err = json.Marshal(Event{Type: EventError, Error: "boom", ErrorKind: "adapter"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"error","error":"boom","kind":"adapter"}`, string(data))

	require.Equal(t, AudioResponse{ContentType: "audio/wav", Audio: "UklGRg=="}, NewAudioResponse([]byte("RIFF"), "audio/wav"))
}
