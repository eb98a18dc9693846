package piper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wyoming protocol format (per event):
//
//	{"type": ..., "data_length": N, "payload_length": M}\n
//	<data_bytes>      (if data_length > 0)
//	<payload_bytes>   (if payload_length > 0)
//
// Older servers put the whole event, data included, on the header line and
// announce lengths as "<json_length> <payload_length>\n"; both are accepted.

type event struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	DataLength    int             `json:"data_length,omitempty"`
	PayloadLength int             `json:"payload_length,omitempty"`
}

// audioStart is the data of an "audio-start" event.
type audioStart struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// errorData is the data of an "error" event.
type errorData struct {
	Text string `json:"text"`
}

// writeEvent sends an event with inline data and no payload.
func writeEvent(w io.Writer, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling %s data: %w", typ, err)
	}
	line, err := json.Marshal(event{Type: typ, Data: raw})
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", typ, err)
	}
	line = append(line, '\n')
	_, err = w.Write(line)
	return err
}

// readEvent reads one event and its payload.
func readEvent(r *bufio.Reader) (*event, []byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	line = line[:len(line)-1]

	var evt event
	if len(line) > 0 && line[0] == '{' {
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
		}
	} else {
		// Legacy "<json_length> <payload_length>" header followed by the JSON line.
		parts := strings.Fields(string(line))
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid wyoming header: %q", line)
		}
		jsonLen, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing json length: %w", err)
		}
		payloadLen, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing payload length: %w", err)
		}
		buf := make([]byte, jsonLen+1) // trailing newline
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("reading json: %w", err)
		}
		if err := json.Unmarshal(buf[:jsonLen], &evt); err != nil {
			return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
		}
		evt.PayloadLength = payloadLen
	}

	if evt.DataLength > 0 {
		data := make([]byte, evt.DataLength)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, nil, fmt.Errorf("reading data: %w", err)
		}
		evt.Data = data
	}

	var payload []byte
	if evt.PayloadLength > 0 {
		payload = make([]byte, evt.PayloadLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}
