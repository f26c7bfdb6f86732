package server

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// writeFrame writes one server-sent event. Every line of the payload gets
// its own "data: " prefix and a blank line terminates the frame, so
// multi-line payloads survive the wire format intact.
func writeFrame(w io.Writer, payload []byte) error {
	for _, line := range strings.Split(string(payload), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeJSONFrame marshals v and writes it as a single SSE frame.
func writeJSONFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFrame(w, payload)
}
