package net

import "io"

// Send frames and writes one request message. Used by clients; the server
// only reads requests.
func Send(w io.Writer, m Message) error {
	payload, err := SerializeMessage(m)
	if err != nil {
		return err
	}
	return writeFrame(w, payload)
}

// Receive reads and parses one report frame.
func Receive(r io.Reader) (Report, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Report{}, err
	}
	return ParseReport(payload)
}
