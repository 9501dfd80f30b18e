package client

import (
	"bufio"
	"io"
	"strings"
)

// readEventStream incrementally parses a text/event-stream body, invoking
// handle with the data payload of each complete frame. Field lines other than
// "data" and comment lines are skipped. Returns the read error that ended the
// stream (io.EOF for a clean close) or the first handler error.
func readEventStream(r io.Reader, handle func(data string) error) error {
	reader := bufio.NewReader(r)
	var data []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Blank line terminates a frame.
			if len(data) > 0 {
				payload := strings.Join(data, "\n")
				data = data[:0]
				if err := handle(payload); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
	}
}
