package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxSSELineSize bounds one SSE line; tool-call arguments can exceed the
// 64KiB bufio default.
const maxSSELineSize = 1 << 20

const doneSentinel = "[DONE]"

// sseReader yields the payload of each `data:` line. Completion servers emit
// one JSON chunk per data line, with or without blank separators, so lines
// are not joined into multi-line events.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &sseReader{scanner: s}
}

// Next returns the next data payload. It returns io.EOF at the end of the
// body or at the [DONE] sentinel.
func (r *sseReader) Next() (string, error) {
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// event:, id:, retry:
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneSentinel {
			return "", io.EOF
		}
		if data == "" {
			continue
		}
		return data, nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", fmt.Errorf("read sse: %w", err)
	}
	return "", io.EOF
}
