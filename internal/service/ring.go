package service

import (
	"strings"
	"sync"
)

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int // write position (wraps around)
	full bool
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range p {
		b.buf[b.pos] = c
		b.pos = (b.pos + 1) % b.size
		if b.pos == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

func (b *tailBuffer) WriteLine(line string) {
	_, _ = b.Write([]byte(line + "\n"))
}

// Lines returns the buffered lines in order. When older data was
// overwritten, the first, cut off line is dropped.
func (b *tailBuffer) Lines() []string {
	b.mu.Lock()
	var data []byte
	if !b.full {
		data = append([]byte(nil), b.buf[:b.pos]...)
	} else {
		data = make([]byte, b.size)
		copy(data, b.buf[b.pos:])
		copy(data[b.size-b.pos:], b.buf[:b.pos])
	}
	full := b.full
	b.mu.Unlock()

	text := string(data)
	if full {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			text = rest
		}
	}
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
