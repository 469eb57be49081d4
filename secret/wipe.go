package secret

import "runtime"

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Buffer is a transient, page-locked copy of secret material. Release wipes
// and unlocks it; the zero Buffer is empty.
type Buffer struct {
	b      []byte
	locked bool
}

// NewBuffer copies src into a fresh buffer and tries to keep it out of swap.
func NewBuffer(src []byte) *Buffer {
	b := make([]byte, len(src))
	copy(b, src)
	buf := &Buffer{b: b}
	if len(b) > 0 {
		buf.locked = lockMemory(b) == nil
	}
	return buf
}

func (b *Buffer) Bytes() []byte {
	return b.b
}

func (b *Buffer) Release() {
	if b == nil || b.b == nil {
		return
	}
	Wipe(b.b)
	if b.locked {
		_ = unlockMemory(b.b)
	}
	b.b = nil
}
