package bridge

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quexten/bio-secure-store/secret"
)

// MaxFrameSize bounds a single message in either direction, matching the
// native messaging limit for host replies.
const MaxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed message. A clean end of stream before
// the length prefix returns io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame length: %w", err)
		}
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBytes[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, MaxFrameSize)
	}

	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("truncated frame: %w", err)
	}
	return content, nil
}

// WriteFrame writes msg with its length prefix in a single write.
func WriteFrame(w io.Writer, msg []byte) error {
	if len(msg) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(msg), MaxFrameSize)
	}
	frame := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[4:], msg)
	defer secret.Wipe(frame)
	_, err := w.Write(frame)
	return err
}
