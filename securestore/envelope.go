package securestore

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/secret"
)

// Stored entries carry their protection alongside the secret so a read knows
// whether to authenticate:
//
//	magic[4] flags[1] tier[1] validity[8] created[8] secret[...]
var envelopeMagic = []byte{'B', 'S', 'S', 1}

const (
	headerLen     = 4 + 1 + 1 + 8 + 8
	flagBiometric = 1 << 0
)

type entry struct {
	protection secret.Protection
	created    time.Time
	secret     []byte
}

// encodeEnvelope returns a locked buffer; the caller releases it.
func encodeEnvelope(e entry) *secret.Buffer {
	raw := make([]byte, headerLen+len(e.secret))
	copy(raw, envelopeMagic)
	if e.protection.RequireBiometric {
		raw[4] |= flagBiometric
	}
	raw[5] = byte(e.protection.Tier)
	binary.BigEndian.PutUint64(raw[6:], uint64(e.protection.ValiditySeconds))
	binary.BigEndian.PutUint64(raw[14:], uint64(e.created.Unix()))
	copy(raw[headerLen:], e.secret)

	buf := secret.NewBuffer(raw)
	secret.Wipe(raw)
	return buf
}

// decodeEnvelope aliases raw for the secret bytes.
func decodeEnvelope(raw []byte) (entry, error) {
	if len(raw) < headerLen || !bytes.Equal(raw[:4], envelopeMagic) {
		return entry{}, errs.New(errs.PlatformStorageError, "stored entry has no recognizable header")
	}
	flags := raw[4]
	if flags&^flagBiometric != 0 {
		return entry{}, errs.New(errs.PlatformStorageError, "stored entry has unknown flags %#x", flags)
	}
	validity := int64(binary.BigEndian.Uint64(raw[6:]))
	if validity < NoValidityWindow {
		return entry{}, errs.New(errs.PlatformStorageError, "stored entry has invalid validity %d", validity)
	}
	return entry{
		protection: secret.Protection{
			RequireBiometric: flags&flagBiometric != 0,
			Tier:             secret.HardwareTier(raw[5]),
			ValiditySeconds:  validity,
		},
		created: time.Unix(int64(binary.BigEndian.Uint64(raw[14:])), 0),
		secret:  raw[headerLen:],
	}, nil
}
