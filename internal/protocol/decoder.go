package protocol

import (
	"github.com/pajenicko/explora-gateway/internal/types"
)

// Candidate is one registered device the decoder may trial-decrypt against.
// The Handle is opaque to this package; it travels back in the Match so the
// caller can address the registry without a second lookup.
type Candidate struct {
	Handle int
	Serial uint32
	Key    uint32
	Kind   types.DeviceKind
}

// Match is a successful decode: the owning device and the parsed (still
// uncalibrated) measurement.
type Match struct {
	Handle      int
	Serial      uint32
	Measurement types.Measurement
}

// TryDecode trial-decrypts the frame with every candidate key in order. A key
// is accepted only when both the XOR checksum verifies and the serial in the
// plaintext matches the candidate that owns the key; checksum equality alone
// is not enough to survive key collisions across the fleet.
//
// Returns ErrUnknownDevice when no candidate matches, or a RejectionError /
// UnknownKindError when the matching frame fails validation.
func TryDecode(cipher []byte, candidates []Candidate) (*Match, error) {
	if len(cipher) < minFrameLen {
		return nil, ErrFrameTooShort
	}
	if len(cipher) > maxFrameLen {
		return nil, ErrFrameTooLong
	}

	for _, cand := range candidates {
		plain := Decrypt(cipher, cand.Key)
		if !ChecksumOK(plain) {
			continue
		}
		if SerialOf(plain) != cand.Serial {
			continue
		}

		m, err := parseFrame(plain, cand.Kind)
		if err != nil {
			return nil, err
		}
		return &Match{Handle: cand.Handle, Serial: cand.Serial, Measurement: m}, nil
	}

	return nil, ErrUnknownDevice
}
