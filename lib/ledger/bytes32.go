package ledger

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// EncodeBytes32 packs s into a right zero padded bytes32 value. The last byte
// is always zero, so s may be at most 31 bytes long.
func EncodeBytes32(s string) ([32]byte, error) {
	var result [32]byte

	if len(s) > 31 {
		return result, fmt.Errorf("%w: %q is %d bytes, the limit is 31", ErrBadChallengeID, s, len(s))
	}

	if !utf8.ValidString(s) {
		return result, fmt.Errorf("%w: %q is not valid UTF-8", ErrBadChallengeID, s)
	}

	copy(result[:], s)
	return result, nil
}

// DecodeBytes32 reverses EncodeBytes32. The value must be null terminated.
func DecodeBytes32(b [32]byte) (string, error) {
	if b[31] != 0 {
		return "", fmt.Errorf("%w: value is not null terminated", ErrBadChallengeID)
	}

	end := bytes.IndexByte(b[:], 0)
	return string(b[:end]), nil
}
