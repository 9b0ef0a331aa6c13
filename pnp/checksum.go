package pnp

// lfsrStep advances the serial identifier checksum LFSR by one bit.
func lfsrStep(sum, bit uint8) uint8 {
	msb := (sum&0x01 ^ sum>>1&0x01 ^ bit) << 7
	return sum>>1 | msb
}

// Checksum computes the serial identifier checksum of the first eight
// header bytes, feeding each byte least significant bit first through the
// LFSR seeded with 0x6A.
func Checksum(header []byte) uint8 {
	sum := uint8(keySeed)
	for i := 0; i < 8 && i < len(header); i++ {
		b := header[i]
		for j := 0; j < 8; j++ {
			sum = lfsrStep(sum, b>>j&0x01)
		}
	}
	return sum
}

// ValidHeader reports whether header carries a serial identifier whose
// ninth byte equals the checksum of the first eight.
func ValidHeader(header []byte) bool {
	if len(header) < HeaderSize {
		return false
	}
	return Checksum(header) == header[8]
}

// keySequence returns the 32-byte initiation key. Each byte is the
// previous one shifted right with the XOR of its two low bits fed in at
// bit 7.
func keySequence() [keyLength]byte {
	var key [keyLength]byte
	code := uint8(keySeed)
	key[0] = code
	for i := 1; i < keyLength; i++ {
		msb := (code&0x01 ^ code>>1&0x01) << 7
		code = code>>1 | msb
		key[i] = code
	}
	return key
}

// InitiationKey is the fixed 32-step sequence that moves cards out of the
// Wait for Key state.
var InitiationKey = keySequence()
