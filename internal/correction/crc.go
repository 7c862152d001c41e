package correction

// CCITT16 computes CRC-16/CCITT over data with a zero seed, polynomial 0x1021,
// no reflection and no final xor. SBS-3 frames and compressed records use it.
func CCITT16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Mode-S generator polynomial including the x^24 term
const modeSGenerator = 0x1FFF409

// ModeSParity computes the 24-bit Mode-S parity over every byte of a 7 or 14
// byte message except the trailing three parity bytes.
func ModeSParity(msg []byte) uint32 {
	if len(msg) < 4 {
		return 0
	}

	var crc uint32
	for _, b := range msg[:len(msg)-3] {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= modeSGenerator
			}
		}
	}
	return crc & 0xFFFFFF
}

// StripParity removes the parity overlay from a Mode-S message in place.
// Afterwards the trailing three bytes hold the aircraft address for AP
// formats, or the interrogator id (zero for a clean squitter) for PI formats.
func StripParity(msg []byte) {
	if len(msg) < 4 {
		return
	}
	parity := ModeSParity(msg)
	n := len(msg)
	msg[n-3] ^= byte(parity >> 16)
	msg[n-2] ^= byte(parity >> 8)
	msg[n-1] ^= byte(parity)
}
