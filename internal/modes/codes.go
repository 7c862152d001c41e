package modes

// DecodeAltitude converts a 13 bit AC field into feet. Only 25 foot
// increments are decoded; metric and Gillham coded altitudes yield nil.
func DecodeAltitude(ac uint16) *int {
	if ac == 0 {
		return nil
	}
	// M bit
	if ac&0x0040 != 0 {
		return nil
	}
	// Q bit
	if ac&0x0010 == 0 {
		return nil
	}
	n := int((ac&0x1F80)>>2 | (ac&0x0020)>>1 | ac&0x000F)
	alt := n*25 - 1000
	return &alt
}

// DecodeIdentity converts a 13 bit ID field into a squawk, written as the
// decimal number whose digits are the four octal code digits
func DecodeIdentity(id uint16) int {
	bit := func(n uint) int { return int(id>>n) & 1 }

	a := bit(11) | bit(9)<<1 | bit(7)<<2
	b := bit(5) | bit(3)<<1 | bit(1)<<2
	c := bit(12) | bit(10)<<1 | bit(8)<<2
	d := bit(4) | bit(2)<<1 | bit(0)<<2

	return a*1000 + b*100 + c*10 + d
}
