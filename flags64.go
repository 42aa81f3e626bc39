// flags64.go - 64-bit sibling of cpu_x86.go's width-parameterized flag
// formulas (setFlagsArith8/16/32, setFlagsLogic8/16/32), generalized to
// the operand width x86-64 long mode adds. Kept as a separate file from
// the donor's arithmetic/logic flag setters rather than folded in, since
// uint64 arithmetic needs explicit carry/overflow detection via
// math/bits instead of the donor's widen-to-next-native-int trick.

package winemu

import "math/bits"

func (c *CPU) setFlagsArith64(result uint64, a, b uint64, carry, sub bool) {
	const signBit = uint64(1) << 63
	c.setFlag(x86FlagCF, carry)
	c.setFlag(x86FlagZF, result == 0)
	c.setFlag(x86FlagSF, result&signBit != 0)
	c.setFlag(x86FlagPF, parity(byte(result)))
	if sub {
		c.setFlag(x86FlagOF, ((a^b)&(a^result))&signBit != 0)
		c.setFlag(x86FlagAF, (a&0xF) < (b&0xF))
	} else {
		c.setFlag(x86FlagOF, (^(a^b)&(a^result))&signBit != 0)
		c.setFlag(x86FlagAF, (a&0xF)+(b&0xF) > 0xF)
	}
}

func (c *CPU) setFlagsLogic64(result uint64) {
	c.setFlag(x86FlagCF, false)
	c.setFlag(x86FlagOF, false)
	c.setFlag(x86FlagZF, result == 0)
	c.setFlag(x86FlagSF, result&(uint64(1)<<63) != 0)
	c.setFlag(x86FlagPF, parity(byte(result)))
}

func (c *CPU) add64(a, b uint64, cfIn bool) uint64 {
	sum, carry0 := bits.Add64(a, b, 0)
	var carryIn uint64
	if cfIn {
		carryIn = 1
	}
	result, carry1 := bits.Add64(sum, carryIn, 0)
	c.setFlagsArith64(result, a, b, carry0|carry1 != 0, false)
	return result
}

func (c *CPU) sub64(a, b uint64, cfIn bool) uint64 {
	var borrowIn uint64
	if cfIn {
		borrowIn = 1
	}
	diff, borrow0 := bits.Sub64(a, b, 0)
	result, borrow1 := bits.Sub64(diff, borrowIn, 0)
	c.setFlagsArith64(result, a, b, borrow0|borrow1 != 0, true)
	return result
}
