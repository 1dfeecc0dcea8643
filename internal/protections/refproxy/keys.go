package refproxy

import (
	"encoding/binary"
	"math/rand/v2"
)

type layerOp uint8

const (
	opXor layerOp = iota
	opAdd
	opSub
	opMul
	numLayerOps
)

// layer is one arithmetic step of a token decoder.
type layer struct {
	op  layerOp
	key uint32
}

// decoder is a sequence of layers. decode applies them in order; the
// encoded constant stored in the module is the inverse image of the token.
type decoder []layer

func newDecoder(rng *rand.Rand, depth int) decoder {
	d := make(decoder, depth)
	for i := range d {
		op := layerOp(rng.IntN(int(numLayerOps)))
		key := rng.Uint32()
		if op == opMul {
			key |= 1 // odd multipliers are invertible mod 2^32
		}
		d[i] = layer{op: op, key: key}
	}
	return d
}

func (d decoder) decode(v uint32) uint32 {
	for _, l := range d {
		switch l.op {
		case opXor:
			v ^= l.key
		case opAdd:
			v += l.key
		case opSub:
			v -= l.key
		case opMul:
			v *= l.key
		}
	}
	return v
}

func (d decoder) encode(token uint32) uint32 {
	v := token
	for i := len(d) - 1; i >= 0; i-- {
		l := d[i]
		switch l.op {
		case opXor:
			v ^= l.key
		case opAdd:
			v -= l.key
		case opSub:
			v += l.key
		case opMul:
			v *= inverse(l.key)
		}
	}
	return v
}

// inverse returns the multiplicative inverse of an odd k modulo 2^32.
func inverse(k uint32) uint32 {
	x := k // correct to 3 bits for odd k
	for range 5 {
		x *= 2 - k*x
	}
	return x
}

// x86 returns a stdcall function int32(int32) computing d.decode.
func (d decoder) x86() []byte {
	code := []byte{0x8B, 0x44, 0x24, 0x04} // mov eax, [esp+4]
	for _, l := range d {
		switch l.op {
		case opXor:
			code = append(code, 0x35)
		case opAdd:
			code = append(code, 0x05)
		case opSub:
			code = append(code, 0x2D)
		case opMul:
			code = append(code, 0x69, 0xC0) // imul eax, eax, imm32
		}
		code = binary.LittleEndian.AppendUint32(code, l.key)
	}
	return append(code, 0xC2, 0x04, 0x00) // ret 4
}
