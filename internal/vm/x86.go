package vm

import (
	"encoding/binary"
	"fmt"
)

// EmulateX86 runs a 32-bit stdcall function taking int32 arguments and
// returning eax. Only the instructions token decoders use are implemented:
// mov eax,[esp+disp8], xor/add/sub eax,imm32, imul eax,eax,imm32, nop and ret.
func EmulateX86(code []byte, args []int32) (int32, error) {
	var eax uint32
	pc := 0
	need := func(n int) error {
		if pc+n > len(code) {
			return fmt.Errorf("x86: truncated instruction at %d", pc)
		}
		return nil
	}
	imm := func(at int) uint32 { return binary.LittleEndian.Uint32(code[at:]) }

	for pc < len(code) {
		switch op := code[pc]; op {
		case 0x90: // nop
			pc++
		case 0x8B: // mov eax, [esp+disp8]
			if err := need(4); err != nil {
				return 0, err
			}
			if code[pc+1] != 0x44 || code[pc+2] != 0x24 {
				return 0, fmt.Errorf("x86: unsupported mov form %02x %02x at %d", code[pc+1], code[pc+2], pc)
			}
			disp := int(code[pc+3])
			slot := disp/4 - 1
			if disp%4 != 0 || slot < 0 || slot >= len(args) {
				return 0, fmt.Errorf("x86: [esp+%d] is not an argument", disp)
			}
			eax = uint32(args[slot])
			pc += 4
		case 0x35, 0x05, 0x2D: // xor/add/sub eax, imm32
			if err := need(5); err != nil {
				return 0, err
			}
			k := imm(pc + 1)
			switch op {
			case 0x35:
				eax ^= k
			case 0x05:
				eax += k
			default:
				eax -= k
			}
			pc += 5
		case 0x69: // imul eax, eax, imm32
			if err := need(6); err != nil {
				return 0, err
			}
			if code[pc+1] != 0xC0 {
				return 0, fmt.Errorf("x86: unsupported imul form %02x at %d", code[pc+1], pc)
			}
			eax *= imm(pc + 2)
			pc += 6
		case 0xC3: // ret
			return int32(eax), nil
		case 0xC2: // ret imm16
			if err := need(3); err != nil {
				return 0, err
			}
			if n := int(binary.LittleEndian.Uint16(code[pc+1:])); n != 4*len(args) {
				return 0, fmt.Errorf("x86: ret %d does not pop %d argument bytes", n, 4*len(args))
			}
			return int32(eax), nil
		default:
			return 0, fmt.Errorf("x86: unsupported opcode %02x at %d", op, pc)
		}
	}
	return 0, fmt.Errorf("x86: code ended without ret")
}
