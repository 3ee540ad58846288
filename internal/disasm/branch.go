package disasm

import "encoding/binary"

// Branch decoding from raw encodings. A vtable slot whose first instruction
// is an unconditional jump is a tail-call trampoline (typically an adjustor
// thunk); TailTarget reports where it lands.

// BranchInfo describes a decoded ARM64 branch instruction.
type BranchInfo struct {
	Target uint64 // absolute target address (0 if RET)
	Cond   bool   // true if conditional (has fallthrough)
	IsRet  bool   // true if RET
}

// DecodeBranch attempts to decode an ARM64 branch instruction from raw
// encoding at the given PC. Returns nil if the instruction is not a branch/ret.
func DecodeBranch(raw uint32, pc uint64) *BranchInfo {
	// RET (0xD65F03C0 exactly, or RET Xn = 0xD65F0000 | Rn<<5)
	if raw&0xFFFFFC1F == 0xD65F0000 {
		return &BranchInfo{IsRet: true}
	}

	// B (unconditional): 000101 imm26
	if raw&0xFC000000 == 0x14000000 {
		offset := signExtend(raw&0x03FFFFFF, 26) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset))}
	}

	// B.cond: 01010100 imm19 0 cond
	if raw&0xFF000010 == 0x54000000 {
		offset := signExtend((raw>>5)&0x7FFFF, 19) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Cond: true}
	}

	// CBZ / CBNZ: 0 sf 11010x imm19 Rt
	if raw&0x7E000000 == 0x34000000 {
		offset := signExtend((raw>>5)&0x7FFFF, 19) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Cond: true}
	}

	// TBZ / TBNZ: 0 b5 11011x b40 imm14 Rt
	if raw&0x7E000000 == 0x36000000 {
		offset := signExtend((raw>>5)&0x3FFF, 14) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Cond: true}
	}

	return nil
}

// TailTarget returns the destination of an unconditional jump at the start
// of data. Thumb and unknown architectures are not decoded.
func TailTarget(arch Arch, data []byte, pc uint64) (uint64, bool) {
	switch arch {
	case ArchARM64:
		if len(data) < 4 {
			return 0, false
		}
		bi := DecodeBranch(binary.LittleEndian.Uint32(data), pc)
		if bi == nil || bi.Cond || bi.IsRet {
			return 0, false
		}
		return bi.Target, true
	case ArchARM:
		if len(data) < 4 {
			return 0, false
		}
		// B<al>: 1110 101 0 imm24, target = pc + 8 + imm24*4
		raw := binary.LittleEndian.Uint32(data)
		if raw&0xFF000000 != 0xEA000000 {
			return 0, false
		}
		offset := signExtend(raw&0x00FFFFFF, 24) * 4
		return uint64(int64(pc) + 8 + int64(offset)), true
	case ArchX86, ArchX86_64:
		if len(data) >= 5 && data[0] == 0xE9 {
			rel := int32(binary.LittleEndian.Uint32(data[1:5]))
			return uint64(int64(pc) + 5 + int64(rel)), true
		}
		if len(data) >= 2 && data[0] == 0xEB {
			return uint64(int64(pc) + 2 + int64(int8(data[1]))), true
		}
	}
	return 0, false
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask) // negative
	}
	return int32(val & mask)
}
