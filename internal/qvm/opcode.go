package qvm

import "fmt"

// Op is one opcode of the QVM instruction set. The numbering is internal;
// the byte encoding depends on the container's minor version.
type Op uint8

const (
	OpInvalid Op = iota
	OpBRK
	OpNOP
	OpRET
	OpBRA
	OpBF
	OpBT
	OpJSR
	OpCALL
	OpPUSH
	OpPUSHB
	OpPUSHW
	OpPUSHF
	OpPUSHA
	OpPUSHS
	OpPUSHSI
	OpPUSHSIB
	OpPUSHSIW
	OpPUSHI
	OpPUSHII
	OpPUSHIIB
	OpPUSHIIW
	OpPUSH0
	OpPUSH1
	OpPUSHM
	OpPOP
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpSHL
	OpSHR
	OpAND
	OpOR
	OpXOR
	OpLAND
	OpLOR
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpASSIGN
	OpPLUS
	OpMINUS
	OpINV
	OpNOT
	OpBLK
	OpILLEGAL

	opCount
)

var opNames = [opCount]string{
	OpInvalid: "INVALID",
	OpBRK:     "BRK", OpNOP: "NOP", OpRET: "RET", OpBRA: "BRA", OpBF: "BF", OpBT: "BT",
	OpJSR: "JSR", OpCALL: "CALL",
	OpPUSH: "PUSH", OpPUSHB: "PUSHB", OpPUSHW: "PUSHW", OpPUSHF: "PUSHF",
	OpPUSHA: "PUSHA", OpPUSHS: "PUSHS",
	OpPUSHSI: "PUSHSI", OpPUSHSIB: "PUSHSIB", OpPUSHSIW: "PUSHSIW",
	OpPUSHI:  "PUSHI",
	OpPUSHII: "PUSHII", OpPUSHIIB: "PUSHIIB", OpPUSHIIW: "PUSHIIW",
	OpPUSH0: "PUSH0", OpPUSH1: "PUSH1", OpPUSHM: "PUSHM",
	OpPOP: "POP",
	OpADD: "ADD", OpSUB: "SUB", OpMUL: "MUL", OpDIV: "DIV",
	OpSHL: "SHL", OpSHR: "SHR", OpAND: "AND", OpOR: "OR", OpXOR: "XOR",
	OpLAND: "LAND", OpLOR: "LOR",
	OpEQ: "EQ", OpNE: "NE", OpLT: "LT", OpLE: "LE", OpGT: "GT", OpGE: "GE",
	OpASSIGN: "ASSIGN",
	OpPLUS:   "PLUS", OpMINUS: "MINUS", OpINV: "INV", OpNOT: "NOT",
	OpBLK: "BLK", OpILLEGAL: "ILLEGAL",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// OperandKind describes the immediate operand layout following an opcode byte.
type OperandKind uint8

const (
	OperandNone    OperandKind = iota
	OperandU8                  // 1-byte unsigned
	OperandU16                 // 2-byte unsigned
	OperandU32                 // 4-byte unsigned
	OperandF32                 // 4-byte IEEE float
	OperandRel32               // 4-byte signed offset from the next instruction
	OperandCallArgs            // u32 count, then count absolute i32 offsets
	OperandUnknown             // layout not known; cannot be decoded
)

// Operand returns the operand layout of op.
func (op Op) Operand() OperandKind {
	switch op {
	case OpBRK, OpNOP, OpRET, OpPOP, OpPUSH0, OpPUSH1, OpPUSHM:
		return OperandNone
	case OpADD, OpSUB, OpMUL, OpDIV, OpSHL, OpSHR, OpAND, OpOR, OpXOR,
		OpLAND, OpLOR, OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE, OpASSIGN:
		return OperandNone
	case OpPLUS, OpMINUS, OpINV, OpNOT:
		return OperandNone
	case OpPUSH, OpPUSHSI, OpPUSHII:
		return OperandU32
	case OpPUSHB, OpPUSHSIB, OpPUSHIIB:
		return OperandU8
	case OpPUSHW, OpPUSHSIW, OpPUSHIIW:
		return OperandU16
	case OpPUSHF:
		return OperandF32
	case OpBRA, OpBF, OpBT:
		return OperandRel32
	case OpCALL:
		return OperandCallArgs
	case OpJSR, OpPUSHA, OpPUSHS, OpPUSHI, OpBLK, OpILLEGAL, OpInvalid:
		return OperandUnknown
	}
	return OperandUnknown
}

// IsBranch reports whether op transfers control to a jump target.
func (op Op) IsBranch() bool { return op == OpBRA || op == OpBF || op == OpBT }

// IsConditional reports whether op is a two-way branch.
func (op Op) IsConditional() bool { return op == OpBF || op == OpBT }

// IsTerminator reports whether op ends execution of the current flow.
func (op Op) IsTerminator() bool { return op == OpBRK || op == OpRET }

// IsUnary reports whether op pops one operand and pushes one result.
func (op Op) IsUnary() bool { return op >= OpPLUS && op <= OpNOT }

// IsBinary reports whether op pops two operands and pushes one result.
func (op Op) IsBinary() bool { return op >= OpADD && op <= OpASSIGN }

// IsStringRef reports whether op's operand indexes the string pool.
func (op Op) IsStringRef() bool { return op == OpPUSHSI || op == OpPUSHSIB || op == OpPUSHSIW }

// IsSymbolRef reports whether op's operand indexes the symbol pool.
func (op Op) IsSymbolRef() bool { return op == OpPUSHII || op == OpPUSHIIB || op == OpPUSHIIW }

// v5 and v7 share the operator block (0x19..0x30); they differ in
// where the control and push opcodes sit.
var opcodeV5 = [...]Op{
	0x00: OpBRK, 0x01: OpNOP, 0x02: OpPUSH, 0x03: OpPUSHB, 0x04: OpPUSHW, 0x05: OpPUSHF,
	0x06: OpPUSHA, 0x07: OpPUSHS, 0x08: OpPUSHSI, 0x09: OpPUSHSIB, 0x0a: OpPUSHSIW,
	0x0b: OpPUSHI, 0x0c: OpPUSHII, 0x0d: OpPUSHIIB, 0x0e: OpPUSHIIW,
	0x0f: OpPUSH0, 0x10: OpPUSH1, 0x11: OpPUSHM, 0x12: OpPOP, 0x13: OpRET,
	0x14: OpBRA, 0x15: OpBF, 0x16: OpBT, 0x17: OpJSR, 0x18: OpCALL,
	0x19: OpADD, 0x1a: OpSUB, 0x1b: OpMUL, 0x1c: OpDIV, 0x1d: OpSHL, 0x1e: OpSHR,
	0x1f: OpAND, 0x20: OpOR, 0x21: OpXOR, 0x22: OpLAND, 0x23: OpLOR,
	0x24: OpEQ, 0x25: OpNE, 0x26: OpLT, 0x27: OpLE, 0x28: OpGT, 0x29: OpGE,
	0x2a: OpASSIGN, 0x2b: OpPLUS, 0x2c: OpMINUS, 0x2d: OpINV, 0x2e: OpNOT,
	0x2f: OpBLK, 0x30: OpILLEGAL,
}

var opcodeV7 = [...]Op{
	0x00: OpBRK, 0x01: OpNOP, 0x02: OpRET, 0x03: OpBRA, 0x04: OpBF, 0x05: OpBT,
	0x06: OpJSR, 0x07: OpCALL, 0x08: OpPUSH, 0x09: OpPUSHB, 0x0a: OpPUSHW, 0x0b: OpPUSHF,
	0x0c: OpPUSHA, 0x0d: OpPUSHS, 0x0e: OpPUSHSI, 0x0f: OpPUSHSIB, 0x10: OpPUSHSIW,
	0x11: OpPUSHI, 0x12: OpPUSHII, 0x13: OpPUSHIIB, 0x14: OpPUSHIIW,
	0x15: OpPUSH0, 0x16: OpPUSH1, 0x17: OpPUSHM, 0x18: OpPOP,
	0x19: OpADD, 0x1a: OpSUB, 0x1b: OpMUL, 0x1c: OpDIV, 0x1d: OpSHL, 0x1e: OpSHR,
	0x1f: OpAND, 0x20: OpOR, 0x21: OpXOR, 0x22: OpLAND, 0x23: OpLOR,
	0x24: OpEQ, 0x25: OpNE, 0x26: OpLT, 0x27: OpLE, 0x28: OpGT, 0x29: OpGE,
	0x2a: OpASSIGN, 0x2b: OpPLUS, 0x2c: OpMINUS, 0x2d: OpINV, 0x2e: OpNOT,
	0x2f: OpBLK, 0x30: OpILLEGAL,
}

// OpcodeTable maps opcode bytes to ops for one container version.
type OpcodeTable struct {
	minor  uint32
	decode []Op
	encode [opCount]byte
}

var tables = map[uint32]*OpcodeTable{
	MinorV5: newTable(MinorV5, opcodeV5[:]),
	MinorV7: newTable(MinorV7, opcodeV7[:]),
}

func newTable(minor uint32, decode []Op) *OpcodeTable {
	t := &OpcodeTable{minor: minor, decode: decode}
	for b, op := range decode {
		t.encode[op] = byte(b)
	}
	return t
}

// Table returns the opcode table for a minor version, or nil.
func Table(minor uint32) *OpcodeTable { return tables[minor] }

// Op returns the op encoded by b, or OpInvalid.
func (t *OpcodeTable) Op(b byte) Op {
	if int(b) < len(t.decode) {
		return t.decode[b]
	}
	return OpInvalid
}

// Byte returns the encoding of op. OpInvalid has no encoding.
func (t *OpcodeTable) Byte(op Op) (byte, bool) {
	if op == OpInvalid || op >= opCount {
		return 0, false
	}
	return t.encode[op], true
}
