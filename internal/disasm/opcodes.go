package disasm

// Opcode is a JVM instruction opcode.
type Opcode uint8

const (
	Nop             Opcode = 0x00
	AconstNull      Opcode = 0x01
	IconstM1        Opcode = 0x02
	Iconst0         Opcode = 0x03
	Iconst1         Opcode = 0x04
	Iconst2         Opcode = 0x05
	Iconst3         Opcode = 0x06
	Iconst4         Opcode = 0x07
	Iconst5         Opcode = 0x08
	Lconst0         Opcode = 0x09
	Lconst1         Opcode = 0x0a
	Fconst0         Opcode = 0x0b
	Fconst1         Opcode = 0x0c
	Fconst2         Opcode = 0x0d
	Dconst0         Opcode = 0x0e
	Dconst1         Opcode = 0x0f
	Bipush          Opcode = 0x10
	Sipush          Opcode = 0x11
	Ldc             Opcode = 0x12
	LdcW            Opcode = 0x13
	Ldc2W           Opcode = 0x14
	Iload           Opcode = 0x15
	Lload           Opcode = 0x16
	Fload           Opcode = 0x17
	Dload           Opcode = 0x18
	Aload           Opcode = 0x19
	Iload0          Opcode = 0x1a
	Lload0          Opcode = 0x1e
	Fload0          Opcode = 0x22
	Dload0          Opcode = 0x26
	Aload0          Opcode = 0x2a
	Iaload          Opcode = 0x2e
	Laload          Opcode = 0x2f
	Faload          Opcode = 0x30
	Daload          Opcode = 0x31
	Aaload          Opcode = 0x32
	Baload          Opcode = 0x33
	Caload          Opcode = 0x34
	Saload          Opcode = 0x35
	Istore          Opcode = 0x36
	Lstore          Opcode = 0x37
	Fstore          Opcode = 0x38
	Dstore          Opcode = 0x39
	Astore          Opcode = 0x3a
	Istore0         Opcode = 0x3b
	Lstore0         Opcode = 0x3f
	Fstore0         Opcode = 0x43
	Dstore0         Opcode = 0x47
	Astore0         Opcode = 0x4b
	Iastore         Opcode = 0x4f
	Lastore         Opcode = 0x50
	Fastore         Opcode = 0x51
	Dastore         Opcode = 0x52
	Aastore         Opcode = 0x53
	Bastore         Opcode = 0x54
	Castore         Opcode = 0x55
	Sastore         Opcode = 0x56
	Pop             Opcode = 0x57
	Pop2            Opcode = 0x58
	Dup             Opcode = 0x59
	DupX1           Opcode = 0x5a
	DupX2           Opcode = 0x5b
	Dup2            Opcode = 0x5c
	Dup2X1          Opcode = 0x5d
	Dup2X2          Opcode = 0x5e
	Swap            Opcode = 0x5f
	Iadd            Opcode = 0x60
	Ladd            Opcode = 0x61
	Fadd            Opcode = 0x62
	Dadd            Opcode = 0x63
	Isub            Opcode = 0x64
	Lsub            Opcode = 0x65
	Fsub            Opcode = 0x66
	Dsub            Opcode = 0x67
	Imul            Opcode = 0x68
	Lmul            Opcode = 0x69
	Fmul            Opcode = 0x6a
	Dmul            Opcode = 0x6b
	Idiv            Opcode = 0x6c
	Ldiv            Opcode = 0x6d
	Fdiv            Opcode = 0x6e
	Ddiv            Opcode = 0x6f
	Irem            Opcode = 0x70
	Lrem            Opcode = 0x71
	Frem            Opcode = 0x72
	Drem            Opcode = 0x73
	Ineg            Opcode = 0x74
	Lneg            Opcode = 0x75
	Fneg            Opcode = 0x76
	Dneg            Opcode = 0x77
	Ishl            Opcode = 0x78
	Lshl            Opcode = 0x79
	Ishr            Opcode = 0x7a
	Lshr            Opcode = 0x7b
	Iushr           Opcode = 0x7c
	Lushr           Opcode = 0x7d
	Iand            Opcode = 0x7e
	Land            Opcode = 0x7f
	Ior             Opcode = 0x80
	Lor             Opcode = 0x81
	Ixor            Opcode = 0x82
	Lxor            Opcode = 0x83
	Iinc            Opcode = 0x84
	I2l             Opcode = 0x85
	I2f             Opcode = 0x86
	I2d             Opcode = 0x87
	L2i             Opcode = 0x88
	L2f             Opcode = 0x89
	L2d             Opcode = 0x8a
	F2i             Opcode = 0x8b
	F2l             Opcode = 0x8c
	F2d             Opcode = 0x8d
	D2i             Opcode = 0x8e
	D2l             Opcode = 0x8f
	D2f             Opcode = 0x90
	I2b             Opcode = 0x91
	I2c             Opcode = 0x92
	I2s             Opcode = 0x93
	Lcmp            Opcode = 0x94
	Fcmpl           Opcode = 0x95
	Fcmpg           Opcode = 0x96
	Dcmpl           Opcode = 0x97
	Dcmpg           Opcode = 0x98
	Ifeq            Opcode = 0x99
	Ifne            Opcode = 0x9a
	Iflt            Opcode = 0x9b
	Ifge            Opcode = 0x9c
	Ifgt            Opcode = 0x9d
	Ifle            Opcode = 0x9e
	IfIcmpeq        Opcode = 0x9f
	IfIcmpne        Opcode = 0xa0
	IfIcmplt        Opcode = 0xa1
	IfIcmpge        Opcode = 0xa2
	IfIcmpgt        Opcode = 0xa3
	IfIcmple        Opcode = 0xa4
	IfAcmpeq        Opcode = 0xa5
	IfAcmpne        Opcode = 0xa6
	Goto            Opcode = 0xa7
	Jsr             Opcode = 0xa8
	Ret             Opcode = 0xa9
	Tableswitch     Opcode = 0xaa
	Lookupswitch    Opcode = 0xab
	Ireturn         Opcode = 0xac
	Lreturn         Opcode = 0xad
	Freturn         Opcode = 0xae
	Dreturn         Opcode = 0xaf
	Areturn         Opcode = 0xb0
	Return          Opcode = 0xb1
	Getstatic       Opcode = 0xb2
	Putstatic       Opcode = 0xb3
	Getfield        Opcode = 0xb4
	Putfield        Opcode = 0xb5
	Invokevirtual   Opcode = 0xb6
	Invokespecial   Opcode = 0xb7
	Invokestatic    Opcode = 0xb8
	Invokeinterface Opcode = 0xb9
	Invokedynamic   Opcode = 0xba
	New             Opcode = 0xbb
	Newarray        Opcode = 0xbc
	Anewarray       Opcode = 0xbd
	Arraylength     Opcode = 0xbe
	Athrow          Opcode = 0xbf
	Checkcast       Opcode = 0xc0
	Instanceof      Opcode = 0xc1
	Monitorenter    Opcode = 0xc2
	Monitorexit     Opcode = 0xc3
	Wide            Opcode = 0xc4
	Multianewarray  Opcode = 0xc5
	Ifnull          Opcode = 0xc6
	Ifnonnull       Opcode = 0xc7
	GotoW           Opcode = 0xc8
	JsrW            Opcode = 0xc9
)

// Kind is the instruction category. Every opcode maps to exactly one kind;
// KindLabel marks a position pseudo-instruction that encodes to nothing.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindLabel
	KindNop
	KindConst
	KindLdc
	KindLoad
	KindStore
	KindArrayLoad
	KindArrayStore
	KindStack
	KindArith
	KindIinc
	KindConvert
	KindCompare
	KindBranch
	KindJsr
	KindSwitch
	KindReturn
	KindField
	KindInvoke
	KindInvokeDynamic
	KindNew
	KindNewArray
	KindArrayLength
	KindThrow
	KindType
	KindMonitor
)

var kindNames = [...]string{
	KindInvalid:       "invalid",
	KindLabel:         "label",
	KindNop:           "nop",
	KindConst:         "const",
	KindLdc:           "ldc",
	KindLoad:          "load",
	KindStore:         "store",
	KindArrayLoad:     "array_load",
	KindArrayStore:    "array_store",
	KindStack:         "stack",
	KindArith:         "arith",
	KindIinc:          "iinc",
	KindConvert:       "convert",
	KindCompare:       "compare",
	KindBranch:        "branch",
	KindJsr:           "jsr",
	KindSwitch:        "switch",
	KindReturn:        "return",
	KindField:         "field",
	KindInvoke:        "invoke",
	KindInvokeDynamic: "invokedynamic",
	KindNew:           "new",
	KindNewArray:      "new_array",
	KindArrayLength:   "array_length",
	KindThrow:         "throw",
	KindType:          "type",
	KindMonitor:       "monitor",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

type opInfo struct {
	name string
	kind Kind
	size int // encoded size without wide prefix; 0 for variable-length
}

var opTable [256]opInfo

func def(op Opcode, name string, kind Kind, size int) {
	opTable[op] = opInfo{name: name, kind: kind, size: size}
}

func init() {
	def(Nop, "nop", KindNop, 1)
	def(AconstNull, "aconst_null", KindConst, 1)
	for i, n := range []string{"iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5",
		"lconst_0", "lconst_1", "fconst_0", "fconst_1", "fconst_2", "dconst_0", "dconst_1"} {
		def(IconstM1+Opcode(i), n, KindConst, 1)
	}
	def(Bipush, "bipush", KindConst, 2)
	def(Sipush, "sipush", KindConst, 3)
	def(Ldc, "ldc", KindLdc, 2)
	def(LdcW, "ldc_w", KindLdc, 3)
	def(Ldc2W, "ldc2_w", KindLdc, 3)

	prefixes := []string{"i", "l", "f", "d", "a"}
	for i, p := range prefixes {
		def(Iload+Opcode(i), p+"load", KindLoad, 2)
		def(Istore+Opcode(i), p+"store", KindStore, 2)
		for n := 0; n < 4; n++ {
			def(Iload0+Opcode(i*4+n), p+"load_"+string(rune('0'+n)), KindLoad, 1)
			def(Istore0+Opcode(i*4+n), p+"store_"+string(rune('0'+n)), KindStore, 1)
		}
	}
	for i, n := range []string{"iaload", "laload", "faload", "daload", "aaload", "baload", "caload", "saload"} {
		def(Iaload+Opcode(i), n, KindArrayLoad, 1)
	}
	for i, n := range []string{"iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore", "sastore"} {
		def(Iastore+Opcode(i), n, KindArrayStore, 1)
	}
	for i, n := range []string{"pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1", "dup2_x2", "swap"} {
		def(Pop+Opcode(i), n, KindStack, 1)
	}
	for i, n := range []string{
		"iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub", "dsub",
		"imul", "lmul", "fmul", "dmul", "idiv", "ldiv", "fdiv", "ddiv",
		"irem", "lrem", "frem", "drem", "ineg", "lneg", "fneg", "dneg",
		"ishl", "lshl", "ishr", "lshr", "iushr", "lushr",
		"iand", "land", "ior", "lor", "ixor", "lxor",
	} {
		def(Iadd+Opcode(i), n, KindArith, 1)
	}
	def(Iinc, "iinc", KindIinc, 3)
	for i, n := range []string{"i2l", "i2f", "i2d", "l2i", "l2f", "l2d", "f2i", "f2l", "f2d", "d2i", "d2l", "d2f", "i2b", "i2c", "i2s"} {
		def(I2l+Opcode(i), n, KindConvert, 1)
	}
	for i, n := range []string{"lcmp", "fcmpl", "fcmpg", "dcmpl", "dcmpg"} {
		def(Lcmp+Opcode(i), n, KindCompare, 1)
	}
	for i, n := range []string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle",
		"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne", "goto"} {
		def(Ifeq+Opcode(i), n, KindBranch, 3)
	}
	def(Jsr, "jsr", KindJsr, 3)
	def(Ret, "ret", KindJsr, 2)
	def(Tableswitch, "tableswitch", KindSwitch, 0)
	def(Lookupswitch, "lookupswitch", KindSwitch, 0)
	for i, n := range []string{"ireturn", "lreturn", "freturn", "dreturn", "areturn", "return"} {
		def(Ireturn+Opcode(i), n, KindReturn, 1)
	}
	for i, n := range []string{"getstatic", "putstatic", "getfield", "putfield"} {
		def(Getstatic+Opcode(i), n, KindField, 3)
	}
	for i, n := range []string{"invokevirtual", "invokespecial", "invokestatic"} {
		def(Invokevirtual+Opcode(i), n, KindInvoke, 3)
	}
	def(Invokeinterface, "invokeinterface", KindInvoke, 5)
	def(Invokedynamic, "invokedynamic", KindInvokeDynamic, 5)
	def(New, "new", KindNew, 3)
	def(Newarray, "newarray", KindNewArray, 2)
	def(Anewarray, "anewarray", KindNewArray, 3)
	def(Arraylength, "arraylength", KindArrayLength, 1)
	def(Athrow, "athrow", KindThrow, 1)
	def(Checkcast, "checkcast", KindType, 3)
	def(Instanceof, "instanceof", KindType, 3)
	def(Monitorenter, "monitorenter", KindMonitor, 1)
	def(Monitorexit, "monitorexit", KindMonitor, 1)
	def(Multianewarray, "multianewarray", KindNewArray, 4)
	def(Ifnull, "ifnull", KindBranch, 3)
	def(Ifnonnull, "ifnonnull", KindBranch, 3)
	def(GotoW, "goto_w", KindBranch, 5)
	def(JsrW, "jsr_w", KindJsr, 5)
}

// Name returns the mnemonic of op.
func (op Opcode) Name() string {
	if n := opTable[op].name; n != "" {
		return n
	}
	if op == Wide {
		return "wide"
	}
	return "???"
}

func (op Opcode) String() string { return op.Name() }

// Kind returns the category of op, or KindInvalid for undefined opcodes.
func (op Opcode) Kind() Kind { return opTable[op].kind }

// IsConditional reports whether op is a two-way branch.
func (op Opcode) IsConditional() bool {
	return (op >= Ifeq && op <= IfAcmpne) || op == Ifnull || op == Ifnonnull
}

// IsGoto reports whether op is an unconditional jump.
func (op Opcode) IsGoto() bool { return op == Goto || op == GotoW }

// Invert returns the conditional branch with the opposite condition.
func Invert(op Opcode) Opcode {
	switch {
	case op >= Ifeq && op <= IfAcmpne:
		if (op-Ifeq)%2 == 0 {
			return op + 1
		}
		return op - 1
	case op == Ifnull:
		return Ifnonnull
	case op == Ifnonnull:
		return Ifnull
	}
	return op
}

// Value types of locals and stack slots touched by typed opcodes.
type ValueType uint8

const (
	TypeVoid ValueType = iota
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
)

// Size returns the number of local or stack slots a value of t occupies.
func (t ValueType) Size() int {
	switch t {
	case TypeVoid:
		return 0
	case TypeLong, TypeDouble:
		return 2
	}
	return 1
}

func (t ValueType) String() string {
	return [...]string{"void", "int", "long", "float", "double", "ref"}[t]
}

// LocalType returns the value type moved by a load or store opcode.
func LocalType(op Opcode) ValueType {
	var base Opcode
	switch {
	case op >= Iload && op <= Aload:
		base = op - Iload
	case op >= Iload0 && op < Iaload:
		base = (op - Iload0) / 4
	case op >= Istore && op <= Astore:
		base = op - Istore
	case op >= Istore0 && op < Iastore:
		base = (op - Istore0) / 4
	case op == Iinc:
		return TypeInt
	case op == Ret:
		return TypeRef
	default:
		return TypeVoid
	}
	return TypeInt + ValueType(base)
}

// implicitSlot returns the slot encoded in a short load/store opcode, or -1.
func implicitSlot(op Opcode) int {
	switch {
	case op >= Iload0 && op < Iaload:
		return int(op-Iload0) % 4
	case op >= Istore0 && op < Iastore:
		return int(op-Istore0) % 4
	}
	return -1
}
