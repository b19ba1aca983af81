package opcode

// JVM opcodes.
const (
	NOP             Op = 0x00
	ACONST_NULL     Op = 0x01
	ICONST_M1       Op = 0x02
	ICONST_0        Op = 0x03
	ICONST_1        Op = 0x04
	ICONST_2        Op = 0x05
	ICONST_3        Op = 0x06
	ICONST_4        Op = 0x07
	ICONST_5        Op = 0x08
	LCONST_0        Op = 0x09
	LCONST_1        Op = 0x0a
	FCONST_0        Op = 0x0b
	FCONST_1        Op = 0x0c
	FCONST_2        Op = 0x0d
	DCONST_0        Op = 0x0e
	DCONST_1        Op = 0x0f
	BIPUSH          Op = 0x10
	SIPUSH          Op = 0x11
	LDC             Op = 0x12
	LDC_W           Op = 0x13
	LDC2_W          Op = 0x14
	ILOAD           Op = 0x15
	LLOAD           Op = 0x16
	FLOAD           Op = 0x17
	DLOAD           Op = 0x18
	ALOAD           Op = 0x19
	ILOAD_0         Op = 0x1a
	ILOAD_1         Op = 0x1b
	ILOAD_2         Op = 0x1c
	ILOAD_3         Op = 0x1d
	LLOAD_0         Op = 0x1e
	LLOAD_1         Op = 0x1f
	LLOAD_2         Op = 0x20
	LLOAD_3         Op = 0x21
	FLOAD_0         Op = 0x22
	FLOAD_1         Op = 0x23
	FLOAD_2         Op = 0x24
	FLOAD_3         Op = 0x25
	DLOAD_0         Op = 0x26
	DLOAD_1         Op = 0x27
	DLOAD_2         Op = 0x28
	DLOAD_3         Op = 0x29
	ALOAD_0         Op = 0x2a
	ALOAD_1         Op = 0x2b
	ALOAD_2         Op = 0x2c
	ALOAD_3         Op = 0x2d
	IALOAD          Op = 0x2e
	LALOAD          Op = 0x2f
	FALOAD          Op = 0x30
	DALOAD          Op = 0x31
	AALOAD          Op = 0x32
	BALOAD          Op = 0x33
	CALOAD          Op = 0x34
	SALOAD          Op = 0x35
	ISTORE          Op = 0x36
	LSTORE          Op = 0x37
	FSTORE          Op = 0x38
	DSTORE          Op = 0x39
	ASTORE          Op = 0x3a
	ISTORE_0        Op = 0x3b
	ISTORE_1        Op = 0x3c
	ISTORE_2        Op = 0x3d
	ISTORE_3        Op = 0x3e
	LSTORE_0        Op = 0x3f
	LSTORE_1        Op = 0x40
	LSTORE_2        Op = 0x41
	LSTORE_3        Op = 0x42
	FSTORE_0        Op = 0x43
	FSTORE_1        Op = 0x44
	FSTORE_2        Op = 0x45
	FSTORE_3        Op = 0x46
	DSTORE_0        Op = 0x47
	DSTORE_1        Op = 0x48
	DSTORE_2        Op = 0x49
	DSTORE_3        Op = 0x4a
	ASTORE_0        Op = 0x4b
	ASTORE_1        Op = 0x4c
	ASTORE_2        Op = 0x4d
	ASTORE_3        Op = 0x4e
	IASTORE         Op = 0x4f
	LASTORE         Op = 0x50
	FASTORE         Op = 0x51
	DASTORE         Op = 0x52
	AASTORE         Op = 0x53
	BASTORE         Op = 0x54
	CASTORE         Op = 0x55
	SASTORE         Op = 0x56
	POP             Op = 0x57
	POP2            Op = 0x58
	DUP             Op = 0x59
	DUP_X1          Op = 0x5a
	DUP_X2          Op = 0x5b
	DUP2            Op = 0x5c
	DUP2_X1         Op = 0x5d
	DUP2_X2         Op = 0x5e
	SWAP            Op = 0x5f
	IADD            Op = 0x60
	LADD            Op = 0x61
	FADD            Op = 0x62
	DADD            Op = 0x63
	ISUB            Op = 0x64
	LSUB            Op = 0x65
	FSUB            Op = 0x66
	DSUB            Op = 0x67
	IMUL            Op = 0x68
	LMUL            Op = 0x69
	FMUL            Op = 0x6a
	DMUL            Op = 0x6b
	IDIV            Op = 0x6c
	LDIV            Op = 0x6d
	FDIV            Op = 0x6e
	DDIV            Op = 0x6f
	IREM            Op = 0x70
	LREM            Op = 0x71
	FREM            Op = 0x72
	DREM            Op = 0x73
	INEG            Op = 0x74
	LNEG            Op = 0x75
	FNEG            Op = 0x76
	DNEG            Op = 0x77
	ISHL            Op = 0x78
	LSHL            Op = 0x79
	ISHR            Op = 0x7a
	LSHR            Op = 0x7b
	IUSHR           Op = 0x7c
	LUSHR           Op = 0x7d
	IAND            Op = 0x7e
	LAND            Op = 0x7f
	IOR             Op = 0x80
	LOR             Op = 0x81
	IXOR            Op = 0x82
	LXOR            Op = 0x83
	IINC            Op = 0x84
	I2L             Op = 0x85
	I2F             Op = 0x86
	I2D             Op = 0x87
	L2I             Op = 0x88
	L2F             Op = 0x89
	L2D             Op = 0x8a
	F2I             Op = 0x8b
	F2L             Op = 0x8c
	F2D             Op = 0x8d
	D2I             Op = 0x8e
	D2L             Op = 0x8f
	D2F             Op = 0x90
	I2B             Op = 0x91
	I2C             Op = 0x92
	I2S             Op = 0x93
	LCMP            Op = 0x94
	FCMPL           Op = 0x95
	FCMPG           Op = 0x96
	DCMPL           Op = 0x97
	DCMPG           Op = 0x98
	IFEQ            Op = 0x99
	IFNE            Op = 0x9a
	IFLT            Op = 0x9b
	IFGE            Op = 0x9c
	IFGT            Op = 0x9d
	IFLE            Op = 0x9e
	IF_ICMPEQ       Op = 0x9f
	IF_ICMPNE       Op = 0xa0
	IF_ICMPLT       Op = 0xa1
	IF_ICMPGE       Op = 0xa2
	IF_ICMPGT       Op = 0xa3
	IF_ICMPLE       Op = 0xa4
	IF_ACMPEQ       Op = 0xa5
	IF_ACMPNE       Op = 0xa6
	GOTO            Op = 0xa7
	JSR             Op = 0xa8
	RET             Op = 0xa9
	TABLESWITCH     Op = 0xaa
	LOOKUPSWITCH    Op = 0xab
	IRETURN         Op = 0xac
	LRETURN         Op = 0xad
	FRETURN         Op = 0xae
	DRETURN         Op = 0xaf
	ARETURN         Op = 0xb0
	RETURN          Op = 0xb1
	GETSTATIC       Op = 0xb2
	PUTSTATIC       Op = 0xb3
	GETFIELD        Op = 0xb4
	PUTFIELD        Op = 0xb5
	INVOKEVIRTUAL   Op = 0xb6
	INVOKESPECIAL   Op = 0xb7
	INVOKESTATIC    Op = 0xb8
	INVOKEINTERFACE Op = 0xb9
	INVOKEDYNAMIC   Op = 0xba
	NEW             Op = 0xbb
	NEWARRAY        Op = 0xbc
	ANEWARRAY       Op = 0xbd
	ARRAYLENGTH     Op = 0xbe
	ATHROW          Op = 0xbf
	CHECKCAST       Op = 0xc0
	INSTANCEOF      Op = 0xc1
	MONITORENTER    Op = 0xc2
	MONITOREXIT     Op = 0xc3
	WIDE            Op = 0xc4
	MULTIANEWARRAY  Op = 0xc5
	IFNULL          Op = 0xc6
	IFNONNULL       Op = 0xc7
	GOTO_W          Op = 0xc8
	JSR_W           Op = 0xc9
)

var table = [256]info{
	NOP:             {"nop", KindNone},
	ACONST_NULL:     {"aconst_null", KindNone},
	ICONST_M1:       {"iconst_m1", KindNone},
	ICONST_0:        {"iconst_0", KindNone},
	ICONST_1:        {"iconst_1", KindNone},
	ICONST_2:        {"iconst_2", KindNone},
	ICONST_3:        {"iconst_3", KindNone},
	ICONST_4:        {"iconst_4", KindNone},
	ICONST_5:        {"iconst_5", KindNone},
	LCONST_0:        {"lconst_0", KindNone},
	LCONST_1:        {"lconst_1", KindNone},
	FCONST_0:        {"fconst_0", KindNone},
	FCONST_1:        {"fconst_1", KindNone},
	FCONST_2:        {"fconst_2", KindNone},
	DCONST_0:        {"dconst_0", KindNone},
	DCONST_1:        {"dconst_1", KindNone},
	BIPUSH:          {"bipush", KindByte},
	SIPUSH:          {"sipush", KindShort},
	LDC:             {"ldc", KindConst8},
	LDC_W:           {"ldc_w", KindConst16},
	LDC2_W:          {"ldc2_w", KindConst16},
	ILOAD:           {"iload", KindLocal},
	LLOAD:           {"lload", KindLocal},
	FLOAD:           {"fload", KindLocal},
	DLOAD:           {"dload", KindLocal},
	ALOAD:           {"aload", KindLocal},
	ILOAD_0:         {"iload_0", KindNone},
	ILOAD_1:         {"iload_1", KindNone},
	ILOAD_2:         {"iload_2", KindNone},
	ILOAD_3:         {"iload_3", KindNone},
	LLOAD_0:         {"lload_0", KindNone},
	LLOAD_1:         {"lload_1", KindNone},
	LLOAD_2:         {"lload_2", KindNone},
	LLOAD_3:         {"lload_3", KindNone},
	FLOAD_0:         {"fload_0", KindNone},
	FLOAD_1:         {"fload_1", KindNone},
	FLOAD_2:         {"fload_2", KindNone},
	FLOAD_3:         {"fload_3", KindNone},
	DLOAD_0:         {"dload_0", KindNone},
	DLOAD_1:         {"dload_1", KindNone},
	DLOAD_2:         {"dload_2", KindNone},
	DLOAD_3:         {"dload_3", KindNone},
	ALOAD_0:         {"aload_0", KindNone},
	ALOAD_1:         {"aload_1", KindNone},
	ALOAD_2:         {"aload_2", KindNone},
	ALOAD_3:         {"aload_3", KindNone},
	IALOAD:          {"iaload", KindNone},
	LALOAD:          {"laload", KindNone},
	FALOAD:          {"faload", KindNone},
	DALOAD:          {"daload", KindNone},
	AALOAD:          {"aaload", KindNone},
	BALOAD:          {"baload", KindNone},
	CALOAD:          {"caload", KindNone},
	SALOAD:          {"saload", KindNone},
	ISTORE:          {"istore", KindLocal},
	LSTORE:          {"lstore", KindLocal},
	FSTORE:          {"fstore", KindLocal},
	DSTORE:          {"dstore", KindLocal},
	ASTORE:          {"astore", KindLocal},
	ISTORE_0:        {"istore_0", KindNone},
	ISTORE_1:        {"istore_1", KindNone},
	ISTORE_2:        {"istore_2", KindNone},
	ISTORE_3:        {"istore_3", KindNone},
	LSTORE_0:        {"lstore_0", KindNone},
	LSTORE_1:        {"lstore_1", KindNone},
	LSTORE_2:        {"lstore_2", KindNone},
	LSTORE_3:        {"lstore_3", KindNone},
	FSTORE_0:        {"fstore_0", KindNone},
	FSTORE_1:        {"fstore_1", KindNone},
	FSTORE_2:        {"fstore_2", KindNone},
	FSTORE_3:        {"fstore_3", KindNone},
	DSTORE_0:        {"dstore_0", KindNone},
	DSTORE_1:        {"dstore_1", KindNone},
	DSTORE_2:        {"dstore_2", KindNone},
	DSTORE_3:        {"dstore_3", KindNone},
	ASTORE_0:        {"astore_0", KindNone},
	ASTORE_1:        {"astore_1", KindNone},
	ASTORE_2:        {"astore_2", KindNone},
	ASTORE_3:        {"astore_3", KindNone},
	IASTORE:         {"iastore", KindNone},
	LASTORE:         {"lastore", KindNone},
	FASTORE:         {"fastore", KindNone},
	DASTORE:         {"dastore", KindNone},
	AASTORE:         {"aastore", KindNone},
	BASTORE:         {"bastore", KindNone},
	CASTORE:         {"castore", KindNone},
	SASTORE:         {"sastore", KindNone},
	POP:             {"pop", KindNone},
	POP2:            {"pop2", KindNone},
	DUP:             {"dup", KindNone},
	DUP_X1:          {"dup_x1", KindNone},
	DUP_X2:          {"dup_x2", KindNone},
	DUP2:            {"dup2", KindNone},
	DUP2_X1:         {"dup2_x1", KindNone},
	DUP2_X2:         {"dup2_x2", KindNone},
	SWAP:            {"swap", KindNone},
	IADD:            {"iadd", KindNone},
	LADD:            {"ladd", KindNone},
	FADD:            {"fadd", KindNone},
	DADD:            {"dadd", KindNone},
	ISUB:            {"isub", KindNone},
	LSUB:            {"lsub", KindNone},
	FSUB:            {"fsub", KindNone},
	DSUB:            {"dsub", KindNone},
	IMUL:            {"imul", KindNone},
	LMUL:            {"lmul", KindNone},
	FMUL:            {"fmul", KindNone},
	DMUL:            {"dmul", KindNone},
	IDIV:            {"idiv", KindNone},
	LDIV:            {"ldiv", KindNone},
	FDIV:            {"fdiv", KindNone},
	DDIV:            {"ddiv", KindNone},
	IREM:            {"irem", KindNone},
	LREM:            {"lrem", KindNone},
	FREM:            {"frem", KindNone},
	DREM:            {"drem", KindNone},
	INEG:            {"ineg", KindNone},
	LNEG:            {"lneg", KindNone},
	FNEG:            {"fneg", KindNone},
	DNEG:            {"dneg", KindNone},
	ISHL:            {"ishl", KindNone},
	LSHL:            {"lshl", KindNone},
	ISHR:            {"ishr", KindNone},
	LSHR:            {"lshr", KindNone},
	IUSHR:           {"iushr", KindNone},
	LUSHR:           {"lushr", KindNone},
	IAND:            {"iand", KindNone},
	LAND:            {"land", KindNone},
	IOR:             {"ior", KindNone},
	LOR:             {"lor", KindNone},
	IXOR:            {"ixor", KindNone},
	LXOR:            {"lxor", KindNone},
	IINC:            {"iinc", KindIinc},
	I2L:             {"i2l", KindNone},
	I2F:             {"i2f", KindNone},
	I2D:             {"i2d", KindNone},
	L2I:             {"l2i", KindNone},
	L2F:             {"l2f", KindNone},
	L2D:             {"l2d", KindNone},
	F2I:             {"f2i", KindNone},
	F2L:             {"f2l", KindNone},
	F2D:             {"f2d", KindNone},
	D2I:             {"d2i", KindNone},
	D2L:             {"d2l", KindNone},
	D2F:             {"d2f", KindNone},
	I2B:             {"i2b", KindNone},
	I2C:             {"i2c", KindNone},
	I2S:             {"i2s", KindNone},
	LCMP:            {"lcmp", KindNone},
	FCMPL:           {"fcmpl", KindNone},
	FCMPG:           {"fcmpg", KindNone},
	DCMPL:           {"dcmpl", KindNone},
	DCMPG:           {"dcmpg", KindNone},
	IFEQ:            {"ifeq", KindBranch},
	IFNE:            {"ifne", KindBranch},
	IFLT:            {"iflt", KindBranch},
	IFGE:            {"ifge", KindBranch},
	IFGT:            {"ifgt", KindBranch},
	IFLE:            {"ifle", KindBranch},
	IF_ICMPEQ:       {"if_icmpeq", KindBranch},
	IF_ICMPNE:       {"if_icmpne", KindBranch},
	IF_ICMPLT:       {"if_icmplt", KindBranch},
	IF_ICMPGE:       {"if_icmpge", KindBranch},
	IF_ICMPGT:       {"if_icmpgt", KindBranch},
	IF_ICMPLE:       {"if_icmple", KindBranch},
	IF_ACMPEQ:       {"if_acmpeq", KindBranch},
	IF_ACMPNE:       {"if_acmpne", KindBranch},
	GOTO:            {"goto", KindBranch},
	JSR:             {"jsr", KindBranch},
	RET:             {"ret", KindLocal},
	TABLESWITCH:     {"tableswitch", KindTableSwitch},
	LOOKUPSWITCH:    {"lookupswitch", KindLookupSwitch},
	IRETURN:         {"ireturn", KindNone},
	LRETURN:         {"lreturn", KindNone},
	FRETURN:         {"freturn", KindNone},
	DRETURN:         {"dreturn", KindNone},
	ARETURN:         {"areturn", KindNone},
	RETURN:          {"return", KindNone},
	GETSTATIC:       {"getstatic", KindConst16},
	PUTSTATIC:       {"putstatic", KindConst16},
	GETFIELD:        {"getfield", KindConst16},
	PUTFIELD:        {"putfield", KindConst16},
	INVOKEVIRTUAL:   {"invokevirtual", KindConst16},
	INVOKESPECIAL:   {"invokespecial", KindConst16},
	INVOKESTATIC:    {"invokestatic", KindConst16},
	INVOKEINTERFACE: {"invokeinterface", KindInvokeInterface},
	INVOKEDYNAMIC:   {"invokedynamic", KindInvokeDynamic},
	NEW:             {"new", KindConst16},
	NEWARRAY:        {"newarray", KindNewArray},
	ANEWARRAY:       {"anewarray", KindConst16},
	ARRAYLENGTH:     {"arraylength", KindNone},
	ATHROW:          {"athrow", KindNone},
	CHECKCAST:       {"checkcast", KindConst16},
	INSTANCEOF:      {"instanceof", KindConst16},
	MONITORENTER:    {"monitorenter", KindNone},
	MONITOREXIT:     {"monitorexit", KindNone},
	WIDE:            {"wide", KindWide},
	MULTIANEWARRAY:  {"multianewarray", KindMultiANewArray},
	IFNULL:          {"ifnull", KindBranch},
	IFNONNULL:       {"ifnonnull", KindBranch},
	GOTO_W:          {"goto_w", KindBranchWide},
	JSR_W:           {"jsr_w", KindBranchWide},
}
