package passes

import (
	"math"
	"math/rand/v2"
	"slices"

	"classmorph/internal/classfile"
	"classmorph/internal/diag"
	"classmorph/internal/disasm"
)

// Literals replaces string literals with an encoded constant and a call to
// an injected decoder that caches the interned result per literal, and
// optionally splits numeric pool literals into XOR pairs.
//
// The decoder and its cache are private static members of the unit itself,
// with names reserved in the index, so no other class or pass can collide
// with them. Interfaces are declined: their fields must be public.
type Literals struct{}

func (Literals) String() string { return "literals" }

func (Literals) Skip(ctx *Context) bool {
	return !ctx.Config.EncryptStrings && !ctx.Config.EncryptNumbers
}

const (
	stringDesc  = "Ljava/lang/String;"
	cacheDesc   = "[Ljava/lang/String;"
	decoderDesc = "(Ljava/lang/String;I)Ljava/lang/String;"
)

func (Literals) Run(ctx *Context) error {
	return ctx.eachUnit("literals", func(u unit) error {
		if u.IsInterface() {
			ctx.Skipped.Add(&diag.Error{
				Kind:   diag.UnsupportedConstruct,
				Unit:   u.name,
				Pass:   "literals",
				Offset: -1,
				Msg:    "interfaces cannot hold the decoder cache",
			})
			return nil
		}
		lt := newLiteralTable(ctx, u)
		if ctx.Config.EncryptStrings {
			lt.constantFields()
		}
		err := ctx.eachMethod("literals", u, func(m *classfile.Method) error {
			if m.Code.HasJsr() {
				return decline("jsr/ret subroutines")
			}
			return lt.method(m)
		})
		if err != nil {
			return err
		}
		if lt.changed {
			ctx.touch(u.name)
		}
		return lt.inject()
	})
}

// literalTable numbers the distinct string literals of one unit.
type literalTable struct {
	ctx     *Context
	u       unit
	index   map[string]int32
	enc     []int // pool index of each encoded String entry
	fields  []*classfile.Field
	keys    [3]int32
	changed bool

	decoder, cache string
}

func newLiteralTable(ctx *Context, u unit) *literalTable {
	h := ctx.Index.MethodSeed(u.name, "<literals>", "")
	return &literalTable{
		ctx:   ctx,
		u:     u,
		index: make(map[string]int32),
		// Odd multipliers spread consecutive indices and positions apart.
		keys:    [3]int32{int32(h) | 1, int32(h>>32) | 1, int32(h >> 16)},
		decoder: ctx.Index.Synthetic(u.name, "literal decoder"),
		cache:   ctx.Index.Synthetic(u.name, "literal cache"),
	}
}

// literalMask is the XOR mask of position j of literal k. The injected
// decoder computes the same expression with 32-bit int arithmetic; the low
// bit is forced so that no character encodes to itself.
func literalMask(keys [3]int32, k, j int32) uint16 {
	return uint16((k*keys[0]+j*keys[1]+keys[2])&0xffff) | 1
}

// encodeLiteral XORs the UTF-16 code units of a literal.
func encodeLiteral(keys [3]int32, k int32, cs []uint16) []uint16 {
	out := make([]uint16, len(cs))
	for j, ch := range cs {
		out[j] = ch ^ literalMask(keys, k, int32(j))
	}
	return out
}

// id returns the literal number of cs, registering it on first use. ok is
// false when the encoded literal does not fit a Utf8 entry: masked
// characters take up to three bytes each.
func (lt *literalTable) id(cs []uint16) (k int32, ok bool) {
	key := string(classfile.EncodeChars(cs))
	if k, ok := lt.index[key]; ok {
		return k, true
	}
	k = int32(len(lt.enc))
	enc := encodeLiteral(lt.keys, k, cs)
	if len(classfile.EncodeChars(enc)) > classfile.MaxUtf8Len {
		return 0, false
	}
	lt.index[key] = k
	lt.enc = append(lt.enc, lt.u.Pool.AddStringChars(enc))
	return k, true
}

// decode returns the instructions producing literal cs, or nil when cs
// stays a plain literal.
func (lt *literalTable) decode(cs []uint16) []disasm.Inst {
	k, ok := lt.id(cs)
	if !ok {
		lt.ctx.Log.Debug("literal too long to encode", "unit", lt.u.name, "chars", len(cs))
		return nil
	}
	pool := lt.u.Pool
	return []disasm.Inst{
		disasm.PoolOp(disasm.Ldc, lt.enc[k]),
		pushInt(pool, k),
		disasm.PoolOp(disasm.Invokestatic, pool.AddMember(classfile.TagMethodref, lt.u.Name(), lt.decoder, decoderDesc)),
	}
}

// constantFields collects static String fields initialised through
// ConstantValue; their value moves into <clinit>.
func (lt *literalTable) constantFields() {
	for _, f := range lt.u.Fields {
		if f.Access&classfile.AccStatic == 0 || lt.u.DescOf(&f.Member) != stringDesc {
			continue
		}
		if classfile.Attr(f.Attrs, classfile.AttrConstantValue) != nil {
			lt.fields = append(lt.fields, f)
		}
	}
}

func (lt *literalTable) method(m *classfile.Method) error {
	cfg := lt.ctx.Config
	pool := lt.u.Pool
	var rng *rand.Rand
	out := make([]disasm.Inst, 0, len(m.Code.Insts))
	edited := false
	for _, in := range m.Code.Insts {
		if in.Kind != disasm.KindLdc {
			out = append(out, in)
			continue
		}
		e, err := pool.At(in.Index)
		if err != nil {
			return diag.Wrap(diag.MalformedUnit, err, "ldc").At(methodKey(lt.u.Class, m), in.Offset)
		}
		var repl []disasm.Inst
		switch {
		case e.Tag == classfile.TagString && cfg.EncryptStrings:
			cs, err := pool.StringChars(in.Index)
			if err != nil {
				return diag.Wrap(diag.MalformedUnit, err, "ldc").At(methodKey(lt.u.Class, m), in.Offset)
			}
			repl = lt.decode(cs)
		case cfg.EncryptNumbers && (e.Tag == classfile.TagInteger || e.Tag == classfile.TagLong ||
			e.Tag == classfile.TagFloat || e.Tag == classfile.TagDouble):
			if rng == nil {
				seed := lt.ctx.Index.MethodSeed(lt.u.name, lt.u.NameOf(&m.Member), lt.u.DescOf(&m.Member))
				rng = rand.New(rand.NewPCG(seed, 0x6c69746572616c73))
			}
			repl = splitNumber(pool, e, rng)
		}
		if repl == nil {
			out = append(out, in)
			continue
		}
		out = append(out, repl...)
		edited = true
	}
	if edited {
		m.Code.Insts = out
		m.Code.Dirty = true
		lt.changed = true
	}
	return nil
}

// splitNumber returns a XOR pair producing the numeric constant e, or nil
// for NaN floats whose bit pattern the round trip may not keep.
func splitNumber(pool *classfile.Pool, e classfile.Constant, rng *rand.Rand) []disasm.Inst {
	switch e.Tag {
	case classfile.TagInteger, classfile.TagFloat:
		if e.Tag == classfile.TagFloat && math.IsNaN(float64(e.Float())) {
			return nil
		}
		v := int32(uint32(e.Bits))
		a := int32(rng.Uint32())
		out := []disasm.Inst{
			disasm.PoolOp(disasm.Ldc, pool.AddInteger(a)),
			disasm.PoolOp(disasm.Ldc, pool.AddInteger(a^v)),
			disasm.Op0(disasm.Ixor),
		}
		if e.Tag == classfile.TagFloat {
			out = append(out, invoke(pool, disasm.Invokestatic, "java/lang/Float", "intBitsToFloat", "(I)F"))
		}
		return out
	case classfile.TagLong, classfile.TagDouble:
		if e.Tag == classfile.TagDouble && math.IsNaN(e.Double()) {
			return nil
		}
		v := int64(e.Bits)
		a := int64(rng.Uint64())
		out := []disasm.Inst{
			disasm.PoolOp(disasm.Ldc2W, pool.AddLong(a)),
			disasm.PoolOp(disasm.Ldc2W, pool.AddLong(a^v)),
			disasm.Op0(disasm.Lxor),
		}
		if e.Tag == classfile.TagDouble {
			out = append(out, invoke(pool, disasm.Invokestatic, "java/lang/Double", "longBitsToDouble", "(J)D"))
		}
		return out
	}
	return nil
}

// inject declares the cache field and decoder and initialises the cache,
// plus any constant fields, at the top of <clinit>.
func (lt *literalTable) inject() error {
	c := lt.u.Class
	var consts [][]disasm.Inst
	var moved []*classfile.Field
	for _, f := range lt.fields {
		a := classfile.Attr(f.Attrs, classfile.AttrConstantValue)
		idx, ok := classfile.U16Attr(a)
		if !ok {
			continue
		}
		cs, err := c.Pool.StringChars(int(idx))
		if err != nil {
			return diag.Wrap(diag.MalformedUnit, err, "ConstantValue of %s", c.NameOf(&f.Member))
		}
		ins := lt.decode(cs)
		if ins == nil {
			continue
		}
		ins = append(ins, disasm.PoolOp(disasm.Putstatic,
			c.Pool.AddMember(classfile.TagFieldref, lt.u.Name(), c.NameOf(&f.Member), stringDesc)))
		consts = append(consts, ins)
		moved = append(moved, f)
	}
	if len(lt.enc) == 0 {
		return nil
	}

	clinit := c.Method("<clinit>", "()V")
	if clinit != nil && clinit.Code != nil && clinit.Code.HasJsr() {
		// The decoder initialises the cache lazily; constant fields keep
		// their ConstantValue.
		clinit, consts = nil, nil
	} else {
		for _, f := range moved {
			classfile.RemoveAttrs(&f.Attrs, classfile.AttrConstantValue)
		}
		if clinit == nil {
			code := &classfile.Code{}
			code.Insts = []disasm.Inst{disasm.Op0(disasm.Return)}
			clinit = addMethod(c, classfile.AccStatic, "<clinit>", "()V", code)
		}
	}

	n := int32(len(lt.enc))
	addField(c, classfile.AccPrivate|classfile.AccStatic|classfile.AccSynthetic, lt.cache, cacheDesc)
	addMethod(c, classfile.AccPrivate|classfile.AccStatic|classfile.AccSynthetic, lt.decoder, decoderDesc, lt.decoderCode(n))

	if clinit != nil && clinit.Code != nil {
		b := newBuilder(c, clinit.Code)
		b.int(n)
		b.typ(disasm.Anewarray, "java/lang/String")
		b.field(disasm.Putstatic, lt.u.Name(), lt.cache, cacheDesc)
		for _, ins := range consts {
			b.add(ins...)
		}
		clinit.Code.Insts = slices.Concat(b.insts, clinit.Code.Insts)
		clinit.Code.Dirty = true
	}
	lt.ctx.touch(lt.u.name)
	return nil
}

// decoderCode builds
//
//	static String decode(String enc, int k) {
//	    String[] cache = CACHE;
//	    if (cache == null) cache = CACHE = new String[n];
//	    String s = cache[k];
//	    if (s != null) return s;
//	    char[] cs = enc.toCharArray();
//	    for (int j = 0; j < cs.length; j++)
//	        cs[j] ^= ((k*K0 + j*K1 + K2) & 0xffff) | 1;
//	    s = new String(cs).intern();
//	    cache[k] = s;
//	    return s;
//	}
func (lt *literalTable) decoderCode(n int32) *classfile.Code {
	const (
		enc   = 0
		k     = 1
		cache = 2
		cs    = 3
		j     = 4
		s     = 5
	)
	code := &classfile.Code{}
	b := newBuilder(lt.u.Class, code)
	owner := lt.u.Name()
	have, miss, loop, done := b.label(), b.label(), b.label(), b.label()

	b.field(disasm.Getstatic, owner, lt.cache, cacheDesc)
	b.op(disasm.Dup)
	b.jump(disasm.Ifnonnull, have)
	b.op(disasm.Pop)
	b.int(n)
	b.typ(disasm.Anewarray, "java/lang/String")
	b.op(disasm.Dup)
	b.field(disasm.Putstatic, owner, lt.cache, cacheDesc)
	b.mark(have)
	b.store(disasm.TypeRef, cache)
	b.load(disasm.TypeRef, cache)
	b.load(disasm.TypeInt, k)
	b.op(disasm.Aaload, disasm.Dup)
	b.jump(disasm.Ifnull, miss)
	b.op(disasm.Areturn)

	b.mark(miss)
	b.op(disasm.Pop)
	b.load(disasm.TypeRef, enc)
	b.invoke(disasm.Invokevirtual, "java/lang/String", "toCharArray", "()[C")
	b.store(disasm.TypeRef, cs)
	b.int(0)
	b.store(disasm.TypeInt, j)
	b.mark(loop)
	b.load(disasm.TypeInt, j)
	b.load(disasm.TypeRef, cs)
	b.op(disasm.Arraylength)
	b.jump(disasm.IfIcmpge, done)
	b.load(disasm.TypeRef, cs)
	b.load(disasm.TypeInt, j)
	b.load(disasm.TypeRef, cs)
	b.load(disasm.TypeInt, j)
	b.op(disasm.Caload)
	b.load(disasm.TypeInt, k)
	b.int(lt.keys[0])
	b.op(disasm.Imul)
	b.load(disasm.TypeInt, j)
	b.int(lt.keys[1])
	b.op(disasm.Imul, disasm.Iadd)
	b.int(lt.keys[2])
	b.op(disasm.Iadd)
	b.int(0xffff)
	b.op(disasm.Iand, disasm.Iconst1, disasm.Ior, disasm.Ixor, disasm.I2c, disasm.Castore)
	b.add(disasm.Inc(j, 1))
	b.jump(disasm.Goto, loop)

	b.mark(done)
	b.typ(disasm.New, "java/lang/String")
	b.op(disasm.Dup)
	b.load(disasm.TypeRef, cs)
	b.invoke(disasm.Invokespecial, "java/lang/String", "<init>", "([C)V")
	b.invoke(disasm.Invokevirtual, "java/lang/String", "intern", "()Ljava/lang/String;")
	b.store(disasm.TypeRef, s)
	b.load(disasm.TypeRef, cache)
	b.load(disasm.TypeInt, k)
	b.load(disasm.TypeRef, s)
	b.op(disasm.Aastore)
	b.load(disasm.TypeRef, s)
	b.op(disasm.Areturn)

	code.Insts = b.insts
	return code
}
