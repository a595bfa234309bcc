package jvmsim

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"
)

func encodeUTF16(s string) []uint16 { return utf16.Encode([]rune(s)) }

func decodeUTF16(cs []uint16) []rune { return utf16.Decode(cs) }

// native runs a platform method. args holds the receiver first for
// instance methods.
func (vm *VM) native(owner, name, desc string, args []Value) (Value, error) {
	recv := func() *Object { o, _ := args[0].(*Object); return o }
	str := func(v Value) []uint16 {
		if o, ok := v.(*Object); ok && o != nil {
			return o.Chars
		}
		return encodeUTF16("null")
	}
	key := name + desc

	if vm.assignable(owner, "java/lang/Throwable") {
		switch key {
		case "<init>()V":
			return nil, nil
		case "<init>(Ljava/lang/String;)V":
			recv().Fields["message"] = args[1]
			return nil, nil
		case "getMessage()Ljava/lang/String;":
			return recv().Fields["message"], nil
		}
	}

	switch owner + "." + key {
	case "java/lang/Object.<init>()V":
		return nil, nil
	case "java/lang/Object.hashCode()I":
		return int32(0), nil

	case "java/lang/String.<init>()V":
		return nil, nil
	case "java/lang/String.<init>([C)V":
		a, ok := args[1].(*Array)
		if !ok {
			return nil, vm.throw("java/lang/NullPointerException", "")
		}
		cs := make([]uint16, len(a.Elems))
		for i, e := range a.Elems {
			cs[i] = uint16(e.(int32))
		}
		recv().Chars = cs
		return nil, nil
	case "java/lang/String.toCharArray()[C":
		cs := recv().Chars
		a := &Array{Desc: "[C", Elems: make([]Value, len(cs))}
		for i, c := range cs {
			a.Elems[i] = int32(c)
		}
		return a, nil
	case "java/lang/String.intern()Ljava/lang/String;":
		return vm.intern(recv().Chars), nil
	case "java/lang/String.length()I":
		return int32(len(recv().Chars)), nil
	case "java/lang/String.isEmpty()Z":
		return bool32(len(recv().Chars) == 0), nil
	case "java/lang/String.charAt(I)C":
		cs, i := recv().Chars, args[1].(int32)
		if i < 0 || int(i) >= len(cs) {
			return nil, vm.throw("java/lang/StringIndexOutOfBoundsException", fmt.Sprint(i))
		}
		return int32(cs[i]), nil
	case "java/lang/String.equals(Ljava/lang/Object;)Z":
		o, ok := args[1].(*Object)
		return bool32(ok && o != nil && o.Class == "java/lang/String" && slices.Equal(o.Chars, recv().Chars)), nil
	case "java/lang/String.hashCode()I":
		var h int32
		for _, c := range recv().Chars {
			h = 31*h + int32(c)
		}
		return h, nil
	case "java/lang/String.concat(Ljava/lang/String;)Ljava/lang/String;":
		return newString(slices.Concat(recv().Chars, str(args[1]))), nil
	case "java/lang/String.valueOf(I)Ljava/lang/String;":
		return newString(encodeUTF16(strconv.Itoa(int(args[0].(int32))))), nil

	case "java/lang/StringBuilder.<init>()V":
		recv().Chars = []uint16{}
		return nil, nil
	case "java/lang/StringBuilder.<init>(Ljava/lang/String;)V":
		recv().Chars = slices.Clone(str(args[1]))
		return nil, nil
	case "java/lang/StringBuilder.append(Ljava/lang/String;)Ljava/lang/StringBuilder;",
		"java/lang/StringBuilder.append(Ljava/lang/Object;)Ljava/lang/StringBuilder;":
		sb := recv()
		sb.Chars = append(sb.Chars, str(args[1])...)
		return sb, nil
	case "java/lang/StringBuilder.append(I)Ljava/lang/StringBuilder;":
		sb := recv()
		sb.Chars = append(sb.Chars, encodeUTF16(strconv.Itoa(int(args[1].(int32))))...)
		return sb, nil
	case "java/lang/StringBuilder.append(J)Ljava/lang/StringBuilder;":
		sb := recv()
		sb.Chars = append(sb.Chars, encodeUTF16(strconv.FormatInt(args[1].(int64), 10))...)
		return sb, nil
	case "java/lang/StringBuilder.append(C)Ljava/lang/StringBuilder;":
		sb := recv()
		sb.Chars = append(sb.Chars, uint16(args[1].(int32)))
		return sb, nil
	case "java/lang/StringBuilder.toString()Ljava/lang/String;":
		return newString(slices.Clone(recv().Chars)), nil

	case "java/lang/Integer.valueOf(I)Ljava/lang/Integer;":
		o := vm.newObject("java/lang/Integer")
		o.Fields["value"] = args[0]
		return o, nil
	case "java/lang/Integer.intValue()I":
		return recv().Fields["value"], nil
	case "java/lang/Float.intBitsToFloat(I)F":
		return math.Float32frombits(uint32(args[0].(int32))), nil
	case "java/lang/Float.floatToRawIntBits(F)I":
		return int32(math.Float32bits(args[0].(float32))), nil
	case "java/lang/Double.longBitsToDouble(J)D":
		return math.Float64frombits(uint64(args[0].(int64))), nil
	case "java/lang/Double.doubleToRawLongBits(D)J":
		return int64(math.Float64bits(args[0].(float64))), nil
	}
	return nil, fmt.Errorf("jvmsim: unsupported platform method %s.%s%s", owner, name, desc)
}
