package program

// jdkType describes a platform class whose members the index knows without
// seeing its class file. Only types listed here count as fully known; every
// other platform class is opaque.
type jdkType struct {
	super   string
	ifaces  []string
	iface   bool
	methods []string // name + descriptor
}

const object = "java/lang/Object"

var jdkTypes = map[string]jdkType{
	object: {methods: []string{
		"<init>()V",
		"hashCode()I",
		"equals(Ljava/lang/Object;)Z",
		"toString()Ljava/lang/String;",
		"getClass()Ljava/lang/Class;",
		"clone()Ljava/lang/Object;",
		"finalize()V",
		"notify()V",
		"notifyAll()V",
		"wait()V",
		"wait(J)V",
		"wait(JI)V",
	}},
	"java/lang/Runnable":      {super: object, iface: true, methods: []string{"run()V"}},
	"java/lang/Comparable":    {super: object, iface: true, methods: []string{"compareTo(Ljava/lang/Object;)I"}},
	"java/lang/AutoCloseable": {super: object, iface: true, methods: []string{"close()V"}},
	"java/io/Closeable": {super: object, iface: true, ifaces: []string{"java/lang/AutoCloseable"},
		methods: []string{"close()V"}},
	"java/io/Serializable":          {super: object, iface: true},
	"java/lang/Cloneable":           {super: object, iface: true},
	"java/util/concurrent/Callable": {super: object, iface: true, methods: []string{"call()Ljava/lang/Object;"}},
	"java/util/function/Supplier":   {super: object, iface: true, methods: []string{"get()Ljava/lang/Object;"}},
	"java/util/function/Consumer": {super: object, iface: true, methods: []string{
		"accept(Ljava/lang/Object;)V",
		"andThen(Ljava/util/function/Consumer;)Ljava/util/function/Consumer;",
	}},
	"java/util/function/Function": {super: object, iface: true, methods: []string{
		"apply(Ljava/lang/Object;)Ljava/lang/Object;",
		"compose(Ljava/util/function/Function;)Ljava/util/function/Function;",
		"andThen(Ljava/util/function/Function;)Ljava/util/function/Function;",
	}},
	"java/util/function/Predicate": {super: object, iface: true, methods: []string{
		"test(Ljava/lang/Object;)Z",
		"and(Ljava/util/function/Predicate;)Ljava/util/function/Predicate;",
		"or(Ljava/util/function/Predicate;)Ljava/util/function/Predicate;",
		"negate()Ljava/util/function/Predicate;",
	}},
}

// reflective lists the platform methods whose string arguments name classes
// or members.
var reflective = map[string]bool{
	"java/lang/Class.forName":                                            true,
	"java/lang/Class.getMethod":                                          true,
	"java/lang/Class.getDeclaredMethod":                                  true,
	"java/lang/Class.getField":                                           true,
	"java/lang/Class.getDeclaredField":                                   true,
	"java/lang/ClassLoader.loadClass":                                    true,
	"java/lang/invoke/MethodHandles$Lookup.findVirtual":                  true,
	"java/lang/invoke/MethodHandles$Lookup.findStatic":                   true,
	"java/lang/invoke/MethodHandles$Lookup.findGetter":                   true,
	"java/lang/invoke/MethodHandles$Lookup.findSetter":                   true,
	"java/util/concurrent/atomic/AtomicIntegerFieldUpdater.newUpdater":   true,
	"java/util/concurrent/atomic/AtomicLongFieldUpdater.newUpdater":      true,
	"java/util/concurrent/atomic/AtomicReferenceFieldUpdater.newUpdater": true,
}

// serialization lists the members the serialization runtime finds by name.
var serialization = map[string]bool{
	"serialVersionUID:J":                                  true,
	"serialPersistentFields:[Ljava/io/ObjectStreamField;": true,
	"writeObject(Ljava/io/ObjectOutputStream;)V":          true,
	"readObject(Ljava/io/ObjectInputStream;)V":            true,
	"readObjectNoData()V":                                 true,
	"writeReplace()Ljava/lang/Object;":                    true,
	"readResolve()Ljava/lang/Object;":                     true,
}

// javaKeywords are never generated as names.
var javaKeywords = map[string]bool{
	"abstract": true, "assert": true, "boolean": true, "break": true, "byte": true,
	"case": true, "catch": true, "char": true, "class": true, "const": true,
	"continue": true, "default": true, "do": true, "double": true, "else": true,
	"enum": true, "extends": true, "final": true, "finally": true, "float": true,
	"for": true, "goto": true, "if": true, "implements": true, "import": true,
	"instanceof": true, "int": true, "interface": true, "long": true, "native": true,
	"new": true, "package": true, "private": true, "protected": true, "public": true,
	"return": true, "short": true, "static": true, "strictfp": true, "super": true,
	"switch": true, "synchronized": true, "this": true, "throw": true, "throws": true,
	"transient": true, "try": true, "void": true, "volatile": true, "while": true,
	"true": true, "false": true, "null": true, "var": true, "record": true,
	"yield": true, "sealed": true, "permits": true, "_": true,
}
