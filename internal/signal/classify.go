// Package signal finds the places of a batch where obfuscation is likely
// to change behavior or where it hides something worth knowing about:
// reflective and dynamic class access, serialization, native code, string
// literals that name batch classes, and literals carrying URLs, keys or
// credentials.
package signal

import (
	"math"
	"regexp"
	"slices"
	"strings"
)

// Categories of string literals.
const (
	CatURL        = "url"
	CatHost       = "host"
	CatEncryption = "encryption"
	CatAuth       = "auth"
	CatNet        = "net"
	CatFileExt    = "file"
	CatBase64Key  = "base64"
	CatClassName  = "classname" // names a class of the batch
)

// Categories of call targets and methods.
const (
	CatReflection    = "reflection"    // java.lang.reflect, Class.forName, method handle lookups
	CatLoader        = "loader"        // class loaders, ServiceLoader
	CatSerialization = "serialization" // object streams
	CatNative        = "native"        // native methods, System.loadLibrary
	CatResource      = "resource"      // Class.getResource and friends
	CatExec          = "exec"          // Runtime.exec, ProcessBuilder
)

var (
	reURL       = regexp.MustCompile(`(?i)(https?|wss?|ftp|jdbc:[a-z]+)://`)
	reIPLiteral = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reBase64    = regexp.MustCompile(`^[A-Za-z0-9+/=]{16,}$`)

	// Crypto keywords that are safe for substring matching (long enough, no false positives).
	cryptoKeywords = []string{
		"encrypt", "decrypt", "cipher", "ciphertext",
		"pbkdf", "argon2", "bcrypt", "scrypt",
		"signature", "digest", "keystore", "secretkey",
		"hmacsha", "chacha", "blowfish", "twofish",
		"nonce", "saltvalue",
	}

	// Short crypto words need word-boundary matching to avoid false positives
	// ("rsa" in "Traversal", "md5" in random strings).
	reCryptoShort = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(aes|rsa|ecdsa|ecdh|hmac|sha1|sha256|sha512|md5|cbc|ecb|gcm|pkcs\d*|rc4|3des|salt|iv)([^a-zA-Z]|$)`)

	// Auth patterns use word boundaries to avoid camelCase false positives
	// like "brieflyShowPassword".
	reAuth = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(oauth|jwt|bearer|credential|passwd|apikey|api_key|api-key|authorization|authenticate)([^a-zA-Z]|$)`)

	// These require standalone match (not embedded in camelCase).
	reAuthStandalone = regexp.MustCompile(`(?i)(^|[^a-z])(password|token|secret|login)([^a-z]|$)`)

	netKeywords = []string{
		"socket", "connect", "dns", "proxy", "redirect",
	}

	httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

	signalExtensions = []string{
		".class", ".jar", ".war", ".so", ".dll", ".dylib",
		".zip", ".tar", ".gz",
		".json", ".xml", ".yaml", ".yml", ".properties",
		".db", ".sqlite",
		".key", ".pem", ".cert", ".crt", ".p12", ".jks",
		".js", ".groovy", ".py",
	}

	// Call targets by owner, then member name prefix ("" matches any).
	callRules = []struct {
		owner, prefix, cat string
	}{
		{"java/lang/Class", "forName", CatReflection},
		{"java/lang/Class", "getMethod", CatReflection},
		{"java/lang/Class", "getDeclaredMethod", CatReflection},
		{"java/lang/Class", "getField", CatReflection},
		{"java/lang/Class", "getDeclaredField", CatReflection},
		{"java/lang/Class", "getConstructor", CatReflection},
		{"java/lang/Class", "getDeclaredConstructor", CatReflection},
		{"java/lang/Class", "getName", CatReflection},
		{"java/lang/Class", "getSimpleName", CatReflection},
		{"java/lang/Class", "newInstance", CatReflection},
		{"java/lang/Class", "getResource", CatResource},
		{"java/lang/ClassLoader", "getResource", CatResource},
		{"java/lang/invoke/MethodHandles$Lookup", "find", CatReflection},
		{"java/lang/Enum", "valueOf", CatReflection},
		{"java/lang/ClassLoader", "loadClass", CatLoader},
		{"java/lang/ClassLoader", "defineClass", CatLoader},
		{"java/net/URLClassLoader", "", CatLoader},
		{"java/util/ServiceLoader", "load", CatLoader},
		{"java/io/ObjectInputStream", "readObject", CatSerialization},
		{"java/io/ObjectOutputStream", "writeObject", CatSerialization},
		{"java/lang/System", "loadLibrary", CatNative},
		{"java/lang/System", "load", CatNative},
		{"java/lang/Runtime", "exec", CatExec},
		{"java/lang/ProcessBuilder", "start", CatExec},
	}
)

// ClassifyString returns the set of signal categories matching the value.
// Returns nil if the string carries no signal.
func ClassifyString(value string) []string {
	if len(value) < 2 {
		return nil
	}

	var cats []string
	lower := strings.ToLower(value)

	if reURL.MatchString(value) {
		cats = append(cats, CatURL)
	}
	if reIPLiteral.MatchString(value) {
		cats = append(cats, CatHost)
	}

	// Crypto: keyword substring match + word-boundary regex for short words.
	if containsKeyword(value, cryptoKeywords) || reCryptoShort.MatchString(value) {
		cats = append(cats, CatEncryption)
	}

	if reAuth.MatchString(value) || reAuthStandalone.MatchString(value) {
		cats = append(cats, CatAuth)
	}

	// Net (HTTP methods or network keywords)
	if slices.Contains(httpMethods, value) {
		cats = append(cats, CatNet)
	} else {
		for _, w := range netKeywords {
			if strings.Contains(lower, w) {
				cats = append(cats, CatNet)
				break
			}
		}
	}

	for _, ext := range signalExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+" ") || strings.Contains(lower, ext+",") {
			cats = append(cats, CatFileExt)
			break
		}
	}

	// Base64/hex key (high-entropy, standalone).
	// Exclude camelCase identifiers which match the character set but aren't keys.
	trimmed := strings.TrimSpace(value)
	if reBase64.MatchString(trimmed) && entropy(value) > 3.5 && !isCamelCase(trimmed) {
		cats = append(cats, CatBase64Key)
	}
	return cats
}

// ClassifyCall returns the categories of a call to owner.name.
func ClassifyCall(owner, name string) []string {
	var cats []string
	for _, r := range callRules {
		if r.owner == owner && strings.HasPrefix(name, r.prefix) && !slices.Contains(cats, r.cat) {
			cats = append(cats, r.cat)
		}
	}
	if len(cats) == 0 && strings.HasPrefix(owner, "java/lang/reflect/") {
		cats = append(cats, CatReflection)
	}
	return cats
}

// Severity levels for signal categories.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// CategorySeverity returns the severity level for a category. High marks
// what renaming is likely to break.
func CategorySeverity(cat string) string {
	switch cat {
	case CatReflection, CatLoader, CatClassName, CatSerialization:
		return SeverityHigh
	case CatNative, CatResource, CatEncryption, CatAuth, CatBase64Key, CatURL, CatHost:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxSeverity returns the highest severity from a list of categories.
func MaxSeverity(categories []string) string {
	best := ""
	for _, c := range categories {
		s := CategorySeverity(c)
		if s == SeverityHigh {
			return SeverityHigh
		}
		if s == SeverityMedium {
			best = SeverityMedium
		} else if best == "" {
			best = SeverityLow
		}
	}
	if best == "" {
		return SeverityLow
	}
	return best
}

// isCamelCase returns true if the string looks like a camelCase/PascalCase identifier.
// It checks for lowercase-to-uppercase transitions (e.g. "checkSimCard").
func isCamelCase(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= 'a' && s[i-1] <= 'z' && s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// normalizeForMatch strips underscores, hyphens, spaces, and dots from a
// lowercased string, so "secretKey", "secret_key" and "secret key" all
// match the keyword "secretkey".
func normalizeForMatch(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c != '_' && c != '-' && c != ' ' && c != '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// containsKeyword checks if the normalized value contains any keyword.
// Keywords should be lowercase with no separators.
func containsKeyword(value string, keywords []string) bool {
	norm := normalizeForMatch(value)
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// entropy computes Shannon entropy of a string in bits per character.
func entropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var ent float64
	for _, count := range freq {
		p := float64(count) / n
		if p > 0 {
			ent -= p * math.Log2(p)
		}
	}
	return ent
}
