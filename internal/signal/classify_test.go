package signal

import (
	"slices"
	"testing"

	"classmorph/internal/callgraph"
	"classmorph/internal/disasm"
)

func TestClassifyURL(t *testing.T) {
	cats := ClassifyString("https://api.example.com/oauth/accessToken")
	if !slices.Contains(cats, CatURL) {
		t.Errorf("expected url category, got %v", cats)
	}
	if !slices.Contains(cats, CatAuth) {
		t.Errorf("expected auth category for oauth/accessToken, got %v", cats)
	}
	if cats := ClassifyString("jdbc:postgresql://db:5432/app"); !slices.Contains(cats, CatURL) {
		t.Errorf("expected url category for jdbc url, got %v", cats)
	}
}

func TestClassifyCrypto(t *testing.T) {
	for _, s := range []string{
		"AES/CBC/PKCS5Padding", "sha256", "HMAC-SHA1", "encrypt",
		"encryptAndStoreSecretToken", "Ciphertext:", "Nonce must have 12 bytes",
		"SALT", "RSA", "rsa_public_key", "secret_key",
	} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatEncryption) {
			t.Errorf("expected crypto category for %q, got %v", s, cats)
		}
	}
}

func TestClassifyCryptoFalsePositives(t *testing.T) {
	for _, s := range []string{
		"skipTraversal",
		"FocusTraversalPolicy",
		"java.util.ArrayList",
	} {
		if cats := ClassifyString(s); slices.Contains(cats, CatEncryption) {
			t.Errorf("should NOT be crypto: %q, got %v", s, cats)
		}
	}
}

func TestClassifyAuth(t *testing.T) {
	for _, s := range []string{"password", "Bearer token", "jwt", "apikey", "Authorization"} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatAuth) {
			t.Errorf("expected auth category for %q, got %v", s, cats)
		}
	}
	if cats := ClassifyString("brieflyShowPassword"); slices.Contains(cats, CatAuth) {
		t.Errorf("camelCase should not be auth, got %v", cats)
	}
}

func TestClassifyNetAndFiles(t *testing.T) {
	if cats := ClassifyString("POST"); !slices.Contains(cats, CatNet) {
		t.Errorf("expected net for POST, got %v", cats)
	}
	if cats := ClassifyString("config.properties"); !slices.Contains(cats, CatFileExt) {
		t.Errorf("expected file for config.properties, got %v", cats)
	}
	if cats := ClassifyString("10.0.0.1"); !slices.Contains(cats, CatHost) {
		t.Errorf("expected host for IP literal, got %v", cats)
	}
}

func TestClassifyBase64Key(t *testing.T) {
	if cats := ClassifyString("Q8K3ZP0WX7M2N9R4T6V1Y5A="); !slices.Contains(cats, CatBase64Key) {
		t.Errorf("expected base64 category, got %v", cats)
	}
	if cats := ClassifyString("getApplicationContext"); slices.Contains(cats, CatBase64Key) {
		t.Errorf("identifier should not be a key, got %v", cats)
	}
}

func TestClassifyCall(t *testing.T) {
	for _, tc := range []struct {
		owner, name, want string
	}{
		{"java/lang/Class", "forName", CatReflection},
		{"java/lang/reflect/Method", "invoke", CatReflection},
		{"java/lang/invoke/MethodHandles$Lookup", "findVirtual", CatReflection},
		{"java/util/ServiceLoader", "load", CatLoader},
		{"java/io/ObjectInputStream", "readObject", CatSerialization},
		{"java/lang/System", "loadLibrary", CatNative},
		{"java/lang/Class", "getResourceAsStream", CatResource},
		{"java/lang/ProcessBuilder", "start", CatExec},
	} {
		if cats := ClassifyCall(tc.owner, tc.name); !slices.Contains(cats, tc.want) {
			t.Errorf("ClassifyCall(%s, %s) = %v, want %s", tc.owner, tc.name, cats, tc.want)
		}
	}
	if cats := ClassifyCall("java/lang/StringBuilder", "append"); cats != nil {
		t.Errorf("StringBuilder.append = %v, want none", cats)
	}
}

func TestMaxSeverity(t *testing.T) {
	if s := MaxSeverity([]string{CatNet, CatURL}); s != SeverityMedium {
		t.Errorf("severity = %s, want medium", s)
	}
	if s := MaxSeverity([]string{CatNet, CatClassName}); s != SeverityHigh {
		t.Errorf("severity = %s, want high", s)
	}
	if s := MaxSeverity(nil); s != SeverityLow {
		t.Errorf("severity = %s, want low", s)
	}
}

func TestBuildSignalGraph(t *testing.T) {
	rec := &callgraph.Records{
		Methods: []disasm.MethodRecord{
			{Class: "a/Main", Name: "main", Desc: "([Ljava/lang/String;)V"},
			{Class: "a/Main", Name: "load", Desc: "()Ljava/lang/Object;"},
			{Class: "a/Plugin", Name: "<init>", Desc: "()V"},
			{Class: "a/Util", Name: "pad", Desc: "(I)I"},
			{Class: "a/Jni", Name: "call", Desc: "()V", Access: "public native"},
		},
		Edges: []disasm.CallEdgeRecord{
			{FromMethod: "a/Main.main([Ljava/lang/String;)V", Kind: "invokestatic", Target: "a/Main.load()Ljava/lang/Object;"},
			{FromMethod: "a/Main.load()Ljava/lang/Object;", Kind: "invokestatic", Target: "java/lang/Class.forName(Ljava/lang/String;)Ljava/lang/Class;"},
			{FromMethod: "a/Main.load()Ljava/lang/Object;", Kind: "invokestatic", Target: "java/lang/Class.forName(Ljava/lang/String;)Ljava/lang/Class;"},
		},
		Strings: []disasm.StringRefRecord{
			{Method: "a/Main.load()Ljava/lang/Object;", Value: "a.Plugin"},
			{Method: "a/Util.pad(I)I", Value: "plain text"},
		},
	}
	classes := map[string]bool{"a/Main": true, "a/Plugin": true, "a/Util": true, "a/Jni": true}
	g := BuildSignalGraph(rec, classes, 1, map[string]bool{"a/Main.main([Ljava/lang/String;)V": true})

	first := g.Methods[0]
	if first.Name != "a/Main.load()Ljava/lang/Object;" || first.Severity != SeverityHigh {
		t.Fatalf("first = %+v", first)
	}
	if !slices.Equal(first.Categories, []string{CatClassName, CatReflection}) {
		t.Errorf("categories = %v", first.Categories)
	}
	if len(first.Calls) != 1 {
		t.Errorf("calls = %v, want one distinct target", first.Calls)
	}
	roles := make(map[string]string)
	for _, m := range g.Methods {
		roles[m.Name] = m.Role
	}
	if roles["a/Main.main([Ljava/lang/String;)V"] != "context" {
		t.Errorf("main role = %q, want context", roles["a/Main.main([Ljava/lang/String;)V"])
	}
	if roles["a/Jni.call()V"] != "signal" {
		t.Errorf("native method role = %q, want signal", roles["a/Jni.call()V"])
	}
	if roles["a/Util.pad(I)I"] != "" {
		t.Errorf("pad role = %q, want none", roles["a/Util.pad(I)I"])
	}
	if g.Stats.SignalMethods != 2 || g.Stats.TotalEdges != 2 {
		t.Errorf("stats = %+v", g.Stats)
	}
	if got := SuggestExclusions(g); !slices.Equal(got, []string{"a.Plugin"}) {
		t.Errorf("suggestions = %v", got)
	}
}
