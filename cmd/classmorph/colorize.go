package main

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// firstLexer returns the first lexer chroma knows out of names.
func firstLexer(names ...string) chroma.Lexer {
	for _, name := range names {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func listingStyle() *chroma.Style {
	for _, name := range []string{"dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// colorize highlights a listing for the terminal. It returns text
// unchanged when CLASSMORPH_NO_COLOR is set or no lexer is available.
func colorize(text string) string {
	if os.Getenv("CLASSMORPH_NO_COLOR") != "" {
		return text
	}
	lexer := firstLexer("gas", "nasm")
	if lexer == nil {
		return text
	}
	it, err := lexer.Tokenise(nil, text)
	if err != nil {
		return text
	}
	var b strings.Builder
	if err := terminalFormatter().Format(&b, listingStyle(), it); err != nil {
		return text
	}
	return b.String()
}
