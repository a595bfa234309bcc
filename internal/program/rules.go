package program

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Rule is one compiled exclusion pattern. Class patterns use dotted names:
//
//	com.example.*        the package and every subpackage
//	com.example          classes directly in the package
//	com.example.Foo      one class
//	Foo                  any class with that simple name
//	com.*.internal.**    a glob; * stops at dots, ** does not
//
// A pattern with a #member suffix fixes the matching members (a glob over
// member names) instead of the class: com.example.Foo#get*.
type Rule struct {
	Pattern string
	class   func(dotted string) bool
	member  glob.Glob
}

// Rules is an ordered set of exclusion rules.
type Rules []Rule

// CompileRules compiles exclusion patterns.
func CompileRules(patterns []string) (Rules, error) {
	var rs Rules
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, err := compileRule(p)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	return rs, nil
}

func compileRule(p string) (Rule, error) {
	r := Rule{Pattern: p}
	cls, member, hasMember := strings.Cut(p, "#")
	cls = strings.ReplaceAll(cls, "/", ".")
	if hasMember {
		g, err := glob.Compile(member)
		if err != nil {
			return r, fmt.Errorf("program: exclusion %q: %w", p, err)
		}
		r.member = g
	}

	switch {
	case cls == "*" || cls == "**":
		r.class = func(string) bool { return true }
	case strings.HasSuffix(cls, ".*") && !strings.ContainsAny(cls[:len(cls)-2], "*?[{"):
		prefix := cls[:len(cls)-2]
		r.class = func(name string) bool {
			return strings.HasPrefix(name, prefix+".") || dottedPackage(name) == prefix
		}
	case strings.ContainsAny(cls, "*?[{"):
		g, err := glob.Compile(cls, '.')
		if err != nil {
			return r, fmt.Errorf("program: exclusion %q: %w", p, err)
		}
		r.class = g.Match
	case strings.Contains(cls, "."):
		r.class = func(name string) bool { return name == cls || dottedPackage(name) == cls }
	default:
		r.class = func(name string) bool { return name[strings.LastIndexByte(name, '.')+1:] == cls }
	}
	return r, nil
}

func dottedPackage(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

func dotted(internal string) string { return strings.ReplaceAll(internal, "/", ".") }

// MatchClass returns the first class rule matching an internal class name.
func (rs Rules) MatchClass(name string) (string, bool) {
	d := dotted(name)
	for _, r := range rs {
		if r.member == nil && r.class(d) {
			return r.Pattern, true
		}
	}
	return "", false
}

// MatchMember returns the first member rule matching a member of class.
func (rs Rules) MatchMember(class, member string) (string, bool) {
	d := dotted(class)
	for _, r := range rs {
		if r.member != nil && r.class(d) && r.member.Match(member) {
			return r.Pattern, true
		}
	}
	return "", false
}
