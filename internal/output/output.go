// Package output writes a run's results to files: the transformed batch as
// a jar or directory tree, the rename mappings, listings, JSONL records and
// a summary report.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"classmorph/internal/callgraph"
	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
	"classmorph/internal/program"

	"gopkg.in/yaml.v3"
)

// WriteMappings writes the rename tables to path, as YAML when the name
// ends in .yaml or .yml and as indented JSON otherwise.
func WriteMappings(path string, m *program.Mappings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("output: encode %s: %w", path, err)
		}
		return os.WriteFile(path, data, 0o644)
	}
	return writeJSON(path, m)
}

// Listing renders every method of c with code as a listing: a header line
// per method, then one line per instruction with pool operands resolved
// and source lines noted.
func Listing(c *classfile.Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s extends %s\n", c.Name(), c.SuperName())
	for _, m := range c.Methods {
		name, desc := c.NameOf(&m.Member), c.DescOf(&m.Member)
		b.WriteByte('\n')
		if acc := classfile.MethodAccess(m.Access); acc != "" {
			b.WriteString(acc + " ")
		}
		b.WriteString(name + desc)
		if m.Code == nil {
			b.WriteString(";\n")
			continue
		}
		fmt.Fprintf(&b, "  ; stack=%d locals=%d\n", m.Code.MaxStack, m.Code.MaxLocals)
		lines := make(map[disasm.Label]int, len(m.Code.Lines))
		for _, l := range m.Code.Lines {
			lines[l.Start] = int(l.Line)
		}
		b.WriteString(disasm.Format(m.Code.Insts, c.Pool.Text, disasm.LineAnnotator(m.Code.Insts, lines)))
		for _, h := range m.Code.Handlers {
			catch := "any"
			if h.CatchType != 0 {
				catch, _ = c.Pool.Text(h.CatchType)
			}
			fmt.Fprintf(&b, "  catch %s L%d..L%d -> L%d\n", catch, h.Start, h.End, h.Target)
		}
	}
	return b.String()
}

// WriteListings writes one listing per class to dir/asm/<class>.txt.
func WriteListings(dir string, classes []*classfile.Class) error {
	for _, c := range classes {
		path := filepath.Join(dir, "asm", filepath.FromSlash(c.Name())+".txt")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("output: mkdir asm: %w", err)
		}
		if err := os.WriteFile(path, []byte(Listing(c)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecords writes methods.jsonl, call_edges.jsonl and string_refs.jsonl
// to dir.
func WriteRecords(dir string, rec *callgraph.Records) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	if err := writeJSONL(filepath.Join(dir, "methods.jsonl"), rec.Methods); err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(dir, "call_edges.jsonl"), rec.Edges); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dir, "string_refs.jsonl"), rec.Strings)
}

// ReadRecords loads the files WriteRecords produced.
func ReadRecords(dir string) (*callgraph.Records, error) {
	rec := &callgraph.Records{}
	if err := readJSONL(filepath.Join(dir, "methods.jsonl"), &rec.Methods); err != nil {
		return nil, err
	}
	if err := readJSONL(filepath.Join(dir, "call_edges.jsonl"), &rec.Edges); err != nil {
		return nil, err
	}
	if err := readJSONL(filepath.Join(dir, "string_refs.jsonl"), &rec.Strings); err != nil {
		return nil, err
	}
	return rec, nil
}

func writeJSONL[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("output: encode %s: %w", path, err)
		}
	}
	return w.Flush()
}

func readJSONL[T any](path string, rows *[]T) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("output: open %s: %w", path, err)
	}
	defer f.Close()
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var r T
		if err := dec.Decode(&r); err != nil {
			return fmt.Errorf("output: decode %s: %w", path, err)
		}
		*rows = append(*rows, r)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
