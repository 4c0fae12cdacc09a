// Package ninja is a streamed, syntax-level writer for Ninja build files:
// pools, rules, builds, includes, subninjas, defaults, and variable
// assignments, with correct $-escaping and 78-column word wrapping.
//
// A Writer is a pure sink: nothing is written to disk until WriteFile is
// called, and a Writer is used by a single producer and is
// not safe for concurrent use, matching the single-pass, single-producer
// construction of a build.ninja described by the driver that owns it.
package ninja

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultWidth = 78

// Writer accumulates a Ninja build file in memory.
type Writer struct {
	buf   bytes.Buffer
	width int
}

// New returns a Writer with the default 78-column wrap width.
func New() *Writer {
	return &Writer{width: defaultWidth}
}

// NewWidth returns a Writer wrapping at the given column width; used by
// tests that exercise the wrap routine at widths other than the default.
func NewWidth(width int) *Writer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Writer{width: width}
}

// mustNoNewline panics on a value containing a newline: every Ninja value
// is a single logical line, and a caller passing one is a programming
// error, not a recoverable one.
func mustNoNewline(what, value string) {
	if strings.ContainsRune(value, '\n') {
		panic(fmt.Sprintf("ninja: %s contains a newline: %q", what, value))
	}
}

func (w *Writer) emit(level int, text string) {
	for _, line := range wrapLine(level, text, w.width) {
		w.buf.WriteString(line)
		w.buf.WriteByte('\n')
	}
}

// Newline writes a single blank line.
func (w *Writer) Newline() {
	w.buf.WriteByte('\n')
}

// Comment writes a "# ..." line at the given indent level.
func (w *Writer) Comment(text string, indent int) {
	mustNoNewline("comment", text)
	w.emit(indent, "# "+text)
}

// Variable writes "key = value" at the given indent level. value is
// written verbatim: it may itself be (or contain) Ninja variable syntax
// such as "$cxx -O2", which is the normal way rule and build-local
// variables compose flags from other variables.
func (w *Writer) Variable(key, value string, indent int) {
	mustNoNewline("variable value", value)
	w.emit(indent, key+" = "+value)
}

// VariableList writes "key = v1 v2 v3" at the given indent level, space
// joining the caller-supplied values verbatim.
func (w *Writer) VariableList(key string, values []string, indent int) {
	for _, v := range values {
		mustNoNewline("variable value", v)
	}
	w.emit(indent, key+" = "+strings.Join(values, " "))
}

// Pool declares a pool with the given concurrency depth.
func (w *Writer) Pool(name string, depth int) {
	w.emit(0, fmt.Sprintf("pool %s", name))
	w.Variable("depth", fmt.Sprintf("%d", depth), 1)
}

// Rule declares a rule named name running command, with the optional
// fields of rs emitted in canonical order.
func (w *Writer) Rule(name, command string, rs RuleSet) {
	mustNoNewline("command", command)
	w.emit(0, "rule "+name)
	w.emit(1, "command = "+command)
	for _, f := range rs.fields() {
		mustNoNewline(f.key, f.value)
		w.emit(1, f.key+" = "+f.value)
	}
}

// Build declares a build producing outputs via rule, with the inputs,
// implicit/order-only dependencies, and local variables of bs. It returns
// outputs unchanged, for chaining into downstream planner bookkeeping.
func (w *Writer) Build(outputs []string, rule string, bs BuildSet) []string {
	var line strings.Builder
	line.WriteString("build ")
	line.WriteString(strings.Join(escapePaths(outputs), " "))
	if len(bs.ImplicitOutputs) > 0 {
		line.WriteString(" | ")
		line.WriteString(strings.Join(escapePaths(bs.ImplicitOutputs), " "))
	}
	line.WriteString(": ")
	line.WriteString(rule)
	if len(bs.Inputs) > 0 {
		line.WriteString(" ")
		line.WriteString(strings.Join(escapePaths(bs.Inputs), " "))
	}
	if len(bs.Implicit) > 0 {
		line.WriteString(" | ")
		line.WriteString(strings.Join(escapePaths(bs.Implicit), " "))
	}
	if len(bs.OrderOnly) > 0 {
		line.WriteString(" || ")
		line.WriteString(strings.Join(escapePaths(bs.OrderOnly), " "))
	}
	w.emit(0, line.String())

	if bs.Pool != "" {
		w.Variable("pool", bs.Pool, 1)
	}
	if bs.Dyndep != "" {
		w.Variable("dyndep", bs.Dyndep, 1)
	}
	for _, key := range variableKeys(bs) {
		w.Variable(key, bs.Variables[key], 1)
	}
	return outputs
}

func variableKeys(bs BuildSet) []string {
	if bs.VariableOrder != nil {
		return bs.VariableOrder
	}
	keys := make([]string, 0, len(bs.Variables))
	for k := range bs.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Include writes an "include path" statement.
func (w *Writer) Include(path string) {
	w.emit(0, "include "+escapePath(path))
}

// Subninja writes a "subninja path" statement.
func (w *Writer) Subninja(path string) {
	w.emit(0, "subninja "+escapePath(path))
}

// Default writes a "default ..." statement naming the given paths.
func (w *Writer) Default(paths []string) {
	w.emit(0, "default "+strings.Join(escapePaths(paths), " "))
}

// Bytes returns the accumulated document. The Writer remains usable.
func (w *Writer) Bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// WriteFile finalizes the document to path atomically: it writes to a
// temporary sibling file and renames it into place, so a reader never
// observes a partially written build.ninja.
func (w *Writer) WriteFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(w.buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
