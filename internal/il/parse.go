// Package il reads and rewrites the textual form produced by the IL
// disassembler: it finds class declarations, decides which generic record
// collections still lack the synthesized '<Clone>$' method, renders that method
// and splices it into the class body.
package il

import (
	"strings"
)

const (
	classDirective  = ".class"
	endOfClass      = "} // end of class "
	endOfMethod     = "} // end of method "
	memberSeparator = "::"
)

// classFlags are the attribute keywords ildasm prints between ".class" and
// the type name.
var classFlags = map[string]bool{
	"public": true, "private": true, "nested": true, "family": true,
	"assembly": true, "famandassem": true, "famorassem": true,
	"auto": true, "sequential": true, "explicit": true,
	"ansi": true, "unicode": true, "autochar": true,
	"interface": true, "abstract": true, "sealed": true, "serializable": true,
	"beforefieldinit": true, "specialname": true, "rtspecialname": true,
	"import": true, "windowsruntime": true, "static": true,
}

// Class is one ".class" declaration found in disassembled text.
type Class struct {
	// FullName as printed in the header and end marker; nested classes are
	// qualified with their enclosing classes, separated by '/'.
	FullName string
	// DeclaredName is the name exactly as it appears in the header.
	DeclaredName  string
	Flags         []string
	GenericParams []string
	Extends       string
	Implements    []string
	// Methods lists member names from "end of method" markers, e.g. ".ctor"
	// or "'<Clone>$'".
	Methods []string
	Nested  bool
	// EndOffsets are byte offsets of the '}' opening each end-of-class line.
	EndOffsets []int
}

// IsInterface reports whether the declaration carries the interface flag.
func (c Class) IsInterface() bool { return c.hasFlag("interface") }

func (c Class) hasFlag(f string) bool {
	for _, x := range c.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// HasMethod reports whether name appears among the parsed members.
func (c Class) HasMethod(name string) bool {
	for _, m := range c.Methods {
		if m == name {
			return true
		}
	}
	return false
}

type line struct {
	text   string // trimmed, without trailing '\r'
	offset int    // byte offset of the first non-blank character
}

func splitLines(src string) []line {
	var out []line
	start := 0
	for start <= len(src) {
		end := strings.IndexByte(src[start:], '\n')
		raw := src[start:]
		next := len(src) + 1
		if end >= 0 {
			raw = src[start : start+end]
			next = start + end + 1
		}
		raw = strings.TrimSuffix(raw, "\r")
		trimmed := strings.TrimLeft(raw, " \t")
		out = append(out, line{
			text:   strings.TrimRight(trimmed, " \t"),
			offset: start + len(raw) - len(trimmed),
		})
		start = next
	}
	return out
}

// ParseClasses walks the disassembly and returns every class declaration in
// order of appearance. Classes whose body never closes are still returned,
// with no end offsets.
func ParseClasses(src string) []Class {
	var (
		out   []Class
		stack []int // indexes into out for open class bodies
		// pending is set between a ".class" header and its opening '{'.
		pending = -1
		header  strings.Builder
	)

	open := func() {
		c := &out[pending]
		finishHeader(c, header.String())
		if c.Nested && len(stack) > 0 {
			c.FullName = out[stack[len(stack)-1]].FullName + "/" + c.DeclaredName
		}
		header.Reset()
		stack = append(stack, pending)
		pending = -1
	}

	for _, ln := range splitLines(src) {
		switch {
		case pending >= 0 && strings.HasPrefix(ln.text, "{"):
			open()

		case pending >= 0:
			header.WriteByte(' ')
			header.WriteString(ln.text)

		case isDirective(ln.text, classDirective) && !isExternClass(ln.text):
			out = append(out, Class{Nested: len(stack) > 0})
			pending = len(out) - 1
			h := strings.TrimSpace(ln.text[len(classDirective):])
			if strings.HasSuffix(h, "{") {
				header.WriteString(strings.TrimSuffix(h, "{"))
				open()
				continue
			}
			header.WriteString(h)

		case strings.HasPrefix(ln.text, endOfClass):
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				out[top].EndOffsets = append(out[top].EndOffsets, ln.offset)
				stack = stack[:len(stack)-1]
			}

		case strings.HasPrefix(ln.text, endOfMethod):
			if len(stack) > 0 {
				if name, ok := methodFromMarker(ln.text); ok {
					top := stack[len(stack)-1]
					out[top].Methods = append(out[top].Methods, name)
				}
			}
		}
	}
	return out
}

// isExternClass matches manifest type forwarders, which have a body but no
// end-of-class marker.
func isExternClass(text string) bool {
	fields := strings.Fields(text)
	return len(fields) > 1 && fields[1] == "extern"
}

func isDirective(text, directive string) bool {
	if !strings.HasPrefix(text, directive) {
		return false
	}
	rest := text[len(directive):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

func methodFromMarker(text string) (string, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, endOfMethod))
	i := strings.LastIndex(rest, memberSeparator)
	if i < 0 {
		return "", false
	}
	name := strings.TrimSpace(rest[i+len(memberSeparator):])
	return name, name != ""
}

// finishHeader fills a Class from the header text following ".class".
func finishHeader(c *Class, header string) {
	header = strings.TrimSpace(header)
	rest := header
	for {
		tok, after, _ := strings.Cut(rest, " ")
		if !classFlags[tok] {
			break
		}
		c.Flags = append(c.Flags, tok)
		rest = strings.TrimSpace(after)
	}

	name, rest := readTypeName(rest)
	c.DeclaredName = name
	c.FullName = name

	if strings.HasPrefix(rest, "<") {
		inner, after := readBalanced(rest, '<', '>')
		c.GenericParams = parseGenericParams(inner)
		rest = after
	}

	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "extends ") {
		body := strings.TrimPrefix(rest, "extends ")
		ext, after := splitKeyword(body, " implements ")
		c.Extends = strings.TrimSpace(ext)
		rest = strings.TrimSpace(after)
	}
	if strings.HasPrefix(rest, "implements ") {
		c.Implements = splitTopLevel(strings.TrimPrefix(rest, "implements "), ',')
	}
}

func readTypeName(s string) (name, rest string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "'") {
		if end := strings.Index(s[1:], "'"); end >= 0 {
			return s[:end+2], s[end+2:]
		}
		return s, ""
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', ' ', '\t':
			return s[:i], s[i:]
		}
	}
	return s, ""
}

// readBalanced consumes s starting at an open delimiter and returns the
// enclosed text and the remainder after the matching close.
func readBalanced(s string, lo, hi byte) (inner, rest string) {
	d := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case lo, '(', '[':
			d++
		case hi, ')', ']':
			d--
			if d == 0 {
				return s[1:i], s[i+1:]
			}
		}
	}
	return strings.TrimPrefix(s, string(lo)), ""
}

func splitKeyword(s, kw string) (before, after string) {
	d := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(', '[':
			d++
		case '>', ')', ']':
			d--
		}
		if d == 0 && strings.HasPrefix(s[i:], kw) {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	d, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(', '[':
			d++
		case '>', ')', ']':
			d--
		case sep:
			if d == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

// parseGenericParams extracts parameter names from a generic parameter list
// such as "([System.Runtime]System.Object) TKey, +TValue".
func parseGenericParams(list string) []string {
	var names []string
	for _, p := range splitTopLevel(list, ',') {
		// Drop constraint lists and variance markers, keep the final word.
		for strings.Contains(p, "(") {
			open := strings.Index(p, "(")
			_, after := readBalanced(p[open:], '(', ')')
			p = p[:open] + " " + after
		}
		fields := strings.Fields(p)
		if len(fields) == 0 {
			names = append(names, "")
			continue
		}
		name := strings.TrimLeft(fields[len(fields)-1], "+-")
		names = append(names, name)
	}
	return names
}
