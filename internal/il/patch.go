package il

import (
	"sort"
	"strings"

	"recordpatch/internal/patcherr"
)

// Patch inserts body immediately before the closing brace of every body of
// the class named c.FullName and reports how many bodies were patched. A type
// whose class body cannot be found is an error; silently leaving it
// unpatched would ship a binary without the clone method.
func Patch(src string, c CandidateType, body string) (string, int, error) {
	var offsets []int
	for _, cls := range ParseClasses(src) {
		if cls.FullName != c.FullName {
			continue
		}
		offsets = append(offsets, cls.EndOffsets...)
	}
	if len(offsets) == 0 {
		return src, 0, patcherr.New(patcherr.KindTemplateRender, "patch", "end of class %s not found", c.FullName)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(offsets)))
	var b strings.Builder
	b.Grow(len(src) + len(offsets)*len(body))
	prev := len(src)
	parts := make([]string, 0, 2*len(offsets)+1)
	for _, off := range offsets {
		parts = append(parts, src[off:prev], body)
		prev = off
	}
	parts = append(parts, src[:prev])
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
	}
	return b.String(), len(offsets), nil
}
