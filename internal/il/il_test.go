package il

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordpatch/internal/patcherr"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "records.il"))
	require.NoError(t, err)
	return string(b)
}

func findClass(classes []Class, name string) (Class, bool) {
	for _, c := range classes {
		if c.FullName == name {
			return c, true
		}
	}
	return Class{}, false
}

func TestParseClassesReadsHeadersAndNesting(t *testing.T) {
	classes := ParseClasses(loadFixture(t))

	list, ok := findClass(classes, "System.Collections.Generic.RecordList`1")
	require.True(t, ok)
	assert.Equal(t, []string{"T"}, list.GenericParams)
	assert.Contains(t, list.Extends, "List`1<!T>")
	require.Len(t, list.Implements, 2)
	assert.Contains(t, list.Implements[0], "IReadOnlyRecordCollection`1")
	assert.Equal(t, []string{".ctor"}, list.Methods)
	assert.Len(t, list.EndOffsets, 1)
	assert.False(t, list.Nested)

	enum, ok := findClass(classes, "System.Collections.Generic.RecordList`1/Enumerator")
	require.True(t, ok, "nested class should be qualified with its parent")
	assert.True(t, enum.Nested)
	assert.Equal(t, []string{".ctor"}, enum.Methods)

	dict, ok := findClass(classes, "System.Collections.Generic.RecordDictionary`2")
	require.True(t, ok)
	assert.Equal(t, []string{"TKey", "TValue"}, dict.GenericParams)

	iface, ok := findClass(classes, "System.Collections.Generic.IReadOnlyRecordCollection`1")
	require.True(t, ok)
	assert.True(t, iface.IsInterface())
	assert.Equal(t, []string{"T"}, iface.GenericParams)

	_, ok = findClass(classes, "forwarder")
	assert.False(t, ok, "manifest forwarders are not class declarations")
}

func TestParseClassesEndOffsetsPointAtBrace(t *testing.T) {
	src := loadFixture(t)
	for _, c := range ParseClasses(src) {
		for _, off := range c.EndOffsets {
			assert.True(t, strings.HasPrefix(src[off:], endOfClass), "offset %d of %s", off, c.FullName)
		}
	}
}

func TestParseClassesHandlesCRLF(t *testing.T) {
	src := strings.ReplaceAll(loadFixture(t), "\n", "\r\n")
	got := Discover(src, DefaultMarker())
	require.Len(t, got, 2)
	assert.Equal(t, []string{"TKey", "TValue"}, got[1].GenericParams)
}

func TestDiscoverSelectsGenericRecordCollections(t *testing.T) {
	got := Discover(loadFixture(t), DefaultMarker())
	require.Len(t, got, 2)
	assert.Equal(t, "System.Collections.Generic.RecordList`1", got[0].FullName)
	assert.Equal(t, "RecordList`1", got[0].Name)
	assert.Equal(t, 1, got[0].Arity())
	assert.Equal(t, "System.Collections.Generic.RecordDictionary`2", got[1].FullName)
	assert.Equal(t, 2, got[1].Arity())
}

func TestDiscoverHonorsMarker(t *testing.T) {
	m := Marker{NamePrefix: "Wrap", Capabilities: []string{"IEnumerable"}}
	got := Discover(loadFixture(t), m)
	require.Len(t, got, 1)
	assert.Equal(t, "Wrapper`1", got[0].Name)

	anyCap := Marker{NamePrefix: "Record"}
	names := []string{}
	for _, c := range Discover(loadFixture(t), anyCap) {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"RecordList`1", "RecordDictionary`2", "RecordToken`1"}, names)
}

func TestSynthesizeArityOne(t *testing.T) {
	c := CandidateType{FullName: "Box`1", Name: "Box`1", GenericParams: []string{"T"}}
	body, err := Synthesize(c)
	require.NoError(t, err)
	assert.Contains(t, body, "instance class Box`1<!T> '<Clone>$' () cil managed")
	assert.Contains(t, body, "newobj instance void class Box`1<!T>::.ctor(class Box`1<!0>)")
	assert.Contains(t, body, "} // end of method Box`1::'<Clone>$'")
	assert.NotContains(t, body, "$!TYPE!$")
	assert.NotContains(t, body, "!1")
}

func TestSynthesizeArityTwoKeepsDeclarationOrder(t *testing.T) {
	c := CandidateType{FullName: "N.Pair`2", Name: "Pair`2", GenericParams: []string{"TKey", "TValue"}}
	body, err := Synthesize(c)
	require.NoError(t, err)
	assert.Contains(t, body, "[0] class N.Pair`2<!TKey, !TValue>")
	assert.Contains(t, body, "class N.Pair`2<!TKey, !TValue>::.ctor(class N.Pair`2<!0, !1>)")
	assert.NotContains(t, body, "<!T>")
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	c := CandidateType{FullName: "N.Pair`2", GenericParams: []string{"A", "B"}}
	first, err := Synthesize(c)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Synthesize(c)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSynthesizeRejectsMalformedTypes(t *testing.T) {
	cases := []CandidateType{
		{FullName: "", GenericParams: []string{"T"}},
		{FullName: "N.Plain"},
		{FullName: "N.Bad`1", GenericParams: []string{""}},
		{FullName: "N.Bad`1", GenericParams: []string{"T U"}},
	}
	for _, c := range cases {
		_, err := Synthesize(c)
		assert.True(t, patcherr.IsKind(err, patcherr.KindTemplateRender), "%+v: %v", c, err)
	}
}

func TestAlreadyPatchedSignals(t *testing.T) {
	c := CandidateType{FullName: "N.RecordSet`1", Name: "RecordSet`1", GenericParams: []string{"T"}}
	cases := map[string]string{
		"full signature":  "instance class N.RecordSet`1<!T> '<Clone>$' () cil managed",
		"short signature": "instance class RecordSet`1<!T> '<Clone>$' ()",
		"full end marker": "} // end of method N.RecordSet`1::'<Clone>$'",
		"short end":       "} // end of method RecordSet`1::'<Clone>$'",
	}
	for name, text := range cases {
		assert.True(t, HasCloneText("prefix\n"+text+"\nsuffix", c), name)
	}
	assert.False(t, HasCloneText("} // end of method RecordSet`1::.ctor", c))

	parsed := c
	parsed.Members = []string{".ctor", CloneMethodName}
	assert.True(t, HasCloneText("", parsed))
	assert.True(t, AlreadyPatched("", parsed, nil))
	assert.False(t, AlreadyPatched("", c, nil))
}

type memberSet map[string][]string

func (m memberSet) HasMethod(typeName, name string) bool {
	for _, x := range m[typeName] {
		if x == name {
			return true
		}
	}
	return false
}

func TestAlreadyPatchedTrustsBinaryMetadataOverStaleText(t *testing.T) {
	c := CandidateType{FullName: "N.RecordSet`1", Name: "RecordSet`1", GenericParams: []string{"T"}}
	stale := "} // end of method N.RecordSet`1::.ctor"

	compiled := memberSet{"N.RecordSet`1": {".ctor", "<Clone>$"}}
	assert.True(t, HasCloneMetadata(compiled, c))
	assert.True(t, AlreadyPatched(stale, c, compiled))

	bare := memberSet{"N.RecordSet`1": {".ctor"}}
	assert.False(t, HasCloneMetadata(bare, c))
	assert.False(t, AlreadyPatched(stale, c, bare))
	assert.False(t, HasCloneMetadata(nil, c))
}

func TestAlreadyPatchedRecognizesCompactGenericSpelling(t *testing.T) {
	c := CandidateType{FullName: "N.RecordDictionary`2", Name: "RecordDictionary`2", GenericParams: []string{"TKey", "TValue"}}
	assert.True(t, HasCloneText("instance class N.RecordDictionary`2<!TKey,!TValue> '<Clone>$'() cil managed", c))
	assert.True(t, HasCloneText("instance class RecordDictionary`2<!TKey,!TValue> '<Clone>$'() cil managed", c))
}

func TestPatchInsertsBeforeClassEnd(t *testing.T) {
	src := loadFixture(t)
	cands := Discover(src, DefaultMarker())
	require.Len(t, cands, 2)

	out := src
	for _, c := range cands {
		require.False(t, AlreadyPatched(out, c, nil))
		body, err := Synthesize(c)
		require.NoError(t, err)
		var n int
		out, n, err = Patch(out, c, body)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	for _, c := range cands {
		assert.True(t, HasCloneText(out, c), c.FullName)
		assert.Equal(t, 1, strings.Count(out, "end of method "+c.FullName+"::'<Clone>$'"))
	}

	// The method must land inside the class, right before its end marker.
	listEnd := strings.Index(out, "} // end of class System.Collections.Generic.RecordList`1")
	method := strings.Index(out, "} // end of method System.Collections.Generic.RecordList`1::'<Clone>$'")
	require.Greater(t, method, 0)
	assert.Less(t, method, listEnd)
	assert.Greater(t, method, strings.Index(out, "} // end of class Enumerator"))

	// Re-parsing attributes the new member to the class.
	again := Discover(out, DefaultMarker())
	for _, c := range again {
		assert.True(t, HasCloneText("", c), c.FullName)
	}
}

func TestPatchEveryOccurrence(t *testing.T) {
	src := ".class public R`1<T>\n{\n} // end of class R`1\n.class public R`1<T>\n{\n} // end of class R`1\n"
	c := CandidateType{FullName: "R`1", Name: "R`1", GenericParams: []string{"T"}}
	out, n, err := Patch(src, c, "BODY\n")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ".class public R`1<T>\n{\nBODY\n} // end of class R`1\n.class public R`1<T>\n{\nBODY\n} // end of class R`1\n", out)
}

func TestPatchMissingClassEndIsAnError(t *testing.T) {
	c := CandidateType{FullName: "Missing`1", GenericParams: []string{"T"}}
	out, n, err := Patch("nothing here", c, "BODY")
	assert.Equal(t, "nothing here", out)
	assert.Equal(t, 0, n)
	assert.True(t, patcherr.IsKind(err, patcherr.KindTemplateRender))
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "RecordList`1", ShortName("System.Collections.Generic.RecordList`1"))
	assert.Equal(t, "Enumerator", ShortName("N.Outer`1/Enumerator"))
	assert.Equal(t, "Plain", ShortName("Plain"))
}
