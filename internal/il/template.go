package il

import (
	"strconv"
	"strings"

	"recordpatch/internal/patcherr"
)

// CloneMethodName is the reserved member name the C# compiler looks for on
// record types.
const CloneMethodName = "'<Clone>$'"

const (
	typePlaceholder    = "$!TYPE!$"
	paramsPlaceholder  = "<!T>"
	indexesPlaceholder = "<!0>"
)

// cloneTemplate calls the copy constructor and returns the new instance.
const cloneTemplate = `
    .method public hidebysig newslot virtual 
        instance class $!TYPE!$<!T> '<Clone>$' () cil managed 
    {
        .maxstack 24
        .locals init (
            [0] class $!TYPE!$<!T>
        )

        IL_0000: nop
        IL_0001: ldarg.0
        IL_0002: newobj instance void class $!TYPE!$<!T>::.ctor(class $!TYPE!$<!0>)
        IL_0007: stloc.0
        IL_0008: br.s IL_000a

        IL_000a: ldloc.0
        IL_000b: ret
    } // end of method $!TYPE!$::'<Clone>$'
`

// GenericParamList renders "<!T>" or "<!TKey, !TValue>".
func GenericParamList(params []string) string {
	return renderList(params, func(i int, p string) string { return "!" + p }, ", ")
}

// GenericIndexList renders "<!0>" or "<!0, !1>".
func GenericIndexList(params []string) string {
	return renderList(params, func(i int, _ string) string { return "!" + strconv.Itoa(i) }, ", ")
}

func renderList(params []string, item func(int, string) string, sep string) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = item(i, p)
	}
	return "<" + strings.Join(parts, sep) + ">"
}

// Synthesize renders the '<Clone>$' method body for c. The output depends
// only on c's name and generic parameters.
func Synthesize(c CandidateType) (string, error) {
	const op = "synthesize clone method"
	if strings.TrimSpace(c.FullName) == "" {
		return "", patcherr.New(patcherr.KindTemplateRender, op, "type has no name")
	}
	if len(c.GenericParams) == 0 {
		return "", patcherr.New(patcherr.KindTemplateRender, op, "%s is not generic", c.FullName)
	}
	for i, p := range c.GenericParams {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t<>,") {
			return "", patcherr.New(patcherr.KindTemplateRender, op, "%s: malformed generic parameter %d %q", c.FullName, i, p)
		}
	}
	r := strings.NewReplacer(
		typePlaceholder, c.FullName,
		paramsPlaceholder, GenericParamList(c.GenericParams),
		indexesPlaceholder, GenericIndexList(c.GenericParams),
	)
	return r.Replace(cloneTemplate), nil
}
