package il

import "strings"

// cloneEvidence lists the literal texts whose presence means c already has a
// clone method: the declaration signature and the end-of-method marker, each
// with the fully qualified and the short type name. The signature is also
// checked in the compact "<!A,!B>" spelling the disassembler uses after a
// round trip through the assembler.
func cloneEvidence(c CandidateType) []string {
	generics := GenericParamList(c.GenericParams)
	compact := strings.ReplaceAll(generics, ", ", ",")
	names := []string{c.FullName}
	if short := c.Name; short != "" && short != c.FullName {
		names = append(names, short)
	}

	var out []string
	for _, n := range names {
		out = append(out, n+generics+" "+CloneMethodName)
		if compact != generics {
			out = append(out, n+compact+" "+CloneMethodName)
		}
		out = append(out, "end of method "+n+"::"+CloneMethodName)
	}
	return out
}

// MemberIndex answers member queries against the compiled binary's
// metadata, independently of the disassembled text.
type MemberIndex interface {
	HasMethod(typeName, name string) bool
}

// HasCloneText reports whether the disassembled text already contains c's
// clone method, either as literal evidence or among the members parsed at
// discovery.
func HasCloneText(src string, c CandidateType) bool {
	for _, m := range c.Members {
		if m == CloneMethodName {
			return true
		}
	}
	for _, s := range cloneEvidence(c) {
		if strings.Contains(src, s) {
			return true
		}
	}
	return false
}

// HasCloneMetadata reports whether the binary's metadata already defines c's
// clone method. A nil index has no opinion.
func HasCloneMetadata(idx MemberIndex, c CandidateType) bool {
	if idx == nil {
		return false
	}
	return idx.HasMethod(c.FullName, strings.Trim(CloneMethodName, "'"))
}

// AlreadyPatched combines both signals. Either one is enough to skip c;
// patching twice would produce an assembly the assembler rejects.
func AlreadyPatched(src string, c CandidateType, idx MemberIndex) bool {
	return HasCloneMetadata(idx, c) || HasCloneText(src, c)
}
