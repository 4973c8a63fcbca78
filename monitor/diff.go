package monitor

import "github.com/pmezard/go-difflib/difflib"

// Diff renders a unified diff between two raw documents. Both sides are
// normalized first, so volatile fields never show up as changes. The sides
// are labeled "Previous" and "Current" with three lines of context.
// Returns the empty string when the normalized sides are identical.
func Diff(oldRaw, newRaw string) string {
	oldNorm := Normalize(oldRaw)
	newNorm := Normalize(newRaw)
	if oldNorm == newNorm {
		return ""
	}
	text, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldNorm),
		B:        difflib.SplitLines(newNorm),
		FromFile: "Previous",
		ToFile:   "Current",
		Context:  3,
	})
	return text
}
