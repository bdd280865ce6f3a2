// Package partition splits one logical code search into filename-qualified
// sub-queries so each stays under the upstream per-query result cap.
package partition

// alphabet covers the usual first characters of file names. The order is
// fixed; callers rely on it for deterministic batching.
var alphabet = []string{
	".", "_",
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
	"0", "1", "9",
}

// Alphabet returns a copy of the partition qualifiers in dispatch order
func Alphabet() []string {
	out := make([]string, len(alphabet))
	copy(out, alphabet)
	return out
}

// Size is the number of partitions produced for every query
func Size() int {
	return len(alphabet)
}

// SubQuery narrows base to files whose name matches the qualifier
func SubQuery(base, qualifier string) string {
	return base + " filename:" + qualifier
}

// For returns the ordered sub-queries for base, one per qualifier
func For(base string) []string {
	out := make([]string, len(alphabet))
	for i, q := range alphabet {
		out[i] = SubQuery(base, q)
	}
	return out
}
