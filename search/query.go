package search

import "strings"

const defaultOrder = "desc"

// ParseSortDirective removes "sort:<field>[-<order>]" qualifiers from q and
// returns the remaining query with the sort field and order. Only tokens
// outside double quotes count. Without a directive q is returned unchanged
// and sort and order are empty.
func ParseSortDirective(q string) (query, sort, order string) {
	var cuts [][2]int
	inQuote := false
	start := -1
	for i := 0; i <= len(q); i++ {
		end := i == len(q)
		var c byte
		if !end {
			c = q[i]
		}
		switch {
		case end || (!inQuote && isSpace(c)):
			if start < 0 {
				continue
			}
			if spec, ok := strings.CutPrefix(q[start:i], "sort:"); ok {
				cuts = append(cuts, [2]int{start, i})
				if field, dir, hasDir := strings.Cut(spec, "-"); field != "" {
					sort = field
					order = defaultOrder
					if hasDir && (dir == "asc" || dir == "desc") {
						order = dir
					}
				}
			}
			start = -1
		case c == '"':
			inQuote = !inQuote
			if start < 0 {
				start = i
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if len(cuts) == 0 {
		return q, "", ""
	}

	var b strings.Builder
	prev := 0
	for _, cut := range cuts {
		writePart(&b, q[prev:cut[0]])
		prev = cut[1]
	}
	writePart(&b, q[prev:])
	return b.String(), sort, order
}

func writePart(b *strings.Builder, part string) {
	part = strings.TrimSpace(part)
	if part == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(part)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
