package conscript

// Marker is the escape byte that precedes a palette identifier to switch the
// console color.
const Marker = '^'

// AppendLine appends the double-quoted row string for a quantized row to dst.
//
// Each Blank becomes a literal space. A color switch (Marker followed by the
// identifier) is written only when an opaque pixel differs from the last
// color written; pixels continuing the run write nothing. Blanks do not
// reset the last color, so a run resumed after a transparent gap carries no
// new marker.
func AppendLine(dst []byte, row []byte) []byte {
	dst = append(dst, '"')

	var last byte
	hasLast := false
	for _, id := range row {
		switch {
		case id == Blank:
			dst = append(dst, ' ')
		case !hasLast || id != last:
			dst = append(dst, Marker, id)
			last = id
			hasLast = true
		}
	}

	return append(dst, '"')
}

// EncodeLine returns the double-quoted row string for a quantized row.
func EncodeLine(row []byte) string {
	return string(AppendLine(make([]byte, 0, len(row)+2), row))
}
