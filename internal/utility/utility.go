package utility

import "math/rand"

// RandomColorHex returns a #rrggbb color with each component kept away
// from the extremes so names stay readable on light and dark themes.
func RandomColorHex() string {
	const hexdigits = "0123456789abcdef"
	out := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i := 0; i < 3; i++ {
		c := 4 + rand.Intn(248)
		out[1+i*2] = hexdigits[c>>4]
		out[2+i*2] = hexdigits[c&0xf]
	}
	return string(out)
}

var glyphs = []string{
	"🦊", "🐙", "🦉", "🐸", "🦀", "🐝", "🦈", "🐢",
	"🦜", "🐍", "🦔", "🐳", "🦂", "🐞", "🦩", "🐬",
}

// RandomGlyph returns one of the cosmetic avatar glyphs.
func RandomGlyph() string {
	return glyphs[rand.Intn(len(glyphs))]
}
