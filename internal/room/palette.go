package room

import "github.com/paate57/among-pale/internal/random"

// Palette is the fixed set of member colours, in display order.
var Palette = [...]string{"red", "blue", "green", "yellow", "orange", "purple", "cyan", "pink", "lime", "brown"}

// IsPaletteColor reports whether c is one of the Palette colours.
func IsPaletteColor(c string) bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}

// pickColor returns preferred when it is a free palette colour, otherwise a random
// free colour. When every colour is taken it falls back to any palette colour; with
// capacity bounded by len(Palette) that branch is never reached.
func pickColor(src random.Source, used map[string]bool, preferred string) string {
	if preferred != "" && IsPaletteColor(preferred) && !used[preferred] {
		return preferred
	}
	free := make([]string, 0, len(Palette))
	for _, c := range Palette {
		if !used[c] {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		return Palette[src.Intn(len(Palette))]
	}
	return free[src.Intn(len(free))]
}
