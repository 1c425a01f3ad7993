package layout

import "github.com/illef/illef-niri/internal/state"

// Width proportions, as fractions of the output width.
const (
	TwoThirds = 0.66667
	OneThird  = 0.33333
	Half      = 0.5
)

// SplitProportions picks the target widths for a master/slave pair. Windows of
// equal width get a 2:1 split; any other ratio is reset to an even split.
func SplitProportions(master, slave state.Window) (masterProportion, slaveProportion float64) {
	if master.Layout.WindowSize.Width == slave.Layout.WindowSize.Width {
		return TwoThirds, OneThird
	}
	return Half, Half
}

// ValidProportion reports whether p lies in (0, 1].
func ValidProportion(p float64) bool {
	return p > 0 && p <= 1
}
