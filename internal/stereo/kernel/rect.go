package kernel

// Rect is a half-open window rectangle [X0,X1) x [Y0,Y1) in reference
// image coordinates. The target column for reference column c is c-Shift.
type Rect struct {
	X0, X1 int
	Y0, Y1 int
	Shift  int
}

// Empty reports whether the rectangle holds no samples.
func (r Rect) Empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// Count returns the number of samples in the rectangle.
func (r Rect) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.X1 - r.X0) * (r.Y1 - r.Y0)
}

// Clamp returns the window around (x, y) with half-width half, clamped so
// that every reference column c satisfies 0 <= c < width and
// 0 <= c-shift < width. It selects exactly the samples WindowedMean and
// CorrelationScore accept through their per-sample checks.
func Clamp(x, y, shift, width, height, half int) Rect {
	r := Rect{
		X0:    max(x-half, 0, shift),
		X1:    min(x+half+1, width, width+shift),
		Y0:    max(y-half, 0),
		Y1:    min(y+half+1, height),
		Shift: shift,
	}
	if r.Empty() {
		r.X1, r.Y1 = r.X0, r.Y0
	}
	return r
}
