package preview

import "image"

// Place positions a preview of the given size next to the pointer: below
// and to the right by PointerOffset, flipped to the other side of the
// pointer on the axes where it would overflow, then clamped into frame.
func Place(pointer image.Point, size image.Point, frame image.Rectangle) image.Rectangle {
	x := pointer.X + PointerOffset
	if x+size.X > frame.Max.X {
		x = pointer.X - PointerOffset - size.X
	}
	y := pointer.Y + PointerOffset
	if y+size.Y > frame.Max.Y {
		y = pointer.Y - PointerOffset - size.Y
	}

	x = clamp(x, frame.Min.X, frame.Max.X-size.X)
	y = clamp(y, frame.Min.Y, frame.Max.Y-size.Y)

	return image.Rect(x, y, x+size.X, y+size.Y)
}

// clamp prefers lo when the range is inverted, keeping the top-left
// corner visible for previews larger than the frame.
func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
