package display

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	closeButtonSize   = 18
	closeButtonMargin = 4
)

var (
	backgroundColor  = color.RGBA{0x20, 0x20, 0x20, 0xff}
	borderColor      = color.RGBA{0xb0, 0xb0, 0xb0, 0xff}
	closeButtonColor = color.RGBA{0, 0, 0, 0x99}
	closeGlyphColor  = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

// CloseButton returns the close affordance inside a preview of the given size.
func CloseButton(size image.Point) image.Rectangle {
	return image.Rect(
		size.X-closeButtonMargin-closeButtonSize, closeButtonMargin,
		size.X-closeButtonMargin, closeButtonMargin+closeButtonSize,
	)
}

// Compose renders the preview window contents: the image centered on a
// dark background, a 1px border and the close button.
func Compose(img image.Image, size image.Point) *image.RGBA {
	canvas := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)

	if img != nil {
		b := img.Bounds()
		offset := image.Pt((size.X-b.Dx())/2, (size.Y-b.Dy())/2)
		draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(b.Size())}, img, b.Min, draw.Over)
	}

	drawBorder(canvas, borderColor)
	drawCloseButton(canvas, CloseButton(size))
	return canvas
}

func drawBorder(dst *image.RGBA, c color.Color) {
	b := dst.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		dst.Set(x, b.Min.Y, c)
		dst.Set(x, b.Max.Y-1, c)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		dst.Set(b.Min.X, y, c)
		dst.Set(b.Max.X-1, y, c)
	}
}

func drawCloseButton(dst *image.RGBA, r image.Rectangle) {
	if !r.In(dst.Bounds()) {
		return
	}
	draw.Draw(dst, r, &image.Uniform{closeButtonColor}, image.Point{}, draw.Over)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(closeGlyphColor),
		Face: face,
	}
	width := d.MeasureString("x").Ceil()
	metrics := face.Metrics()
	glyphHeight := (metrics.Ascent + metrics.Descent).Ceil()

	x := r.Min.X + (r.Dx()-width)/2
	baseline := r.Min.Y + (r.Dy()-glyphHeight)/2 + metrics.Ascent.Ceil()
	d.Dot = fixed.P(x, baseline)
	d.DrawString("x")
}
