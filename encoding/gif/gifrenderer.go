// Package gif renders monitor frames into an animated GIF: one image per
// epoch, showing the sign map of a weight matrix and the epoch summary.
package gif

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/bnn/monitor"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 72.0
	fontsize        = 10.0
	lineheight      = 1.2
	dummyLongString = `Epoch 10000 fc0_w: loss 0.0000 acc 0.000 accept 0.000 flip 0.0000`
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// black is +1, white is -1
var globPalette = color.Palette{
	color.Gray{253},
	color.Gray{0},
	color.RGBA{0xc0, 0x20, 0x20, 0xff},
}

const (
	white uint8 = iota
	black
	red
)

// Encoder implements monitor.Renderer.
type Encoder struct {
	H, W int
	font.Drawer
	io.Writer

	out  *gif.GIF
	cell int // side of the square drawn for one weight, in pixels

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	initialized bool

	prev []bool // signs of the previous frame, to highlight changes
}

var _ monitor.Renderer = (*Encoder)(nil)

// NewGifEncoder creates an encoder writing to w. Frames are cropped to h × w
// pixels.
func NewGifEncoder(out io.Writer, h, w int) *Encoder {
	return &Encoder{
		Writer: out,
		H:      -1,
		W:      -1,
		cell:   4,
		maxH:   h,
		maxW:   w,
		padH:   10,
		padW:   10,

		Drawer: font.Drawer{
			Src: image.Black,
		},
		out: &gif.GIF{LoopCount: 0},
	}
}

// Encode adds a frame. Entries whose sign changed since the previous frame
// are drawn in red.
func (enc *Encoder) Encode(f monitor.Frame) error {
	if len(f.Signs) != f.Rows*f.Cols {
		return errors.Errorf("frame of %v: %d signs for a %d×%d matrix", f.Param, len(f.Signs), f.Rows, f.Cols)
	}
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
	if !enc.initialized {
		// lazy init of specifications
		enc.Drawer.Face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		textW := font.MeasureString(enc.Face, dummyLongString).Ceil()
		w := max(f.Cols*enc.cell, textW) + 2*enc.padW
		h := f.Rows*enc.cell + 2*dy + 2*enc.padH

		w = min(w, enc.maxW)
		h = min(h, enc.maxH)
		if w == enc.maxW {
			enc.padW = 0
		}
		if h == enc.maxH {
			enc.padH = 0
		}
		enc.H = h
		enc.W = w
		enc.initialized = true
	}

	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), globPalette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)

	changed := len(enc.prev) == len(f.Signs)
	for i, s := range f.Signs {
		idx := white
		if s {
			idx = black
		}
		if changed && enc.prev[i] != s {
			idx = red
		}
		r, c := i/f.Cols, i%f.Cols
		x0, y0 := enc.padW+c*enc.cell, enc.padH+r*enc.cell
		for y := y0; y < y0+enc.cell; y++ {
			for x := x0; x < x0+enc.cell; x++ {
				im.SetColorIndex(x, y, idx)
			}
		}
	}
	enc.prev = append(enc.prev[:0], f.Signs...)

	enc.Dst = im
	enc.Dot = fixed.P(enc.padW, enc.padH+f.Rows*enc.cell+dy)
	enc.DrawString(f.Summary())

	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, 50)
	return nil
}

// Len is the number of encoded frames.
func (enc *Encoder) Len() int { return len(enc.out.Image) }

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if len(enc.out.Image) == 0 {
		return errors.New("no frames to write")
	}
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}
