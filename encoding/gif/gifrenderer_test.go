package gif

import (
	"bytes"
	"image/gif"
	"testing"

	"github.com/gorgonia/bnn/monitor"
	"github.com/stretchr/testify/assert"
)

func TestEncoder(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer
	enc := NewGifEncoder(&buf, 600, 800)

	f := monitor.Frame{
		Epoch: 0,
		Param: "fc0_w",
		Rows:  2,
		Cols:  3,
		Signs: []bool{true, false, true, false, false, true},
		Loss:  1.5,
	}
	assert.NoError(enc.Encode(f))
	f.Epoch = 1
	f.Signs = []bool{false, false, true, false, false, true}
	assert.NoError(enc.Encode(f))
	assert.Equal(2, enc.Len())

	// the changed weight is drawn in red
	im := enc.out.Image[1]
	assert.Equal(red, im.ColorIndexAt(enc.padW, enc.padH))
	assert.Equal(white, im.ColorIndexAt(enc.padW+enc.cell, enc.padH))
	assert.Equal(black, im.ColorIndexAt(enc.padW+2*enc.cell, enc.padH))

	f.Signs = f.Signs[:5]
	assert.Error(enc.Encode(f))

	assert.NoError(enc.Flush())
	decoded, err := gif.DecodeAll(&buf)
	if assert.NoError(err) {
		assert.Len(decoded.Image, 2)
	}
}

func TestFlushWithoutFrames(t *testing.T) {
	enc := NewGifEncoder(new(bytes.Buffer), 100, 100)
	assert.Error(t, enc.Flush())
}
