package monitor

import (
	"bytes"
	"fmt"
)

// Frame is a picture of training at the end of an epoch: the sign map of one
// weight matrix and a summary line.
type Frame struct {
	Epoch      int
	Param      string
	Rows, Cols int
	Signs      []bool // row-major, true for +1

	Acceptance float64
	FlipRatio  float64
	Loss       float64
	Accuracy   float64
}

// Renderer consumes frames. Flush is called once, when training ends.
type Renderer interface {
	Encode(f Frame) error
	Flush() error
}

// Grid returns the sign map as rows of '+' and '-'.
func (f Frame) Grid() []string {
	retVal := make([]string, f.Rows)
	var buf bytes.Buffer
	for i := 0; i < f.Rows; i++ {
		for _, s := range f.Signs[i*f.Cols : (i+1)*f.Cols] {
			if s {
				buf.WriteByte('+')
			} else {
				buf.WriteByte('-')
			}
		}
		retVal[i] = buf.String()
		buf.Reset()
	}
	return retVal
}

// Summary is a one line description of the frame.
func (f Frame) Summary() string {
	return fmt.Sprintf("Epoch %d %s: loss %.4f acc %.3f accept %.3f flip %.4f",
		f.Epoch, f.Param, f.Loss, f.Accuracy, f.Acceptance, f.FlipRatio)
}

func (f Frame) String() string {
	var buf bytes.Buffer
	for _, row := range f.Grid() {
		fmt.Fprintln(&buf, row)
	}
	fmt.Fprint(&buf, f.Summary())
	return buf.String()
}
