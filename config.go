package bnn

// Config configures the network.
type Config struct {
	ConvChannels []int // output channels of each binary convolution stage
	FC           []int // widths of the hidden binary fc stages. The output stage has Classes units
	Kernel       int   // convolution kernel size

	BatchSize     int
	Channels      int // input channels
	Width, Height int // input size
	Classes       int

	ScaleInit float64 // initial value of the learnable output scale
	LearnRate float64 // gradient training
	L2        float64 // L2 regularization of gradient training

	FwdOnly bool   // is this a fwd only graph?
	Seed    uint64 // seeds the Bernoulli weight init
}

// DefaultConf returns a small conv + fc configuration for inputs of the given
// size.
func DefaultConf(width, height, channels, classes int) Config {
	return Config{
		ConvChannels: []int{8},
		FC:           []int{32},
		Kernel:       3,

		BatchSize: 32,
		Channels:  channels,
		Width:     width,
		Height:    height,
		Classes:   classes,

		ScaleInit: 1e-3,
		LearnRate: 1e-2,
		L2:        1e-8,
		Seed:      1337,
	}
}

func (conf Config) IsValid() bool {
	if conf.BatchSize < 1 || conf.Channels < 1 || conf.Classes < 2 || conf.LearnRate <= 0 || conf.L2 < 0 {
		return false
	}
	h, w := conf.Height, conf.Width
	for _, c := range conf.ConvChannels {
		if c < 1 {
			return false
		}
		// unpadded convolution then a 2×2 max pool
		h, w = (h-conf.Kernel+1)/2, (w-conf.Kernel+1)/2
		if h < 1 || w < 1 {
			return false
		}
	}
	if len(conf.ConvChannels) > 0 && conf.Kernel < 1 {
		return false
	}
	for _, fc := range conf.FC {
		if fc < 1 {
			return false
		}
	}
	return conf.Width > 0 && conf.Height > 0
}
