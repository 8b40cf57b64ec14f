package arena

import "fmt"

// Tensor is a dense float32 array with an explicit shape. Policies consume
// observations in whatever layout they were trained with; the runner builds
// that layout from raw frames.
type Tensor struct {
	Shape []int
	Data  []float32
}

func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Layout classifies a policy's declared observation shape.
type Layout int

const (
	// LayoutHWC3 is a single RGB frame, channels last: (H, W, 3).
	LayoutHWC3 Layout = iota
	// LayoutCHW3 is a single RGB frame, channels first: (3, H, W).
	LayoutCHW3
	// LayoutHW1 is a single grayscale frame: (H, W, 1).
	LayoutHW1
	// LayoutHW is a single grayscale frame with no channel axis: (H, W).
	LayoutHW
	// LayoutCHW1 is a single grayscale frame, channels first: (1, H, W).
	LayoutCHW1
	// LayoutStacked is 4 temporal frames concatenated along axis 0 in CHW:
	// (N, H, W) with N a multiple of 4 and N not in {1, 3}. Each temporal
	// frame contributes N/4 channels.
	LayoutStacked
)

// LayoutFor classifies an observation shape per the stacking rules.
func LayoutFor(shape []int) (Layout, error) {
	switch len(shape) {
	case 2:
		return LayoutHW, nil
	case 3:
		// Channels-last forms first.
		if shape[2] == 3 {
			return LayoutHWC3, nil
		}
		if shape[2] == 1 {
			return LayoutHW1, nil
		}
		// (N, H, W): a plain CHW frame or a temporal stack. N in {1, 3}
		// is a single frame; any other multiple of 4 stacks 4 temporal
		// frames of N/4 channels each.
		n := shape[0]
		if n == 1 {
			return LayoutCHW1, nil
		}
		if n == 3 {
			return LayoutCHW3, nil
		}
		if n%4 == 0 && n != 0 {
			return LayoutStacked, nil
		}
		return 0, fmt.Errorf("arena: unsupported channel count %d in shape %v", n, shape)
	}
	return 0, fmt.Errorf("arena: unsupported observation rank %d (shape %v)", len(shape), shape)
}

// grayAt is the luma of the pixel at (y, x), scaled to [0,1].
func grayAt(f Frame, y, x int) float32 {
	i := (y*f.Width + x) * 3
	r := float32(f.Pixels[i])
	g := float32(f.Pixels[i+1])
	b := float32(f.Pixels[i+2])
	return (0.299*r + 0.587*g + 0.114*b) / 255.0
}

// frameToSingle converts a raw frame into the non-stacked tensor the layout
// calls for. Frames are assumed pre-scaled to the policy's H and W by the
// engine integration.
func frameToSingle(f Frame, layout Layout, shape []int) Tensor {
	switch layout {
	case LayoutHWC3:
		h, w := shape[0], shape[1]
		data := make([]float32, h*w*3)
		for i, p := range f.Pixels[:h*w*3] {
			data[i] = float32(p) / 255.0
		}
		return Tensor{Shape: []int{h, w, 3}, Data: data}
	case LayoutCHW3:
		h, w := shape[1], shape[2]
		data := make([]float32, 3*h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				data[0*h*w+y*w+x] = float32(f.Pixels[i]) / 255.0
				data[1*h*w+y*w+x] = float32(f.Pixels[i+1]) / 255.0
				data[2*h*w+y*w+x] = float32(f.Pixels[i+2]) / 255.0
			}
		}
		return Tensor{Shape: []int{3, h, w}, Data: data}
	case LayoutHW1:
		h, w := shape[0], shape[1]
		data := make([]float32, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = grayAt(f, y, x)
			}
		}
		return Tensor{Shape: []int{h, w, 1}, Data: data}
	case LayoutHW:
		h, w := shape[0], shape[1]
		data := make([]float32, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = grayAt(f, y, x)
			}
		}
		return Tensor{Shape: []int{h, w}, Data: data}
	case LayoutCHW1:
		h, w := shape[1], shape[2]
		data := make([]float32, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = grayAt(f, y, x)
			}
		}
		return Tensor{Shape: []int{1, h, w}, Data: data}
	}
	return Tensor{}
}

// stackedSingle preprocesses one temporal frame to its (N/4, H, W) slice of
// a stacked observation: one grayscale channel, or three RGB channels.
func stackedSingle(f Frame, shape []int) Tensor {
	n, h, w := shape[0], shape[1], shape[2]
	per := n / 4
	data := make([]float32, per*h*w)
	if per >= 3 {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				data[0*h*w+y*w+x] = float32(f.Pixels[i]) / 255.0
				data[1*h*w+y*w+x] = float32(f.Pixels[i+1]) / 255.0
				data[2*h*w+y*w+x] = float32(f.Pixels[i+2]) / 255.0
			}
		}
	} else {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = grayAt(f, y, x)
			}
		}
	}
	return Tensor{Shape: []int{per, h, w}, Data: data}
}

// Observer turns raw frames into one policy's observations, maintaining the
// 4-frame temporal ring when the layout is stacked. Each player has its own
// Observer because P2 sees mirrored frames.
type Observer struct {
	shape  []int
	layout Layout
	ring   []Tensor // last 4 preprocessed frames, oldest first
}

func NewObserver(shape []int) (*Observer, error) {
	layout, err := LayoutFor(shape)
	if err != nil {
		return nil, err
	}
	return &Observer{shape: shape, layout: layout}, nil
}

// Observe folds in a new frame and returns the policy-ready tensor.
func (o *Observer) Observe(f Frame) Tensor {
	if o.layout != LayoutStacked {
		return frameToSingle(f, o.layout, o.shape)
	}
	single := stackedSingle(f, o.shape)
	if len(o.ring) == 0 {
		// First frame primes the whole ring so early observations are
		// well-formed.
		o.ring = []Tensor{single, single, single, single}
	} else {
		o.ring = append(o.ring[1:], single)
	}
	n, h, w := o.shape[0], o.shape[1], o.shape[2]
	out := Tensor{Shape: []int{n, h, w}, Data: make([]float32, 0, n*h*w)}
	for _, fr := range o.ring {
		out.Data = append(out.Data, fr.Data...)
	}
	return out
}

// FlipHorizontal mirrors a frame left-right. The P2 observation is always
// the flipped render; directional buttons are swapped separately by the
// adapter. Both are required for a symmetric P2 view.
func FlipHorizontal(f Frame) Frame {
	out := Frame{Width: f.Width, Height: f.Height, Pixels: make([]byte, len(f.Pixels))}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := (y*f.Width + (f.Width - 1 - x)) * 3
			out.Pixels[dst] = f.Pixels[src]
			out.Pixels[dst+1] = f.Pixels[src+1]
			out.Pixels[dst+2] = f.Pixels[src+2]
		}
	}
	return out
}

// ActionBits packs a button array into a mask for the deterministic action
// log that feeds the match hash.
func ActionBits(action []bool) uint32 {
	var mask uint32
	for i, b := range action {
		if b && i < 32 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}
