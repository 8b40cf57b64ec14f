package arena

import "testing"

func TestLayoutFor(t *testing.T) {
	cases := []struct {
		shape   []int
		want    Layout
		wantErr bool
	}{
		{[]int{84, 84, 3}, LayoutHWC3, false},
		{[]int{3, 84, 84}, LayoutCHW3, false},
		{[]int{84, 84, 1}, LayoutHW1, false},
		{[]int{84, 84}, LayoutHW, false},
		{[]int{1, 84, 84}, LayoutCHW1, false},
		{[]int{4, 84, 84}, LayoutStacked, false},
		{[]int{12, 84, 84}, LayoutStacked, false},
		// Channels-last rules fire on the trailing axis first, so this is a
		// CHW stack of 84 channels over an 84x4 frame.
		{[]int{84, 84, 4}, LayoutStacked, false},
		{[]int{5, 84, 84}, 0, true},
		{[]int{2, 84, 84}, 0, true},
		{[]int{84}, 0, true},
		{[]int{4, 84, 84, 3}, 0, true},
	}
	for _, c := range cases {
		got, err := LayoutFor(c.shape)
		if c.wantErr {
			if err == nil {
				t.Errorf("LayoutFor(%v): expected error, got layout %d", c.shape, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("LayoutFor(%v): %v", c.shape, err)
			continue
		}
		if got != c.want {
			t.Errorf("LayoutFor(%v) = %d, want %d", c.shape, got, c.want)
		}
	}
}

func solidFrame(w, h int, r, g, b byte) Frame {
	px := make([]byte, w*h*3)
	for i := 0; i < len(px); i += 3 {
		px[i], px[i+1], px[i+2] = r, g, b
	}
	return Frame{Width: w, Height: h, Pixels: px}
}

func TestObserveSingleRGB(t *testing.T) {
	obs, err := NewObserver([]int{2, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	tensor := obs.Observe(solidFrame(2, 2, 255, 0, 0))
	if got := tensor.Len(); got != 12 {
		t.Fatalf("tensor len = %d, want 12", got)
	}
	if tensor.Data[0] != 1.0 || tensor.Data[1] != 0.0 {
		t.Errorf("HWC red pixel = (%v, %v), want (1, 0)", tensor.Data[0], tensor.Data[1])
	}
}

func TestObserveStackedRing(t *testing.T) {
	obs, err := NewObserver([]int{4, 2, 2})
	if err != nil {
		t.Fatal(err)
	}

	// First frame primes all four slots.
	first := obs.Observe(solidFrame(2, 2, 255, 255, 255))
	if got := first.Len(); got != 16 {
		t.Fatalf("stacked len = %d, want 16", got)
	}
	for i, v := range first.Data {
		if v < 0.99 {
			t.Fatalf("primed ring slot %d = %v, want ~1", i, v)
		}
	}

	// Three black frames: oldest slot still holds the white frame.
	var last Tensor
	for i := 0; i < 3; i++ {
		last = obs.Observe(solidFrame(2, 2, 0, 0, 0))
	}
	if last.Data[0] < 0.99 {
		t.Errorf("oldest slot = %v, want white frame", last.Data[0])
	}
	if last.Data[15] > 0.01 {
		t.Errorf("newest slot = %v, want black frame", last.Data[15])
	}

	// One more pushes the white frame out entirely.
	last = obs.Observe(solidFrame(2, 2, 0, 0, 0))
	for i, v := range last.Data {
		if v > 0.01 {
			t.Fatalf("slot %d = %v after ring rollover, want 0", i, v)
		}
	}
}

func TestFlipHorizontal(t *testing.T) {
	f := Frame{Width: 2, Height: 1, Pixels: []byte{
		10, 11, 12, // left pixel
		20, 21, 22, // right pixel
	}}
	out := FlipHorizontal(f)
	want := []byte{20, 21, 22, 10, 11, 12}
	for i := range want {
		if out.Pixels[i] != want[i] {
			t.Fatalf("flipped pixels = %v, want %v", out.Pixels, want)
		}
	}
	// Original untouched.
	if f.Pixels[0] != 10 {
		t.Error("FlipHorizontal mutated its input")
	}
}

func TestActionBits(t *testing.T) {
	if got := ActionBits([]bool{true, false, true}); got != 0b101 {
		t.Errorf("ActionBits = %b, want 101", got)
	}
	if got := ActionBits(nil); got != 0 {
		t.Errorf("ActionBits(nil) = %d, want 0", got)
	}
}
