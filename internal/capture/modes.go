package capture

import "fmt"

// Mode describes one display mode the capture hardware can deliver.
// The index matches the driver's mode enumeration order.
type Mode struct {
	Index      int
	Name       string
	Width      int
	Height     int
	TBNum      int64 // time base numerator
	TBDen      int64 // time base denominator
	Interlaced bool
}

// FPS returns the frame rate as a float for display purposes.
func (m Mode) FPS() float64 {
	return float64(m.TBDen) / float64(m.TBNum)
}

var modes = []Mode{
	{0, "ntsc", 720, 486, 1001, 30000, true},
	{1, "ntsc23.98", 720, 486, 1001, 24000, false},
	{2, "pal", 720, 576, 1000, 25000, true},
	{3, "ntsc-p", 720, 486, 1001, 60000, false},
	{4, "pal-p", 720, 576, 1000, 50000, false},
	{5, "1080p23.98", 1920, 1080, 1001, 24000, false},
	{6, "1080p24", 1920, 1080, 1000, 24000, false},
	{7, "1080p25", 1920, 1080, 1000, 25000, false},
	{8, "1080p29.97", 1920, 1080, 1001, 30000, false},
	{9, "1080p30", 1920, 1080, 1000, 30000, false},
	{10, "1080i50", 1920, 1080, 1000, 25000, true},
	{11, "1080i59.94", 1920, 1080, 1001, 30000, true},
	{12, "1080i60", 1920, 1080, 1000, 30000, true},
	{13, "720p50", 1280, 720, 1000, 50000, false},
	{14, "720p59.94", 1280, 720, 1001, 60000, false},
	{15, "720p60", 1280, 720, 1000, 60000, false},
}

// Modes returns the known display modes in driver enumeration order.
func Modes() []Mode {
	out := make([]Mode, len(modes))
	copy(out, modes)
	return out
}

// LookupMode returns the display mode with the given index.
func LookupMode(index int) (Mode, error) {
	if index < 0 || index >= len(modes) {
		return Mode{}, fmt.Errorf("unknown video mode %d (run the modes command for the list)", index)
	}
	return modes[index], nil
}
