package detections

const (
	// InputSize is the square resolution the network was exported with.
	InputSize = 640

	DefaultConfThreshold = 0.03
	IouThreshold         = 0.7
	MaxDetections        = 300
	MaxCandidates        = 30000

	// PadValue fills the letterbox border.
	PadValue = 114

	InputName  = "images"
	OutputName = "output0"
)

// Strides of the three detection heads.
var Strides = []int{8, 16, 32}

// NumAnchors returns how many prediction columns the network emits for a
// square input of the given size.
func NumAnchors(size int) int {
	n := 0
	for _, s := range Strides {
		cells := size / s
		n += cells * cells
	}
	return n
}
