package project

// Numeric bounds of the document model.
const (
	MinBPM = 20
	MaxBPM = 300

	MinViewBars = 8
	MaxViewBars = 4096
	DefaultViewBars = 64

	MinVolume = 0.0
	MaxVolume = 1.2
	DefaultVolume = 0.85

	MinPan = -1.0
	MaxPan = 1.0

	MinSwing = 0.0
	MaxSwing = 0.75

	MinVelocity = 0.0
	MaxVelocity = 1.0

	MaxTrackNameLen = 25

	MinGridStep = 1.0 / 64.0 // finest snap: 1/64 bar, a quarter of the 1/16-bar default cell in 4/4

	DefaultSnapDenominator = 16 // "1 beat = 4 steps for the 1/16 grid default"
)

// ValidPatternLengths enumerates the allowed step counts.
var ValidPatternLengths = map[int]bool{8: true, 16: true, 32: true, 64: true}

// ValidDenominators enumerates the allowed time-signature denominators.
var ValidDenominators = map[int]bool{1: true, 2: true, 4: true, 8: true, 16: true}
