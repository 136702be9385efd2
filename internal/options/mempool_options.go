package options

const (
	oddSketchBitsDefault   = 2048
	oddSketchHashesDefault = 1
	maxFrameSizeDefault    = 32 << 20
)

// MempoolOptions are options for the TransactionStore and its wire format
type MempoolOptions struct {
	// Width of the odd sketch in bits, a multiple of 64
	OddSketchBits uint32

	// Bit positions flipped per short id
	OddSketchHashes uint32

	// Largest accepted frame payload
	MaxFrameSize int
}

// NewMempoolOptions returns default initialized MempoolOptions
func NewMempoolOptions() *MempoolOptions {
	return &MempoolOptions{
		OddSketchBits:   oddSketchBitsDefault,
		OddSketchHashes: oddSketchHashesDefault,
		MaxFrameSize:    maxFrameSizeDefault,
	}
}
