package fec

// Network-quality thresholds carried over from the teacher's device
// package constants.go, where they governed FEC selection for tunnel
// payloads; here they govern FEC selection for OMF fragment groups.
const (
	NoFECMaxLossRate  float64 = 0.01 // up to 1% loss: no FEC
	XORFECMaxLossRate float64 = 0.05 // up to 5% loss: single-parity XOR
	RSFECMaxLossRate  float64 = 0.20 // up to 20% loss: Reed-Solomon
	// beyond RSFECMaxLossRate: RaptorQ, whose repair symbol stream isn't
	// bounded to a fixed parity count the way Reed-Solomon's is.
)
