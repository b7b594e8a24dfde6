package quality

// audioBytesPerSample is the size of one 16-bit PCM sample.
const audioBytesPerSample = 2

// BandwidthEstimate is the expected traffic for one profile. Because
// multicast fanout does not multiply the sender's cost by the participant
// count, PerParticipantInboundMbps always equals OutboundMbps; that equality
// is the reason multicast was chosen over per-participant unicast.
type BandwidthEstimate struct {
	OutboundMbps              float64
	PerParticipantInboundMbps float64
}

// Estimate computes the expected bandwidth for a profile: JPEG screen frames
// at the profile's rate plus uncompressed 16-bit audio.
func Estimate(p Profile) BandwidthEstimate {
	frameKB := avgFrameSizeKB(p.CompressionQuality)
	screenMbps := frameKB * float64(p.FPS) * 8 / 1000
	audioMbps := float64(p.AudioSampleRate*audioBytesPerSample*8) / 1_000_000

	out := screenMbps + audioMbps
	return BandwidthEstimate{
		OutboundMbps:              out,
		PerParticipantInboundMbps: out,
	}
}

// avgFrameSizeKB models the average compressed screen frame size in KB.
// JPEG output at quality q lands around q/100 * 0.2 bytes per pixel; the
// resolution ladder matches what the encoder is configured to produce at
// each quality step.
func avgFrameSizeKB(compressionQuality int) float64 {
	w, h := resolutionFor(compressionQuality)
	bytesPerPixel := float64(compressionQuality) / 100 * 0.2
	return float64(w*h) * bytesPerPixel / 1024
}

// resolutionFor returns the capture resolution paired with a compression
// quality step: full HD only at the top step, 480p at the bottom.
func resolutionFor(compressionQuality int) (w, h int) {
	switch {
	case compressionQuality >= 85:
		return 1920, 1080
	case compressionQuality >= 60:
		return 1280, 720
	default:
		return 854, 480
	}
}
