package constants

import "time"

// Network probing
const (
	ConnectivityTarget   = "dns.google:443"
	ConnectivityInterval = 5 * time.Second
)

// Playback tunables not worth a config knob
const (
	VolumeStep        = 0.05 // 5% volume change per step
	ImageRetryDelay   = 500 * time.Millisecond
	ScheduledStopUnit = time.Minute
)

// Audio quality levels
const (
	AudioQualityHigh   = "high"
	AudioQualityMedium = "medium"
	AudioQualityLow    = "low"
)
