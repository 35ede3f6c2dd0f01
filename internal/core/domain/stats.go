package domain

import (
	"fmt"
	"math"
	"time"
)

// ConnectionStats is one sample of transport-level statistics.
type ConnectionStats struct {
	BytesSent     uint64        `json:"bytes_sent"`
	BytesReceived uint64        `json:"bytes_received"`
	RoundTripTime time.Duration `json:"round_trip_time"`
	Quality       Quality       `json:"quality"`
	Timestamp     time.Time     `json:"timestamp"`
}

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)

// QualityForRTT buckets a round-trip time into a quality tier.
func QualityForRTT(rtt time.Duration) Quality {
	switch {
	case rtt <= 0:
		return QualityUnknown
	case rtt < 50*time.Millisecond:
		return QualityExcellent
	case rtt < 100*time.Millisecond:
		return QualityGood
	case rtt < 200*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}

// FormatBytes renders a byte count for UI display.
func FormatBytes(bytes uint64) string {
	if bytes == 0 {
		return "0 B"
	}
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	value := float64(bytes) / math.Pow(1024, float64(i))
	return fmt.Sprintf("%s %s", trimZeros(value), sizes[i])
}

func trimZeros(v float64) string {
	s := fmt.Sprintf("%.2f", math.Round(v*100)/100)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
