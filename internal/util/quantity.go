package util

import "fmt"

// FormatBytes renders a byte count the way imagemin reports savings:
// "512 B", "1.5 kB", "2.3 MB". Units are decimal.
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + FormatBytes(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d B", n)
	}

	units := []string{"kB", "MB", "GB", "TB"}
	value := float64(n) / 1000
	unit := 0
	for value >= 1000 && unit < len(units)-1 {
		value /= 1000
		unit++
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}

// Percent returns part as a percentage of whole, 0 when whole is 0.
func Percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
