package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// FormatBytes formats bytes into human-readable form (B, KB, MB, etc.)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatBandwidth renders a bytes/sec limit as a link speed ("56k", "1.5Mbps")
func FormatBandwidth(bytesPerSec int) string {
	if bytesPerSec <= 0 {
		return "unlimited"
	}
	bitsPerSec := bytesPerSec * 8
	switch {
	case bitsPerSec < 1000:
		return fmt.Sprintf("%dbps", bitsPerSec)
	case bitsPerSec < 1000000:
		return fmt.Sprintf("%gk", float64(bitsPerSec/100)/10)
	default:
		return fmt.Sprintf("%.1fMbps", float64(bitsPerSec)/1000000)
	}
}

// FormatRelativeTime formats a timestamp relative to now
// Returns strings like "just now", "5m ago", "2h ago", "3d ago"
func FormatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}

// FormatTell renders a delivered message as one line per body line:
//
//	15:04:05 [lobby] <alice> hello
//
// A private message shows the recipient instead of a room. An empty
// timestampFormat omits the timestamp, "relative" uses FormatRelativeTime and
// anything else is a time layout.
func FormatTell(m *protocol.TellMsgPacket, at time.Time, timestampFormat string) string {
	prefix := fmt.Sprintf("[%s] <%s> ", m.Target, m.Sender)
	switch timestampFormat {
	case "":
	case "relative":
		prefix = FormatRelativeTime(at) + " " + prefix
	default:
		prefix = at.Format(timestampFormat) + " " + prefix
	}

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	indent := strings.Repeat(" ", len(prefix))
	for i := 1; i < len(lines); i++ {
		lines[i] = indent + lines[i]
	}
	return prefix + strings.Join(lines, "\n")
}
