package basicpitch

import (
	"regexp"
	"strconv"
	"strings"
)

// ReadyMarker is the substring the worker prints once it accepts commands.
// Output before this marker is startup noise and is never forwarded.
const ReadyMarker = "Ready for commands"

// NotificationKind tags a decoded worker stdout line.
type NotificationKind int

const (
	// KindUnrecognized marks lines matching none of the known shapes.
	KindUnrecognized NotificationKind = iota
	// KindSuccess marks a completed conversion announcement.
	KindSuccess
	// KindFailure marks a per-request failure announcement.
	KindFailure
	// KindProgress marks an informational started-processing announcement.
	KindProgress
)

// Notification is one decoded worker stdout line.
type Notification struct {
	Kind NotificationKind
	// OutputPath is the produced file path (success only).
	OutputPath string
	// ByteCount is the produced file size (success only).
	ByteCount int64
	// Key is the submitted path the worker is reporting on (failure and
	// progress only).
	Key string
	// Raw is the full original line.
	Raw string
}

// The three line shapes form the wire protocol with the external worker
// binary and must match its output exactly.
var (
	successPattern  = regexp.MustCompile(`^SUCCESS: "(.+)" \((\d+) bytes\)`)
	failurePattern  = regexp.MustCompile(`^Error processing (.+?):`)
	progressPattern = regexp.MustCompile(`^Processing: (.+)$`)
)

// ParseLine decodes one worker stdout line into a tagged notification.
func ParseLine(line string) Notification {
	trimmed := strings.TrimRight(line, "\r\n")

	if m := successPattern.FindStringSubmatch(trimmed); m != nil {
		count, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Notification{Kind: KindUnrecognized, Raw: trimmed}
		}
		return Notification{Kind: KindSuccess, OutputPath: m[1], ByteCount: count, Raw: trimmed}
	}
	if m := failurePattern.FindStringSubmatch(trimmed); m != nil {
		return Notification{Kind: KindFailure, Key: m[1], Raw: trimmed}
	}
	if m := progressPattern.FindStringSubmatch(trimmed); m != nil {
		return Notification{Kind: KindProgress, Key: strings.TrimSpace(m[1]), Raw: trimmed}
	}
	return Notification{Kind: KindUnrecognized, Raw: trimmed}
}
