package ffmpeg

import "strings"

// ParseLogLevel maps one line of engine stderr to a log level. With
// "-loglevel level+info" every line carries a level tag, either leading
// ("[error] message") or after a component tag
// ("[rtsp @ 0x...] [error] message"). The level tag is stripped from
// the returned message; a component tag is kept. Lines without a
// recognizable tag pass through at info.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	tagEnd := strings.Index(line, "] ")
	if tagEnd == -1 {
		return "info", line
	}

	tag := line[1:tagEnd]
	if isLogLevel(tag) {
		return tag, line[tagEnd+2:]
	}

	// Component-prefixed form: the level tag follows the component tag.
	component := line[:tagEnd+2]
	tail := line[tagEnd+2:]
	if len(tail) > 2 && tail[0] == '[' {
		if tailClose := strings.Index(tail, "] "); tailClose != -1 {
			if tailTag := tail[1:tailClose]; isLogLevel(tailTag) {
				return tailTag, component + tail[tailClose+2:]
			}
		}
	}

	return "info", line
}

// isLogLevel matches the level names ffmpeg's -loglevel accepts.
func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
