package ffmpeg

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/akosev/camnode/internal/config"
)

// Defaults applied when transcoding without explicit tuning.
const (
	defaultBitrate = "2M"
	defaultMaxRate = "4M"
)

// ffmpegBase returns the ffmpeg command prefix with standard flags.
// "-loglevel level+info" makes ffmpeg prefix every line with [level],
// which ParseLogLevel relies on.
func ffmpegBase() string {
	return "ffmpeg -hide_banner -loglevel level+info"
}

// BuildCommand renders an OutputPlan into the engine command string.
// The exact flag syntax is ffmpeg's contract; everything upstream works
// with the abstract plan.
func BuildCommand(plan OutputPlan) string {
	var cmd strings.Builder
	cmd.WriteString(ffmpegBase())

	if plan.HWDecode {
		cmd.WriteString(" -hwaccel cuda -hwaccel_output_format cuda")
	}

	// Low-delay RTSP input handling
	cmd.WriteString(" -fflags nobuffer -flags low_delay")
	cmd.WriteString(" -analyzeduration 500000 -probesize 500000")
	cmd.WriteString(" -timeout 15000000")
	cmd.WriteString(" -rtsp_transport tcp")
	cmd.WriteString(fmt.Sprintf(" -i %s", plan.Input))

	cmd.WriteString(" -map 0:v")

	if plan.Crop != "" {
		if plan.HWDecode {
			// Frames live in GPU memory after cuda decode; download before
			// the crop filter.
			cmd.WriteString(fmt.Sprintf(" -vf hwdownload,format=nv12,%s", plan.Crop))
		} else {
			cmd.WriteString(fmt.Sprintf(" -vf %s", plan.Crop))
		}
	}

	if plan.Audio {
		cmd.WriteString(" -map 0:a? -c:a copy")
	} else {
		cmd.WriteString(" -an")
	}

	writeEncoder(&cmd, plan)

	cmd.WriteString(" -f rtsp -rtsp_transport tcp")
	cmd.WriteString(fmt.Sprintf(" %s", plan.Destination))

	return cmd.String()
}

// writeEncoder appends the video codec selection and rate control flags.
func writeEncoder(cmd *strings.Builder, plan OutputPlan) {
	switch {
	case plan.Codec == config.CodecPassthrough:
		cmd.WriteString(" -c:v copy")
		return
	case plan.Codec == config.CodecH265 && plan.HWEncode:
		cmd.WriteString(" -c:v hevc_nvenc -preset p5")
	case plan.Codec == config.CodecH265:
		cmd.WriteString(" -c:v libx265 -preset fast")
	case plan.HWEncode:
		cmd.WriteString(" -c:v h264_nvenc -preset p5")
	default:
		cmd.WriteString(" -c:v libx264 -preset fast")
	}

	bitrate := plan.Bitrate
	if bitrate == "" {
		bitrate = defaultBitrate
	}
	maxrate := plan.MaxRate
	if maxrate == "" {
		maxrate = defaultMaxRate
	}
	bufsize := rateInKilobits(maxrate) * 2

	cmd.WriteString(fmt.Sprintf(" -b:v %s -maxrate %s -bufsize %dk", bitrate, maxrate, bufsize))

	if plan.KeyframeInterval > 0 {
		cmd.WriteString(fmt.Sprintf(" -g %d", plan.KeyframeInterval))
	}
}

// rateInKilobits parses a bitrate string like "2M" or "1500k" into kilobits.
func rateInKilobits(rate string) int {
	rate = strings.ToLower(strings.TrimSpace(rate))
	switch {
	case strings.HasSuffix(rate, "m"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(rate, "m"), 64); err == nil {
			return int(f * 1000)
		}
	case strings.HasSuffix(rate, "k"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(rate, "k"), 64); err == nil {
			return int(f)
		}
	default:
		if n, err := strconv.Atoi(rate); err == nil {
			return n
		}
	}
	return 0
}

var (
	userinfoRe = regexp.MustCompile(`(rtsp://[^:/@\s]+:)([^@\s]+)(@)`)
	passwordRe = regexp.MustCompile(`(password=)[^&_\s]+`)
)

// Sanitize redacts credentials from a command string for safe logging.
func Sanitize(command string) string {
	command = userinfoRe.ReplaceAllString(command, "$1***$3")
	command = passwordRe.ReplaceAllString(command, "$1***")
	return command
}

// IsCUDAError reports whether a stderr tail points at a GPU failure.
// The supervisor uses this to fall back to software processing when the
// cuda decoder or nvenc encoder cannot be used on this host.
func IsCUDAError(stderrTail []string) bool {
	for _, line := range stderrTail {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "cuda") ||
			strings.Contains(lower, "cuvid") ||
			strings.Contains(lower, "nvenc") {
			return true
		}
	}
	return false
}
