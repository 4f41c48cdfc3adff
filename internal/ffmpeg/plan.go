package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/akosev/camnode/internal/config"
)

// OutputPlan is the abstract invocation plan for one logical output of a
// camera. It carries everything needed to construct the engine command but
// no literal flag syntax, so plans stay comparable and deterministic.
type OutputPlan struct {
	Camera string
	Output string
	Index  int

	// Input is the source address with credentials embedded.
	Input string

	// HWDecode requests the GPU decode path for this output.
	HWDecode bool

	// Crop is the filter expression for this output, empty for full frame.
	Crop string

	// Codec is the target codec; CodecPassthrough means stream copy.
	Codec config.Codec

	// HWEncode requests the GPU encoder for the target codec.
	HWEncode bool

	// Audio includes the source audio track in this output.
	Audio bool

	// Encode tuning, applied only when transcoding.
	Bitrate          string
	MaxRate          string
	KeyframeInterval int

	// Destination is the publish address: <restream-base>/<output>.
	Destination string
}

// BuildPlans turns a camera spec into one plan per logical output.
// Pure function: identical input always yields an identical plan sequence.
func BuildPlans(cam config.CameraSpec, restreamBase string) []OutputPlan {
	base := strings.TrimSuffix(restreamBase, "/")
	input := cam.InputURL()

	outputs := cam.OutputCount()
	plans := make([]OutputPlan, 0, outputs)

	for i := 0; i < outputs; i++ {
		plan := OutputPlan{
			Camera:           cam.Name,
			Index:            i,
			Input:            input,
			Codec:            cam.VideoCodec,
			HWDecode:         cam.HardwareAccel,
			HWEncode:         cam.HardwareAccel && cam.VideoCodec != config.CodecPassthrough,
			Audio:            audioEnabled(cam, i),
			Bitrate:          cam.Bitrate,
			MaxRate:          cam.MaxRate,
			KeyframeInterval: cam.KeyframeInterval,
		}

		if len(cam.Splits) == 0 {
			plan.Output = cam.Name
		} else {
			split := cam.Splits[i]
			plan.Output = split.Output
			if plan.Output == "" {
				plan.Output = fmt.Sprintf("%s_part%d", cam.Name, i+1)
			}
			plan.Crop = cropFilter(split.Region)
		}

		// Pure copy needs no decoding at all; skip the GPU path so idle
		// cameras cost minimal resources.
		if plan.Codec == config.CodecPassthrough && plan.Crop == "" {
			plan.HWDecode = false
		}

		plan.Destination = base + "/" + plan.Output
		plans = append(plans, plan)
	}

	return plans
}

// UsesHardware reports whether any GPU path is requested.
func (p OutputPlan) UsesHardware() bool {
	return p.HWDecode || p.HWEncode
}

// SoftwareFallback returns a copy of the plan with every GPU path
// disabled, keeping codec and tuning intact.
func (p OutputPlan) SoftwareFallback() OutputPlan {
	p.HWDecode = false
	p.HWEncode = false
	return p
}

// audioEnabled resolves the camera audio mode for output index i.
func audioEnabled(cam config.CameraSpec, i int) bool {
	switch cam.Audio.Kind {
	case config.AudioDisabled:
		return false
	case config.AudioSplitIndex:
		return cam.Audio.Index == i
	default:
		return true
	}
}

// cropFilter converts a region descriptor to an ffmpeg crop expression.
func cropFilter(region config.Region) string {
	switch region {
	case config.RegionTopHalf:
		return "crop=w=iw:h=ih/2:x=0:y=0"
	case config.RegionBottomHalf:
		return "crop=w=iw:h=ih/2:x=0:y=ih/2"
	case config.RegionLeftHalf:
		return "crop=w=iw/2:h=ih:x=0:y=0"
	case config.RegionRightHalf:
		return "crop=w=iw/2:h=ih:x=iw/2:y=0"
	}

	// Explicit "WxH+X+Y" geometry, validated at config parse time.
	var w, h, x, y int
	if _, err := fmt.Sscanf(string(region), "%dx%d+%d+%d", &w, &h, &x, &y); err != nil {
		return ""
	}
	return fmt.Sprintf("crop=w=%d:h=%d:x=%d:y=%d", w, h, x, y)
}
