package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Codec is the desired output codec standard (not the encoder implementation).
type Codec string

// Supported output codecs.
const (
	CodecPassthrough Codec = "passthrough"
	CodecH264        Codec = "h264"
	CodecH265        Codec = "h265"
)

// Region describes the rectangular crop of a split output.
// Either one of the named half regions or explicit "WxH+X+Y" geometry.
type Region string

// Named crop regions.
const (
	RegionTopHalf    Region = "top-half"
	RegionBottomHalf Region = "bottom-half"
	RegionLeftHalf   Region = "left-half"
	RegionRightHalf  Region = "right-half"
)

var geometryRe = regexp.MustCompile(`^\d+x\d+\+\d+\+\d+$`)

// Valid reports whether the region is a known name or explicit geometry.
func (r Region) Valid() bool {
	switch r {
	case RegionTopHalf, RegionBottomHalf, RegionLeftHalf, RegionRightHalf:
		return true
	}
	return geometryRe.MatchString(string(r))
}

// AudioKind selects which outputs carry the source audio track.
type AudioKind int

// Audio modes. The zero value keeps audio on every output.
const (
	AudioAllSplits AudioKind = iota
	AudioDisabled
	AudioSplitIndex
)

// AudioMode is the per-camera audio routing policy.
// YAML forms: "all", "disabled", or a split index ("0", "1", ...).
type AudioMode struct {
	Kind  AudioKind
	Index int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *AudioMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch raw {
	case "", "all":
		a.Kind = AudioAllSplits
	case "disabled", "none":
		a.Kind = AudioDisabled
	default:
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid audio mode %q", raw)
		}
		a.Kind = AudioSplitIndex
		a.Index = idx
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a AudioMode) MarshalYAML() (any, error) {
	return a.String(), nil
}

func (a AudioMode) String() string {
	switch a.Kind {
	case AudioDisabled:
		return "disabled"
	case AudioSplitIndex:
		return strconv.Itoa(a.Index)
	default:
		return "all"
	}
}

// SplitSpec describes one crop output of a camera frame.
type SplitSpec struct {
	// Region selects the crop rectangle.
	Region Region `yaml:"region"`

	// Output overrides the derived "<camera>_part<i>" output name.
	Output string `yaml:"output,omitempty"`
}

// CameraSpec is one camera entry from cameras.yaml.
type CameraSpec struct {
	// Name is the unique camera identifier. It becomes the namespace for
	// derived output stream names, so it must be a valid path segment.
	Name string `yaml:"name"`

	// Source is the RTSP address of the camera feed. Credentials may be
	// embedded in the URL or supplied via Username/Password.
	Source   string `yaml:"source"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Splits lists the crop outputs. Empty means a single full-frame
	// output. Split cameras must set a transcoding VideoCodec.
	Splits []SplitSpec `yaml:"splits,omitempty"`

	// VideoCodec is the target codec. Empty defaults to passthrough.
	VideoCodec Codec `yaml:"video_codec,omitempty"`

	// HardwareAccel requests the GPU decode/encode path.
	HardwareAccel bool `yaml:"hardware_accel,omitempty"`

	// Audio selects which outputs carry audio.
	Audio AudioMode `yaml:"audio,omitempty"`

	// Encode tuning, only applied when transcoding.
	Bitrate          string `yaml:"bitrate,omitempty"`
	MaxRate          string `yaml:"maxrate,omitempty"`
	KeyframeInterval int    `yaml:"keyframe_interval,omitempty"`
}

// OutputCount returns the number of logical outputs this camera produces.
func (c CameraSpec) OutputCount() int {
	if len(c.Splits) == 0 {
		return 1
	}
	return len(c.Splits)
}

// InputURL returns the source address with credentials embedded.
func (c CameraSpec) InputURL() string {
	if c.Username == "" {
		return c.Source
	}
	u, err := url.Parse(c.Source)
	if err != nil {
		return c.Source
	}
	u.User = url.UserPassword(c.Username, c.Password)
	return u.String()
}

// Equal reports structural equality of all fields. Any field change is
// treated as "modified" by reconciliation, never a partial patch.
func (c CameraSpec) Equal(other CameraSpec) bool {
	return reflect.DeepEqual(c, other)
}

// Snapshot is an immutable ordered set of camera specs. A reload replaces
// the previous snapshot atomically; reconciliation diffs old against new.
type Snapshot struct {
	Cameras []CameraSpec `yaml:"cameras"`
}

// Camera returns the spec for the named camera.
func (s Snapshot) Camera(name string) (CameraSpec, bool) {
	for _, c := range s.Cameras {
		if c.Name == name {
			return c, true
		}
	}
	return CameraSpec{}, false
}

// Names returns all camera names in config order.
func (s Snapshot) Names() []string {
	names := make([]string, len(s.Cameras))
	for i, c := range s.Cameras {
		names[i] = c.Name
	}
	return names
}

// ConfigError reports a malformed or invalid camera configuration.
// Fatal at startup, non-fatal on reload (the last-good snapshot stays active).
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
	}
	return "config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Load reads and validates the camera configuration file.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, &ConfigError{Reason: "read " + path, Err: err}
	}
	return Parse(data)
}

// Parse decodes and validates a camera configuration document.
// It is a pure transformation: no side effects, deterministic output.
func Parse(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, &ConfigError{Reason: "parse yaml", Err: err}
	}

	seen := make(map[string]bool, len(snap.Cameras))
	for i := range snap.Cameras {
		cam := &snap.Cameras[i]
		if cam.VideoCodec == "" {
			cam.VideoCodec = CodecPassthrough
		}
		if err := validateCamera(*cam); err != nil {
			return Snapshot{}, err
		}
		if seen[cam.Name] {
			return Snapshot{}, &ConfigError{Reason: fmt.Sprintf("duplicate camera name %q", cam.Name)}
		}
		seen[cam.Name] = true
	}

	return snap, nil
}

func validateCamera(cam CameraSpec) error {
	if cam.Name == "" {
		return &ConfigError{Reason: "camera with empty name"}
	}
	if !nameRe.MatchString(cam.Name) {
		return &ConfigError{Reason: fmt.Sprintf("camera name %q is not a valid stream path segment", cam.Name)}
	}
	if cam.Source == "" {
		return &ConfigError{Reason: fmt.Sprintf("camera %q has empty source", cam.Name)}
	}
	if _, err := url.Parse(cam.Source); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("camera %q source", cam.Name), Err: err}
	}

	switch cam.VideoCodec {
	case CodecPassthrough, CodecH264, CodecH265:
	default:
		return &ConfigError{Reason: fmt.Sprintf("camera %q has unknown video codec %q", cam.Name, cam.VideoCodec)}
	}

	for i, split := range cam.Splits {
		if !split.Region.Valid() {
			return &ConfigError{Reason: fmt.Sprintf("camera %q split %d has invalid region %q", cam.Name, i, split.Region)}
		}
		if split.Output != "" && !nameRe.MatchString(split.Output) {
			return &ConfigError{Reason: fmt.Sprintf("camera %q split %d has invalid output name %q", cam.Name, i, split.Output)}
		}
	}

	if cam.Audio.Kind == AudioSplitIndex && cam.Audio.Index >= cam.OutputCount() {
		return &ConfigError{Reason: fmt.Sprintf(
			"camera %q audio split index %d out of range (%d outputs)",
			cam.Name, cam.Audio.Index, cam.OutputCount())}
	}

	// Cropping is a filter stage, so split outputs cannot stream-copy:
	// the engine rejects -vf together with -c:v copy.
	if len(cam.Splits) > 0 && cam.VideoCodec == CodecPassthrough {
		return &ConfigError{Reason: fmt.Sprintf(
			"camera %q splits require transcoding, set video_codec to h264 or h265", cam.Name)}
	}

	return nil
}

// DiffResult holds the camera name sets computed by comparing two snapshots.
type DiffResult struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the diff requires no reconciliation work.
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Diff compares two snapshots per-camera by structural equality.
// Result name slices are sorted for deterministic processing.
func Diff(old, updated Snapshot) DiffResult {
	var d DiffResult

	for _, cam := range updated.Cameras {
		prev, exists := old.Camera(cam.Name)
		switch {
		case !exists:
			d.Added = append(d.Added, cam.Name)
		case !prev.Equal(cam):
			d.Modified = append(d.Modified, cam.Name)
		}
	}

	for _, cam := range old.Cameras {
		if _, exists := updated.Camera(cam.Name); !exists {
			d.Removed = append(d.Removed, cam.Name)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}
