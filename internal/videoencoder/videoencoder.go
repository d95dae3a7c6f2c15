// Package videoencoder probes available hardware video encoders at
// startup and exposes the selected profile's invocation arguments, with
// a hardware-error classifier call sites use to fall back to software.
package videoencoder

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Name identifies a selectable encoder.
type Name string

const (
	NameNVENC         Name = "hevc_nvenc"
	NameVideoToolbox  Name = "hevc_videotoolbox"
	NameVAAPI         Name = "hevc_vaapi"
	NameQuickSync     Name = "hevc_qsv"
	NameAMF           Name = "hevc_amf"
	NameSoftwareX265  Name = "libx265"
)

// candidate describes one probe-order entry and its platform gate.
type candidate struct {
	name     Name
	platform string // "", "darwin", "linux" — "" means all platforms
}

// probeOrder is the priority order specified in §4.E.
var probeOrder = []candidate{
	{name: NameNVENC},
	{name: NameVideoToolbox, platform: "darwin"},
	{name: NameVAAPI, platform: "linux"},
	{name: NameQuickSync},
	{name: NameAMF},
	{name: NameSoftwareX265},
}

// vaapiDevicePath is the conventional VAAPI render node.
const vaapiDevicePath = "/dev/dri/renderD128"

// qualityCQ is the constant-quality value every profile uses except
// VideoToolbox, whose -q:v knob is set to 20.
const qualityCQ = 18

// bitrateHeadroom, maxrateFactor, and bufsizeFactor implement the
// bitrate-profile scaling specified in §4.E.
const (
	bitrateHeadroom = 1.15
	maxrateFactor   = 1.2
	bufsizeFactor   = 2.0
)

// Profile is the immutable, process-lifetime-selected encoder
// configuration. Fallback is performed by call sites swapping to a
// known software Profile, never by mutating a selected Profile.
type Profile struct {
	Name Name
	// InputArgs precede the -i flag; only VAAPI populates this.
	InputArgs []string
	// QualityArgs encode at the profile's native constant-quality knob.
	QualityArgs []string
	IsHardware bool
}

// BitrateArgs returns the bitrate-mode argument set for targetBPS,
// scaled by the headroom/maxrate/bufsize factors in §4.E. Not every
// profile need use this; callers default to QualityArgs otherwise.
func (p Profile) BitrateArgs(targetBPS int64) []string {
	scaled := int64(float64(targetBPS) * bitrateHeadroom)
	maxrate := int64(float64(scaled) * maxrateFactor)
	bufsize := int64(float64(scaled) * bufsizeFactor)
	return []string{
		"-b:v", fmt.Sprintf("%d", scaled),
		"-maxrate", fmt.Sprintf("%d", maxrate),
		"-bufsize", fmt.Sprintf("%d", bufsize),
	}
}

func qualityArgsFor(name Name) []string {
	switch name {
	case NameNVENC:
		return []string{"-cq", fmt.Sprintf("%d", qualityCQ)}
	case NameVideoToolbox:
		return []string{"-q:v", "20"}
	case NameVAAPI:
		return []string{"-qp", fmt.Sprintf("%d", qualityCQ)}
	case NameQuickSync:
		return []string{"-global_quality", fmt.Sprintf("%d", qualityCQ)}
	case NameAMF:
		return []string{"-rc", "cqp", "-qp_i", fmt.Sprintf("%d", qualityCQ), "-qp_p", fmt.Sprintf("%d", qualityCQ)}
	default:
		return []string{"-crf", fmt.Sprintf("%d", qualityCQ)}
	}
}

// Software returns the always-available libx265 fallback profile. It is
// never probed: it is assumed to exist wherever ffmpeg itself does.
func Software() Profile {
	return Profile{Name: NameSoftwareX265, QualityArgs: qualityArgsFor(NameSoftwareX265)}
}

// Runner abstracts subprocess execution so the probe and the hardware
// classifier can be exercised without invoking a real ffmpeg binary.
type Runner interface {
	ListEncoders(ctx context.Context) (string, error)
	ProbeEncode(ctx context.Context, name Name) error
}

// execRunner shells out to a real ffmpeg binary.
type execRunner struct {
	ffmpegPath string
}

// NewExecRunner builds a Runner backed by the ffmpeg binary at path (or
// "ffmpeg" on PATH if empty).
func NewExecRunner(path string) Runner {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return execRunner{ffmpegPath: path}
}

func (r execRunner) ListEncoders(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, "-hide_banner", "-encoders")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// ProbeEncode runs a 0.1-second null-output encode of a synthetic
// 320x240 black frame using the candidate encoder.
func (r execRunner) ProbeEncode(ctx context.Context, name Name) error {
	args := []string{"-hide_banner", "-v", "error", "-f", "lavfi", "-i", "color=c=black:s=320x240:d=0.1"}
	if name == NameVAAPI {
		args = append([]string{"-init_hw_device", "vaapi=va:" + vaapiDevicePath, "-filter_hw_device", "va"}, args...)
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args, "-c:v", string(name))
	args = append(args, qualityArgsFor(name)...)
	args = append(args, "-f", "null", "-")
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("probe %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Selector probes encoders once and exposes the selected, immutable
// Profile for the process lifetime.
type Selector struct {
	runner Runner
	once   sync.Once
	result Profile
	err    error
}

// NewSelector builds a Selector backed by runner.
func NewSelector(runner Runner) *Selector {
	return &Selector{runner: runner}
}

// Select returns the selected Profile, probing encoders on first call
// and memoizing the result. MUST NOT be mutated after first use.
func (s *Selector) Select(ctx context.Context) (Profile, error) {
	s.once.Do(func() {
		s.result, s.err = s.detect(ctx)
	})
	return s.result, s.err
}

func (s *Selector) detect(ctx context.Context) (Profile, error) {
	listing, err := s.runner.ListEncoders(ctx)
	if err != nil {
		return Software(), nil
	}
	for _, cand := range probeOrder {
		if cand.platform != "" && cand.platform != runtime.GOOS {
			continue
		}
		if !strings.Contains(listing, string(cand.name)) {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.runner.ProbeEncode(probeCtx, cand.name)
		cancel()
		if err != nil {
			continue
		}
		profile := Profile{
			Name:        cand.name,
			QualityArgs: qualityArgsFor(cand.name),
			IsHardware:  cand.name != NameSoftwareX265,
		}
		if cand.name == NameVAAPI {
			profile.InputArgs = []string{
				"-init_hw_device", "vaapi=va:" + vaapiDevicePath,
				"-hwaccel", "vaapi",
				"-hwaccel_output_format", "vaapi",
			}
		}
		return profile, nil
	}
	return Software(), nil
}

// hardwareErrorPatterns is the closed set of stderr substrings that
// indicate a hardware-retryable failure, per §4.E.
var hardwareErrorPatterns = []string{
	"hwaccel initialisation returned error",
	"Impossible to convert between the formats",
	"Failed setup for format vaapi",
	"Failed setup for format cuda",
	"Failed setup for format qsv",
	"hwaccel_retrieve_data failed",
	"No hw frames available",
	"hardware accelerator failed to decode picture",
}

// IsHardwareError reports whether stderr matches the closed set of
// hardware-retryable failure patterns.
func IsHardwareError(stderr string) bool {
	for _, pattern := range hardwareErrorPatterns {
		if strings.Contains(stderr, pattern) {
			return true
		}
	}
	return false
}
