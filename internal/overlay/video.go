// Video overlay compositing: a four-pass state machine (rotate ->
// overlay -> dual-track mux -> metadata embed) with hardware-accelerated
// encode and graceful software fallback on a per-pass basis.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"memoria/internal/videoencoder"
)

const (
	probeTimeout  = 10 * time.Second
	encodeTimeout = 300 * time.Second
)

// Tool shells out to ffmpeg/ffprobe. Exists as an interface so the
// four-pass state machine can be driven in tests without real binaries.
type Tool interface {
	Probe(ctx context.Context, args []string) ([]byte, error)
	Encode(ctx context.Context, args []string) (stderr string, err error)
}

type execTool struct {
	ffmpegPath  string
	ffprobePath string
}

// NewExecTool builds a Tool backed by real ffmpeg/ffprobe binaries.
func NewExecTool(ffmpegPath, ffprobePath string) Tool {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return execTool{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

func (t execTool) Probe(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, t.ffprobePath, args...)
	return cmd.Output()
}

func (t execTool) Encode(ctx context.Context, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// probeResult is the subset of ffprobe JSON used for rotation/dimension
// detection.
type probeResult struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		CodecType     string `json:"codec_type"`
		BitRate       string `json:"bit_rate"`
		SideDataList  []struct {
			SideDataType string `json:"side_data_type"`
			Rotation     int    `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		BitRate string `json:"bit_rate"`
	} `json:"format"`
}

// probeVideo returns rotation modulo 360, even-rounded width/height, and
// the detected bitrate (nil if undetectable).
func probeVideo(ctx context.Context, tool Tool, path string) (rotation, width, height int, bitrate *int64, err error) {
	out, err := tool.Probe(ctx, []string{"-v", "error", "-show_entries", "stream=width,height,codec_type,bit_rate:stream_side_data=rotation,side_data_type:format=bit_rate", "-of", "json", path})
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("overlay: probe video: %w", err)
	}
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("overlay: parse probe output: %w", err)
	}
	for _, stream := range res.Streams {
		if stream.CodecType != "video" {
			continue
		}
		width, height = stream.Width, stream.Height
		for _, sd := range stream.SideDataList {
			if sd.SideDataType == "Display Matrix" {
				rotation = ((sd.Rotation % 360) + 360) % 360
			}
		}
		if bps, convErr := strconv.ParseInt(stream.BitRate, 10, 64); convErr == nil && bps > 0 {
			bitrate = &bps
		}
		break
	}
	if bitrate == nil {
		if bps, convErr := strconv.ParseInt(res.Format.BitRate, 10, 64); convErr == nil && bps > 0 {
			bitrate = &bps
		}
	}
	if width%2 != 0 {
		width++
	}
	if height%2 != 0 {
		height++
	}
	return rotation, width, height, bitrate, nil
}

func transposeFilter(rotation int) string {
	switch rotation {
	case 90:
		return "transpose=2"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=1"
	default:
		return ""
	}
}

// rotatedDimensions swaps width/height for 90/270 degree rotations.
func rotatedDimensions(rotation, width, height int) (int, int) {
	if rotation == 90 || rotation == 270 {
		return height, width
	}
	return width, height
}

func tempPath(dir, prefix, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), ext))
}

// Compositor drives the four-pass video overlay state machine.
type Compositor struct {
	Tool      Tool
	Selector  *videoencoder.Selector
	TempDir   string
}

// NewCompositor builds a Compositor; an empty tempDir uses os.TempDir().
func NewCompositor(tool Tool, selector *videoencoder.Selector, tempDir string) *Compositor {
	if strings.TrimSpace(tempDir) == "" {
		tempDir = os.TempDir()
	}
	return &Compositor{Tool: tool, Selector: selector, TempDir: tempDir}
}

// EmbedMetadata carries the call-site-supplied description fields for
// Pass 4, per §4.F's Snapchat-specific description formats.
type EmbedMetadata struct {
	CreatedAt   time.Time
	Latitude    *float64
	Longitude   *float64
	Description string
}

// DescriptionForMessage builds the multi-line description for a
// Snapchat message source.
func DescriptionForMessage(user, conversationTitle, sender, content string) string {
	lines := []string{
		fmt.Sprintf("Source: Snapchat/%s/messages", user),
		fmt.Sprintf("Conversation: %q", conversationTitle),
		fmt.Sprintf("Sender: %q", sender),
	}
	if strings.TrimSpace(content) != "" {
		lines = append(lines, fmt.Sprintf("Content: %q", content))
	}
	return strings.Join(lines, "\n")
}

// DescriptionForMemory builds the single-line description for a
// Snapchat memories entry.
func DescriptionForMemory(user string) string {
	return fmt.Sprintf("Source: Snapchat/%s/memories", user)
}

// runWithFallback executes attempt with the hardware profile; on a
// hardware-classified failure it retries once with the software
// profile. Passes 3-4 never call this since they do no encoding.
func (c *Compositor) runWithFallback(ctx context.Context, attempt func(videoencoder.Profile) (string, error)) error {
	profile, err := c.Selector.Select(ctx)
	if err != nil {
		return err
	}
	stderr, err := attempt(profile)
	if err == nil {
		return nil
	}
	if !profile.IsHardware || !videoencoder.IsHardwareError(stderr) {
		return err
	}
	_, err = attempt(videoencoder.Software())
	return err
}

// cleanupFiles unlinks every path, ignoring missing-file errors, on
// every exit path of the caller.
func cleanupFiles(paths ...string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

// pass1Rotate applies display-matrix-aware rotation, deletes the
// DISPLAYMATRIX side data, and re-encodes video at the source bitrate
// when detectable.
func (c *Compositor) pass1Rotate(ctx context.Context, input string) (outPath string, width, height int, bitrate *int64, err error) {
	rotation, w, h, bps, err := probeVideo(ctx, c.Tool, input)
	if err != nil {
		return "", 0, 0, nil, err
	}
	finalW, finalH := rotatedDimensions(rotation, w, h)
	out := tempPath(c.TempDir, "pass1-rotated", ".mp4")

	buildArgs := func(profile videoencoder.Profile) []string {
		var filter string
		switch {
		case profile.Name == videoencoder.NameVAAPI:
			tf := transposeFilter(rotation)
			if tf == "" {
				filter = "hwdownload,format=nv12,sidedata=mode=delete:type=DISPLAYMATRIX,hwupload"
			} else {
				filter = fmt.Sprintf("hwdownload,format=nv12,%s,sidedata=mode=delete:type=DISPLAYMATRIX,hwupload", tf)
			}
		default:
			tf := transposeFilter(rotation)
			if tf == "" {
				filter = "sidedata=mode=delete:type=DISPLAYMATRIX"
			} else {
				filter = fmt.Sprintf("%s,sidedata=mode=delete:type=DISPLAYMATRIX", tf)
			}
		}
		args := append([]string{}, profile.InputArgs...)
		args = append(args, "-noautorotate", "-i", input, "-vf", filter, "-c:v", string(profile.Name))
		if bps != nil {
			args = append(args, profile.BitrateArgs(*bps)...)
		} else {
			args = append(args, profile.QualityArgs...)
		}
		args = append(args, "-c:a", "copy", "-y", out)
		return args
	}

	runErr := c.runWithFallback(ctx, func(profile videoencoder.Profile) (string, error) {
		stderr, encErr := c.Tool.Encode(ctx, buildArgs(profile))
		return stderr, encErr
	})
	if runErr != nil {
		cleanupFiles(out)
		return "", 0, 0, nil, fmt.Errorf("overlay: pass1 rotate: %w", runErr)
	}
	return out, finalW, finalH, bps, nil
}

// pass2Overlay scales the overlay image to the rotated video's
// dimensions and bakes it into a single-track MP4.
func (c *Compositor) pass2Overlay(ctx context.Context, rotatedPath, overlayImagePath string, width, height int) (outPath string, err error) {
	scaledPNG := tempPath(c.TempDir, "pass2-overlay", ".png")
	defer cleanupFiles(scaledPNG)

	img, err := imaging.Open(overlayImagePath)
	if err != nil {
		return "", fmt.Errorf("overlay: open overlay image: %w", err)
	}
	scaled := imaging.Resize(img, width, height, imaging.Lanczos)
	if err := imaging.Save(scaled, scaledPNG); err != nil {
		return "", fmt.Errorf("overlay: save scaled overlay: %w", err)
	}

	out := tempPath(c.TempDir, "pass2-withoverlay", ".mp4")
	buildArgs := func(profile videoencoder.Profile) []string {
		filterComplex := "[0:v][1:v]overlay=0:0,sidedata=mode=delete:type=DISPLAYMATRIX"
		if profile.Name == videoencoder.NameVAAPI {
			filterComplex = "[0:v]hwdownload,format=nv12[base];[base][1:v]overlay=0:0,sidedata=mode=delete:type=DISPLAYMATRIX,hwupload"
		}
		args := append([]string{}, profile.InputArgs...)
		args = append(args, "-i", rotatedPath, "-i", scaledPNG, "-filter_complex", filterComplex, "-c:v", string(profile.Name))
		args = append(args, profile.QualityArgs...)
		args = append(args, "-c:a", "copy", "-y", out)
		return args
	}

	runErr := c.runWithFallback(ctx, func(profile videoencoder.Profile) (string, error) {
		stderr, encErr := c.Tool.Encode(ctx, buildArgs(profile))
		return stderr, encErr
	})
	if runErr != nil {
		cleanupFiles(out)
		return "", fmt.Errorf("overlay: pass2 overlay: %w", runErr)
	}
	return out, nil
}

// pass3Mux produces an MKV with two video tracks via stream copy only.
func (c *Compositor) pass3Mux(ctx context.Context, withOverlayPath, originalPath string) (outPath string, err error) {
	out := tempPath(c.TempDir, "pass3-dualtrack", ".mkv")
	args := []string{
		"-noautorotate", "-i", withOverlayPath,
		"-noautorotate", "-i", originalPath,
		"-map", "0:v", "-map", "1:v",
		"-map", "0:a?",
		"-c", "copy",
		"-map_metadata", "-1", "-map_chapters", "-1",
		"-metadata:s:v:0", "title=With Overlay",
		"-disposition:v:0", "default",
		"-metadata:s:v:1", "title=Original",
		"-disposition:v:1", "0",
		"-y", out,
	}
	stderr, err := c.Tool.Encode(ctx, args)
	if err != nil {
		cleanupFiles(out)
		return "", fmt.Errorf("overlay: pass3 mux: %w: %s", err, stderr)
	}
	return out, nil
}

// pass4Embed copies all streams from the muxed MKV to the final
// destination, re-applying track titles/dispositions and embedding
// creation time, GPS, and description metadata.
func (c *Compositor) pass4Embed(ctx context.Context, muxedPath, finalPath string, meta EmbedMetadata) error {
	args := []string{"-i", muxedPath, "-map", "0", "-c", "copy",
		"-metadata:s:v:0", "title=With Overlay", "-disposition:v:0", "default",
		"-metadata:s:v:1", "title=Original", "-disposition:v:1", "0",
		"-metadata", "creation_time=" + meta.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if meta.Latitude != nil && meta.Longitude != nil {
		loc := fmt.Sprintf("%v,%v", *meta.Latitude, *meta.Longitude)
		args = append(args, "-metadata", "location="+loc, "-metadata", "location-eng="+loc)
	}
	if strings.TrimSpace(meta.Description) != "" {
		args = append(args, "-metadata", "description="+meta.Description)
	}
	args = append(args, "-y", finalPath)
	stderr, err := c.Tool.Encode(ctx, args)
	if err != nil {
		return fmt.Errorf("overlay: pass4 embed: %w: %s", err, stderr)
	}
	return nil
}

// CreateVideoWithOverlay drives all four passes. It returns false (not
// an error) on any pass failure, per §4.F's "catches, logs, returns
// false" contract; the caller is responsible for recording a
// processing_failure. Every temp file is unlinked on every exit path.
func (c *Compositor) CreateVideoWithOverlay(ctx context.Context, baseVideo, overlayImage, outputPath string, meta EmbedMetadata) bool {
	rotated, width, height, _, err := c.pass1Rotate(ctx, baseVideo)
	if err != nil {
		return false
	}
	defer cleanupFiles(rotated)

	withOverlay, err := c.pass2Overlay(ctx, rotated, overlayImage, width, height)
	if err != nil {
		return false
	}
	defer cleanupFiles(withOverlay)

	muxed, err := c.pass3Mux(ctx, withOverlay, rotated)
	if err != nil {
		return false
	}
	defer cleanupFiles(muxed)

	if err := c.pass4Embed(ctx, muxed, outputPath, meta); err != nil {
		return false
	}
	return true
}
