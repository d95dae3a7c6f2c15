// Package exiftool drives a single long-lived exiftool subprocess in
// "-stay_open" batch mode so a processor pass writes every file's EXIF/XMP
// tags with one process startup instead of one exec per file.
package exiftool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"memoria/internal/services"
)

const readyMarker = "{ready}"

// Write is one file's worth of tag assignments, expressed as exiftool
// command-line style arguments (e.g. "-DateTimeOriginal=2024:01:02 03:04:05",
// "-GPSLatitude=37.4220", "-overwrite_original").
type Write struct {
	Path string
	Args []string
}

// Result reports whether a single Write succeeded, with exiftool's own
// stdout/stderr text for diagnostics when it did not.
type Result struct {
	Path   string
	Ok     bool
	Output string
}

// Batch is a running exiftool -stay_open session. Writes submitted via Do
// are pipelined to the same subprocess; Close must be called exactly once
// to shut the session down cleanly.
type Batch struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	mu     sync.Mutex
	nextID int
}

// Open starts the exiftool batch subprocess. An empty binPath runs
// "exiftool" off PATH.
func Open(ctx context.Context, binPath string) (*Batch, error) {
	if binPath == "" {
		binPath = "exiftool"
	}
	cmd := exec.CommandContext(ctx, binPath, "-stay_open", "True", "-@", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "process", "exiftool-open", "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "process", "exiftool-open", "stdout pipe", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, services.WrapHint(services.ErrExternalTool, "process", "exiftool-open", "start subprocess",
			"E_EXIFTOOL_START", "is exiftool installed and on PATH?", err)
	}
	return &Batch{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}, nil
}

// Do submits one file's tag writes and blocks until exiftool reports
// completion for that file, returning its per-file result.
func (b *Batch) Do(w Write) (Result, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()

	var cmdText strings.Builder
	for _, arg := range w.Args {
		cmdText.WriteString(arg)
		cmdText.WriteByte('\n')
	}
	cmdText.WriteString(w.Path)
	cmdText.WriteByte('\n')
	cmdText.WriteString("-execute" + strconv.Itoa(id) + "\n")

	if _, err := io.WriteString(b.stdin, cmdText.String()); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "process", "exiftool-write", "write to subprocess stdin", err)
	}

	marker := readyMarker[:len(readyMarker)-1] + strconv.Itoa(id) + "}"
	output, err := b.readUntil(marker)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "process", "exiftool-write", "read subprocess reply", err)
	}
	ok := !strings.Contains(strings.ToLower(output), "error")
	return Result{Path: w.Path, Ok: ok, Output: strings.TrimSpace(output)}, nil
}

func (b *Batch) readUntil(marker string) (string, error) {
	var out strings.Builder
	for {
		line, err := b.reader.ReadString('\n')
		if strings.Contains(line, marker) {
			return out.String(), nil
		}
		out.WriteString(line)
		if err != nil {
			return out.String(), err
		}
	}
}

// Close sends the stay_open termination command and waits for the
// subprocess to exit, with a bounded grace period.
func (b *Batch) Close() error {
	_, werr := io.WriteString(b.stdin, "-stay_open\nFalse\n")
	cerr := b.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	select {
	case err := <-done:
		if werr != nil {
			return services.Wrap(services.ErrExternalTool, "process", "exiftool-close", "write shutdown command", werr)
		}
		if cerr != nil {
			return services.Wrap(services.ErrExternalTool, "process", "exiftool-close", "close stdin", cerr)
		}
		if err != nil {
			return services.Wrap(services.ErrExternalTool, "process", "exiftool-close", "subprocess exit", err)
		}
		return nil
	case <-time.After(10 * time.Second):
		_ = b.cmd.Process.Kill()
		return services.Wrap(services.ErrTimeout, "process", "exiftool-close", "subprocess did not exit", nil)
	}
}

// RunBatch is the convenience entry point most processors use: it opens a
// session, submits every write in order, and always closes the session
// even if an individual write fails, returning all per-file results
// alongside the first hard (subprocess-level) error encountered.
func RunBatch(ctx context.Context, binPath string, writes []Write) ([]Result, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	batch, err := Open(ctx, binPath)
	if err != nil {
		return nil, err
	}
	defer batch.Close()

	results := make([]Result, 0, len(writes))
	for _, w := range writes {
		res, err := batch.Do(w)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// GPSArgs builds the standard latitude/longitude/ref argument set shared by
// every source that carries geotagging, so preprocessors don't each
// reinvent the exiftool flag spelling.
func GPSArgs(lat, lon float64, hasAltitude bool, altitude float64) []string {
	args := []string{
		fmt.Sprintf("-GPSLatitude=%f", lat),
		fmt.Sprintf("-GPSLongitude=%f", lon),
	}
	if lat < 0 {
		args = append(args, "-GPSLatitudeRef=S")
	} else {
		args = append(args, "-GPSLatitudeRef=N")
	}
	if lon < 0 {
		args = append(args, "-GPSLongitudeRef=W")
	} else {
		args = append(args, "-GPSLongitudeRef=E")
	}
	if hasAltitude {
		args = append(args, fmt.Sprintf("-GPSAltitude=%f", altitude))
	}
	return args
}
