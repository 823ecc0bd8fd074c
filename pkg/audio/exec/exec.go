// Package exec implements [audio.Source] and [audio.Player] on top of
// external command-line tools.
//
// Capture defaults to ALSA's arecord writing raw PCM to stdout. Playback
// defaults to ffplay and can be pointed at mpg123 or any other player that
// takes the file path as an argument and exits when done.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	osexec "os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/katia/pkg/audio"
)

// PathPlaceholder is replaced by the loaded file path in player arguments.
const PathPlaceholder = "{path}"

const defaultChunk = 100 * time.Millisecond

// ErrBusy is returned by Load while a file is still playing.
var ErrBusy = errors.New("audio exec: player is busy")

// ─── Recorder ─────────────────────────────────────────────────────────────────

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithRecordCommand replaces the capture command. The command must write raw
// signed 16-bit little-endian PCM in the recorder's format to stdout.
func WithRecordCommand(name string, args ...string) RecorderOption {
	return func(r *Recorder) {
		r.command = name
		r.args = args
	}
}

// WithFormat sets the capture format. Defaults to 16 kHz mono.
func WithFormat(f audio.Format) RecorderOption {
	return func(r *Recorder) { r.format = f }
}

// WithDevice selects the ALSA capture device passed to arecord with -D.
func WithDevice(device string) RecorderOption {
	return func(r *Recorder) { r.device = device }
}

// WithChunk sets the duration of each delivered frame. Defaults to 100ms.
func WithChunk(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.chunk = d }
}

// Recorder captures microphone audio by running a recording command.
type Recorder struct {
	command string
	args    []string
	device  string
	format  audio.Format
	chunk   time.Duration
}

// NewRecorder returns a recorder that runs arecord unless overridden.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		command: "arecord",
		format:  audio.Format{SampleRate: 16000, Channels: 1},
		chunk:   defaultChunk,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Format implements [audio.Source].
func (r *Recorder) Format() audio.Format { return r.format }

func (r *Recorder) commandArgs() []string {
	if r.args != nil {
		return r.args
	}
	args := []string{
		"-q", "-t", "raw", "-f", "S16_LE",
		"-r", strconv.Itoa(r.format.SampleRate),
		"-c", strconv.Itoa(r.format.Channels),
	}
	if r.device != "" {
		args = append(args, "-D", r.device)
	}
	return append(args, "-")
}

// Frames implements [audio.Source]. The recording process is killed when
// ctx is cancelled.
func (r *Recorder) Frames(ctx context.Context) (<-chan audio.Frame, error) {
	size := r.format.Bytes(r.chunk)
	if size <= 0 {
		return nil, fmt.Errorf("audio exec: invalid capture format %s", r.format)
	}

	cmd := osexec.CommandContext(ctx, r.command, r.commandArgs()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio exec: capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio exec: start %s: %w", r.command, err)
	}

	ch := make(chan audio.Frame, 8)
	go func() {
		defer close(ch)
		defer func() {
			if err := cmd.Wait(); err != nil && ctx.Err() == nil {
				slog.Warn("audio exec: capture command exited", "command", r.command, "err", err)
			}
		}()

		var offset time.Duration
		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				n -= n % (2 * r.format.Channels)
				f := audio.Frame{Data: buf[:n], Format: r.format, Timestamp: offset}
				offset += r.format.Duration(n)
				select {
				case ch <- f:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithPlayCommand replaces the playback command. Occurrences of
// [PathPlaceholder] in args are replaced with the loaded path.
func WithPlayCommand(name string, args ...string) PlayerOption {
	return func(p *Player) {
		p.command = name
		p.args = args
	}
}

// Player plays files by spawning one player process per file.
type Player struct {
	command string
	args    []string

	mu   sync.Mutex
	path string
	cmd  *osexec.Cmd
	done chan struct{}
}

// NewPlayer returns a player that runs ffplay unless overridden.
func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{
		command: "ffplay",
		args:    []string{"-nodisp", "-autoexit", "-loglevel", "quiet", PathPlaceholder},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NewMPG123 returns a player that runs mpg123 in quiet mode.
func NewMPG123() *Player {
	return NewPlayer(WithPlayCommand("mpg123", "-q", PathPlaceholder))
}

// Load implements [audio.Player].
func (p *Player) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio exec: load: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyLocked() {
		return ErrBusy
	}
	p.path = path
	return nil
}

// Play implements [audio.Player].
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return errors.New("audio exec: play: nothing loaded")
	}
	if p.busyLocked() {
		return ErrBusy
	}

	args := make([]string, len(p.args))
	for i, a := range p.args {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, p.path)
	}
	cmd := osexec.Command(p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audio exec: start %s: %w", p.command, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	p.cmd = cmd
	p.done = done
	return nil
}

// Stop implements [audio.Player]. It kills the player process and waits for
// it to exit.
func (p *Player) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("audio exec: stop: %w", err)
	}
	<-done
	return nil
}

// IsBusy implements [audio.Player].
func (p *Player) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busyLocked()
}

func (p *Player) busyLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

var (
	_ audio.Source = (*Recorder)(nil)
	_ audio.Player = (*Player)(nil)
)
