package decoder

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// Discord voice expects 48kHz stereo Opus in 20ms frames
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 // milliseconds
)

// OpusEncoder transcodes arbitrary audio to Opus packets with ffmpeg
type OpusEncoder struct {
	FFmpegPath string
	Bitrate    int // kbit/s
}

// NewOpusEncoder returns an encoder using the given ffmpeg binary
func NewOpusEncoder(ffmpegPath string, bitrateKbps int) *OpusEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrateKbps <= 0 {
		bitrateKbps = 96
	}
	return &OpusEncoder{FFmpegPath: ffmpegPath, Bitrate: bitrateKbps}
}

// Args returns the ffmpeg arguments reading from stdin and writing Ogg/Opus
// to stdout, one packet per page
func (e *OpusEncoder) Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-map", "0:a:0",
		"-c:a", "libopus",
		"-b:a", strconv.Itoa(e.Bitrate) + "k",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-application", "audio",
		"-frame_duration", strconv.Itoa(FrameDuration),
		// Flush a page per frame so every page carries exactly one packet
		"-page_duration", strconv.Itoa(FrameDuration * 1000),
		"-f", "ogg",
		"pipe:1",
	}
}

// Start launches ffmpeg on src. The process is killed when ctx is done or
// the returned stream is closed.
func (e *OpusEncoder) Start(ctx context.Context, src io.Reader) (*OpusStream, error) {
	cmd := exec.CommandContext(ctx, e.FFmpegPath, e.Args()...)
	cmd.Stdin = src
	// Don't let a stalled source keep Wait blocked
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ffmpeg stdout pipe")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", e.FFmpegPath)
	}

	s := &OpusStream{cmd: cmd, stderr: &stderr}
	reader, _, err := oggreader.NewWith(stdout)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "ffmpeg produced no Opus stream: %s", stderr.String())
	}
	s.reader = reader
	return s, nil
}

// OpusStream yields Opus packets from a running ffmpeg process
type OpusStream struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	reader *oggreader.OggReader

	closeOnce sync.Once
	closeErr  error
}

// NextPacket returns the next Opus packet. It returns io.EOF at the end of
// the track.
func (s *OpusStream) NextPacket() ([]byte, error) {
	return NextOpusPacket(s.reader)
}

// Close stops ffmpeg and reaps it
func (s *OpusStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		// A killed process reports an error; only an earlier failure matters
		if err := s.cmd.Wait(); err != nil && s.stderr.Len() > 0 {
			s.closeErr = errors.Newf("ffmpeg: %s", bytes.TrimSpace(s.stderr.Bytes()))
		}
	})
	return s.closeErr
}

// NextOpusPacket reads pages from r, skipping the Opus comment header, and
// returns the next audio packet
func NextOpusPacket(r *oggreader.OggReader) ([]byte, error) {
	for {
		payload, _, err := r.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "failed to read ogg page")
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) || len(payload) == 0 {
			continue
		}
		return payload, nil
	}
}
