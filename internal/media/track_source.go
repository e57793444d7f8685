package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/sup1p/saubol/internal/logging"
)

const (
	opusSampleRate = 48000
	rtpBufferSize  = 1500
	frameQueueSize = 50
)

// TrackSource decodes Opus RTP packets from a remote track into 20ms PCM frames
// at the requested sample rate.
type TrackSource struct {
	trackID    string
	track      *webrtc.TrackRemote
	sampleRate int
	decoder    *opus.Decoder
	resampler  *Resampler
	chunker    *Chunker

	frames chan Frame
	errMu  sync.Mutex
	err    error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	firstRTPLogged bool
}

// NewTrackSource starts decoding the track in the background.
func NewTrackSource(trackID string, track *webrtc.TrackRemote, sampleRate int) (*TrackSource, error) {
	if track == nil {
		return nil, fmt.Errorf("track %s has no remote media", trackID)
	}
	decoder, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	resampler, err := NewResampler(opusSampleRate, sampleRate)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TrackSource{
		trackID:    trackID,
		track:      track,
		sampleRate: sampleRate,
		decoder:    decoder,
		resampler:  resampler,
		chunker:    NewChunker(FrameSamples(sampleRate)),
		frames:     make(chan Frame, frameQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.wg.Add(1)
	go s.processTrack()
	logging.Info(logging.CategoryMedia, "started track source trackID=%s sampleRate=%d", trackID, sampleRate)
	return s, nil
}

// ReadFrame blocks until the next frame, the end of the track, or ctx cancellation.
func (s *TrackSource) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			s.errMu.Lock()
			defer s.errMu.Unlock()
			if s.err != nil {
				return Frame{}, s.err
			}
			return Frame{}, io.EOF
		}
		return f, nil
	}
}

// Close stops the decode loop and releases native resources. Safe to call more than once.
func (s *TrackSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		// Unblock the pending RTP read.
		_ = s.track.SetReadDeadline(time.Now())
		s.wg.Wait()
		err = s.resampler.Close()
	})
	return err
}

func (s *TrackSource) processTrack() {
	defer s.wg.Done()
	defer close(s.frames)

	buf := make([]byte, rtpBufferSize)
	packet := &rtp.Packet{}
	pcm48k := make([]int16, FrameSamples(opusSampleRate)*3) // up to 60ms opus frames

	for {
		if s.ctx.Err() != nil {
			return
		}

		n, _, err := s.track.Read(buf)
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logging.Warning(logging.CategoryMedia, "failed to read RTP packet trackID=%s: %v", s.trackID, err)
				s.setErr(fmt.Errorf("read rtp: %w", err))
			}
			return
		}

		if !s.firstRTPLogged {
			s.firstRTPLogged = true
			logging.Debug(logging.CategoryMedia, "received first RTP packet trackID=%s size=%d", s.trackID, n)
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			logging.Warning(logging.CategoryMedia, "failed to unmarshal RTP packet trackID=%s: %v", s.trackID, err)
			continue
		}
		if len(packet.Payload) == 0 {
			continue // DTX
		}

		count, err := s.decoder.Decode(packet.Payload, pcm48k)
		if err != nil {
			logging.Debug(logging.CategoryMedia, "failed to decode opus trackID=%s: %v", s.trackID, err)
			continue
		}
		if count == 0 {
			continue
		}

		resampled, err := s.resampler.Resample(pcm48k[:count])
		if err != nil {
			logging.Warning(logging.CategoryMedia, "failed to resample trackID=%s: %v", s.trackID, err)
			continue
		}

		now := time.Now()
		for _, chunk := range s.chunker.Push(resampled) {
			frame := Frame{Samples: chunk, SampleRate: s.sampleRate, Channels: 1, Timestamp: now}
			select {
			case s.frames <- frame:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *TrackSource) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}
