package voiceloop

import "sync"

// PlaybackHandle is a decoded, playable asset plus an exactly-once
// completion signal. Done resolves for every outcome: normal end of audio,
// decode failure, device failure, or preemption via Stop.
type PlaybackHandle struct {
	done     chan *VoiceError
	stop     chan struct{}
	once     sync.Once
	stopOnce sync.Once
}

func newPlaybackHandle() *PlaybackHandle {
	return &PlaybackHandle{
		done: make(chan *VoiceError, 1),
		stop: make(chan struct{}),
	}
}

// Done yields the completion signal. It fires exactly once; a nil value
// means playback ended normally.
func (h *PlaybackHandle) Done() <-chan *VoiceError {
	return h.done
}

// Stop silences playback early. The completion signal still fires.
func (h *PlaybackHandle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *PlaybackHandle) resolve(err *VoiceError) {
	h.once.Do(func() {
		h.done <- err
	})
}

// SpeechPlayer decodes server-supplied audio payloads and plays them on a
// PlaybackDevice. It owns the playback device for the duration of a handle.
type SpeechPlayer struct {
	device  PlaybackDevice
	mu      sync.Mutex
	state   PlaybackState
	current *PlaybackHandle
	logger  *Logger
}

func NewSpeechPlayer(device PlaybackDevice) *SpeechPlayer {
	return &SpeechPlayer{
		device: device,
		state:  PlaybackIdle,
		logger: GetGlobalLogger().WithComponent("SpeechPlayer"),
	}
}

// Play decodes a base64 speech payload (WAV or MP3) and starts playback. It
// never returns
// nil: on any failure the returned handle resolves immediately with the
// error, so callers waiting on Done can never stall.
func (p *SpeechPlayer) Play(encoded string) *PlaybackHandle {
	handle := newPlaybackHandle()

	raw, err := DecodeAudioFromBase64(encoded)
	if err != nil {
		p.logger.LogError(err)
		handle.resolve(err)
		return handle
	}

	samples, sampleRate, err := DecodeSpeech(raw)
	if err != nil {
		p.logger.LogError(err)
		handle.resolve(err)
		return handle
	}

	p.mu.Lock()
	if p.current != nil {
		// The orchestrator serializes turns; a second Play while one is
		// live is a contract violation.
		p.mu.Unlock()
		handle.resolve(NewPlaybackError("playback already in progress"))
		return handle
	}
	p.current = handle
	p.state = PlaybackPlaying
	p.mu.Unlock()

	p.logger.LogPlaybackEvent("started", map[string]interface{}{
		"samples":     len(samples),
		"sample_rate": sampleRate,
	})

	go func() {
		perr := p.device.Play(samples, sampleRate, handle.stop)

		p.mu.Lock()
		p.current = nil
		p.state = PlaybackIdle
		p.mu.Unlock()

		if perr != nil {
			p.logger.LogError(perr)
		} else {
			p.logger.LogPlaybackEvent("completed", nil)
		}
		handle.resolve(perr)
	}()

	return handle
}

// Stop preempts the live playback, if any. The handle's completion signal
// still fires exactly once.
func (p *SpeechPlayer) Stop() {
	p.mu.Lock()
	handle := p.current
	p.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

func (p *SpeechPlayer) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SpeechPlayer) IsPlaying() bool {
	return p.State() == PlaybackPlaying
}
