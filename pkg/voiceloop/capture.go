package voiceloop

import (
	"sync"
	"time"
)

// CaptureSession is one microphone capture: an append-only fragment buffer
// that becomes a single immutable artifact when stopped. Sessions are owned
// by a Recorder and never shared.
type CaptureSession struct {
	state     CaptureState
	fragments [][]float32
	started   time.Time
}

// Recorder owns exclusive access to the capture device. At most one session
// is Recording at any time; the recorder is the sole writer of that state.
type Recorder struct {
	config           *AudioConfig
	device           CaptureDevice
	mu               sync.Mutex
	session          *CaptureSession
	fragmentHandlers []FragmentHandler
	logger           *Logger
}

func NewRecorder(config *AudioConfig, device CaptureDevice) *Recorder {
	if config == nil {
		config = NewAudioConfig()
	}
	return &Recorder{
		config: config,
		device: device,
		logger: GetGlobalLogger().WithComponent("Recorder"),
	}
}

// Start acquires the microphone and begins buffering fragments. Calling
// Start while a session is Recording is a contract violation and is
// rejected with ALREADY_RECORDING.
func (r *Recorder) Start() *VoiceError {
	r.mu.Lock()
	if r.session != nil && r.session.state == CaptureRecording {
		r.mu.Unlock()
		return NewAlreadyRecordingError("capture session already recording")
	}
	session := &CaptureSession{
		state:   CaptureRecording,
		started: time.Now(),
	}
	r.session = session
	r.mu.Unlock()

	if err := r.device.Acquire(r.config, r.appendFragment); err != nil {
		r.mu.Lock()
		r.session = nil
		r.mu.Unlock()
		r.logger.LogError(err)
		return err
	}

	r.logger.LogCaptureEvent("started", map[string]interface{}{
		"sample_rate": r.config.SampleRate,
		"channels":    r.config.Channels,
	})
	return nil
}

func (r *Recorder) appendFragment(frame []float32) {
	// The device reuses its buffer between callbacks.
	buf := make([]float32, len(frame))
	copy(buf, frame)

	r.mu.Lock()
	s := r.session
	if s == nil || s.state != CaptureRecording {
		r.mu.Unlock()
		return
	}
	s.fragments = append(s.fragments, buf)
	handlers := append([]FragmentHandler(nil), r.fragmentHandlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(buf)
		}
	}
}

// Stop finalizes the session into one immutable WAV artifact. The device is
// released on every exit path. Stop without a live session fails with
// NO_ACTIVE_SESSION.
func (r *Recorder) Stop() (*AudioArtifact, *VoiceError) {
	r.mu.Lock()
	s := r.session
	if s == nil || s.state != CaptureRecording {
		r.mu.Unlock()
		return nil, NewNoActiveSessionError("stop called without an active capture session")
	}
	s.state = CaptureStopped
	r.session = nil
	r.mu.Unlock()

	relErr := r.device.Release()

	total := 0
	for _, f := range s.fragments {
		total += len(f)
	}
	samples := make([]float32, 0, total)
	for _, f := range s.fragments {
		samples = append(samples, f...)
	}

	artifact := &AudioArtifact{
		WAV:        EncodeWAV(samples, r.config.SampleRate, r.config.Channels),
		SampleRate: r.config.SampleRate,
		Channels:   r.config.Channels,
		Fragments:  len(s.fragments),
		Duration:   time.Duration(float64(total) / float64(r.config.SampleRate*r.config.Channels) * float64(time.Second)),
	}

	if relErr != nil {
		// The artifact is already finalized; a release failure only gets logged.
		r.logger.LogError(relErr)
	}

	r.logger.LogCaptureEvent("stopped", map[string]interface{}{
		"fragments": artifact.Fragments,
		"duration":  artifact.Duration.String(),
		"bytes":     len(artifact.WAV),
	})
	return artifact, nil
}

// AddFragmentHandler registers an observer for captured frames. Returns an
// unregister function. Removal nils the slot so earlier unregistrations
// never shift later ones.
func (r *Recorder) AddFragmentHandler(handler FragmentHandler) func() {
	r.mu.Lock()
	r.fragmentHandlers = append(r.fragmentHandlers, handler)
	idx := len(r.fragmentHandlers) - 1
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.fragmentHandlers[idx] = nil
		r.mu.Unlock()
	}
}

func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil && r.session.state == CaptureRecording
}

func (r *Recorder) State() CaptureState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return CaptureIdle
	}
	return r.session.state
}
