package voiceloop

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// CaptureDevice is the platform capability behind a microphone. Acquire
// holds the device exclusively until Release; captured frames are delivered
// through onData from the device's own thread.
type CaptureDevice interface {
	Acquire(config *AudioConfig, onData func([]float32)) *VoiceError
	Release() *VoiceError
}

// PlaybackDevice plays decoded PCM samples. Play blocks until the samples
// have been rendered, the stop channel is closed, or the device fails.
type PlaybackDevice interface {
	Play(samples []float32, sampleRate int, stop <-chan struct{}) *VoiceError
}

// PortAudioCapture implements CaptureDevice on the configured input device,
// falling back to the system default when no device id is set.
type PortAudioCapture struct {
	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (d *PortAudioCapture) Acquire(config *AudioConfig, onData func([]float32)) *VoiceError {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return NewAlreadyRecordingError("capture device already held")
	}

	if err := portaudio.Initialize(); err != nil {
		return mapDeviceError(err)
	}

	stream, verr := openCaptureStream(config, onData)
	if verr != nil {
		portaudio.Terminate()
		return verr
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return mapDeviceError(err)
	}

	d.stream = stream
	return nil
}

func (d *PortAudioCapture) Release() *VoiceError {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}

	var firstErr error
	if err := d.stream.Stop(); err != nil {
		firstErr = err
	}
	if err := d.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.stream = nil
	portaudio.Terminate()

	if firstErr != nil {
		return NewDeviceError(firstErr.Error())
	}
	return nil
}

// openCaptureStream opens the stream on the configured device, or on the
// system default when no device id is set. Expects portaudio to be
// initialized.
func openCaptureStream(config *AudioConfig, onData func([]float32)) (*portaudio.Stream, *VoiceError) {
	callback := func(in []float32) {
		onData(in)
	}

	if config.DeviceID == nil {
		stream, err := portaudio.OpenDefaultStream(config.Channels, 0, float64(config.SampleRate), config.BufferSize, callback)
		if err != nil {
			return nil, mapDeviceError(err)
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, mapDeviceError(err)
	}
	device, verr := selectInputDevice(devices, *config.DeviceID, config.Channels)
	if verr != nil {
		return nil, verr
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: config.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.BufferSize,
	}
	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, mapDeviceError(err)
	}
	return stream, nil
}

// selectInputDevice validates a configured device id against the host's
// device list.
func selectInputDevice(devices []*portaudio.DeviceInfo, id, channels int) (*portaudio.DeviceInfo, *VoiceError) {
	if id < 0 || id >= len(devices) {
		return nil, NewDeviceError(fmt.Sprintf("audio device id %d out of range (%d devices)", id, len(devices)))
	}
	device := devices[id]
	if device.MaxInputChannels == 0 {
		return nil, NewDeviceError(fmt.Sprintf("device %q has no input channels", device.Name))
	}
	if channels > device.MaxInputChannels {
		return nil, NewDeviceError(fmt.Sprintf("device %q supports %d input channels, %d requested", device.Name, device.MaxInputChannels, channels))
	}
	return device, nil
}

// PortAudioPlayback implements PlaybackDevice on the default system output.
type PortAudioPlayback struct{}

func NewPortAudioPlayback() *PortAudioPlayback {
	return &PortAudioPlayback{}
}

func (d *PortAudioPlayback) Play(samples []float32, sampleRate int, stop <-chan struct{}) *VoiceError {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		return NewPlaybackError("invalid sample rate")
	}

	if err := portaudio.Initialize(); err != nil {
		return NewPlaybackError(err.Error())
	}
	defer portaudio.Terminate()

	done := make(chan struct{}, 1)
	sampleIndex := 0
	var mu sync.Mutex

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), 1024, func(out []float32) {
		mu.Lock()
		defer mu.Unlock()

		for i := range out {
			if sampleIndex < len(samples) {
				out[i] = samples[sampleIndex]
				sampleIndex++
			} else {
				out[i] = 0.0
			}
		}

		if sampleIndex >= len(samples) {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return NewPlaybackError(err.Error())
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return NewPlaybackError(err.Error())
	}
	defer stream.Stop()

	// Hard ceiling in case the output callback stalls.
	timeout := time.Duration(float64(len(samples))/float64(sampleRate)*1.5*float64(time.Second)) + time.Second

	select {
	case <-done:
		return nil
	case <-stop:
		return nil
	case <-time.After(timeout):
		return NewPlaybackError("playback timed out")
	}
}

// mapDeviceError translates portaudio failures into the capture taxonomy.
func mapDeviceError(err error) *VoiceError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "denied") || strings.Contains(lower, "permission") {
		return NewPermissionError(msg)
	}
	return NewDeviceError(msg)
}

// ListInputDevices reports the capture devices the host exposes.
func ListInputDevices() ([]string, *VoiceError) {
	if err := portaudio.Initialize(); err != nil {
		return nil, NewDeviceError(err.Error())
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, NewDeviceError(err.Error())
	}

	var names []string
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			names = append(names, dev.Name)
		}
	}
	return names, nil
}
