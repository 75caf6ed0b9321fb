package voiceloop

import (
	"fmt"
	"sync"
	"time"
)

// Factory functions for common handlers

func CreateStateLoggingHandler(verbose bool) StateHandler {
	return func(state TurnState) {
		if verbose {
			Infof("Turn state: %s at %s", state, time.Now().Format(time.RFC3339))
		} else {
			Debugf("Turn state: %s", state)
		}
	}
}

func CreateErrorLoggingHandler(prefix string) ErrorHandler {
	return func(err *VoiceError) {
		if err != nil {
			Errorf("%s: %s (%s)", prefix, err.Message, err.Code)
		}
	}
}

// CreateTranscriptPrinter writes each appended message to stdout the way
// the chat screen would render it.
func CreateTranscriptPrinter() MessageHandler {
	return func(role string, msg Message) {
		label := "You"
		if role == "ai" {
			label = "AI"
		}
		fmt.Printf("%s: %s\n", label, msg.Message)
	}
}

// CreateSilenceDetector fires callback once the average amplitude stays
// below threshold for at least silenceDuration. Used to end a voice-mode
// capture without a button press. The callback must not call back into the
// recorder synchronously; it runs on the device's data path.
func CreateSilenceDetector(threshold float32, silenceDuration time.Duration, callback func()) FragmentHandler {
	var mu sync.Mutex
	var silenceStart time.Time
	var heardSpeech bool

	return func(data []float32) {
		mu.Lock()
		defer mu.Unlock()

		if len(data) == 0 {
			return
		}

		amplitude := CalculateAmplitude(data)

		if amplitude >= threshold {
			heardSpeech = true
			silenceStart = time.Time{}
			return
		}

		// Only silence after speech ends the capture.
		if !heardSpeech {
			return
		}

		if silenceStart.IsZero() {
			silenceStart = time.Now()
		} else if time.Since(silenceStart) >= silenceDuration {
			silenceStart = time.Time{}
			heardSpeech = false
			callback()
		}
	}
}

// CreateLevelMonitor reports average and peak amplitude per fragment.
func CreateLevelMonitor(callback func(avg, peak float32)) FragmentHandler {
	return func(data []float32) {
		if len(data) == 0 {
			return
		}

		var peak float32
		for _, v := range data {
			abs := v
			if abs < 0 {
				abs = -abs
			}
			if abs > peak {
				peak = abs
			}
		}

		if callback != nil {
			callback(CalculateAmplitude(data), peak)
		}
	}
}

// Composability functions

func ChainStateHandlers(handlers ...StateHandler) StateHandler {
	return func(state TurnState) {
		for _, h := range handlers {
			if h != nil {
				h(state)
			}
		}
	}
}

func ChainErrorHandlers(handlers ...ErrorHandler) ErrorHandler {
	return func(err *VoiceError) {
		for _, h := range handlers {
			if h != nil {
				h(err)
			}
		}
	}
}

func ChainMessageHandlers(handlers ...MessageHandler) MessageHandler {
	return func(role string, msg Message) {
		for _, h := range handlers {
			if h != nil {
				h(role, msg)
			}
		}
	}
}
