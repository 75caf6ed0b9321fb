// Package voiceloop is a Go client for a conversational voice/text
// assistant: the user speaks or types, the utterance is uploaded, the
// backend returns a transcript plus an AI reply, and the reply can be
// spoken back.
//
// # Overview
//
// The heart of the package is the TurnOrchestrator, a state machine that
// sequences microphone capture, the upload/reply round-trip, and audio
// playback into strictly serial, non-overlapping turns:
//
//	Idle → Recording → Uploading → Speaking → (Recording | Idle)
//
// In manual mode a spoken utterance only fills the pending-input field;
// the user confirms the send. In voice mode the utterance is transcribed
// and answered automatically, the answer is spoken back, and playback
// completion triggers the next capture in an unattended loop. Disabling
// voice mode is deferred: the flag is sampled once per cycle at the
// Speaking exit edge, never by tearing down an in-flight upload.
//
// # Quick Start
//
//	config := voiceloop.NewConfig()
//	session := voiceloop.NewSessionManager()
//	api := voiceloop.NewAPIClient(config, session)
//
//	recorder := voiceloop.NewRecorder(voiceloop.NewAudioConfig(), voiceloop.NewPortAudioCapture())
//	player := voiceloop.NewSpeechPlayer(voiceloop.NewPortAudioPlayback())
//	store := voiceloop.NewConversationStore(api)
//
//	orch := voiceloop.NewTurnOrchestrator(api, recorder, player, store)
//	orch.AddErrorHandler(voiceloop.CreateErrorLoggingHandler("Turn"))
//
//	if err := orch.StartRecording(); err != nil {
//		log.Fatal(err)
//	}
//	// ... later, on the stop trigger:
//	orch.StopRecording()
//
// # Platform capabilities
//
// Capture and playback devices sit behind the CaptureDevice and
// PlaybackDevice interfaces, so the state machine itself has no platform
// dependency and is unit-testable with fake devices. PortAudioCapture and
// PortAudioPlayback are the production implementations.
//
// # Transport convention
//
// Every backend response is an envelope with a boolean success field that
// is checked independently of the HTTP status; a transport-level success
// can still carry success=false with an error string.
package voiceloop
