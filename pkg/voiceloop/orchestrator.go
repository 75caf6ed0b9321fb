package voiceloop

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnOrchestrator sequences microphone capture, the upload/reply
// round-trip, and spoken playback into non-overlapping conversational
// turns. It is the single writer of the turn state and of the voice-mode
// flag's effect; everything else only observes.
//
// Turns are strictly serial: a new capture can never start while an upload
// is outstanding, and an upload never starts while a prior turn's playback
// is unresolved. Disabling voice mode is deferred cancellation: the flag
// is sampled once per cycle, at the Speaking exit edge, never mid-flight.
type TurnOrchestrator struct {
	backend  Backend
	recorder *Recorder
	player   *SpeechPlayer
	store    *ConversationStore

	mu            sync.Mutex
	state         TurnState
	voiceMode     bool
	cycleID       string
	lastErr       *VoiceError
	restartDelay  time.Duration
	stateHandlers []StateHandler
	errorHandlers []ErrorHandler
	logger        *Logger
}

func NewTurnOrchestrator(backend Backend, recorder *Recorder, player *SpeechPlayer, store *ConversationStore) *TurnOrchestrator {
	return &TurnOrchestrator{
		backend:  backend,
		recorder: recorder,
		player:   player,
		store:    store,
		state:    TurnIdle,
		logger:   GetGlobalLogger().WithComponent("TurnOrchestrator"),
	}
}

// SetRestartDelay configures the pause before the microphone is re-acquired
// after a spoken reply in voice mode.
func (o *TurnOrchestrator) SetRestartDelay(d time.Duration) {
	o.mu.Lock()
	o.restartDelay = d
	o.mu.Unlock()
}

func (o *TurnOrchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *TurnOrchestrator) VoiceMode() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voiceMode
}

// CycleID identifies the voice-mode cycle currently governed by the flag.
func (o *TurnOrchestrator) CycleID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleID
}

func (o *TurnOrchestrator) LastError() *VoiceError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *TurnOrchestrator) setState(to TurnState) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	o.state = to
	cycleID := o.cycleID
	handlers := append([]StateHandler(nil), o.stateHandlers...)
	o.mu.Unlock()

	o.logger.LogTurnEvent(from, to, cycleID)
	for _, h := range handlers {
		if h != nil {
			h(to)
		}
	}
}

// transitionFrom performs the from-to edge and the guard in one critical
// section, so racing callers cannot both pass the guard. On failure it
// reports the state the machine was actually in.
func (o *TurnOrchestrator) transitionFrom(from, to TurnState) (TurnState, bool) {
	o.mu.Lock()
	if o.state != from {
		current := o.state
		o.mu.Unlock()
		return current, false
	}
	o.state = to
	cycleID := o.cycleID
	handlers := append([]StateHandler(nil), o.stateHandlers...)
	o.mu.Unlock()

	o.logger.LogTurnEvent(from, to, cycleID)
	for _, h := range handlers {
		if h != nil {
			h(to)
		}
	}
	return to, true
}

func (o *TurnOrchestrator) notifyError(err *VoiceError) {
	o.mu.Lock()
	handlers := append([]ErrorHandler(nil), o.errorHandlers...)
	o.mu.Unlock()

	o.logger.LogError(err)
	for _, h := range handlers {
		if h != nil {
			h(err)
		}
	}
}

// StartRecording begins a manual capture. Only legal from Idle: starting
// while a capture, upload, or playback is unresolved would overlap turns.
func (o *TurnOrchestrator) StartRecording() *VoiceError {
	current, ok := o.transitionFrom(TurnIdle, TurnRecording)
	if !ok {
		return NewStateError("cannot start recording while " + string(current))
	}

	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()

	if err := o.recorder.Start(); err != nil {
		o.captureFailed(err)
		return err
	}
	return nil
}

// captureFailed handles microphone acquisition failure: terminal for the
// cycle, and the autonomous loop must not keep re-prompting for the device.
func (o *TurnOrchestrator) captureFailed(err *VoiceError) {
	o.mu.Lock()
	if IsCaptureError(err) && o.voiceMode {
		o.voiceMode = false
		o.logger.Warnf("Voice mode disabled after capture failure (%s)", err.Code)
	}
	o.lastErr = err
	o.mu.Unlock()

	o.setState(TurnError)
	o.notifyError(err)
}

// StopRecording finalizes the capture and runs the remainder of the turn:
// upload, reply handling, and in voice mode the spoken reply followed by
// re-entry. It returns once the machine has settled in Recording (voice
// mode), Idle, or Error.
func (o *TurnOrchestrator) StopRecording() *VoiceError {
	if _, ok := o.transitionFrom(TurnRecording, TurnUploading); !ok {
		return NewNoActiveSessionError("no recording in progress")
	}

	artifact, err := o.recorder.Stop()
	if err != nil {
		o.failTurn(err)
		return err
	}

	return o.completeUpload(artifact)
}

func (o *TurnOrchestrator) completeUpload(artifact *AudioArtifact) *VoiceError {
	conv := o.store.Current()
	if conv == nil {
		err := NewConfigError("no active conversation")
		o.failTurn(err)
		return err
	}

	res := o.backend.SendAudio(conv.ConversationID, artifact)
	if !res.Success {
		// No auto-retry: an unattended loop repeatedly failing must not
		// spam the backend. The user re-triggers explicitly.
		o.failTurn(res.Error)
		return res.Error
	}
	exchange := res.Data

	// The mode decides the Uploading exit edge.
	o.mu.Lock()
	voice := o.voiceMode
	o.mu.Unlock()

	if !voice {
		// Manual mode: the transcript only fills the pending input; the
		// user must confirm the send.
		o.store.SetPendingInput(exchange.Transcript)
		o.setState(TurnIdle)
		return nil
	}

	o.store.AppendUser(Message{
		ConversationID: conv.ConversationID,
		Message:        exchange.Transcript,
		Createtime:     time.Now().Format(time.RFC3339),
	})
	if exchange.AIMessage != nil {
		o.store.AppendAI(*exchange.AIMessage)
		o.store.RecordTurn(exchange.Transcript, exchange.AIMessage.Message, exchange.AIMessage.MessageID)
	}

	o.speakReply(exchange.AIMessage)
	return nil
}

// speakReply fetches and plays the synthesized reply, then decides the next
// state. A failed fetch or playback still counts as a completed Speaking
// phase: the loop continues rather than stalling, by policy.
func (o *TurnOrchestrator) speakReply(ai *Message) {
	o.setState(TurnSpeaking)

	if ai != nil {
		res := o.backend.FetchSpeech(ai.MessageID)
		if !res.Success {
			o.notifyError(res.Error)
		} else {
			handle := o.player.Play(res.Data)
			if perr := <-handle.Done(); perr != nil {
				o.notifyError(perr)
			}
		}
	}

	o.afterSpeaking()
}

// afterSpeaking is the single safe re-entry point: the voice flag is
// sampled exactly once per cycle, here.
func (o *TurnOrchestrator) afterSpeaking() {
	o.mu.Lock()
	reenter := o.voiceMode
	delay := o.restartDelay
	o.mu.Unlock()

	if !reenter {
		o.setState(TurnIdle)
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	o.setState(TurnRecording)
	if err := o.recorder.Start(); err != nil {
		o.captureFailed(err)
	}
}

func (o *TurnOrchestrator) failTurn(err *VoiceError) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()

	o.setState(TurnError)
	o.notifyError(err)
}

// SendText runs a manual text turn: Idle → Uploading → Idle. The reply is
// recorded but not spoken.
func (o *TurnOrchestrator) SendText(text string) *VoiceError {
	text = strings.TrimSpace(text)
	if text == "" {
		return NewConfigError("message cannot be empty")
	}

	conv := o.store.Current()
	if conv == nil {
		return NewConfigError("no active conversation")
	}

	current, ok := o.transitionFrom(TurnIdle, TurnUploading)
	if !ok {
		return NewStateError("cannot send while " + string(current))
	}

	res := o.backend.SendText(conv.ConversationID, text)
	if !res.Success {
		o.failTurn(res.Error)
		return res.Error
	}

	if res.Data.UserMessage != nil {
		o.store.AppendUser(*res.Data.UserMessage)
	} else {
		o.store.AppendUser(Message{
			ConversationID: conv.ConversationID,
			Message:        text,
			Createtime:     time.Now().Format(time.RFC3339),
		})
	}
	if res.Data.AIMessage != nil {
		o.store.AppendAI(*res.Data.AIMessage)
		o.store.RecordTurn(text, res.Data.AIMessage.Message, res.Data.AIMessage.MessageID)
	}

	o.setState(TurnIdle)
	return nil
}

// SendPendingInput confirms the transcript sitting in the pending-input
// field. This is the explicit send that manual mode requires.
func (o *TurnOrchestrator) SendPendingInput() *VoiceError {
	text := o.store.TakePendingInput()
	if text == "" {
		return NewConfigError("nothing pending to send")
	}
	return o.SendText(text)
}

// PlayReply replays the synthesized audio of a stored AI message. Not a
// turn: the machine returns to Idle regardless of the voice flag.
func (o *TurnOrchestrator) PlayReply(messageID int) *VoiceError {
	current, ok := o.transitionFrom(TurnIdle, TurnSpeaking)
	if !ok {
		return NewStateError("cannot replay while " + string(current))
	}
	defer o.setState(TurnIdle)

	res := o.backend.FetchSpeech(messageID)
	if !res.Success {
		o.notifyError(res.Error)
		return res.Error
	}

	handle := o.player.Play(res.Data)
	if perr := <-handle.Done(); perr != nil {
		o.notifyError(perr)
		return perr
	}
	return nil
}

// EnableVoiceMode turns the autonomous loop on under a fresh cycle
// identifier. From Idle the first capture starts immediately; from any
// other state the loop joins at the next re-entry edge.
func (o *TurnOrchestrator) EnableVoiceMode() *VoiceError {
	o.mu.Lock()
	if o.voiceMode {
		o.mu.Unlock()
		return nil
	}
	o.voiceMode = true
	o.cycleID = uuid.NewString()
	idle := o.state == TurnIdle
	cycleID := o.cycleID
	o.mu.Unlock()

	o.logger.WithField("cycle_id", cycleID).Info("Voice mode enabled")

	if !idle {
		return nil
	}
	return o.StartRecording()
}

// DisableVoiceMode clears the flag. The effect is deferred to the next
// Speaking → {Recording|Idle} decision point; in-flight uploads and
// playback are never torn down.
func (o *TurnOrchestrator) DisableVoiceMode() {
	o.mu.Lock()
	wasEnabled := o.voiceMode
	o.voiceMode = false
	o.mu.Unlock()

	if wasEnabled {
		o.logger.Info("Voice mode disabled; takes effect at next loop edge")
	}
}

// Acknowledge clears the Error state after the user has seen the failure.
func (o *TurnOrchestrator) Acknowledge() *VoiceError {
	if _, ok := o.transitionFrom(TurnError, TurnIdle); !ok {
		return NewStateError("nothing to acknowledge")
	}

	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
	return nil
}

// AddStateHandler registers an observer for state transitions. Returns an
// unregister function. Removal nils the slot so earlier unregistrations
// never shift later ones.
func (o *TurnOrchestrator) AddStateHandler(handler StateHandler) func() {
	o.mu.Lock()
	o.stateHandlers = append(o.stateHandlers, handler)
	idx := len(o.stateHandlers) - 1
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		o.stateHandlers[idx] = nil
		o.mu.Unlock()
	}
}

// AddErrorHandler registers an observer for turn failures. Returns an
// unregister function.
func (o *TurnOrchestrator) AddErrorHandler(handler ErrorHandler) func() {
	o.mu.Lock()
	o.errorHandlers = append(o.errorHandlers, handler)
	idx := len(o.errorHandlers) - 1
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		o.errorHandlers[idx] = nil
		o.mu.Unlock()
	}
}
