package voiceloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCapture implements CaptureDevice without touching hardware. Frames are
// pushed in by the test via emit.
type fakeCapture struct {
	mu         sync.Mutex
	acquireErr *VoiceError
	releaseErr *VoiceError
	acquired   bool
	acquires   int
	releases   int
	onData     func([]float32)
}

func (d *fakeCapture) Acquire(config *AudioConfig, onData func([]float32)) *VoiceError {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	if d.acquireErr != nil {
		return d.acquireErr
	}
	d.acquired = true
	d.onData = onData
	return nil
}

func (d *fakeCapture) Release() *VoiceError {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	d.acquired = false
	d.onData = nil
	return d.releaseErr
}

func (d *fakeCapture) emit(frame []float32) {
	d.mu.Lock()
	onData := d.onData
	d.mu.Unlock()
	if onData != nil {
		onData(frame)
	}
}

// fakePlayback implements PlaybackDevice. onPlay runs on the playback
// goroutine before the device reports its result.
type fakePlayback struct {
	mu      sync.Mutex
	playErr *VoiceError
	plays   int
	onPlay  func()
}

func (d *fakePlayback) Play(samples []float32, sampleRate int, stop <-chan struct{}) *VoiceError {
	d.mu.Lock()
	d.plays++
	onPlay := d.onPlay
	err := d.playErr
	d.mu.Unlock()
	if onPlay != nil {
		onPlay()
	}
	select {
	case <-stop:
		return nil
	default:
	}
	return err
}

func (d *fakePlayback) playCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plays
}

// fakeBackend scripts the round-trip results per operation.
type fakeBackend struct {
	mu          sync.Mutex
	audioRes    Result[*MessageExchange]
	textRes     Result[*MessageExchange]
	speechRes   Result[string]
	audioCalls  int
	textCalls   int
	speechCalls int
}

func (b *fakeBackend) SendText(conversationID int, text string) Result[*MessageExchange] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.textCalls++
	return b.textRes
}

func (b *fakeBackend) SendAudio(conversationID int, artifact *AudioArtifact) Result[*MessageExchange] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioCalls++
	return b.audioRes
}

func (b *fakeBackend) FetchSpeech(messageID int) Result[string] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speechCalls++
	return b.speechRes
}

func validSpeechPayload() string {
	samples := make([]float32, 160)
	return EncodeAudioToBase64(EncodeWAV(samples, 16000, 1))
}

func successfulExchange() Result[*MessageExchange] {
	return Ok(&MessageExchange{
		Transcript: "hello there",
		AIMessage: &Message{
			MessageID:      42,
			ConversationID: 7,
			Message:        "hi, how can I help?",
			Createtime:     time.Now().Format(time.RFC3339),
		},
	})
}

type orchestratorHarness struct {
	backend *fakeBackend
	capture *fakeCapture
	speaker *fakePlayback
	store   *ConversationStore
	orch    *TurnOrchestrator
}

func newHarness() *orchestratorHarness {
	backend := &fakeBackend{
		audioRes:  successfulExchange(),
		textRes:   successfulExchange(),
		speechRes: Ok(validSpeechPayload()),
	}
	capture := &fakeCapture{}
	speaker := &fakePlayback{}

	store := NewConversationStore(nil)
	store.SetCurrent(&Conversation{ConversationID: 7, Mode: "continuous"})

	orch := NewTurnOrchestrator(backend, NewRecorder(NewAudioConfig(), capture), NewSpeechPlayer(speaker), store)
	return &orchestratorHarness{
		backend: backend,
		capture: capture,
		speaker: speaker,
		store:   store,
		orch:    orch,
	}
}

func TestStartRecordingRejectedOutsideIdle(t *testing.T) {
	h := newHarness()

	if err := h.orch.StartRecording(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	err := h.orch.StartRecording()
	if err == nil {
		t.Fatal("expected second start to be rejected")
	}
	if err.Code != ErrCodeInvalidState {
		t.Errorf("expected INVALID_STATE, got %s", err.Code)
	}
	if h.capture.acquires != 1 {
		t.Errorf("device acquired %d times, want 1", h.capture.acquires)
	}
}

func TestStopRecordingWithoutActiveSession(t *testing.T) {
	h := newHarness()

	err := h.orch.StopRecording()
	if err == nil {
		t.Fatal("expected stop without a recording to fail")
	}
	if err.Code != ErrCodeNoActiveSession {
		t.Errorf("expected NO_ACTIVE_SESSION, got %s", err.Code)
	}
	if h.orch.State() != TurnIdle {
		t.Errorf("state changed to %s, want %s", h.orch.State(), TurnIdle)
	}
}

func TestManualTurnFillsPendingInputWithoutSending(t *testing.T) {
	h := newHarness()

	if err := h.orch.StartRecording(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.capture.emit(make([]float32, 256))

	if err := h.orch.StopRecording(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if got := h.orch.State(); got != TurnIdle {
		t.Errorf("state = %s, want %s", got, TurnIdle)
	}
	if got := h.store.PendingInput(); got != "hello there" {
		t.Errorf("pending input = %q, want transcript", got)
	}
	if h.backend.textCalls != 0 {
		t.Error("transcript was auto-sent; manual mode requires an explicit send")
	}
	if len(h.store.Entries()) != 0 {
		t.Errorf("transcript appended to chat log before confirmation: %d entries", len(h.store.Entries()))
	}
	if h.speaker.playCount() != 0 {
		t.Error("manual turn played audio")
	}
}

func TestSendPendingInputConfirmsTranscript(t *testing.T) {
	h := newHarness()

	if err := h.orch.StartRecording(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.orch.StopRecording(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := h.orch.SendPendingInput(); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if h.backend.textCalls != 1 {
		t.Errorf("SendText called %d times, want 1", h.backend.textCalls)
	}
	if got := h.store.PendingInput(); got != "" {
		t.Errorf("pending input not consumed: %q", got)
	}
	if err := h.orch.SendPendingInput(); err == nil {
		t.Error("expected second confirmation to fail with nothing pending")
	}
}

func TestVoiceModeRunsFullCycle(t *testing.T) {
	h := newHarness()

	if err := h.orch.EnableVoiceMode(); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if got := h.orch.State(); got != TurnRecording {
		t.Fatalf("state after enable = %s, want %s", got, TurnRecording)
	}
	if h.orch.CycleID() == "" {
		t.Error("voice mode enabled without a cycle identifier")
	}

	h.capture.emit(make([]float32, 256))
	if err := h.orch.StopRecording(); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	// The flag is still up, so the machine re-enters Recording.
	if got := h.orch.State(); got != TurnRecording {
		t.Errorf("state after turn = %s, want %s", got, TurnRecording)
	}
	if h.speaker.playCount() != 1 {
		t.Errorf("reply played %d times, want 1", h.speaker.playCount())
	}

	entries := h.store.Entries()
	if len(entries) != 2 {
		t.Fatalf("chat log has %d entries, want transcript + reply", len(entries))
	}
	if entries[0].Message.Message != "hello there" || entries[1].Message.Message != "hi, how can I help?" {
		t.Errorf("unexpected chat log: %+v", entries)
	}
	if turn := h.store.LastTurn(); turn == nil || turn.ReplyID != 42 {
		t.Errorf("turn not recorded: %+v", turn)
	}
	if got := h.store.PendingInput(); got != "" {
		t.Errorf("voice mode filled pending input: %q", got)
	}
}

func TestDisableDuringSpeakingSettlesInIdle(t *testing.T) {
	h := newHarness()
	// The flag drops while the reply is on the speaker; the effect must
	// wait for the re-entry edge.
	h.speaker.onPlay = func() { h.orch.DisableVoiceMode() }

	if err := h.orch.EnableVoiceMode(); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if err := h.orch.StopRecording(); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if got := h.orch.State(); got != TurnIdle {
		t.Errorf("state = %s, want %s", got, TurnIdle)
	}
	if h.speaker.playCount() != 1 {
		t.Errorf("in-flight playback was torn down: %d plays", h.speaker.playCount())
	}
	if h.capture.acquires != 1 {
		t.Errorf("microphone re-acquired after disable: %d acquires", h.capture.acquires)
	}
}

func TestSpeechFetchFailureContinuesLoop(t *testing.T) {
	h := newHarness()
	h.backend.speechRes = Err[string](NewServerError("tts unavailable"))

	var seen []*VoiceError
	var mu sync.Mutex
	h.orch.AddErrorHandler(func(err *VoiceError) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	})

	if err := h.orch.EnableVoiceMode(); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if err := h.orch.StopRecording(); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	// A silent reply must not stall the loop.
	if got := h.orch.State(); got != TurnRecording {
		t.Errorf("state = %s, want %s", got, TurnRecording)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Code != ErrCodeServerError {
		t.Errorf("expected one surfaced SERVER_ERROR, got %+v", seen)
	}
}

func TestUploadFailureEntersErrorWithoutRetry(t *testing.T) {
	h := newHarness()
	h.backend.audioRes = Err[*MessageExchange](NewServerError("transcription failed"))

	if err := h.orch.EnableVoiceMode(); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	// No frames emitted: an empty capture still uploads a framed artifact.
	stopErr := h.orch.StopRecording()
	if stopErr == nil {
		t.Fatal("expected the turn to fail")
	}

	if got := h.orch.State(); got != TurnError {
		t.Errorf("state = %s, want %s", got, TurnError)
	}
	if h.backend.audioCalls != 1 {
		t.Errorf("upload attempted %d times, want exactly 1", h.backend.audioCalls)
	}
	// A backend failure does not revoke the user's mode choice.
	if !h.orch.VoiceMode() {
		t.Error("voice flag cleared on backend failure")
	}
	if h.orch.LastError() == nil {
		t.Error("last error not retained for the error surface")
	}

	if err := h.orch.Acknowledge(); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if got := h.orch.State(); got != TurnIdle {
		t.Errorf("state after acknowledge = %s, want %s", got, TurnIdle)
	}
	if h.orch.LastError() != nil {
		t.Error("last error survived acknowledgement")
	}
}

func TestCaptureFailureDisablesVoiceMode(t *testing.T) {
	h := newHarness()
	h.capture.acquireErr = NewPermissionError("microphone access denied")

	err := h.orch.EnableVoiceMode()
	if err == nil {
		t.Fatal("expected enable to surface the capture failure")
	}
	if err.Code != ErrCodePermissionDenied {
		t.Errorf("error code = %s, want PERMISSION_DENIED", err.Code)
	}
	if h.orch.VoiceMode() {
		t.Error("voice flag kept after a capture failure; the loop would re-prompt forever")
	}
	if got := h.orch.State(); got != TurnError {
		t.Errorf("state = %s, want %s", got, TurnError)
	}
}

func TestEnableVoiceModeFromIdleStartsFreshCycle(t *testing.T) {
	h := newHarness()

	if err := h.orch.SendText("manual message first"); err != nil {
		t.Fatalf("manual send failed: %v", err)
	}
	firstCycle := h.orch.CycleID()

	if err := h.orch.EnableVoiceMode(); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if got := h.orch.State(); got != TurnRecording {
		t.Errorf("state = %s, want %s", got, TurnRecording)
	}
	if h.orch.CycleID() == "" || h.orch.CycleID() == firstCycle {
		t.Error("expected a fresh cycle identifier")
	}

	// Enabling again mid-cycle is a no-op and keeps the identifier.
	cycle := h.orch.CycleID()
	if err := h.orch.EnableVoiceMode(); err != nil {
		t.Fatalf("re-enable failed: %v", err)
	}
	if h.orch.CycleID() != cycle {
		t.Error("idempotent enable rotated the cycle identifier")
	}
}

func TestSendTextRecordsExchange(t *testing.T) {
	h := newHarness()

	if err := h.orch.SendText("  what is the weather  "); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got := h.orch.State(); got != TurnIdle {
		t.Errorf("state = %s, want %s", got, TurnIdle)
	}
	entries := h.store.Entries()
	if len(entries) != 2 {
		t.Fatalf("chat log has %d entries, want 2", len(entries))
	}
	if h.speaker.playCount() != 0 {
		t.Error("text turn triggered playback")
	}

	if err := h.orch.SendText("   "); err == nil {
		t.Error("expected blank message to be rejected")
	}
}

func TestPlayReplyReturnsToIdle(t *testing.T) {
	h := newHarness()

	if err := h.orch.PlayReply(42); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if got := h.orch.State(); got != TurnIdle {
		t.Errorf("state = %s, want %s", got, TurnIdle)
	}

	h.backend.speechRes = Err[string](NewNetworkError("connection refused"))
	if err := h.orch.PlayReply(42); err == nil {
		t.Error("expected replay to surface the fetch failure")
	}
	if got := h.orch.State(); got != TurnIdle {
		t.Errorf("state after failed replay = %s, want %s", got, TurnIdle)
	}
}

func TestConcurrentStartRecordingAdmitsOne(t *testing.T) {
	h := newHarness()

	var successes int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.orch.StartRecording(); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&successes); got != 1 {
		t.Errorf("%d callers passed the Idle guard, want exactly 1", got)
	}
	if got := h.orch.State(); got != TurnRecording {
		t.Errorf("state = %s, want %s", got, TurnRecording)
	}
	if h.capture.acquires != 1 {
		t.Errorf("device acquired %d times, want 1", h.capture.acquires)
	}
}

func TestUnregisterKeepsLaterHandlers(t *testing.T) {
	h := newHarness()

	var mu sync.Mutex
	counts := make(map[string]int)
	record := func(name string) StateHandler {
		return func(TurnState) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		}
	}

	removeA := h.orch.AddStateHandler(record("a"))
	h.orch.AddStateHandler(record("b"))
	removeC := h.orch.AddStateHandler(record("c"))

	// Removing an earlier registration must not shift the later ones.
	removeA()
	removeC()

	if err := h.orch.StartRecording(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts["a"] != 0 {
		t.Errorf("removed handler a fired %d times", counts["a"])
	}
	if counts["b"] != 1 {
		t.Errorf("surviving handler b fired %d times, want 1", counts["b"])
	}
	if counts["c"] != 0 {
		t.Errorf("removed handler c fired %d times", counts["c"])
	}
}

func TestStateHandlersObserveTransitions(t *testing.T) {
	h := newHarness()

	var mu sync.Mutex
	var states []TurnState
	unsubscribe := h.orch.AddStateHandler(func(s TurnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := h.orch.StartRecording(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.orch.StopRecording(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	mu.Lock()
	got := append([]TurnState(nil), states...)
	mu.Unlock()

	want := []TurnState{TurnRecording, TurnUploading, TurnIdle}
	if len(got) != len(want) {
		t.Fatalf("observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("observed %v, want %v", got, want)
		}
	}

	unsubscribe()
	if err := h.orch.StartRecording(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	mu.Lock()
	after := len(states)
	mu.Unlock()
	if after != len(want) {
		t.Error("handler still notified after unsubscribe")
	}
}
