package voiceloop

import "time"

// Result types for error handling
type Result[T any] struct {
	Data    T
	Error   *VoiceError
	Success bool
}

func Ok[T any](data T) Result[T] {
	return Result[T]{Data: data, Success: true}
}

func Err[T any](err *VoiceError) Result[T] {
	return Result[T]{Error: err, Success: false}
}

// TurnState enum for the orchestrator state machine
type TurnState string

const (
	TurnIdle      TurnState = "idle"
	TurnRecording TurnState = "recording"
	TurnUploading TurnState = "uploading"
	TurnSpeaking  TurnState = "speaking"
	TurnError     TurnState = "error"
)

// CaptureState enum
type CaptureState string

const (
	CaptureIdle      CaptureState = "idle"
	CaptureRecording CaptureState = "recording"
	CaptureStopped   CaptureState = "stopped"
)

// PlaybackState enum
type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackPlaying PlaybackState = "playing"
)

// VoiceError struct
type VoiceError struct {
	Message   string
	Code      string
	Timestamp float64
	err       error
	Details   map[string]interface{} // Additional details about the error
}

func (e *VoiceError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return e.Message
}

func NewVoiceError(message, code string) *VoiceError {
	return &VoiceError{
		Message:   message,
		Code:      code,
		Timestamp: float64(time.Now().UnixMilli()),
	}
}

// Conversation mirrors the server-side conversation record.
type Conversation struct {
	ConversationID int    `json:"ConversationID"`
	UserID         int    `json:"UserID"`
	Mode           string `json:"Mode"` // "text" or "continuous"
	Datetime       string `json:"Datetime"`
}

// Message is one stored utterance, user or AI. ActionID is only ever set on
// AI messages.
type Message struct {
	MessageID      int    `json:"MessageID"`
	ConversationID int    `json:"ConversationID"`
	Message        string `json:"Message"`
	Createtime     string `json:"Createtime"`
	ActionID       *int   `json:"ActionID,omitempty"`
}

// ChatEntry is one row of a conversation log as returned by the backend.
type ChatEntry struct {
	Type    string  `json:"type"` // "user" or "ai"
	Message Message `json:"message"`
	Time    string  `json:"time"`
}

// MessageExchange is the outcome of one send-message round-trip: the
// transcript (audio sends only) and the stored message records.
type MessageExchange struct {
	Transcript  string
	UserMessage *Message
	AIMessage   *Message
}

// ConversationTurn is one completed exchange as observed by the client:
// what the user said and what came back.
type ConversationTurn struct {
	Utterance string
	Reply     string
	ReplyID   int
	At        time.Time
}

// User mirrors the server-side account record.
type User struct {
	UserID   int    `json:"UserID"`
	Account  string `json:"tai_khoan"`
	FullName string `json:"ho_ten"`
}

// AuthSession is the credential state returned by a successful login.
type AuthSession struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// VocabEntry is one dictionary lookup result.
type VocabEntry struct {
	Word          string `json:"word"`
	Pronunciation string `json:"pronunciation"`
	Meaning       string `json:"meaning"`
	Audio         string `json:"audio"`
}

// AudioArtifact is the immutable product of a finished capture session:
// one encoded WAV object plus its parameters.
type AudioArtifact struct {
	WAV        []byte
	SampleRate int
	Channels   int
	Fragments  int
	Duration   time.Duration
}

// Handler types
type StateHandler func(TurnState)
type MessageHandler func(role string, msg Message)
type ErrorHandler func(*VoiceError)
type FragmentHandler func([]float32)
