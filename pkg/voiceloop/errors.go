package voiceloop

// Error codes as constants
const (
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	ErrCodeAlreadyRecording  = "ALREADY_RECORDING"
	ErrCodeNoActiveSession   = "NO_ACTIVE_SESSION"
	ErrCodeNetworkFailure    = "NETWORK_FAILURE"
	ErrCodeServerError       = "SERVER_ERROR"
	ErrCodeDecodeFailure     = "DECODE_FAILURE"
	ErrCodePlayback          = "PLAYBACK_ERROR"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeJSONParse         = "JSON_PARSE_ERROR"
	ErrCodeUnknown           = "UNKNOWN_ERROR"
)

// Specific error creators with common codes
func NewPermissionError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodePermissionDenied)
}

func NewDeviceError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeDeviceUnavailable)
}

func NewAlreadyRecordingError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeAlreadyRecording)
}

func NewNoActiveSessionError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeNoActiveSession)
}

func NewNetworkError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeNetworkFailure)
}

// NewServerError carries the backend's error field verbatim.
func NewServerError(message string) *VoiceError {
	if message == "" {
		message = "server reported failure"
	}
	return NewVoiceError(message, ErrCodeServerError)
}

func NewDecodeError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeDecodeFailure)
}

func NewPlaybackError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodePlayback)
}

func NewStateError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeInvalidState)
}

func NewAuthError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeAuthFailed)
}

func NewConfigError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeConfigInvalid)
}

func NewJSONError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeJSONParse)
}

func NewUnknownError(message string) *VoiceError {
	return NewVoiceError(message, ErrCodeUnknown)
}

// Helper to wrap any error as VoiceError
func WrapError(err error, code string) *VoiceError {
	if err == nil {
		return nil
	}
	vErr := NewVoiceError(err.Error(), code)
	vErr.AddDetail("original_error", err.Error())
	return vErr
}

// Helper to check if error has specific code
func IsErrorCode(err *VoiceError, code string) bool {
	if err == nil {
		return false
	}
	return err.Code == code
}

// Helper to add details to existing VoiceError
func (e *VoiceError) AddDetail(key string, value interface{}) *VoiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Helper to get error details
func (e *VoiceError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// IsCaptureError reports whether the error is a microphone acquisition
// failure. These are terminal for the current cycle and must disable the
// autonomous loop.
func IsCaptureError(err *VoiceError) bool {
	if err == nil {
		return false
	}
	return err.Code == ErrCodePermissionDenied || err.Code == ErrCodeDeviceUnavailable
}

// IsBackendError reports whether the error came out of the upload/reply
// round-trip rather than a local device.
func IsBackendError(err *VoiceError) bool {
	if err == nil {
		return false
	}
	return err.Code == ErrCodeNetworkFailure || err.Code == ErrCodeServerError
}
