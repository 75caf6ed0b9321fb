package voiceloop

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Backend is the slice of the API the orchestrator depends on. APIClient is
// the production implementation; tests substitute fakes.
type Backend interface {
	SendText(conversationID int, text string) Result[*MessageExchange]
	SendAudio(conversationID int, artifact *AudioArtifact) Result[*MessageExchange]
	FetchSpeech(messageID int) Result[string]
}

// envelope is the transport convention shared by every endpoint: a boolean
// success field checked independently of the HTTP status, since a 200 can
// still carry success=false and a 4xx/5xx still carries a parseable body.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type sendMessageEnvelope struct {
	envelope
	Transcript  string   `json:"transcript"`
	UserMessage *Message `json:"user_message"`
	AIMessage   *Message `json:"ai_message"`
}

type ttsEnvelope struct {
	envelope
	Audio string `json:"audio"`
}

type conversationEnvelope struct {
	envelope
	Conversation *Conversation `json:"conversation"`
}

type conversationListEnvelope struct {
	envelope
	Conversations []Conversation `json:"conversations"`
}

type conversationDetailEnvelope struct {
	envelope
	Conversation *Conversation `json:"conversation"`
	Messages     []ChatEntry   `json:"messages"`
}

type vocabEnvelope struct {
	envelope
	VocabEntry
}

type vocabHistoryEnvelope struct {
	envelope
	History []VocabEntry `json:"history"`
}

type authEnvelope struct {
	envelope
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// APIClient talks to the assistant backend. All authenticated calls carry
// the bearer credential held by the session manager.
type APIClient struct {
	baseURL    string
	session    *SessionManager
	httpClient *http.Client
	debug      bool
	logger     *Logger
}

func NewAPIClient(config *Config, session *SessionManager) *APIClient {
	if config == nil {
		config = NewConfig()
	}
	if session == nil {
		session = NewSessionManager()
	}
	return &APIClient{
		baseURL: config.BaseURL,
		session: session,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		debug:  config.DebugHTTP,
		logger: GetGlobalLogger().WithComponent("APIClient"),
	}
}

func (ac *APIClient) Session() *SessionManager {
	return ac.session
}

func (ac *APIClient) do(req *http.Request, authenticated bool) ([]byte, *VoiceError) {
	req.Header.Set("User-Agent", "VoiceLoop-Go/1.0")

	if authenticated {
		token, err := ac.session.Token()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if ac.debug {
		ac.logger.Debugf("%s %s", req.Method, req.URL.Path)
	}

	resp, err := ac.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError(err.Error())
	}

	// The envelope, not the status code, decides success.
	return body, nil
}

func (ac *APIClient) request(method, endpoint string, payload interface{}) ([]byte, *VoiceError) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, NewJSONError(err.Error())
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, ac.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return ac.do(req, true)
}

func (ac *APIClient) upload(endpoint string, fields map[string]string, fileField, filename string, file []byte) ([]byte, *VoiceError) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, NewUnknownError(err.Error())
		}
	}

	part, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, NewUnknownError(err.Error())
	}
	if _, err := part.Write(file); err != nil {
		return nil, NewUnknownError(err.Error())
	}
	if err := writer.Close(); err != nil {
		return nil, NewUnknownError(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, ac.baseURL+endpoint, &buf)
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return ac.do(req, true)
}

func decodeInto(raw []byte, out interface{}) *VoiceError {
	if err := json.Unmarshal(raw, out); err != nil {
		return NewJSONError(err.Error())
	}
	return nil
}

// Message operations

// SendText sends a typed utterance bound to a conversation.
func (ac *APIClient) SendText(conversationID int, text string) Result[*MessageExchange] {
	if text == "" {
		return Err[*MessageExchange](NewConfigError("message cannot be empty"))
	}

	payload := map[string]interface{}{
		"conversation_id": conversationID,
		"message":         text,
	}
	raw, err := ac.request(http.MethodPost, "/api/conversation/message/send", payload)
	if err != nil {
		return Err[*MessageExchange](err)
	}

	var env sendMessageEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*MessageExchange](err)
	}
	if !env.Success {
		return Err[*MessageExchange](NewServerError(env.Error))
	}

	return Ok(&MessageExchange{
		UserMessage: env.UserMessage,
		AIMessage:   env.AIMessage,
	})
}

// SendAudio uploads a captured utterance as multipart form data. The reply
// arrives on the same round-trip: transcript plus the AI message record.
func (ac *APIClient) SendAudio(conversationID int, artifact *AudioArtifact) Result[*MessageExchange] {
	if artifact == nil {
		return Err[*MessageExchange](NewConfigError("audio artifact cannot be nil"))
	}

	fields := map[string]string{
		"conversation_id": strconv.Itoa(conversationID),
	}
	raw, err := ac.upload("/api/conversation/message/send", fields, "audio", "recording.wav", artifact.WAV)
	if err != nil {
		return Err[*MessageExchange](err)
	}

	var env sendMessageEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*MessageExchange](err)
	}
	if !env.Success {
		return Err[*MessageExchange](NewServerError(env.Error))
	}

	return Ok(&MessageExchange{
		Transcript:  env.Transcript,
		UserMessage: env.UserMessage,
		AIMessage:   env.AIMessage,
	})
}

// FetchSpeech returns the synthesized audio for an AI reply as a base64
// payload.
func (ac *APIClient) FetchSpeech(messageID int) Result[string] {
	raw, err := ac.request(http.MethodGet, fmt.Sprintf("/api/conversation/message/tts/%d", messageID), nil)
	if err != nil {
		return Err[string](err)
	}

	var env ttsEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[string](err)
	}
	if !env.Success {
		return Err[string](NewServerError(env.Error))
	}

	return Ok(env.Audio)
}

// Conversation operations

func (ac *APIClient) NewConversation(mode string) Result[*Conversation] {
	if mode != "text" && mode != "continuous" {
		mode = "text"
	}

	raw, err := ac.request(http.MethodPost, "/api/conversation/new", map[string]string{"mode": mode})
	if err != nil {
		return Err[*Conversation](err)
	}

	var env conversationEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*Conversation](err)
	}
	if !env.Success {
		return Err[*Conversation](NewServerError(env.Error))
	}

	return Ok(env.Conversation)
}

func (ac *APIClient) ListConversations() Result[[]Conversation] {
	raw, err := ac.request(http.MethodGet, "/api/conversation/list", nil)
	if err != nil {
		return Err[[]Conversation](err)
	}

	var env conversationListEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[[]Conversation](err)
	}
	if !env.Success {
		return Err[[]Conversation](NewServerError(env.Error))
	}

	return Ok(env.Conversations)
}

func (ac *APIClient) GetConversation(conversationID int) Result[*ConversationDetail] {
	raw, err := ac.request(http.MethodGet, fmt.Sprintf("/api/conversation/%d", conversationID), nil)
	if err != nil {
		return Err[*ConversationDetail](err)
	}

	var env conversationDetailEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*ConversationDetail](err)
	}
	if !env.Success {
		return Err[*ConversationDetail](NewServerError(env.Error))
	}

	return Ok(&ConversationDetail{
		Conversation: env.Conversation,
		Messages:     env.Messages,
	})
}

// ConversationDetail is a conversation record plus its typed message log.
type ConversationDetail struct {
	Conversation *Conversation
	Messages     []ChatEntry
}

// Vocabulary operations (out-of-scope collaborator, same envelope)

func (ac *APIClient) LookupWord(word string) Result[*VocabEntry] {
	if word == "" {
		return Err[*VocabEntry](NewConfigError("word cannot be empty"))
	}

	raw, err := ac.request(http.MethodPost, "/api/vocab/lookup", map[string]string{"word": word})
	if err != nil {
		return Err[*VocabEntry](err)
	}

	var env vocabEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*VocabEntry](err)
	}
	if !env.Success {
		return Err[*VocabEntry](NewServerError(env.Error))
	}

	entry := env.VocabEntry
	return Ok(&entry)
}

func (ac *APIClient) VocabHistory() Result[[]VocabEntry] {
	raw, err := ac.request(http.MethodGet, "/api/vocab/history", nil)
	if err != nil {
		return Err[[]VocabEntry](err)
	}

	var env vocabHistoryEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[[]VocabEntry](err)
	}
	if !env.Success {
		return Err[[]VocabEntry](NewServerError(env.Error))
	}

	return Ok(env.History)
}

// Auth operations (out-of-scope collaborator, interface only)

// Login exchanges credentials for a bearer token and stores it in the
// session manager.
func (ac *APIClient) Login(account, password string) Result[*AuthSession] {
	if account == "" || password == "" {
		return Err[*AuthSession](NewConfigError("account and password cannot be empty"))
	}

	payload := map[string]string{
		"tai_khoan": account,
		"mat_khau":  password,
	}
	jsonBody, merr := json.Marshal(payload)
	if merr != nil {
		return Err[*AuthSession](NewJSONError(merr.Error()))
	}

	req, rerr := http.NewRequest(http.MethodPost, ac.baseURL+"/api/auth/login", bytes.NewBuffer(jsonBody))
	if rerr != nil {
		return Err[*AuthSession](NewConfigError(rerr.Error()))
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := ac.do(req, false)
	if err != nil {
		return Err[*AuthSession](err)
	}

	var env authEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*AuthSession](err)
	}
	if !env.Success {
		return Err[*AuthSession](NewAuthError(env.Error))
	}

	ac.session.SetSession(env.Token, env.User)
	return Ok(&AuthSession{Token: env.Token, User: env.User})
}

// Register creates an account. The server returns the stored user record
// but no credential; the caller logs in afterwards.
func (ac *APIClient) Register(account, password, fullName string) Result[*User] {
	if account == "" || password == "" || fullName == "" {
		return Err[*User](NewConfigError("account, password and full name cannot be empty"))
	}

	payload := map[string]string{
		"tai_khoan": account,
		"mat_khau":  password,
		"ho_ten":    fullName,
	}
	jsonBody, merr := json.Marshal(payload)
	if merr != nil {
		return Err[*User](NewJSONError(merr.Error()))
	}

	req, rerr := http.NewRequest(http.MethodPost, ac.baseURL+"/api/auth/register", bytes.NewBuffer(jsonBody))
	if rerr != nil {
		return Err[*User](NewConfigError(rerr.Error()))
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := ac.do(req, false)
	if err != nil {
		return Err[*User](err)
	}

	var env authEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*User](err)
	}
	if !env.Success {
		return Err[*User](NewAuthError(env.Error))
	}

	return Ok(env.User)
}

func (ac *APIClient) Verify() Result[*User] {
	raw, err := ac.request(http.MethodGet, "/api/auth/verify", nil)
	if err != nil {
		return Err[*User](err)
	}

	var env authEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return Err[*User](err)
	}
	if !env.Success {
		return Err[*User](NewAuthError(env.Error))
	}

	return Ok(env.User)
}

func (ac *APIClient) Logout() *VoiceError {
	raw, err := ac.request(http.MethodPost, "/api/auth/logout", map[string]string{})
	if err != nil {
		return err
	}

	var env envelope
	if err := decodeInto(raw, &env); err != nil {
		return err
	}

	ac.session.Clear()
	if !env.Success {
		return NewServerError(env.Error)
	}
	return nil
}
