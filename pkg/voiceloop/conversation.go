package voiceloop

import (
	"sync"
	"time"
)

// ConversationStore holds the client-side view of the conversation list,
// the active conversation's message log, and the pending-input field that
// manual-mode transcripts land in. The orchestrator writes turns into it;
// UI layers only observe through handlers.
type ConversationStore struct {
	api             *APIClient
	mu              sync.Mutex
	conversations   []Conversation
	current         *Conversation
	entries         []ChatEntry
	pendingInput    string
	turns           []ConversationTurn
	messageHandlers []MessageHandler
	logger          *Logger
}

func NewConversationStore(api *APIClient) *ConversationStore {
	return &ConversationStore{
		api:    api,
		logger: GetGlobalLogger().WithComponent("ConversationStore"),
	}
}

// Load refreshes the conversation list from the backend.
func (cs *ConversationStore) Load() *VoiceError {
	res := cs.api.ListConversations()
	if !res.Success {
		return res.Error
	}

	cs.mu.Lock()
	cs.conversations = res.Data
	cs.mu.Unlock()

	cs.logger.Infof("Loaded %d conversations", len(res.Data))
	return nil
}

// CreateNew creates a conversation on the backend and selects it.
func (cs *ConversationStore) CreateNew(mode string) (*Conversation, *VoiceError) {
	res := cs.api.NewConversation(mode)
	if !res.Success {
		return nil, res.Error
	}

	cs.mu.Lock()
	cs.conversations = append([]Conversation{*res.Data}, cs.conversations...)
	cs.current = res.Data
	cs.entries = nil
	cs.turns = nil
	cs.pendingInput = ""
	cs.mu.Unlock()

	cs.logger.Infof("Created conversation #%d", res.Data.ConversationID)
	return res.Data, nil
}

// Select fetches a conversation's log and makes it the active one.
func (cs *ConversationStore) Select(conversationID int) *VoiceError {
	res := cs.api.GetConversation(conversationID)
	if !res.Success {
		return res.Error
	}

	cs.mu.Lock()
	cs.current = res.Data.Conversation
	cs.entries = res.Data.Messages
	cs.turns = nil
	cs.pendingInput = ""
	cs.mu.Unlock()

	cs.logger.Infof("Selected conversation #%d (%d messages)", conversationID, len(res.Data.Messages))
	return nil
}

// SetCurrent makes a conversation active without fetching its log.
func (cs *ConversationStore) SetCurrent(conv *Conversation) {
	cs.mu.Lock()
	cs.current = conv
	cs.entries = nil
	cs.turns = nil
	cs.pendingInput = ""
	cs.mu.Unlock()
}

func (cs *ConversationStore) Current() *Conversation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.current
}

func (cs *ConversationStore) Conversations() []Conversation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]Conversation(nil), cs.conversations...)
}

func (cs *ConversationStore) Entries() []ChatEntry {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]ChatEntry(nil), cs.entries...)
}

// AppendUser records a user utterance in the local log.
func (cs *ConversationStore) AppendUser(msg Message) {
	cs.append("user", msg)
}

// AppendAI records an AI reply in the local log.
func (cs *ConversationStore) AppendAI(msg Message) {
	cs.append("ai", msg)
}

func (cs *ConversationStore) append(role string, msg Message) {
	cs.mu.Lock()
	cs.entries = append(cs.entries, ChatEntry{Type: role, Message: msg, Time: msg.Createtime})
	handlers := append([]MessageHandler(nil), cs.messageHandlers...)
	cs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(role, msg)
		}
	}
}

// RecordTurn stores one completed exchange.
func (cs *ConversationStore) RecordTurn(utterance, reply string, replyID int) {
	cs.mu.Lock()
	cs.turns = append(cs.turns, ConversationTurn{
		Utterance: utterance,
		Reply:     reply,
		ReplyID:   replyID,
		At:        time.Now(),
	})
	cs.mu.Unlock()
}

func (cs *ConversationStore) Turns() []ConversationTurn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]ConversationTurn(nil), cs.turns...)
}

func (cs *ConversationStore) LastTurn() *ConversationTurn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.turns) == 0 {
		return nil
	}
	t := cs.turns[len(cs.turns)-1]
	return &t
}

// SetPendingInput places a transcript into the pending-input field. Manual
// mode fills this and never auto-sends.
func (cs *ConversationStore) SetPendingInput(text string) {
	cs.mu.Lock()
	cs.pendingInput = text
	cs.mu.Unlock()
}

func (cs *ConversationStore) PendingInput() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pendingInput
}

// TakePendingInput returns the pending input and clears it.
func (cs *ConversationStore) TakePendingInput() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	text := cs.pendingInput
	cs.pendingInput = ""
	return text
}

// AddMessageHandler registers an observer for appended messages. Returns an
// unregister function. Removal nils the slot so earlier unregistrations
// never shift later ones.
func (cs *ConversationStore) AddMessageHandler(handler MessageHandler) func() {
	cs.mu.Lock()
	cs.messageHandlers = append(cs.messageHandlers, handler)
	idx := len(cs.messageHandlers) - 1
	cs.mu.Unlock()

	return func() {
		cs.mu.Lock()
		cs.messageHandlers[idx] = nil
		cs.mu.Unlock()
	}
}
