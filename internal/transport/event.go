package transport

// EventName is the wire name of an event emitted by a transport handle.
type EventName string

const (
	EventSessionConnected    EventName = "session.connected"
	EventSessionCreated      EventName = "session.created"
	EventSessionUpdated      EventName = "session.updated"
	EventSessionDisconnected EventName = "session.disconnected"
	EventHistoryUpdated      EventName = "history_updated"
	EventResponseCreated     EventName = "response.created"
	EventResponseCompleted   EventName = "response.completed"
	EventAudioInterrupted    EventName = "audio_interrupted"
	EventError               EventName = "error"
	EventSpeechStarted       EventName = "input_audio_buffer.speech_started"
	EventSpeechStopped       EventName = "input_audio_buffer.speech_stopped"
)

// EventNames lists every event name a session subscribes to.
var EventNames = []EventName{
	EventSessionConnected,
	EventSessionCreated,
	EventSessionUpdated,
	EventSessionDisconnected,
	EventHistoryUpdated,
	EventResponseCreated,
	EventResponseCompleted,
	EventAudioInterrupted,
	EventError,
	EventSpeechStarted,
	EventSpeechStopped,
}

// Event is the closed set of events a handle can emit. Only types in this
// package implement it.
type Event interface {
	EventName() EventName
	isEvent()
}

// SessionConnected is emitted by adapters that signal readiness without a
// separate session resource.
type SessionConnected struct {
	SessionID string
}

func (SessionConnected) EventName() EventName { return EventSessionConnected }
func (SessionConnected) isEvent()             {}

// SessionCreated is the first handshake event of two-phase adapters.
type SessionCreated struct {
	SessionID string
}

func (SessionCreated) EventName() EventName { return EventSessionCreated }
func (SessionCreated) isEvent()             {}

type SessionUpdated struct {
	SessionID string
}

func (SessionUpdated) EventName() EventName { return EventSessionUpdated }
func (SessionUpdated) isEvent()             {}

type SessionDisconnected struct {
	Reason string
}

func (SessionDisconnected) EventName() EventName { return EventSessionDisconnected }
func (SessionDisconnected) isEvent()             {}

// HistoryUpdated announces a new full history snapshot. The snapshot is
// carried in History, nested under Data, or neither; in the last case the
// receiver polls the handle.
type HistoryUpdated struct {
	History []RawHistoryItem
	Data    *HistoryPayload
}

// HistoryPayload is the nested form some adapters use.
type HistoryPayload struct {
	History []RawHistoryItem
}

func (HistoryUpdated) EventName() EventName { return EventHistoryUpdated }
func (HistoryUpdated) isEvent()             {}

// Snapshot returns the carried history and whether one was present.
func (e HistoryUpdated) Snapshot() ([]RawHistoryItem, bool) {
	if e.History != nil {
		return e.History, true
	}
	if e.Data != nil && e.Data.History != nil {
		return e.Data.History, true
	}
	return nil, false
}

type ResponseCreated struct {
	ResponseID string
}

func (ResponseCreated) EventName() EventName { return EventResponseCreated }
func (ResponseCreated) isEvent()             {}

type ResponseCompleted struct {
	ResponseID string
	Status     string
}

func (ResponseCompleted) EventName() EventName { return EventResponseCompleted }
func (ResponseCompleted) isEvent()             {}

type AudioInterrupted struct{}

func (AudioInterrupted) EventName() EventName { return EventAudioInterrupted }
func (AudioInterrupted) isEvent()             {}

// ErrorEvent carries an adapter-reported failure. Action is set when the
// remote refused a single client request (an interrupt with nothing to
// cancel, a malformed update) and the session itself is still usable.
type ErrorEvent struct {
	Code    string
	Message string
	Action  string
}

func (ErrorEvent) EventName() EventName { return EventError }
func (ErrorEvent) isEvent()             {}

func (e ErrorEvent) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

type SpeechStarted struct{}

func (SpeechStarted) EventName() EventName { return EventSpeechStarted }
func (SpeechStarted) isEvent()             {}

type SpeechStopped struct{}

func (SpeechStopped) EventName() EventName { return EventSpeechStopped }
func (SpeechStopped) isEvent()             {}
