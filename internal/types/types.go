package types

// LogLevel represents log verbosity level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat represents log output format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // JSON format for log aggregation
	LogFormatPretty LogFormat = "pretty" // Human-readable for local dev
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an LLM-emitted request to execute a named tool.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolResult is the outcome of one tool execution. Failures are carried
// in-band (Success=false) rather than as errors so a partial tool fan-out
// still produces a coherent follow-up LLM call.
type ToolResult struct {
	ToolName            string         `json:"toolName"`
	Parameters          map[string]any `json:"parameters"`
	Result              any            `json:"result,omitempty"`
	ExecutionTimeMs     int64          `json:"executionTime"`
	Success             bool           `json:"success"`
	Error               string         `json:"error,omitempty"`
	ErrorCode           string         `json:"errorCode,omitempty"`
	RecoverySuggestions []string       `json:"recoverySuggestions,omitempty"`
	FromCache           bool           `json:"fromCache,omitempty"`
	DataFreshness       string         `json:"dataFreshness,omitempty"`
}

// UIIntent instructs the client to render a named front-end component.
type UIIntent struct {
	Type      string         `json:"type"` // always "RENDER_COMPONENT"
	Component string         `json:"component"`
	Props     map[string]any `json:"props"`
}

// MessageError is the error descriptor attached to assistant messages
// produced by the conversation error path.
type MessageError struct {
	Code        string   `json:"code"`
	Retryable   bool     `json:"retryable"`
	Suggestions []string `json:"suggestions"`
}

// Message is one entry in a session's chronological log.
// Immutable after insertion.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Timestamp   int64          `json:"timestamp"` // unix millis
	ToolCalls   []ToolCall     `json:"toolCalls,omitempty"`  // assistant only
	ToolName    string         `json:"name,omitempty"`       // tool only
	ToolCallID  string         `json:"toolCallId,omitempty"` // tool only
	UIIntents   []UIIntent     `json:"uiIntents,omitempty"`   // assistant only
	ToolResults []ToolResult   `json:"toolResults,omitempty"` // assistant only
	Formatted   string         `json:"formattedResults,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Error       *MessageError  `json:"error,omitempty"`
}

// HasToolContext reports whether trimming must preserve this message
// (tool results and tool-call-bearing assistant messages carry context
// later turns depend on).
func (m *Message) HasToolContext() bool {
	return m.Role == RoleTool || len(m.ToolCalls) > 0
}

// Client → server frame types.
const (
	FramePing             = "PING"
	FrameUserMessage      = "USER_MESSAGE"
	FrameSubscribe        = "SUBSCRIBE"
	FrameUnsubscribe      = "UNSUBSCRIBE"
	FrameGetSubscriptions = "GET_SUBSCRIPTIONS"
)

// Server → client frame types. The price-hub frames are lower-case on the
// wire; everything else is upper-snake.
const (
	FrameConnectionEstablished   = "CONNECTION_ESTABLISHED"
	FramePong                    = "PONG"
	FrameAssistantMessage        = "ASSISTANT_MESSAGE"
	FrameError                   = "ERROR"
	FrameSubscriptionConfirmed   = "subscription_confirmed"
	FrameUnsubscriptionConfirmed = "unsubscription_confirmed"
	FramePriceUpdate             = "price_update"
	FrameConnectionStatus        = "connection_status"
	FrameSubscriptionList        = "subscription_list"
)

// ClientFrame is the inbound frame envelope. Unknown types fall through to
// the ERROR path; the connection stays open.
type ClientFrame struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
	Content   string   `json:"content,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
}

// ErrorPayload is the body of an ERROR frame.
type ErrorPayload struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Timestamp  int64  `json:"timestamp"`
}
