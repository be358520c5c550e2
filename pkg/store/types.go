package store

import (
	"strings"
	"time"
)

// AutoAssistID is the reserved ID of the AutoAssist pseudo-assistant.
const AutoAssistID int64 = 999999

// AutoAssistTitle is the display title of the AutoAssist pseudo-assistant.
const AutoAssistTitle = "AutoAssist"

// MessageRole defines the role of a display message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Wire roles understood by the completion service.
const (
	WireRoleUser  = "user"
	WireRoleModel = "model"
)

// Assistant is a user-defined persona with its own instruction, history and integrations.
type Assistant struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	SystemInstruction string `json:"system_instruction"`

	// Messages is the history shown to the user.
	Messages []DisplayMessage `json:"messages"`
	// PostMessages is the history sent to the completion service. It is kept in
	// lock-step with Messages: index i of both describes the same turn.
	PostMessages []WireTurn `json:"post_messages"`

	// Files are knowledge-file references inlined into completion requests.
	Files []string `json:"files,omitempty"`
	// Summary is a short capability description used when routing subtasks.
	Summary string `json:"summary,omitempty"`

	APIConfigs []APIConfig `json:"api_configs,omitempty"`
	EnableAPI  bool        `json:"enable_api"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAutoAssist reports whether a is the AutoAssist pseudo-assistant.
func (a *Assistant) IsAutoAssist() bool { return a.ID == AutoAssistID }

// DisplayMessage is a message as rendered to the user.
type DisplayMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	// ImagePath references a generated image artifact, if any.
	ImagePath string `json:"image_path,omitempty"`
}

// WireTurn is the role-tagged multi-part unit sent to the completion service.
type WireTurn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is either text or an inlined binary blob.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

// Blob is base64 encoded binary data with its MIME type.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Text returns the concatenated text parts of the turn.
func (t WireTurn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.InlineData == nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// TextTurn builds a single-part text turn.
func TextTurn(role, text string) WireTurn {
	return WireTurn{Role: role, Parts: []Part{{Text: text}}}
}

// SubtaskInfo is one unit of decomposed work.
type SubtaskInfo struct {
	Task string `json:"task"`
	// Assistant is the recommended assistant title; nil means the fallback executor.
	Assistant *string `json:"assistant"`
}

// TriggerType is the kind of rule an APITrigger evaluates.
type TriggerType string

const (
	TriggerKeyword TriggerType = "keyword"
	TriggerPattern TriggerType = "pattern"
)

// ResponseType is how an API's response is folded into the turn.
type ResponseType string

const (
	ResponseText  ResponseType = "text"
	ResponseImage ResponseType = "image"
)

// APIConfig describes an external API an assistant may call during a turn.
type APIConfig struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Endpoint    Endpoint `json:"endpoint" yaml:"endpoint"`
	Auth        *APIAuth `json:"auth,omitempty" yaml:"auth"`

	// Triggers decide whether the config applies. A config with none never fires.
	Triggers []APITrigger `json:"triggers" yaml:"triggers"`
	// Parameters, when set, are extracted from the user text by the model.
	Parameters []ParameterSpec `json:"parameters,omitempty" yaml:"parameters"`

	ResponseType ResponseType `json:"response_type" yaml:"response_type"`
	// ResultPath is an optional dotted path selecting the useful part of a JSON response.
	ResultPath string `json:"result_path,omitempty" yaml:"result_path"`
}

// Endpoint is the HTTP target of an APIConfig.
type Endpoint struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
	Query   map[string]string `json:"query,omitempty" yaml:"query"`
}

// APIAuth holds static credentials for an APIConfig.
type APIAuth struct {
	Type       string `json:"type" yaml:"type"` // "bearer", "header" or "query"
	Token      string `json:"token" yaml:"token"`
	HeaderName string `json:"header_name,omitempty" yaml:"header_name"`
}

// APITrigger is a keyword or regular expression rule.
type APITrigger struct {
	Type        TriggerType `json:"type" yaml:"type"`
	Value       string      `json:"value" yaml:"value"`
	Description string      `json:"description,omitempty" yaml:"description"`
}

// ParameterSpec names a parameter the model should extract from the user text.
type ParameterSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
}
