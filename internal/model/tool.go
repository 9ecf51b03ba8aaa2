package model

import "encoding/json"

// Tool server transports
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// ToolServerConfig is the static descriptor for one tool server
type ToolServerConfig struct {
	Name          string    `json:"name" mapstructure:"name"`
	Transport     Transport `json:"transport" mapstructure:"transport"`
	Command       string    `json:"command,omitempty" mapstructure:"command"`
	Args          []string  `json:"args,omitempty" mapstructure:"args"`
	URL           string    `json:"url,omitempty" mapstructure:"url"`
	TokenEnv      string    `json:"tokenEnv,omitempty" mapstructure:"token_env"`
	TimeoutSec    int       `json:"timeoutSec" mapstructure:"timeout_sec"`
	RetryAttempts int       `json:"retryAttempts" mapstructure:"retry_attempts"`
	Enabled       bool      `json:"enabled" mapstructure:"enabled"`
	Priority      int       `json:"priority" mapstructure:"priority"`
}

// ToolDescriptor describes one callable tool exposed by a server
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Server      string          `json:"server"`
	Priority    int             `json:"priority"`
}

// ResourceDescriptor describes a static resource exposed by a server
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Server      string `json:"server"`
}

// ToolContent is one content item in a tool-call result
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the outcome of a tool invocation. IsError is the
// explicit failure flag; transport faults are folded into it rather
// than returned as Go errors.
type ToolCallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// Text returns the first text content item, or empty string.
func (r ToolCallResult) Text() string {
	for _, c := range r.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// ToolsResult is the outcome of a tools/list call
type ToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ResourcesResult is the outcome of a resources/list call
type ResourcesResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}
