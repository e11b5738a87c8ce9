// Package model holds validated records for the Slack entities the
// integration exchanges with the case system. Payloads from the Slack API
// are mapped into these types at the boundary so malformed input is
// rejected before any handler logic runs.
package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	channelIDPattern = regexp.MustCompile(`^C[A-Z0-9]{8,}$`)
	userIDPattern    = regexp.MustCompile(`^[UB][A-Z0-9]{8,}$`)
	fileIDPattern    = regexp.MustCompile(`^F[A-Z0-9]{8,}$`)
	teamIDPattern    = regexp.MustCompile(`^T[A-Z0-9]{8,}$`)
)

// Channel is a Slack channel associated with a case
type Channel struct {
	ID      string `json:"channelId"`
	Name    string `json:"channelName"`
	CaseID  string `json:"caseId"`
	Topic   string `json:"topic,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

// Validate checks required fields and Slack ID formats
func (c *Channel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if c.Name == "" {
		return fmt.Errorf("channel name is required")
	}
	if c.CaseID == "" {
		return fmt.Errorf("case ID is required")
	}
	if !channelIDPattern.MatchString(c.ID) {
		return fmt.Errorf("invalid Slack channel ID format: %v", c.ID)
	}
	return nil
}

// Message is a message posted in a Slack channel
type Message struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	ThreadTS  string `json:"threadTs,omitempty"`
	SubType   string `json:"subtype,omitempty"`
	BotID     string `json:"botId,omitempty"`
}

// Validate checks required fields and Slack ID formats
func (m *Message) Validate() error {
	if m.ChannelID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if m.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if !channelIDPattern.MatchString(m.ChannelID) {
		return fmt.Errorf("invalid Slack channel ID format: %v", m.ChannelID)
	}
	if !userIDPattern.MatchString(m.UserID) {
		return fmt.Errorf("invalid Slack user ID format: %v", m.UserID)
	}
	if _, err := strconv.ParseFloat(m.Timestamp, 64); err != nil {
		return fmt.Errorf("invalid timestamp format: %v", m.Timestamp)
	}
	return nil
}

// IsBot reports whether the message was authored by a bot or the system.
// Bot messages are never synced back to the case to avoid loops.
func (m *Message) IsBot() bool {
	return m.BotID != "" || m.SubType == "bot_message" || m.SubType == "app_mention" ||
		m.UserID == "" || strings.HasPrefix(m.UserID, "B")
}

// Attachment is a file shared in a Slack channel
type Attachment struct {
	FileID         string `json:"fileId"`
	Filename       string `json:"filename"`
	URL            string `json:"url,omitempty"`
	Size           int64  `json:"size"`
	MimeType       string `json:"mimetype"`
	Title          string `json:"title,omitempty"`
	UserID         string `json:"userId,omitempty"`
	ChannelID      string `json:"channelId,omitempty"`
	InitialComment string `json:"initialComment,omitempty"`
}

// Validate checks required fields and Slack ID formats
func (a *Attachment) Validate() error {
	if a.FileID == "" {
		return fmt.Errorf("file ID is required")
	}
	if a.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if a.Size < 0 {
		return fmt.Errorf("file size cannot be negative")
	}
	if !fileIDPattern.MatchString(a.FileID) {
		return fmt.Errorf("invalid Slack file ID format: %v", a.FileID)
	}
	if a.URL != "" && !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return fmt.Errorf("invalid URL format: %v", a.URL)
	}
	if a.ChannelID != "" && !channelIDPattern.MatchString(a.ChannelID) {
		return fmt.Errorf("invalid Slack channel ID format: %v", a.ChannelID)
	}
	return nil
}

// Downloadable reports whether the attachment carries a usable download URL
func (a *Attachment) Downloadable() bool {
	return strings.HasPrefix(a.URL, "http://") || strings.HasPrefix(a.URL, "https://")
}

// Command is a slash command invocation
type Command struct {
	Command     string `json:"command"`
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name,omitempty"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
	TeamID      string `json:"team_id"`
	ResponseURL string `json:"response_url"`
	TriggerID   string `json:"trigger_id"`
}

// Validate checks required fields and Slack ID formats
func (c *Command) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if !strings.HasPrefix(c.Command, "/") {
		return fmt.Errorf("invalid command format: %v", c.Command)
	}
	if c.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if c.ChannelID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if c.TeamID == "" {
		return fmt.Errorf("team ID is required")
	}
	if c.ResponseURL == "" {
		return fmt.Errorf("response URL is required")
	}
	if c.TriggerID == "" {
		return fmt.Errorf("trigger ID is required")
	}
	if !userIDPattern.MatchString(c.UserID) {
		return fmt.Errorf("invalid Slack user ID format: %v", c.UserID)
	}
	if !channelIDPattern.MatchString(c.ChannelID) {
		return fmt.Errorf("invalid Slack channel ID format: %v", c.ChannelID)
	}
	if !teamIDPattern.MatchString(c.TeamID) {
		return fmt.Errorf("invalid Slack team ID format: %v", c.TeamID)
	}
	if !strings.HasPrefix(c.ResponseURL, "https://hooks.slack.com/") {
		return fmt.Errorf("invalid response URL format: %v", c.ResponseURL)
	}
	return nil
}

// Subcommand splits the command text into a subcommand and its arguments
func (c *Command) Subcommand() (string, string) {
	parts := strings.SplitN(strings.TrimSpace(c.Text), " ", 2)
	sub := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return sub, args
}
