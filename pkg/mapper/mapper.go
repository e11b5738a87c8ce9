// Package mapper translates between case-system records and Slack
// surfaces: channel names, channel topics, Block Kit payloads and the
// comment formats used when mirroring conversation into the case.
package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/security-ir/slacksync/pkg/model"
)

const (
	// ChannelPrefix prefixes every incident channel name
	ChannelPrefix = "aws-security-incident-response-case-"

	// SystemCommentTag marks comments generated by this integration so
	// they are never echoed back across the boundary
	SystemCommentTag = "[Slack Update]"

	// MaxAttachmentBytes is the case system's attachment ceiling.
	// Files at or above this size are never transferred.
	MaxAttachmentBytes = 100 << 20
)

// Case carries the case attributes used for Slack rendering
type Case struct {
	CaseID           string   `json:"caseId"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Status           string   `json:"caseStatus"`
	Severity         string   `json:"severity"`
	CreatedDate      string   `json:"createdDate"`
	LastUpdated      string   `json:"lastUpdated"`
	ImpactedAccounts []string `json:"impactedAccounts,omitempty"`
	ImpactedRegions  []string `json:"impactedRegions,omitempty"`
}

var statusDisplay = map[string]string{
	"Acknowledged":                           "🔍 Acknowledged",
	"Detection and Analysis":                 "🔍 Under Investigation",
	"Containment, Eradication and Recovery":  "🚨 Active Response",
	"Post-incident Activities":               "📋 Post-Incident Review",
	"Ready to Close":                         "✅ Ready to Close",
	"Closed":                                 "✅ Closed",
}

var severityEmoji = map[string]string{
	"Critical":      "🔴",
	"High":          "🟠",
	"Medium":        "🟡",
	"Low":           "🟢",
	"Informational": "🔵",
}

// ChannelName maps a case ID to its incident channel name
func ChannelName(caseID string) string {
	return ChannelPrefix + caseID
}

// CaseIDFromChannelName recovers a case ID from an incident channel name.
// The second return is false for channels outside the incident namespace.
func CaseIDFromChannelName(name string) (string, bool) {
	if !strings.HasPrefix(name, ChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, ChannelPrefix), true
}

// IsIncidentChannel reports whether a channel name is in the incident namespace
func IsIncidentChannel(name string) bool {
	return strings.HasPrefix(name, ChannelPrefix)
}

// ChannelTopic renders the channel topic from case status and severity
func ChannelTopic(c Case) string {
	title := c.Title
	if title == "" {
		title = "Security Incident"
	}
	status, ok := statusDisplay[c.Status]
	if !ok {
		status = "🔍 Under Investigation"
	}
	sev, ok := severityEmoji[c.Severity]
	if !ok {
		sev = "⚪"
	}
	return fmt.Sprintf("%s %s | %s", sev, status, title)
}

// Notification renders the channel-creation announcement for a new case
func Notification(c Case) (string, []slack.Block) {

	sev := severityEmoji[c.Severity]
	if sev == "" {
		sev = "⚪"
	}
	status := statusDisplay[c.Status]
	if status == "" {
		status = c.Status
	}
	description := c.Description
	if description == "" {
		description = "No description provided"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("%s New Security Incident: %s", sev, c.CaseID), false, false)),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Title:*\n%s", c.Title), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Status:*\n%s", status), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Severity:*\n%s %s", sev, c.Severity), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Created:*\n%s", c.CreatedDate), false, false),
		}, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Description:*\n%s", description), false, false), nil, nil),
	}

	if fields := impactFields(c); len(fields) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	blocks = append(blocks,
		slack.NewDividerBlock(),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			"*Available Commands:*\n"+
				"• `/security-ir status` - Get current case status\n"+
				"• `/security-ir update-title <title>` - Update case title\n"+
				"• `/security-ir update-description <description>` - Update description\n"+
				"• `/security-ir close` - Close the case", false, false), nil, nil),
	)

	return fmt.Sprintf("New Security Incident: %s", c.CaseID), blocks
}

func impactFields(c Case) []*slack.TextBlockObject {
	var fields []*slack.TextBlockObject
	if len(c.ImpactedAccounts) > 0 {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Impacted Accounts:*\n%s", strings.Join(c.ImpactedAccounts, ", ")), false, false))
	}
	if len(c.ImpactedRegions) > 0 {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Impacted Regions:*\n%s", strings.Join(c.ImpactedRegions, ", ")), false, false))
	}
	return fields
}

// UpdateMessage renders a channel message for a case update of the given type
func UpdateMessage(c Case, updateType string) (string, []slack.Block) {

	switch updateType {
	case "status":
		status := statusDisplay[c.Status]
		if status == "" {
			status = c.Status
		}
		sev := severityEmoji[c.Severity]
		if sev == "" {
			sev = "⚪"
		}
		text := fmt.Sprintf("Case %s status updated to: %s", c.CaseID, status)
		return text, []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("%s *Case Status Updated*\nCase %s status changed to: *%s*", sev, c.CaseID, status), false, false), nil, nil),
		}
	case "title":
		text := fmt.Sprintf("Case %s title updated", c.CaseID)
		return text, []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("📝 *Case Title Updated*\nCase %s title: *%s*", c.CaseID, c.Title), false, false), nil, nil),
		}
	case "description":
		text := fmt.Sprintf("Case %s description updated", c.CaseID)
		return text, []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("📝 *Case Description Updated*\nCase %s description updated", c.CaseID), false, false), nil, nil),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, c.Description, false, false), nil, nil),
		}
	default:
		text := fmt.Sprintf("Case %s updated", c.CaseID)
		return text, []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("🔄 *Case Updated*\nCase %s has been updated", c.CaseID), false, false), nil, nil),
		}
	}
}

// CommentMessage renders a case comment for posting into the channel
func CommentMessage(caseID, author, body, createdDate string) (string, []slack.Block) {

	if author == "" {
		author = "Unknown User"
	}

	text := fmt.Sprintf("New comment on case %s", caseID)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("💬 *New Comment by %s*\n%s", author, body), false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Case %s • %s", caseID, createdDate), false, false)),
	}
	return text, blocks
}

// CommentFromMessage formats a Slack message as a case comment with attribution
func CommentFromMessage(m *model.Message) string {

	name := m.UserName
	if name == "" {
		name = m.UserID
	}
	if name == "" {
		name = "Slack User"
	}

	header := fmt.Sprintf("[Slack Message from %s", name)
	if ts, err := strconv.ParseFloat(m.Timestamp, 64); err == nil {
		header += " at " + time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05 UTC")
	} else if m.Timestamp != "" {
		header += " at " + m.Timestamp
	}
	header += "]"

	return header + "\n" + m.Text
}

// SystemComment formats an integration-generated comment carrying the system tag
func SystemComment(message, details string) string {
	comment := fmt.Sprintf("%s %s (at %s)", SystemCommentTag, message,
		time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	if details != "" {
		comment += "\nError Details: " + details
	}
	return comment
}

// ShouldSkipComment reports whether a case comment was generated by this
// integration and must not be posted back into the channel
func ShouldSkipComment(body string) bool {
	return strings.Contains(body, SystemCommentTag)
}

// ErrorMessage formats a user-visible failure for a chat surface
func ErrorMessage(errText, caseID string) string {
	if caseID != "" {
		return fmt.Sprintf("❌ Error for case %s: %s", caseID, errText)
	}
	return fmt.Sprintf("❌ Error: %s", errText)
}
