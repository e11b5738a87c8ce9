package mapper

import (
	"strings"
	"testing"

	"github.com/security-ir/slacksync/pkg/model"
)

func TestChannelNameRoundTrip(t *testing.T) {

	name := ChannelName("12345")
	if name != "aws-security-incident-response-case-12345" {
		t.Errorf("unexpected channel name: %v", name)
	}

	id, ok := CaseIDFromChannelName(name)
	if !ok || id != "12345" {
		t.Errorf("expected case id 12345, got %q (ok=%v)", id, ok)
	}

	if _, ok := CaseIDFromChannelName("general"); ok {
		t.Error("expected no case id for non-incident channel")
	}
}

func TestIsIncidentChannel(t *testing.T) {

	if !IsIncidentChannel("aws-security-incident-response-case-9") {
		t.Error("expected incident channel")
	}
	if IsIncidentChannel("random-channel") {
		t.Error("expected non-incident channel")
	}
}

func TestChannelTopic(t *testing.T) {

	tt := []struct {
		name string
		c    Case
		want string
	}{
		{
			name: "mapped status and severity",
			c:    Case{Title: "Exposed key", Status: "Closed", Severity: "High"},
			want: "🟠 ✅ Closed | Exposed key",
		},
		{
			name: "unknown values fall back",
			c:    Case{Status: "Mystery", Severity: "Mystery"},
			want: "⚪ 🔍 Under Investigation | Security Incident",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChannelTopic(tc.c); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCommentFromMessage(t *testing.T) {

	m := &model.Message{
		UserID:    "U01234ABCD",
		UserName:  "alice",
		Text:      "we rotated the key",
		Timestamp: "1700000000.000100",
	}

	got := CommentFromMessage(m)
	if !strings.HasPrefix(got, "[Slack Message from alice at 2023-11-14") {
		t.Errorf("unexpected comment header: %v", got)
	}
	if !strings.HasSuffix(got, "\nwe rotated the key") {
		t.Errorf("expected message text in comment, got: %v", got)
	}

	// no user name falls back to the user id
	m.UserName = ""
	if got := CommentFromMessage(m); !strings.Contains(got, "from U01234ABCD") {
		t.Errorf("expected user id attribution, got: %v", got)
	}
}

func TestSystemCommentSkipsItself(t *testing.T) {

	c := SystemComment("User alice joined the Slack channel", "Timestamp: 1700000000")
	if !strings.Contains(c, SystemCommentTag) {
		t.Errorf("expected system tag in comment: %v", c)
	}
	if !strings.Contains(c, "Error Details: Timestamp: 1700000000") {
		t.Errorf("expected details in comment: %v", c)
	}
	if !ShouldSkipComment(c) {
		t.Error("expected system comment to be skipped")
	}
	if ShouldSkipComment("an ordinary analyst comment") {
		t.Error("expected ordinary comment not to be skipped")
	}
}

func TestErrorMessage(t *testing.T) {

	if got := ErrorMessage("boom", "123"); got != "❌ Error for case 123: boom" {
		t.Errorf("unexpected error message: %v", got)
	}
	if got := ErrorMessage("boom", ""); got != "❌ Error: boom" {
		t.Errorf("unexpected error message: %v", got)
	}
}

func TestNotificationBlocks(t *testing.T) {

	text, blocks := Notification(Case{
		CaseID:           "777",
		Title:            "Suspicious console login",
		Status:           "Acknowledged",
		Severity:         "Critical",
		CreatedDate:      "2026-08-01T00:00:00Z",
		ImpactedAccounts: []string{"111122223333"},
	})

	if text != "New Security Incident: 777" {
		t.Errorf("unexpected fallback text: %v", text)
	}
	// header, fields, description, impact, divider, commands
	if len(blocks) != 6 {
		t.Errorf("expected 6 blocks, got %d", len(blocks))
	}
}
