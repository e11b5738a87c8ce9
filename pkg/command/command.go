// Package command executes /security-ir slash commands against the case
// system and answers through the Slack response URL.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/securityir"

	"github.com/security-ir/slacksync/pkg/mapper"
	"github.com/security-ir/slacksync/pkg/model"
)

const helpText = "Available commands:\n" +
	"• `/security-ir status` — show the current case status\n" +
	"• `/security-ir update-title <title>` — change the case title\n" +
	"• `/security-ir update-description <description>` — change the case description\n" +
	"• `/security-ir close` — close the case"

// CaseAPI defines the case system methods used by the handler
type CaseAPI interface {
	GetCase(ctx context.Context, params *securityir.GetCaseInput, optFns ...func(*securityir.Options)) (*securityir.GetCaseOutput, error)
	UpdateCase(ctx context.Context, params *securityir.UpdateCaseInput, optFns ...func(*securityir.Options)) (*securityir.UpdateCaseOutput, error)
	CloseCase(ctx context.Context, params *securityir.CloseCaseInput, optFns ...func(*securityir.Options)) (*securityir.CloseCaseOutput, error)
}

// Payload is the forwarded slash-command event
type Payload struct {
	Command     string `json:"command"`
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	TeamID      string `json:"team_id"`
	ResponseURL string `json:"response_url"`
	TriggerID   string `json:"trigger_id"`
	CaseID      string `json:"case_id"`
}

// response is the body posted back to the Slack response URL
type response struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Handler runs one slash command per invocation
type Handler struct {
	sir  CaseAPI
	http *http.Client
}

// NewHandler returns a command handler
func NewHandler(sir CaseAPI) *Handler {
	return &Handler{
		sir:  sir,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Handle dispatches the subcommand and answers via the response URL.
// Command failures are reported to the user rather than returned, so the
// platform does not retry a command the user already saw fail.
func (h *Handler) Handle(ctx context.Context, p Payload) error {

	if p.CaseID == "" || p.ResponseURL == "" {
		return fmt.Errorf("command payload is missing case id or response url")
	}

	cmd := model.Command{Command: p.Command, Text: p.Text}
	sub, args := cmd.Subcommand()
	fmt.Printf("running %q for case %v\n", sub, p.CaseID)

	var text string
	var err error

	switch sub {
	case "status":
		text, err = h.status(ctx, p.CaseID)
	case "update-title":
		text, err = h.updateTitle(ctx, p.CaseID, args)
	case "update-description":
		text, err = h.updateDescription(ctx, p.CaseID, args)
	case "close":
		text, err = h.close(ctx, p.CaseID)
	default:
		text = helpText
	}

	if err != nil {
		fmt.Printf("command %q failed: %v\n", sub, err)
		text = mapper.ErrorMessage(err.Error(), p.CaseID)
	}

	return h.respond(ctx, p.ResponseURL, text)
}

func (h *Handler) status(ctx context.Context, caseID string) (string, error) {

	resp, err := h.sir.GetCase(ctx, &securityir.GetCaseInput{CaseId: aws.String(caseID)})
	if err != nil {
		return "", fmt.Errorf("could not get case: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Case %v*\n", caseID)
	if title := aws.ToString(resp.Title); title != "" {
		fmt.Fprintf(&b, "*Title:* %v\n", title)
	}
	fmt.Fprintf(&b, "*Status:* %v\n", resp.CaseStatus)
	if resp.LastUpdatedDate != nil {
		fmt.Fprintf(&b, "*Last updated:* %v", resp.LastUpdatedDate.UTC().Format(time.RFC3339))
	}
	return b.String(), nil
}

func (h *Handler) updateTitle(ctx context.Context, caseID, title string) (string, error) {

	if title == "" {
		return "", fmt.Errorf("usage: /security-ir update-title <title>")
	}

	_, err := h.sir.UpdateCase(ctx, &securityir.UpdateCaseInput{
		CaseId: aws.String(caseID),
		Title:  aws.String(title),
	})
	if err != nil {
		return "", fmt.Errorf("could not update title: %v", err)
	}
	return fmt.Sprintf("✅ Title for case %v updated to %q", caseID, title), nil
}

func (h *Handler) updateDescription(ctx context.Context, caseID, description string) (string, error) {

	if description == "" {
		return "", fmt.Errorf("usage: /security-ir update-description <description>")
	}

	_, err := h.sir.UpdateCase(ctx, &securityir.UpdateCaseInput{
		CaseId:      aws.String(caseID),
		Description: aws.String(description),
	})
	if err != nil {
		return "", fmt.Errorf("could not update description: %v", err)
	}
	return fmt.Sprintf("✅ Description for case %v updated", caseID), nil
}

func (h *Handler) close(ctx context.Context, caseID string) (string, error) {

	_, err := h.sir.CloseCase(ctx, &securityir.CloseCaseInput{CaseId: aws.String(caseID)})
	if err != nil {
		return "", fmt.Errorf("could not close case: %v", err)
	}
	return fmt.Sprintf("✅ Case %v closed", caseID), nil
}

// respond posts an ephemeral answer to the response URL
func (h *Handler) respond(ctx context.Context, responseURL, text string) error {

	body, err := json.Marshal(response{ResponseType: "ephemeral", Text: text})
	if err != nil {
		return fmt.Errorf("could not marshal response: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("could not make response request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not post to response url: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("response url returned %v", resp.StatusCode)
	}
	return nil
}
