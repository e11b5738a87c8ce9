// Package webhook receives verified Slack traffic, normalizes it and
// publishes detail events for the sync pipeline. Slash commands are
// validated here and handed to the command handler asynchronously.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/security-ir/slacksync/pkg/mapper"
	"github.com/security-ir/slacksync/pkg/model"
)

// Source marks every event this handler publishes
const Source = "slack"

// Detail types published to the event bus
const (
	DetailMessageAdded  = "Message Added"
	DetailMemberAdded   = "Channel Member Added"
	DetailMemberRemoved = "Channel Member Removed"
	DetailFileUploaded  = "File Uploaded"
	DetailFileError     = "File Upload Error"
)

// SlackAPI defines the Slack Web API methods the handler uses
type SlackAPI interface {
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
}

// Publisher puts events on the bus
type Publisher interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Invoker starts the command handler
type Invoker interface {
	Invoke(ctx context.Context, params *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// CaseResolver maps a channel back to its case
type CaseResolver interface {
	FindCaseBySlackChannel(ctx context.Context, channelID string) (string, error)
}

// MessageDetail is the normalized payload for a channel message
type MessageDetail struct {
	CaseID      string `json:"caseId"`
	ChannelID   string `json:"channelId"`
	MessageID   string `json:"messageId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
	ThreadTS    string `json:"threadTs,omitempty"`
	MessageType string `json:"messageType"`
}

// MembershipDetail is the normalized payload for a join or leave
type MembershipDetail struct {
	CaseID    string `json:"caseId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	EventType string `json:"eventType"`
	Timestamp string `json:"timestamp"`
}

// FileDetail is the normalized payload for an uploaded file. Content is
// not embedded; the sync pipeline downloads from the URL.
type FileDetail struct {
	CaseID         string `json:"caseId"`
	ChannelID      string `json:"channelId"`
	FileID         string `json:"fileId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	Filename       string `json:"filename"`
	FileSize       int    `json:"fileSize"`
	Mimetype       string `json:"mimetype"`
	Title          string `json:"title,omitempty"`
	InitialComment string `json:"initialComment,omitempty"`
	DownloadURL    string `json:"downloadUrl"`
}

// FileErrorDetail records a file that could not be forwarded
type FileErrorDetail struct {
	CaseID    string `json:"caseId"`
	ChannelID string `json:"channelId"`
	FileID    string `json:"fileId"`
	UserID    string `json:"userId"`
	Filename  string `json:"filename,omitempty"`
	FileSize  int    `json:"fileSize,omitempty"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// CommandPayload is the slash-command payload forwarded to the command
// handler once the channel and case have been resolved
type CommandPayload struct {
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

// Handler processes inbound Slack traffic
type Handler struct {
	slack     SlackAPI
	bus       Publisher
	invoker   Invoker
	cases     CaseResolver
	busName   string
	commandFn string
}

// NewHandler returns a webhook handler
func NewHandler(api SlackAPI, bus Publisher, invoker Invoker, cases CaseResolver, busName, commandFn string) *Handler {
	return &Handler{
		slack:     api,
		bus:       bus,
		invoker:   invoker,
		cases:     cases,
		busName:   busName,
		commandFn: commandFn,
	}
}

// HandleEvent processes one Events API request body and returns the
// response body to send back to Slack
func (h *Handler) HandleEvent(ctx context.Context, body string) (string, error) {

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return "", fmt.Errorf("could not parse slack event: %v", err)
	}

	switch ev.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal([]byte(body), &challenge); err != nil {
			return "", fmt.Errorf("could not unmarshal challenge: %v", err)
		}
		return challenge.Challenge, nil

	case slackevents.CallbackEvent:
		return "", h.handleCallback(ctx, ev.InnerEvent)

	default:
		fmt.Printf("ignoring event of type %v\n", ev.Type)
		return "", nil
	}
}

func (h *Handler) handleCallback(ctx context.Context, inner slackevents.EventsAPIInnerEvent) error {

	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		return h.handleMessage(ctx, ev)
	case *slackevents.MemberJoinedChannelEvent:
		return h.handleMembership(ctx, ev.Channel, ev.User, ev.EventTimestamp, true)
	case *slackevents.MemberLeftChannelEvent:
		return h.handleMembership(ctx, ev.Channel, ev.User, ev.EventTimestamp, false)
	case *slackevents.FileSharedEvent:
		return h.handleFileShared(ctx, ev)
	default:
		fmt.Printf("ignoring inner event of type %v\n", inner.Type)
		return nil
	}
}

func (h *Handler) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) error {

	msg := model.Message{
		ChannelID: ev.Channel,
		UserID:    ev.User,
		Text:      ev.Text,
		Timestamp: ev.TimeStamp,
		ThreadTS:  ev.ThreadTimeStamp,
		SubType:   ev.SubType,
		BotID:     ev.BotID,
	}

	if msg.IsBot() {
		fmt.Println("skipping bot message")
		return nil
	}
	if strings.Contains(msg.Text, mapper.SystemCommentTag) {
		fmt.Println("skipping system tagged message")
		return nil
	}
	if err := msg.Validate(); err != nil {
		fmt.Printf("dropping malformed message event: %v\n", err)
		return nil
	}

	if ok, err := h.isIncidentChannel(ctx, ev.Channel); err != nil || !ok {
		return err
	}

	caseID, err := h.resolveCase(ctx, ev.Channel)
	if err != nil || caseID == "" {
		return err
	}

	detail := MessageDetail{
		CaseID:      caseID,
		ChannelID:   ev.Channel,
		MessageID:   ev.TimeStamp,
		UserID:      ev.User,
		UserName:    h.userName(ctx, ev.User),
		Text:        ev.Text,
		Timestamp:   ev.TimeStamp,
		ThreadTS:    ev.ThreadTimeStamp,
		MessageType: "user_message",
	}

	if err := h.publish(ctx, DetailMessageAdded, detail); err != nil {
		return err
	}
	fmt.Printf("processed message from %v in case %v\n", ev.User, caseID)
	return nil
}

func (h *Handler) handleMembership(ctx context.Context, channelID, userID, eventTS string, joined bool) error {

	ok, err := h.isIncidentChannel(ctx, channelID)
	if err != nil || !ok {
		return err
	}

	caseID, err := h.resolveCase(ctx, channelID)
	if err != nil || caseID == "" {
		return err
	}

	eventType, detailType := "member_left", DetailMemberRemoved
	if joined {
		eventType, detailType = "member_joined", DetailMemberAdded
	}

	detail := MembershipDetail{
		CaseID:    caseID,
		ChannelID: channelID,
		UserID:    userID,
		UserName:  h.userName(ctx, userID),
		EventType: eventType,
		Timestamp: eventTS,
	}

	if err := h.publish(ctx, detailType, detail); err != nil {
		return err
	}
	fmt.Printf("processed %v for %v in case %v\n", eventType, userID, caseID)
	return nil
}

func (h *Handler) handleFileShared(ctx context.Context, ev *slackevents.FileSharedEvent) error {

	ok, err := h.isIncidentChannel(ctx, ev.ChannelID)
	if err != nil || !ok {
		return err
	}

	caseID, err := h.resolveCase(ctx, ev.ChannelID)
	if err != nil || caseID == "" {
		return err
	}

	file, _, _, err := h.slack.GetFileInfoContext(ctx, ev.FileID, 0, 0)
	if err != nil {
		fmt.Printf("could not get file info for %v: %v\n", ev.FileID, err)
		return h.publish(ctx, DetailFileError, FileErrorDetail{
			CaseID:    caseID,
			ChannelID: ev.ChannelID,
			FileID:    ev.FileID,
			UserID:    ev.UserID,
			Error:     fmt.Sprintf("could not retrieve file information: %v", err),
			ErrorType: "file_info_retrieval_failed",
		})
	}

	att := model.Attachment{
		FileID:         ev.FileID,
		Filename:       file.Name,
		URL:            file.URLPrivateDownload,
		Size:           int64(file.Size),
		MimeType:       file.Mimetype,
		Title:          file.Title,
		UserID:         ev.UserID,
		ChannelID:      ev.ChannelID,
		InitialComment: file.InitialComment.Comment,
	}
	if err := att.Validate(); err != nil {
		fmt.Printf("file %v failed validation: %v\n", ev.FileID, err)
		return h.publish(ctx, DetailFileError, FileErrorDetail{
			CaseID:    caseID,
			ChannelID: ev.ChannelID,
			FileID:    ev.FileID,
			UserID:    ev.UserID,
			Filename:  file.Name,
			Error:     fmt.Sprintf("invalid file metadata: %v", err),
			ErrorType: "invalid_file_metadata",
		})
	}

	if file.Size >= mapper.MaxAttachmentBytes {
		fmt.Printf("file %v size %v exceeds attachment ceiling\n", ev.FileID, file.Size)
		return h.publish(ctx, DetailFileError, FileErrorDetail{
			CaseID:    caseID,
			ChannelID: ev.ChannelID,
			FileID:    ev.FileID,
			UserID:    ev.UserID,
			Filename:  file.Name,
			FileSize:  file.Size,
			Error:     fmt.Sprintf("file size %v bytes exceeds the %v byte limit", file.Size, mapper.MaxAttachmentBytes),
			ErrorType: "file_size_exceeded",
		})
	}

	if !att.Downloadable() {
		return h.publish(ctx, DetailFileError, FileErrorDetail{
			CaseID:    caseID,
			ChannelID: ev.ChannelID,
			FileID:    ev.FileID,
			UserID:    ev.UserID,
			Filename:  file.Name,
			Error:     "no download url available for file",
			ErrorType: "download_url_missing",
		})
	}

	detail := FileDetail{
		CaseID:         caseID,
		ChannelID:      att.ChannelID,
		FileID:         att.FileID,
		UserID:         att.UserID,
		UserName:       h.userName(ctx, ev.UserID),
		Filename:       att.Filename,
		FileSize:       file.Size,
		Mimetype:       att.MimeType,
		Title:          att.Title,
		InitialComment: att.InitialComment,
		DownloadURL:    att.URL,
	}

	if err := h.publish(ctx, DetailFileUploaded, detail); err != nil {
		return err
	}
	fmt.Printf("processed file upload %v (%v) in case %v\n", ev.FileID, file.Name, caseID)
	return nil
}

// HandleCommand validates a slash command and forwards it to the command
// handler. Validation failures are answered ephemerally, not returned as
// errors, so Slack does not retry.
func (h *Handler) HandleCommand(ctx context.Context, cmd model.Command) error {

	if err := cmd.Validate(); err != nil {
		return h.ephemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("invalid command: %v", err))
	}

	channel, err := h.slack.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: cmd.ChannelID})
	if err != nil {
		fmt.Printf("could not get channel info: %v\n", err)
		return h.ephemeral(ctx, cmd.ChannelID, cmd.UserID, "could not verify channel information")
	}

	if !mapper.IsIncidentChannel(channel.Name) {
		return h.ephemeral(ctx, cmd.ChannelID, cmd.UserID, "security IR commands can only be used in incident channels")
	}

	caseID, err := h.resolveCase(ctx, cmd.ChannelID)
	if err != nil || caseID == "" {
		return h.ephemeral(ctx, cmd.ChannelID, cmd.UserID, "could not find associated case for this channel")
	}

	payload, err := json.Marshal(CommandPayload{
		Command:     cmd.Command,
		Text:        cmd.Text,
		UserID:      cmd.UserID,
		UserName:    cmd.UserName,
		ChannelID:   cmd.ChannelID,
		ChannelName: channel.Name,
		TeamID:      cmd.TeamID,
		ResponseURL: cmd.ResponseURL,
		TriggerID:   cmd.TriggerID,
		CaseID:      caseID,
	})
	if err != nil {
		return fmt.Errorf("could not marshal command payload: %v", err)
	}

	_, err = h.invoker.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(h.commandFn),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		fmt.Printf("could not invoke command handler: %v\n", err)
		return h.ephemeral(ctx, cmd.ChannelID, cmd.UserID, "could not process command, please try again later")
	}

	fmt.Printf("routed command %q to handler for case %v\n", cmd.Text, caseID)
	return nil
}

func (h *Handler) isIncidentChannel(ctx context.Context, channelID string) (bool, error) {

	channel, err := h.slack.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return false, fmt.Errorf("could not get channel info for %v: %v", channelID, err)
	}
	if !mapper.IsIncidentChannel(channel.Name) {
		fmt.Printf("ignoring event for non-incident channel %v\n", channel.Name)
		return false, nil
	}
	return true, nil
}

func (h *Handler) resolveCase(ctx context.Context, channelID string) (string, error) {

	caseID, err := h.cases.FindCaseBySlackChannel(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("could not resolve case for channel %v: %v", channelID, err)
	}
	if caseID == "" {
		fmt.Printf("no case mapped to channel %v\n", channelID)
	}
	return caseID, nil
}

// userName resolves a display name, falling back to the raw ID
func (h *Handler) userName(ctx context.Context, userID string) string {

	user, err := h.slack.GetUserInfoContext(ctx, userID)
	if err != nil || user == nil {
		fmt.Printf("could not get user info for %v: %v\n", userID, err)
		return userID
	}
	if user.RealName != "" {
		return user.RealName
	}
	return user.Name
}

func (h *Handler) publish(ctx context.Context, detailType string, detail interface{}) error {

	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("could not marshal %v detail: %v", detailType, err)
	}

	resp, err := h.bus.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			Source:       aws.String(Source),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(body)),
			EventBusName: aws.String(h.busName),
		}},
	})
	if err != nil {
		return fmt.Errorf("could not publish %v event: %v", detailType, err)
	}
	if resp.FailedEntryCount > 0 {
		return fmt.Errorf("event bus rejected %v event", detailType)
	}
	return nil
}

func (h *Handler) ephemeral(ctx context.Context, channelID, userID, text string) error {

	_, err := h.slack.PostEphemeralContext(ctx, channelID, userID,
		slack.MsgOptionText(mapper.ErrorMessage(text, ""), false))
	if err != nil {
		return fmt.Errorf("could not send ephemeral message: %v", err)
	}
	return nil
}
