// Package syncer keeps case-system cases and Slack incident channels in
// step. Case events flow into channels, channel activity flows back into
// case comments, attachments move in both directions within the size
// ceiling.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/securityir"
	"github.com/slack-go/slack"

	"github.com/security-ir/slacksync/pkg/casedb"
	"github.com/security-ir/slacksync/pkg/mapper"
	"github.com/security-ir/slacksync/pkg/model"
)

// Event bus sources the syncer consumes
const (
	SlackSource = "slack"
	CaseSource  = "security-ir"
)

// caseArnID extracts the numeric case ID from a case ARN
var caseArnID = regexp.MustCompile(`/(\d+)$`)

// Envelope is the normalized event bus envelope
type Envelope struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// SlackAPI defines the Slack Web API methods the syncer uses
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	SetTopicOfConversationContext(ctx context.Context, channelID, topic string) (*slack.Channel, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// CaseAPI defines the case system methods the syncer uses
type CaseAPI interface {
	CreateCaseComment(ctx context.Context, params *securityir.CreateCaseCommentInput, optFns ...func(*securityir.Options)) (*securityir.CreateCaseCommentOutput, error)
	GetCaseAttachmentDownloadUrl(ctx context.Context, params *securityir.GetCaseAttachmentDownloadUrlInput, optFns ...func(*securityir.Options)) (*securityir.GetCaseAttachmentDownloadUrlOutput, error)
}

// Store defines the sync state operations the syncer uses
type Store interface {
	Get(ctx context.Context, caseID string) (*casedb.Record, error)
	ChannelID(ctx context.Context, caseID string) (string, error)
	UpdateMapping(ctx context.Context, caseID, channelID string) error
	UpdateDetails(ctx context.Context, caseID string, title, description *string, comments []string) error
	AddComment(ctx context.Context, caseID, comment string) (bool, error)
	HasComment(ctx context.Context, caseID, comment string) (bool, error)
	FindCaseBySlackChannel(ctx context.Context, channelID string) (string, error)
	IsMessageSynced(ctx context.Context, caseID, ts, user, text string) (bool, error)
	MarkMessageSynced(ctx context.Context, caseID string, msg casedb.SyncedMessage) error
}

// MessageDetail is the message payload from the webhook handler
type MessageDetail struct {
	CaseID    string `json:"caseId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	ThreadTS  string `json:"threadTs,omitempty"`
}

// MembershipDetail is the join/leave payload from the webhook handler
type MembershipDetail struct {
	CaseID    string `json:"caseId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	EventType string `json:"eventType"`
	Timestamp string `json:"timestamp"`
}

// FileDetail is the file payload from the webhook handler
type FileDetail struct {
	CaseID    string `json:"caseId"`
	ChannelID string `json:"channelId"`
	FileID    string `json:"fileId"`
	UserID    string `json:"userId"`
	Filename  string `json:"filename"`
	FileSize  int    `json:"fileSize"`
}

// CaseDetail is the case event payload from the case system. Pointer
// fields distinguish absent attributes from empty ones.
type CaseDetail struct {
	EventType        string           `json:"eventType"`
	CaseArn          string           `json:"caseArn"`
	Title            *string          `json:"title,omitempty"`
	Description      *string          `json:"description,omitempty"`
	CaseStatus       *string          `json:"caseStatus,omitempty"`
	Severity         string           `json:"severity,omitempty"`
	CreatedDate      string           `json:"createdDate,omitempty"`
	LastUpdated      string           `json:"lastUpdated,omitempty"`
	ImpactedAccounts []string         `json:"impactedAccounts,omitempty"`
	ImpactedRegions  []string         `json:"impactedRegions,omitempty"`
	CaseComments     []CaseComment    `json:"caseComments,omitempty"`
	CaseAttachments  []CaseAttachment `json:"caseAttachments,omitempty"`
}

// CaseComment is one comment in a case event
type CaseComment struct {
	Body        string `json:"body"`
	CreatedDate string `json:"createdDate"`
	CreatedBy   string `json:"createdBy"`
}

// CaseAttachment is one attachment descriptor in a case event
type CaseAttachment struct {
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"fileName"`
	Size         int64  `json:"size"`
}

// Syncer applies events on both directions of the integration
type Syncer struct {
	slack SlackAPI
	sir   CaseAPI
	store Store
	http  *http.Client
}

// New returns a syncer
func New(api SlackAPI, sir CaseAPI, store Store) *Syncer {
	return &Syncer{
		slack: api,
		sir:   sir,
		store: store,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ProcessSlackEvent applies one Slack-side event to the case system
func (s *Syncer) ProcessSlackEvent(ctx context.Context, env Envelope) error {

	switch env.DetailType {
	case "Message Added":
		return s.syncMessage(ctx, env.Detail)
	case "Channel Member Added", "Channel Member Removed":
		return s.syncMembership(ctx, env.Detail)
	case "File Uploaded":
		var detail FileDetail
		if err := json.Unmarshal(env.Detail, &detail); err != nil {
			return fmt.Errorf("could not unmarshal file detail: %v", err)
		}
		fmt.Printf("file upload recorded for case %v: %v\n", detail.CaseID, detail.Filename)
		return nil
	default:
		// unrecognized events are tolerated so new producers can ship
		// ahead of this consumer
		fmt.Printf("unhandled slack event type %q\n", env.DetailType)
		return nil
	}
}

func (s *Syncer) syncMessage(ctx context.Context, raw json.RawMessage) error {

	var detail MessageDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return fmt.Errorf("could not unmarshal message detail: %v", err)
	}

	caseID, err := s.resolveCase(ctx, detail.CaseID, detail.ChannelID)
	if err != nil {
		return err
	}

	if strings.TrimSpace(detail.Text) == "" {
		fmt.Println("skipping empty message")
		return nil
	}
	if mapper.ShouldSkipComment(detail.Text) {
		fmt.Println("skipping system tagged message")
		return nil
	}

	synced, err := s.store.IsMessageSynced(ctx, caseID, detail.MessageID, detail.UserID, detail.Text)
	if err != nil {
		return err
	}
	if synced {
		fmt.Printf("message %v already synced to case %v\n", detail.MessageID, caseID)
		return nil
	}

	comment := mapper.CommentFromMessage(&model.Message{
		ChannelID: detail.ChannelID,
		UserID:    detail.UserID,
		UserName:  detail.UserName,
		Text:      detail.Text,
		Timestamp: detail.Timestamp,
		ThreadTS:  detail.ThreadTS,
	})

	_, err = s.sir.CreateCaseComment(ctx, &securityir.CreateCaseCommentInput{
		CaseId: aws.String(caseID),
		Body:   aws.String(comment),
	})
	if err != nil {
		return fmt.Errorf("could not add comment to case %v: %v", caseID, err)
	}

	err = s.store.MarkMessageSynced(ctx, caseID, casedb.SyncedMessage{
		TS:   detail.MessageID,
		User: detail.UserID,
		Text: detail.Text,
	})
	if err != nil {
		return err
	}

	fmt.Printf("synced message %v to case %v\n", detail.MessageID, caseID)
	return nil
}

// syncMembership always posts; join/leave events carry no natural dedup
// key beyond their timestamp
func (s *Syncer) syncMembership(ctx context.Context, raw json.RawMessage) error {

	var detail MembershipDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return fmt.Errorf("could not unmarshal membership detail: %v", err)
	}

	caseID, err := s.resolveCase(ctx, detail.CaseID, detail.ChannelID)
	if err != nil {
		return err
	}

	name := detail.UserName
	if name == "" {
		name = detail.UserID
	}

	verb := "left"
	if detail.EventType == "member_joined" {
		verb = "joined"
	}

	comment := mapper.SystemComment(
		fmt.Sprintf("User %v %v the Slack channel", name, verb),
		fmt.Sprintf("Timestamp: %v", detail.Timestamp),
	)

	_, err = s.sir.CreateCaseComment(ctx, &securityir.CreateCaseCommentInput{
		CaseId: aws.String(caseID),
		Body:   aws.String(comment),
	})
	if err != nil {
		return fmt.Errorf("could not add membership comment to case %v: %v", caseID, err)
	}

	fmt.Printf("recorded %v %v for case %v\n", name, verb, caseID)
	return nil
}

// ProcessCaseEvent applies one case-system event to Slack
func (s *Syncer) ProcessCaseEvent(ctx context.Context, env Envelope) error {

	var detail CaseDetail
	if err := json.Unmarshal(env.Detail, &detail); err != nil {
		return fmt.Errorf("could not unmarshal case detail: %v", err)
	}

	caseID, err := caseIDFromArn(detail.CaseArn)
	if err != nil {
		return err
	}

	fmt.Printf("processing %v for case %v\n", detail.EventType, caseID)

	switch detail.EventType {
	case "CaseCreated":
		return s.createChannel(ctx, caseID, detail)
	case "CaseUpdated":
		return s.updateChannel(ctx, caseID, detail)
	case "CommentAdded":
		return s.syncComment(ctx, caseID, detail)
	case "AttachmentAdded":
		if len(detail.CaseAttachments) == 0 {
			fmt.Printf("no attachments in event for case %v\n", caseID)
			return nil
		}
		latest := detail.CaseAttachments[len(detail.CaseAttachments)-1]
		return s.SyncAttachment(ctx, caseID, latest)
	default:
		fmt.Printf("unhandled case event type %q\n", detail.EventType)
		return nil
	}
}

func (s *Syncer) createChannel(ctx context.Context, caseID string, detail CaseDetail) error {

	channel, err := s.slack.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: mapper.ChannelName(caseID),
		IsPrivate:   true,
	})
	if err != nil {
		s.systemComment(ctx, caseID, "Failed to create Slack channel", err.Error())
		return fmt.Errorf("could not create channel for case %v: %v", caseID, err)
	}

	record := model.Channel{ID: channel.ID, Name: channel.Name, CaseID: caseID}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("created channel for case %v is malformed: %v", caseID, err)
	}

	c := toMapperCase(caseID, detail)
	if _, err := s.slack.SetTopicOfConversationContext(ctx, channel.ID, mapper.ChannelTopic(c)); err != nil {
		fmt.Printf("could not set channel topic: %v\n", err)
	}

	if err := s.store.UpdateMapping(ctx, caseID, channel.ID); err != nil {
		return err
	}
	if err := s.store.UpdateDetails(ctx, caseID, detail.Title, detail.Description, nil); err != nil {
		return err
	}

	text, blocks := mapper.Notification(c)
	if _, _, err := s.slack.PostMessageContext(ctx, channel.ID,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)); err != nil {
		return fmt.Errorf("could not post notification for case %v: %v", caseID, err)
	}

	s.systemComment(ctx, caseID,
		fmt.Sprintf("Slack channel created: #%v (ID: %v)", mapper.ChannelName(caseID), channel.ID), "")

	fmt.Printf("created channel %v for case %v\n", channel.ID, caseID)
	return nil
}

func (s *Syncer) updateChannel(ctx context.Context, caseID string, detail CaseDetail) error {

	channelID, err := s.store.ChannelID(ctx, caseID)
	if err != nil {
		return err
	}
	if channelID == "" {
		fmt.Printf("no channel mapped to case %v, creating one\n", caseID)
		return s.createChannel(ctx, caseID, detail)
	}

	c := toMapperCase(caseID, detail)
	kind := updateType(detail)

	if kind == "status" {
		if _, err := s.slack.SetTopicOfConversationContext(ctx, channelID, mapper.ChannelTopic(c)); err != nil {
			fmt.Printf("could not update channel topic: %v\n", err)
		}
	}

	text, blocks := mapper.UpdateMessage(c, kind)
	if _, _, err := s.slack.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)); err != nil {
		s.systemComment(ctx, caseID, fmt.Sprintf("Failed to update Slack channel for %v change", kind), err.Error())
		return fmt.Errorf("could not post update for case %v: %v", caseID, err)
	}

	if err := s.store.UpdateDetails(ctx, caseID, detail.Title, detail.Description, nil); err != nil {
		return err
	}

	fmt.Printf("posted %v update for case %v\n", kind, caseID)
	return nil
}

// syncComment mirrors the newest case comment into the channel, once
func (s *Syncer) syncComment(ctx context.Context, caseID string, detail CaseDetail) error {

	if len(detail.CaseComments) == 0 {
		fmt.Printf("no comments in event for case %v\n", caseID)
		return nil
	}
	latest := detail.CaseComments[len(detail.CaseComments)-1]

	if mapper.ShouldSkipComment(latest.Body) {
		fmt.Printf("skipping system comment for case %v\n", caseID)
		return nil
	}

	channelID, err := s.store.ChannelID(ctx, caseID)
	if err != nil {
		return err
	}
	if channelID == "" {
		return fmt.Errorf("no channel mapped to case %v", caseID)
	}

	seen, err := s.store.HasComment(ctx, caseID, latest.Body)
	if err != nil {
		return err
	}
	if seen {
		fmt.Printf("comment already mirrored for case %v\n", caseID)
		return nil
	}

	added, err := s.store.AddComment(ctx, caseID, latest.Body)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("comment already mirrored for case %v\n", caseID)
		return nil
	}

	text, blocks := mapper.CommentMessage(caseID, latest.CreatedBy, latest.Body, latest.CreatedDate)
	if _, _, err := s.slack.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)); err != nil {
		return fmt.Errorf("could not post comment for case %v: %v", caseID, err)
	}

	fmt.Printf("mirrored comment to channel %v for case %v\n", channelID, caseID)
	return nil
}

// SyncAttachment moves one case attachment into the mapped channel. Files
// at or above the ceiling are refused before any transfer is attempted.
func (s *Syncer) SyncAttachment(ctx context.Context, caseID string, att CaseAttachment) error {

	if att.AttachmentID == "" {
		return fmt.Errorf("attachment for case %v is missing its id", caseID)
	}

	channelID, err := s.store.ChannelID(ctx, caseID)
	if err != nil {
		return err
	}
	if channelID == "" {
		return fmt.Errorf("no channel mapped to case %v", caseID)
	}

	filename := att.Filename
	if filename == "" {
		filename = "attachment"
	}

	if att.Size >= mapper.MaxAttachmentBytes {
		s.systemComment(ctx, caseID,
			fmt.Sprintf("Large attachment %q (%v bytes) could not be uploaded to Slack due to size limits", filename, att.Size), "")
		return fmt.Errorf("attachment %v exceeds the size ceiling", att.AttachmentID)
	}

	content, err := s.downloadAttachment(ctx, caseID, att.AttachmentID)
	if err != nil {
		s.slackError(ctx, channelID, fmt.Sprintf("Failed to sync attachment %q: %v", filename, err), caseID)
		s.systemComment(ctx, caseID, fmt.Sprintf("Failed to sync attachment %q to Slack", filename), err.Error())
		return err
	}

	if int64(len(content)) >= mapper.MaxAttachmentBytes {
		s.systemComment(ctx, caseID,
			fmt.Sprintf("Large attachment %q (%v bytes) could not be uploaded to Slack due to size limits", filename, len(content)), "")
		return fmt.Errorf("attachment %v exceeds the size ceiling", att.AttachmentID)
	}

	_, err = s.slack.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:         bytes.NewReader(content),
		FileSize:       len(content),
		Filename:       filename,
		Title:          fmt.Sprintf("Attachment from AWS SIR Case %v", caseID),
		InitialComment: fmt.Sprintf("📎 Attachment from AWS Security Incident Response case %v", caseID),
		Channel:        channelID,
	})
	if err != nil {
		s.systemComment(ctx, caseID, fmt.Sprintf("Failed to upload attachment %q to Slack", filename), "")
		return fmt.Errorf("could not upload attachment %v: %v", att.AttachmentID, err)
	}

	fmt.Printf("synced attachment %v to channel %v for case %v\n", filename, channelID, caseID)
	return nil
}

// SyncAttachments syncs a batch, succeeding trivially on an empty list
func (s *Syncer) SyncAttachments(ctx context.Context, caseID string, atts []CaseAttachment) error {

	if len(atts) == 0 {
		fmt.Printf("no attachments to sync for case %v\n", caseID)
		return nil
	}

	var failed int
	for _, att := range atts {
		if err := s.SyncAttachment(ctx, caseID, att); err != nil {
			fmt.Printf("could not sync attachment %v: %v\n", att.AttachmentID, err)
			failed++
		}
	}

	fmt.Printf("synced %v/%v attachments for case %v\n", len(atts)-failed, len(atts), caseID)
	if failed > 0 {
		return fmt.Errorf("%v of %v attachments failed to sync", failed, len(atts))
	}
	return nil
}

func (s *Syncer) downloadAttachment(ctx context.Context, caseID, attachmentID string) ([]byte, error) {

	resp, err := s.sir.GetCaseAttachmentDownloadUrl(ctx, &securityir.GetCaseAttachmentDownloadUrlInput{
		CaseId:       aws.String(caseID),
		AttachmentId: aws.String(attachmentID),
	})
	if err != nil {
		return nil, fmt.Errorf("could not get download url: %v", err)
	}

	url := aws.ToString(resp.AttachmentPresignedUrl)
	if url == "" {
		return nil, fmt.Errorf("no download url for attachment %v", attachmentID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not make download request: %v", err)
	}

	httpResp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not download attachment: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %v", httpResp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(httpResp.Body, mapper.MaxAttachmentBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read attachment: %v", err)
	}
	return content, nil
}

func (s *Syncer) resolveCase(ctx context.Context, caseID, channelID string) (string, error) {

	if caseID != "" {
		return caseID, nil
	}
	if channelID == "" {
		return "", fmt.Errorf("event carries neither case id nor channel id")
	}

	caseID, err := s.store.FindCaseBySlackChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if caseID == "" {
		return "", fmt.Errorf("no case mapped to channel %v", channelID)
	}
	return caseID, nil
}

// systemComment best-effort records an operational note on the case
func (s *Syncer) systemComment(ctx context.Context, caseID, message, details string) {

	_, err := s.sir.CreateCaseComment(ctx, &securityir.CreateCaseCommentInput{
		CaseId: aws.String(caseID),
		Body:   aws.String(mapper.SystemComment(message, details)),
	})
	if err != nil {
		fmt.Printf("could not add system comment to case %v: %v\n", caseID, err)
	}
}

// slackError best-effort posts an error message into the channel
func (s *Syncer) slackError(ctx context.Context, channelID, errText, caseID string) {

	_, _, err := s.slack.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(mapper.ErrorMessage(errText, caseID), false))
	if err != nil {
		fmt.Printf("could not post error to channel %v: %v\n", channelID, err)
	}
}

func toMapperCase(caseID string, detail CaseDetail) mapper.Case {
	return mapper.Case{
		CaseID:           caseID,
		Title:            aws.ToString(detail.Title),
		Description:      aws.ToString(detail.Description),
		Status:           aws.ToString(detail.CaseStatus),
		Severity:         detail.Severity,
		CreatedDate:      detail.CreatedDate,
		LastUpdated:      detail.LastUpdated,
		ImpactedAccounts: detail.ImpactedAccounts,
		ImpactedRegions:  detail.ImpactedRegions,
	}
}

func updateType(detail CaseDetail) string {
	switch {
	case detail.CaseStatus != nil:
		return "status"
	case detail.Title != nil:
		return "title"
	case detail.Description != nil:
		return "description"
	default:
		return "general"
	}
}

func caseIDFromArn(arn string) (string, error) {
	m := caseArnID.FindStringSubmatch(arn)
	if m == nil {
		return "", fmt.Errorf("invalid case arn %q", arn)
	}
	return m[1], nil
}
