// Package casedb is the sync state store: a single DynamoDB item per case
// carries the canonical case attributes alongside the Slack-specific ones,
// and is the source of truth for idempotency decisions.
package casedb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefix = "Case#"
	skLatest = "latest"
)

// DB implements db client methods
type DB interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// SyncedMessage marks a Slack message already mirrored into the case
type SyncedMessage struct {
	TS            string `dynamodbav:"ts" json:"ts"`
	User          string `dynamodbav:"user" json:"user"`
	Text          string `dynamodbav:"text" json:"text"`
	SyncedToSIR   bool   `dynamodbav:"syncedToSIR" json:"syncedToSIR"`
	SyncTimestamp string `dynamodbav:"syncTimestamp" json:"syncTimestamp"`
}

// Record is the per-case item
type Record struct {
	PK              string          `dynamodbav:"PK"`
	SK              string          `dynamodbav:"SK"`
	CaseID          string          `dynamodbav:"caseId,omitempty"`
	SlackChannelID  string          `dynamodbav:"slackChannelId,omitempty"`
	Title           string          `dynamodbav:"slackChannelCaseTitle,omitempty"`
	Description     string          `dynamodbav:"slackChannelCaseDescription,omitempty"`
	Comments        []string        `dynamodbav:"slackChannelCaseComments,omitempty"`
	UpdateTimestamp string          `dynamodbav:"slackChannelUpdateTimestamp,omitempty"`
	SyncedMessages  []SyncedMessage `dynamodbav:"slackSyncedMessages,omitempty"`
}

// Store reads and writes case records
type Store struct {
	db    DB
	table string
	now   func() time.Time
}

// NewStore returns a new store for the given table
func NewStore(db DB, table string) *Store {
	return &Store{db: db, table: table, now: time.Now}
}

func key(caseID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + caseID},
		"SK": &types.AttributeValueMemberS{Value: skLatest},
	}
}

// Get fetches the record for a case, nil if none exists
func (s *Store) Get(ctx context.Context, caseID string) (*Record, error) {

	resp, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       key(caseID),
	})
	if err != nil {
		return nil, fmt.Errorf("could not get case %v: %v", caseID, err)
	}
	if resp.Item == nil {
		return nil, nil
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(resp.Item, &rec); err != nil {
		return nil, fmt.Errorf("could not unmarshal case %v: %v", caseID, err)
	}
	return &rec, nil
}

// ChannelID returns the Slack channel mapped to a case, empty if none
func (s *Store) ChannelID(ctx context.Context, caseID string) (string, error) {

	rec, err := s.Get(ctx, caseID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.SlackChannelID, nil
}

// UpdateMapping records the channel associated with a case
func (s *Store) UpdateMapping(ctx context.Context, caseID, channelID string) error {

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(caseID),
		UpdateExpression: aws.String("SET slackChannelId = :s, slackChannelUpdateTimestamp = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: channelID},
			":t": &types.AttributeValueMemberS{Value: s.timestamp()},
		},
	})
	if err != nil {
		return fmt.Errorf("could not update slack mapping for case %v: %v", caseID, err)
	}
	fmt.Printf("case %v mapped to slack channel %v\n", caseID, channelID)
	return nil
}

// UpdateDetails opportunistically refreshes the cached case attributes.
// Nil pointers leave the corresponding attribute untouched.
func (s *Store) UpdateDetails(ctx context.Context, caseID string, title, description *string, comments []string) error {

	parts := []string{"slackChannelUpdateTimestamp = :t"}
	values := map[string]types.AttributeValue{
		":t": &types.AttributeValueMemberS{Value: s.timestamp()},
	}

	if title != nil {
		parts = append(parts, "slackChannelCaseTitle = :title")
		values[":title"] = &types.AttributeValueMemberS{Value: *title}
	}
	if description != nil {
		parts = append(parts, "slackChannelCaseDescription = :desc")
		values[":desc"] = &types.AttributeValueMemberS{Value: *description}
	}
	if comments != nil {
		list, err := attributevalue.MarshalList(comments)
		if err != nil {
			return fmt.Errorf("could not marshal comments: %v", err)
		}
		parts = append(parts, "slackChannelCaseComments = :comments")
		values[":comments"] = &types.AttributeValueMemberL{Value: list}
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(caseID),
		UpdateExpression:          aws.String("SET " + strings.Join(parts, ", ")),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("could not update details for case %v: %v", caseID, err)
	}
	return nil
}

// AddComment appends a comment to the case comment list unless the exact
// text is already present. Returns whether the comment was newly added.
func (s *Store) AddComment(ctx context.Context, caseID, comment string) (bool, error) {

	rec, err := s.Get(ctx, caseID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, fmt.Errorf("case %v not found", caseID)
	}

	for _, existing := range rec.Comments {
		if existing == comment {
			fmt.Printf("comment already recorded for case %v, skipping duplicate\n", caseID)
			return false, nil
		}
	}

	comments := append(rec.Comments, comment)
	if err := s.UpdateDetails(ctx, caseID, nil, nil, comments); err != nil {
		return false, err
	}
	return true, nil
}

// HasComment reports whether the exact comment text is already recorded
func (s *Store) HasComment(ctx context.Context, caseID, comment string) (bool, error) {

	rec, err := s.Get(ctx, caseID)
	if err != nil || rec == nil {
		return false, err
	}
	for _, existing := range rec.Comments {
		if existing == comment {
			return true, nil
		}
	}
	return false, nil
}

// FindCaseBySlackChannel resolves a case ID from a channel ID. There is no
// index on slackChannelId so this is a filtered scan; empty result means
// no case is mapped to the channel.
func (s *Store) FindCaseBySlackChannel(ctx context.Context, channelID string) (string, error) {

	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("slackChannelId = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: channelID},
		},
	}

	for {
		resp, err := s.db.Scan(ctx, input)
		if err != nil {
			return "", fmt.Errorf("could not scan for channel %v: %v", channelID, err)
		}

		for _, item := range resp.Items {
			pk, ok := item["PK"].(*types.AttributeValueMemberS)
			if !ok || !strings.HasPrefix(pk.Value, pkPrefix) {
				continue
			}
			return strings.TrimPrefix(pk.Value, pkPrefix), nil
		}

		if resp.LastEvaluatedKey == nil {
			return "", nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

// IsMessageSynced reports whether the (ts, user, text) tuple has already
// been mirrored into the case
func (s *Store) IsMessageSynced(ctx context.Context, caseID, ts, user, text string) (bool, error) {

	rec, err := s.Get(ctx, caseID)
	if err != nil || rec == nil {
		return false, err
	}
	for _, m := range rec.SyncedMessages {
		if m.TS == ts && m.User == user && m.Text == text {
			return true, nil
		}
	}
	return false, nil
}

// MarkMessageSynced appends a sync marker for a mirrored message
func (s *Store) MarkMessageSynced(ctx context.Context, caseID string, msg SyncedMessage) error {

	rec, err := s.Get(ctx, caseID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("case %v not found", caseID)
	}

	msg.SyncedToSIR = true
	if msg.SyncTimestamp == "" {
		msg.SyncTimestamp = s.timestamp()
	}
	synced := append(rec.SyncedMessages, msg)

	list, err := attributevalue.MarshalList(synced)
	if err != nil {
		return fmt.Errorf("could not marshal sync markers: %v", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(caseID),
		UpdateExpression: aws.String("SET slackSyncedMessages = :m, slackChannelUpdateTimestamp = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberL{Value: list},
			":t": &types.AttributeValueMemberS{Value: s.timestamp()},
		},
	})
	if err != nil {
		return fmt.Errorf("could not track synced message for case %v: %v", caseID, err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
