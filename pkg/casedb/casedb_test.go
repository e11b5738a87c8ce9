package casedb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
)

// fakeDB keeps items in memory and applies the store's SET expressions
type fakeDB struct {
	items     map[string]map[string]types.AttributeValue
	pageBreak bool
	err       error
}

func newFakeDB() *fakeDB {
	return &fakeDB{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(k map[string]types.AttributeValue) string {
	pk := k["PK"].(*types.AttributeValueMemberS).Value
	sk := k["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDB) seed(t *testing.T, rec Record) {
	t.Helper()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("could not marshal seed record: %v", err)
	}
	f.items[rec.PK+"|"+rec.SK] = item
}

func (f *fakeDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	k := itemKey(in.Key)
	item, ok := f.items[k]
	if !ok {
		item = map[string]types.AttributeValue{"PK": in.Key["PK"], "SK": in.Key["SK"]}
		f.items[k] = item
	}
	expr := strings.TrimPrefix(aws.ToString(in.UpdateExpression), "SET ")
	for _, assign := range strings.Split(expr, ", ") {
		parts := strings.Split(assign, " = ")
		item[strings.TrimSpace(parts[0])] = in.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	// first page empty when pageBreak is set, to exercise pagination
	if f.pageBreak && in.ExclusiveStartKey == nil {
		return &dynamodb.ScanOutput{
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "cursor"}},
		}, nil
	}
	want := in.ExpressionAttributeValues[":c"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if ch, ok := item["slackChannelId"].(*types.AttributeValueMemberS); ok && ch.Value == want {
			out = append(out, item)
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func testStore(db DB) *Store {
	s := NewStore(db, "incidents")
	s.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestAddCommentIdempotent(t *testing.T) {

	db := newFakeDB()
	db.seed(t, Record{PK: "Case#123", SK: "latest", CaseID: "123"})
	s := testStore(db)

	added, err := s.AddComment(context.Background(), "123", "first comment")
	if err != nil {
		t.Fatalf("could not add comment: %v", err)
	}
	if !added {
		t.Error("expected first append to report added")
	}

	added, err = s.AddComment(context.Background(), "123", "first comment")
	if err != nil {
		t.Fatalf("could not re-add comment: %v", err)
	}
	if added {
		t.Error("expected duplicate append to be skipped")
	}

	rec, err := s.Get(context.Background(), "123")
	if err != nil {
		t.Fatalf("could not get case: %v", err)
	}
	if diff := cmp.Diff([]string{"first comment"}, rec.Comments); diff != "" {
		t.Errorf("unexpected comments (-want +got):\n%s", diff)
	}

	has, err := s.HasComment(context.Background(), "123", "first comment")
	if err != nil || !has {
		t.Errorf("expected stored comment to be reported, got %v %v", has, err)
	}
	has, err = s.HasComment(context.Background(), "123", "unseen comment")
	if err != nil || has {
		t.Errorf("expected unseen comment to be absent, got %v %v", has, err)
	}
}

func TestMappingRoundTrip(t *testing.T) {

	db := newFakeDB()
	s := testStore(db)
	ctx := context.Background()

	if err := s.UpdateMapping(ctx, "456", "C01234ABCD"); err != nil {
		t.Fatalf("could not update mapping: %v", err)
	}
	title := "Exfil attempt"
	desc := "Unusual egress from prod account"
	if err := s.UpdateDetails(ctx, "456", &title, &desc, []string{"one"}); err != nil {
		t.Fatalf("could not update details: %v", err)
	}

	rec, err := s.Get(ctx, "456")
	if err != nil {
		t.Fatalf("could not get case: %v", err)
	}

	want := &Record{
		PK:              "Case#456",
		SK:              "latest",
		SlackChannelID:  "C01234ABCD",
		Title:           title,
		Description:     desc,
		Comments:        []string{"one"},
		UpdateTimestamp: "2026-08-01T12:00:00Z",
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("unexpected record (-want +got):\n%s", diff)
	}

	ch, err := s.ChannelID(ctx, "456")
	if err != nil || ch != "C01234ABCD" {
		t.Errorf("expected channel C01234ABCD, got %q (err=%v)", ch, err)
	}
}

func TestFindCaseBySlackChannel(t *testing.T) {

	db := newFakeDB()
	db.seed(t, Record{PK: "Case#1", SK: "latest", SlackChannelID: "C0AAAAAAAA"})
	db.seed(t, Record{PK: "Case#2", SK: "latest", SlackChannelID: "C0BBBBBBBB"})
	s := testStore(db)

	id, err := s.FindCaseBySlackChannel(context.Background(), "C0BBBBBBBB")
	if err != nil {
		t.Fatalf("could not scan: %v", err)
	}
	if id != "2" {
		t.Errorf("expected case 2, got %q", id)
	}

	id, err = s.FindCaseBySlackChannel(context.Background(), "C0CCCCCCCC")
	if err != nil {
		t.Fatalf("could not scan: %v", err)
	}
	if id != "" {
		t.Errorf("expected no case, got %q", id)
	}
}

func TestFindCaseBySlackChannelPaginates(t *testing.T) {

	db := newFakeDB()
	db.pageBreak = true
	db.seed(t, Record{PK: "Case#9", SK: "latest", SlackChannelID: "C0AAAAAAAA"})
	s := testStore(db)

	id, err := s.FindCaseBySlackChannel(context.Background(), "C0AAAAAAAA")
	if err != nil {
		t.Fatalf("could not scan: %v", err)
	}
	if id != "9" {
		t.Errorf("expected case 9 from second page, got %q", id)
	}
}

func TestMessageSyncMarkers(t *testing.T) {

	db := newFakeDB()
	db.seed(t, Record{PK: "Case#123", SK: "latest"})
	s := testStore(db)
	ctx := context.Background()

	synced, err := s.IsMessageSynced(ctx, "123", "1.0001", "U0AAAAAAAA", "hello")
	if err != nil {
		t.Fatalf("could not check marker: %v", err)
	}
	if synced {
		t.Error("expected message not yet synced")
	}

	err = s.MarkMessageSynced(ctx, "123", SyncedMessage{TS: "1.0001", User: "U0AAAAAAAA", Text: "hello"})
	if err != nil {
		t.Fatalf("could not mark message: %v", err)
	}

	synced, err = s.IsMessageSynced(ctx, "123", "1.0001", "U0AAAAAAAA", "hello")
	if err != nil {
		t.Fatalf("could not re-check marker: %v", err)
	}
	if !synced {
		t.Error("expected message to be synced")
	}

	// same timestamp but different text is a different tuple
	synced, err = s.IsMessageSynced(ctx, "123", "1.0001", "U0AAAAAAAA", "different text")
	if err != nil {
		t.Fatalf("could not check tuple: %v", err)
	}
	if synced {
		t.Error("expected different tuple not to match")
	}

	rec, err := s.Get(ctx, "123")
	if err != nil {
		t.Fatalf("could not get case: %v", err)
	}
	want := []SyncedMessage{{
		TS:            "1.0001",
		User:          "U0AAAAAAAA",
		Text:          "hello",
		SyncedToSIR:   true,
		SyncTimestamp: "2026-08-01T12:00:00Z",
	}}
	if diff := cmp.Diff(want, rec.SyncedMessages); diff != "" {
		t.Errorf("unexpected markers (-want +got):\n%s", diff)
	}
}

func TestGetAbsentCase(t *testing.T) {

	s := testStore(newFakeDB())
	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {

	db := newFakeDB()
	db.err = errors.New("throttled")
	s := testStore(db)

	if _, err := s.Get(context.Background(), "1"); err == nil {
		t.Error("expected get error")
	}
	if _, err := s.AddComment(context.Background(), "1", "c"); err == nil {
		t.Error("expected add comment error")
	}
	if _, err := s.FindCaseBySlackChannel(context.Background(), "C0AAAAAAAA"); err == nil {
		t.Error("expected scan error")
	}
}
