package command

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/securityir"
	"github.com/aws/aws-sdk-go-v2/service/securityir/types"
	"github.com/tidwall/gjson"
)

type mockCaseAPI struct {
	getErr    error
	updateIn  *securityir.UpdateCaseInput
	updateErr error
	closeIn   *securityir.CloseCaseInput
}

func (m *mockCaseAPI) GetCase(_ context.Context, _ *securityir.GetCaseInput, _ ...func(*securityir.Options)) (*securityir.GetCaseOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	updated := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	return &securityir.GetCaseOutput{
		Title:           aws.String("Suspicious console login"),
		CaseStatus:      types.CaseStatusDetectionAndAnalysis,
		LastUpdatedDate: &updated,
	}, nil
}

func (m *mockCaseAPI) UpdateCase(_ context.Context, in *securityir.UpdateCaseInput, _ ...func(*securityir.Options)) (*securityir.UpdateCaseOutput, error) {
	m.updateIn = in
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &securityir.UpdateCaseOutput{}, nil
}

func (m *mockCaseAPI) CloseCase(_ context.Context, in *securityir.CloseCaseInput, _ ...func(*securityir.Options)) (*securityir.CloseCaseOutput, error) {
	m.closeIn = in
	return &securityir.CloseCaseOutput{}, nil
}

// responseServer captures the body posted back to the response url
func responseServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("could not read response body: %v", err)
		}
		captured = string(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func payload(text, url string) Payload {
	return Payload{
		Command:     "/security-ir",
		Text:        text,
		UserID:      "U0AAAAAAAA",
		ChannelID:   "C0INCIDENT1",
		ResponseURL: url,
		CaseID:      "12345",
	}
}

func TestHandle(t *testing.T) {

	tt := []struct {
		name     string
		text     string
		api      *mockCaseAPI
		wantText string
	}{
		{
			name:     "status",
			text:     "status",
			api:      &mockCaseAPI{},
			wantText: "*Status:* Detection and Analysis",
		},
		{
			name:     "update title",
			text:     "update-title Compromised IAM user",
			api:      &mockCaseAPI{},
			wantText: "✅ Title for case 12345 updated",
		},
		{
			name:     "update description",
			text:     "update-description Lateral movement seen in eu-west-2",
			api:      &mockCaseAPI{},
			wantText: "✅ Description for case 12345 updated",
		},
		{
			name:     "close",
			text:     "close",
			api:      &mockCaseAPI{},
			wantText: "✅ Case 12345 closed",
		},
		{
			name:     "unknown subcommand",
			text:     "escalate",
			api:      &mockCaseAPI{},
			wantText: "Available commands:",
		},
		{
			name:     "empty text",
			text:     "",
			api:      &mockCaseAPI{},
			wantText: "Available commands:",
		},
		{
			name:     "padded text",
			text:     "  status  ",
			api:      &mockCaseAPI{},
			wantText: "*Status:* Detection and Analysis",
		},
		{
			name:     "missing title argument",
			text:     "update-title",
			api:      &mockCaseAPI{},
			wantText: "❌ Error for case 12345: usage: /security-ir update-title",
		},
		{
			name:     "case system failure",
			text:     "status",
			api:      &mockCaseAPI{getErr: errors.New("AccessDeniedException")},
			wantText: "❌ Error for case 12345: could not get case",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {

			srv, captured := responseServer(t)
			h := NewHandler(tc.api)

			if err := h.Handle(context.Background(), payload(tc.text, srv.URL)); err != nil {
				t.Fatalf("could not handle command: %v", err)
			}

			if got := gjson.Get(*captured, "response_type").String(); got != "ephemeral" {
				t.Errorf("expected ephemeral response, got %q", got)
			}
			if got := gjson.Get(*captured, "text").String(); !strings.Contains(got, tc.wantText) {
				t.Errorf("expected response containing %q, got %q", tc.wantText, got)
			}
		})
	}
}

func TestHandleUpdateInputs(t *testing.T) {

	srv, _ := responseServer(t)
	api := &mockCaseAPI{}
	h := NewHandler(api)

	if err := h.Handle(context.Background(), payload("update-title New title", srv.URL)); err != nil {
		t.Fatalf("could not handle command: %v", err)
	}

	if api.updateIn == nil {
		t.Fatal("expected an update call")
	}
	if got := aws.ToString(api.updateIn.CaseId); got != "12345" {
		t.Errorf("expected case 12345, got %v", got)
	}
	if got := aws.ToString(api.updateIn.Title); got != "New title" {
		t.Errorf("expected title to carry args, got %q", got)
	}
}

func TestHandleValidation(t *testing.T) {

	h := NewHandler(&mockCaseAPI{})

	if err := h.Handle(context.Background(), Payload{Text: "status"}); err == nil {
		t.Error("expected error for missing case id and response url")
	}
}

