package rotation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
)

type mockSecrets struct {
	secretsmanageriface.SecretsManagerAPI

	stages     map[string][]*string
	pendingSet bool

	putInput   *secretsmanager.PutSecretValueInput
	stageInput *secretsmanager.UpdateSecretVersionStageInput
}

func (m *mockSecrets) DescribeSecret(*secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error) {
	return &secretsmanager.DescribeSecretOutput{VersionIdsToStages: m.stages}, nil
}

func (m *mockSecrets) GetSecretValue(*secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
	if m.pendingSet {
		return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"token":"existing"}`)}, nil
	}
	return nil, errors.New("ResourceNotFoundException")
}

func (m *mockSecrets) PutSecretValue(in *secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error) {
	m.putInput = in
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (m *mockSecrets) UpdateSecretVersionStage(in *secretsmanager.UpdateSecretVersionStageInput) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	m.stageInput = in
	return &secretsmanager.UpdateSecretVersionStageOutput{}, nil
}

type mockPusher struct {
	token string
	err   error
	calls int
}

func (m *mockPusher) PushToken(token string) error {
	m.calls++
	m.token = token
	return m.err
}

func pendingEvent(step string) Event {
	return Event{SecretID: "slack/signing-secret", ClientRequestToken: "v2", Step: step}
}

func TestNewToken(t *testing.T) {

	token, err := NewToken()
	if err != nil {
		t.Fatalf("could not generate token: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32 characters, got %v", len(token))
	}
	for _, r := range token {
		if !strings.ContainsRune(tokenChars, r) {
			t.Errorf("unexpected character %q in token", r)
		}
	}

	other, err := NewToken()
	if err != nil {
		t.Fatalf("could not generate second token: %v", err)
	}
	if token == other {
		t.Error("expected distinct tokens")
	}
}

func TestCreateSecret(t *testing.T) {

	sm := &mockSecrets{stages: map[string][]*string{
		"v1": {aws.String("AWSCURRENT")},
		"v2": {aws.String("AWSPENDING")},
	}}
	pusher := &mockPusher{}
	r := NewRotator(sm, pusher)

	if err := r.Handle(pendingEvent("createSecret")); err != nil {
		t.Fatalf("could not create secret: %v", err)
	}

	if sm.putInput == nil {
		t.Fatal("expected a pending value to be stored")
	}
	if got := aws.StringValue(sm.putInput.VersionStages[0]); got != "AWSPENDING" {
		t.Errorf("expected AWSPENDING stage, got %v", got)
	}

	var val secretValue
	if err := json.Unmarshal([]byte(aws.StringValue(sm.putInput.SecretString)), &val); err != nil {
		t.Fatalf("could not unmarshal stored value: %v", err)
	}
	if len(val.Token) != 32 {
		t.Errorf("expected 32 character token, got %q", val.Token)
	}
	if pusher.token != val.Token {
		t.Errorf("expected stored token to be pushed, got %q", pusher.token)
	}
}

func TestCreateSecretIdempotent(t *testing.T) {

	sm := &mockSecrets{
		stages:     map[string][]*string{"v2": {aws.String("AWSPENDING")}},
		pendingSet: true,
	}
	pusher := &mockPusher{}
	r := NewRotator(sm, pusher)

	if err := r.Handle(pendingEvent("createSecret")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.putInput != nil {
		t.Error("expected no new value when pending already exists")
	}
	if pusher.calls != 0 {
		t.Error("expected no push when pending already exists")
	}
}

func TestCreateSecretPushFailure(t *testing.T) {

	sm := &mockSecrets{stages: map[string][]*string{"v2": {aws.String("AWSPENDING")}}}
	pusher := &mockPusher{err: errors.New("503 from servicenow")}
	r := NewRotator(sm, pusher)

	err := r.Handle(pendingEvent("createSecret"))
	if err == nil {
		t.Fatal("expected push failure to surface")
	}
	if !strings.Contains(err.Error(), "could not push token") {
		t.Errorf("unexpected error: %v", err)
	}

	if sm.stageInput == nil {
		t.Fatal("expected pending stage removal")
	}
	if got := aws.StringValue(sm.stageInput.RemoveFromVersionId); got != "v2" {
		t.Errorf("expected pending stage removed from v2, got %v", got)
	}
	if sm.stageInput.MoveToVersionId != nil {
		t.Error("expected no stage promotion on push failure")
	}
}

func TestCreateSecretUnknownVersion(t *testing.T) {

	sm := &mockSecrets{stages: map[string][]*string{"v1": {aws.String("AWSCURRENT")}}}
	r := NewRotator(sm, nil)

	if err := r.Handle(pendingEvent("createSecret")); err == nil {
		t.Fatal("expected error for version with no stage")
	}
}

func TestNoOpSteps(t *testing.T) {

	sm := &mockSecrets{}
	r := NewRotator(sm, &mockPusher{})

	for _, step := range []string{"setSecret", "testSecret"} {
		if err := r.Handle(pendingEvent(step)); err != nil {
			t.Errorf("expected %v to be a no-op, got %v", step, err)
		}
	}
	if sm.putInput != nil || sm.stageInput != nil {
		t.Error("expected no secret store calls")
	}
}

func TestFinishSecret(t *testing.T) {

	sm := &mockSecrets{stages: map[string][]*string{
		"v1": {aws.String("AWSCURRENT")},
		"v2": {aws.String("AWSPENDING")},
	}}
	r := NewRotator(sm, nil)

	if err := r.Handle(pendingEvent("finishSecret")); err != nil {
		t.Fatalf("could not finish rotation: %v", err)
	}

	if sm.stageInput == nil {
		t.Fatal("expected a stage update")
	}
	if got := aws.StringValue(sm.stageInput.MoveToVersionId); got != "v2" {
		t.Errorf("expected promotion of v2, got %v", got)
	}
	if got := aws.StringValue(sm.stageInput.RemoveFromVersionId); got != "v1" {
		t.Errorf("expected removal from v1, got %v", got)
	}
	if got := aws.StringValue(sm.stageInput.VersionStage); got != "AWSCURRENT" {
		t.Errorf("expected AWSCURRENT stage, got %v", got)
	}
}

func TestFinishSecretAlreadyCurrent(t *testing.T) {

	sm := &mockSecrets{stages: map[string][]*string{
		"v2": {aws.String("AWSCURRENT")},
	}}
	r := NewRotator(sm, nil)

	if err := r.Handle(pendingEvent("finishSecret")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.stageInput != nil {
		t.Error("expected no stage update when already current")
	}
}

func TestHandleValidation(t *testing.T) {

	r := NewRotator(&mockSecrets{}, nil)

	if err := r.Handle(Event{Step: "createSecret"}); err == nil {
		t.Error("expected error for missing identifiers")
	}
	if err := r.Handle(pendingEvent("rollback")); err == nil {
		t.Error("expected error for unknown step")
	}
}
