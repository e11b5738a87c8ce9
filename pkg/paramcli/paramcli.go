// Package paramcli manages the Slack SSM parameters used by the
// integration: setup, rotation and validation with strict format checks
// before anything is written.
package paramcli

import (
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ssm"
)

// Parameter paths
const (
	BotTokenParameter      = "/SecurityIncidentResponse/slackBotToken"
	SigningSecretParameter = "/SecurityIncidentResponse/slackSigningSecret"
	WorkspaceIDParameter   = "/SecurityIncidentResponse/slackWorkspaceId"
)

var (
	botTokenPattern      = regexp.MustCompile(`^xoxb-[0-9]+-[0-9]+-[a-zA-Z0-9]+$`)
	signingSecretPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)
	workspaceIDPattern   = regexp.MustCompile(`^[A-Z0-9]{9,11}$`)
)

// SSM defines the parameter store methods the manager uses
type SSM interface {
	PutParameter(*ssm.PutParameterInput) (*ssm.PutParameterOutput, error)
	GetParameter(*ssm.GetParameterInput) (*ssm.GetParameterOutput, error)
}

// Manager writes and checks the Slack parameters
type Manager struct {
	ssm SSM
	now func() time.Time
}

// NewManager returns a parameter manager
func NewManager(api SSM) *Manager {
	return &Manager{ssm: api, now: time.Now}
}

// ValidateBotToken checks the bot token format
func ValidateBotToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token is empty")
	}
	if !botTokenPattern.MatchString(token) {
		return fmt.Errorf("bot token must match xoxb-<numbers>-<numbers>-<alphanumeric>")
	}
	return nil
}

// ValidateSigningSecret checks the signing secret format
func ValidateSigningSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("signing secret is empty")
	}
	if !signingSecretPattern.MatchString(secret) {
		return fmt.Errorf("signing secret must be 64 lowercase hex characters")
	}
	return nil
}

// ValidateWorkspaceID checks the workspace ID format
func ValidateWorkspaceID(id string) error {
	if id == "" {
		return fmt.Errorf("workspace id is empty")
	}
	if !workspaceIDPattern.MatchString(id) {
		return fmt.Errorf("workspace id must be 9-11 uppercase alphanumeric characters")
	}
	return nil
}

func validateAll(botToken, signingSecret, workspaceID string) error {

	if err := ValidateBotToken(botToken); err != nil {
		return err
	}
	if err := ValidateSigningSecret(signingSecret); err != nil {
		return err
	}
	return ValidateWorkspaceID(workspaceID)
}

// Setup creates the three parameters, refusing to overwrite existing ones
func (m *Manager) Setup(botToken, signingSecret, workspaceID string) error {

	if err := validateAll(botToken, signingSecret, workspaceID); err != nil {
		return err
	}
	return m.putAll(botToken, signingSecret, workspaceID, false)
}

// Rotate overwrites the three parameters with new values
func (m *Manager) Rotate(botToken, signingSecret, workspaceID string) error {

	if err := validateAll(botToken, signingSecret, workspaceID); err != nil {
		return err
	}
	return m.putAll(botToken, signingSecret, workspaceID, true)
}

// Validate checks that all three parameters exist
func (m *Manager) Validate() error {

	var missing []string
	for _, name := range []string{BotTokenParameter, SigningSecretParameter, WorkspaceIDParameter} {
		param, err := m.get(name)
		if err != nil {
			return err
		}
		if param == nil {
			fmt.Printf("parameter %v not found\n", name)
			missing = append(missing, name)
			continue
		}
		fmt.Printf("parameter %v exists, last modified %v\n", name, aws.TimeValue(param.LastModifiedDate))
	}

	if len(missing) > 0 {
		return fmt.Errorf("%v of 3 parameters missing", len(missing))
	}
	return nil
}

func (m *Manager) putAll(botToken, signingSecret, workspaceID string, overwrite bool) error {

	params := []struct {
		name, value, description string
	}{
		{BotTokenParameter, botToken, "Slack Bot User OAuth Token"},
		{SigningSecretParameter, signingSecret, "Slack App Signing Secret"},
		{WorkspaceIDParameter, workspaceID, "Slack Workspace ID"},
	}

	for _, p := range params {
		if err := m.put(p.name, p.value, p.description, overwrite); err != nil {
			return err
		}
		fmt.Printf("wrote parameter %v\n", p.name)
	}
	return nil
}

func (m *Manager) put(name, value, description string, overwrite bool) error {

	input := &ssm.PutParameterInput{
		Name:        aws.String(name),
		Value:       aws.String(value),
		Description: aws.String(description),
		Type:        aws.String(ssm.ParameterTypeSecureString),
		Overwrite:   aws.Bool(overwrite),
	}

	// tags cannot be combined with an overwrite, so only first writes
	// are tagged
	if !overwrite {
		input.Tags = []*ssm.Tag{
			{Key: aws.String("Integration"), Value: aws.String("SlackSecurityIR")},
			{Key: aws.String("ManagedBy"), Value: aws.String("SlackParameterSetup")},
			{Key: aws.String("CreatedAt"), Value: aws.String(m.now().UTC().Format(time.RFC3339))},
		}
	}

	_, err := m.ssm.PutParameter(input)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == ssm.ErrCodeParameterAlreadyExists {
			return fmt.Errorf("parameter %v already exists, use rotate to update it", name)
		}
		return fmt.Errorf("could not write parameter %v: %v", name, err)
	}
	return nil
}

func (m *Manager) get(name string) (*ssm.Parameter, error) {

	resp, err := m.ssm.GetParameter(&ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == ssm.ErrCodeParameterNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("could not get parameter %v: %v", name, err)
	}
	return resp.Parameter, nil
}
