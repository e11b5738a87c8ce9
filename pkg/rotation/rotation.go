// Package rotation implements the four step secret rotation contract for
// the Slack signing secret
package rotation

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
)

const (
	stagePending = "AWSPENDING"
	stageCurrent = "AWSCURRENT"

	tokenLength = 32
	tokenChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// SecretsManager defines the secret store methods used during rotation
type SecretsManager interface {
	DescribeSecret(*secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(*secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(*secretsmanager.PutSecretValueInput) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(*secretsmanager.UpdateSecretVersionStageInput) (*secretsmanager.UpdateSecretVersionStageOutput, error)
}

// TokenPusher propagates a newly generated token to an external system so
// both sides agree on the credential during the pending window
type TokenPusher interface {
	PushToken(token string) error
}

// Event is the rotation step payload from Secrets Manager
type Event struct {
	SecretID           string `json:"SecretId"`
	ClientRequestToken string `json:"ClientRequestToken"`
	Step               string `json:"Step"`
}

// secretValue is the JSON payload stored in each secret version
type secretValue struct {
	Token string `json:"token"`
}

// Rotator drives one rotation step per invocation
type Rotator struct {
	sm     SecretsManager
	pusher TokenPusher
}

// NewRotator returns a rotator. A nil pusher skips external propagation.
func NewRotator(sm SecretsManager, pusher TokenPusher) *Rotator {
	return &Rotator{sm: sm, pusher: pusher}
}

// NewToken generates a random alphanumeric token
func NewToken() (string, error) {

	buf := make([]byte, tokenLength)
	max := big.NewInt(int64(len(tokenChars)))

	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not generate token: %v", err)
		}
		buf[i] = tokenChars[n.Int64()]
	}
	return string(buf), nil
}

// Handle dispatches a rotation step
func (r *Rotator) Handle(ev Event) error {

	if ev.SecretID == "" || ev.ClientRequestToken == "" {
		return fmt.Errorf("rotation event is missing secret id or request token")
	}

	switch ev.Step {
	case "createSecret":
		return r.createSecret(ev)
	case "setSecret", "testSecret":
		// createSecret already pushed the pending token, and validity is
		// exercised by the next signed request
		fmt.Printf("step %v is a no-op\n", ev.Step)
		return nil
	case "finishSecret":
		return r.finishSecret(ev)
	default:
		return fmt.Errorf("unknown rotation step %q", ev.Step)
	}
}

// createSecret stores a fresh token as the pending version and propagates
// it. If propagation fails the pending stage is removed so a retry starts
// clean.
func (r *Rotator) createSecret(ev Event) error {

	desc, err := r.sm.DescribeSecret(&secretsmanager.DescribeSecretInput{
		SecretId: aws.String(ev.SecretID),
	})
	if err != nil {
		return fmt.Errorf("could not describe secret: %v", err)
	}

	stages, ok := desc.VersionIdsToStages[ev.ClientRequestToken]
	if !ok {
		return fmt.Errorf("version %v has no stage attached to secret", ev.ClientRequestToken)
	}
	for _, stage := range stages {
		if aws.StringValue(stage) == stageCurrent {
			fmt.Printf("version %v is already current, nothing to create\n", ev.ClientRequestToken)
			return nil
		}
	}

	// a pending value for this version means a previous attempt got as
	// far as storing it
	_, err = r.sm.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(ev.SecretID),
		VersionId:    aws.String(ev.ClientRequestToken),
		VersionStage: aws.String(stagePending),
	})
	if err == nil {
		fmt.Printf("pending version %v already exists\n", ev.ClientRequestToken)
		return nil
	}

	token, err := NewToken()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(secretValue{Token: token})
	if err != nil {
		return fmt.Errorf("could not marshal secret value: %v", err)
	}

	_, err = r.sm.PutSecretValue(&secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(ev.SecretID),
		ClientRequestToken: aws.String(ev.ClientRequestToken),
		SecretString:       aws.String(string(payload)),
		VersionStages:      []*string{aws.String(stagePending)},
	})
	if err != nil {
		return fmt.Errorf("could not put pending secret value: %v", err)
	}

	if r.pusher == nil {
		return nil
	}

	if err := r.pusher.PushToken(token); err != nil {
		fmt.Printf("could not push token, removing pending stage: %v\n", err)
		_, serr := r.sm.UpdateSecretVersionStage(&secretsmanager.UpdateSecretVersionStageInput{
			SecretId:            aws.String(ev.SecretID),
			VersionStage:        aws.String(stagePending),
			RemoveFromVersionId: aws.String(ev.ClientRequestToken),
		})
		if serr != nil {
			return fmt.Errorf("could not remove pending stage after push failure: %v", serr)
		}
		return fmt.Errorf("could not push token: %v", err)
	}

	fmt.Printf("created pending version %v and pushed token\n", ev.ClientRequestToken)
	return nil
}

// finishSecret promotes the pending version, removing the current stage
// label from whichever version holds it
func (r *Rotator) finishSecret(ev Event) error {

	desc, err := r.sm.DescribeSecret(&secretsmanager.DescribeSecretInput{
		SecretId: aws.String(ev.SecretID),
	})
	if err != nil {
		return fmt.Errorf("could not describe secret: %v", err)
	}

	var current string
	for version, stages := range desc.VersionIdsToStages {
		for _, stage := range stages {
			if aws.StringValue(stage) == stageCurrent {
				current = version
			}
		}
	}

	if current == ev.ClientRequestToken {
		fmt.Printf("version %v is already current\n", ev.ClientRequestToken)
		return nil
	}

	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        aws.String(ev.SecretID),
		VersionStage:    aws.String(stageCurrent),
		MoveToVersionId: aws.String(ev.ClientRequestToken),
	}
	if current != "" {
		input.RemoveFromVersionId = aws.String(current)
	}

	if _, err := r.sm.UpdateSecretVersionStage(input); err != nil {
		return fmt.Errorf("could not promote pending version: %v", err)
	}

	fmt.Printf("promoted version %v to current\n", ev.ClientRequestToken)
	return nil
}
