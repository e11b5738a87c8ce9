// Package authorizer verifies Slack webhook signatures for API Gateway.
package authorizer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const (
	// signatureVersion is Slack's signing scheme version
	signatureVersion = "v0"
	// skewWindow bounds the age of a request timestamp
	skewWindow = 300 * time.Second
	// cacheTTL bounds how long the signing secret is held in memory
	cacheTTL = 300 * time.Second
)

// ParamGetter provides a parameter getter
type ParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Request carries the fields of a REQUEST-type authorizer invocation.
// The payload includes the raw body, which the canned API Gateway event
// types do not expose.
type Request struct {
	MethodArn string            `json:"methodArn"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
}

// SecretCache holds the signing secret with an expiry so rotation
// propagates within the TTL without an SSM round trip per request
type SecretCache struct {
	params ParamGetter
	name   string
	now    func() time.Time

	value  string
	expiry time.Time
}

// NewSecretCache returns a cache over the named SSM parameter
func NewSecretCache(params ParamGetter, name string) *SecretCache {
	return &SecretCache{params: params, name: name, now: time.Now}
}

// Get returns the signing secret, refreshing from SSM when the cached
// value has expired
func (c *SecretCache) Get(ctx context.Context) (string, error) {

	if c.value != "" && c.now().Before(c.expiry) {
		return c.value, nil
	}

	resp, err := c.params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("could not get signing secret: %v", err)
	}
	if resp.Parameter == nil || resp.Parameter.Value == nil {
		return "", fmt.Errorf("signing secret parameter %v has no value", c.name)
	}

	c.value = aws.ToString(resp.Parameter.Value)
	c.expiry = c.now().Add(cacheTTL)
	return c.value, nil
}

// Authorizer checks request signatures against the cached secret
type Authorizer struct {
	secrets *SecretCache
	now     func() time.Time
}

// New returns an authorizer backed by the given secret cache
func New(secrets *SecretCache) *Authorizer {
	return &Authorizer{secrets: secrets, now: time.Now}
}

// VerifySignature reports whether sig matches the v0 HMAC-SHA256 of the
// timestamp and body under the secret, and the timestamp is within the
// replay window of now
func VerifySignature(secret, timestamp, body, sig string, now time.Time) bool {

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > skewWindow {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%v:%v:%v", signatureVersion, timestamp, body)
	expected := signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sig))
}

// Handle authorizes one request. Any failure denies; the error return is
// always nil so API Gateway gets a policy rather than a 500.
func (a *Authorizer) Handle(ctx context.Context, req Request) (events.APIGatewayCustomAuthorizerResponse, error) {

	timestamp := header(req.Headers, "X-Slack-Request-Timestamp")
	sig := header(req.Headers, "X-Slack-Signature")

	if timestamp == "" || sig == "" {
		fmt.Println("missing slack signature headers, denying")
		return a.policy(req.MethodArn, false, ""), nil
	}

	secret, err := a.secrets.Get(ctx)
	if err != nil {
		fmt.Printf("%v, denying\n", err)
		return a.policy(req.MethodArn, false, ""), nil
	}

	if !VerifySignature(secret, timestamp, req.Body, sig, a.now()) {
		fmt.Println("invalid slack signature, denying")
		return a.policy(req.MethodArn, false, ""), nil
	}

	return a.policy(req.MethodArn, true, timestamp), nil
}

func (a *Authorizer) policy(methodArn string, allow bool, timestamp string) events.APIGatewayCustomAuthorizerResponse {

	effect := "Deny"
	resp := events.APIGatewayCustomAuthorizerResponse{PrincipalID: "slack-webhook"}

	if allow {
		effect = "Allow"
		resp.Context = map[string]interface{}{
			"timestamp": timestamp,
			"verified":  "true",
		}
	}

	resp.PolicyDocument = events.APIGatewayCustomAuthorizerPolicy{
		Version: "2012-10-17",
		Statement: []events.IAMPolicyStatement{{
			Action:   []string{"execute-api:Invoke"},
			Effect:   effect,
			Resource: []string{methodArn},
		}},
	}
	return resp
}

// header finds a header value regardless of the casing API Gateway used
func header(headers map[string]string, name string) string {

	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
