package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"

	"github.com/security-ir/slacksync/pkg/rotation"
)

var sess *session.Session
var svc *secretsmanager.SecretsManager

func init() {
	sess = session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	svc = secretsmanager.New(sess, &aws.Config{Region: aws.String(os.Getenv("AWS_REGION"))})
}

func handler(ev rotation.Event) error {
	return rotation.NewRotator(svc, nil).Handle(ev)
}

func main() {
	lambda.Start(handler)
}
