package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"

	"github.com/security-ir/slacksync/pkg/rotation"
	"github.com/security-ir/slacksync/pkg/snowapi"
)

var svc *secretsmanager.SecretsManager
var pusher *snowapi.Pusher

func init() {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	svc = secretsmanager.New(sess, &aws.Config{Region: aws.String(os.Getenv("AWS_REGION"))})

	client, err := snowapi.NewClient(
		os.Getenv("SNOW_INSTANCE"),
		os.Getenv("SNOW_USERNAME"),
		os.Getenv("SNOW_PASSWORD"),
	)
	if err != nil {
		panic(err)
	}
	pusher = &snowapi.Pusher{Client: client, MessageFunction: os.Getenv("SNOW_MESSAGE_FUNCTION")}
}

func handler(ev rotation.Event) error {
	return rotation.NewRotator(svc, pusher).Handle(ev)
}

func main() {
	lambda.Start(handler)
}
