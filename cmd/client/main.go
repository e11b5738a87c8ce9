package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/securityir"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/slack-go/slack"

	"github.com/security-ir/slacksync/pkg/casedb"
	"github.com/security-ir/slacksync/pkg/paramcli"
	"github.com/security-ir/slacksync/pkg/syncer"
)

var s *syncer.Syncer

func init() {
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(err)
	}

	param, err := ssm.NewFromConfig(cfg).GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramcli.BotTokenParameter),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		panic(err)
	}

	api := slack.New(aws.ToString(param.Parameter.Value))
	store := casedb.NewStore(dynamodb.NewFromConfig(cfg), os.Getenv("CASE_TABLE"))
	s = syncer.New(api, securityir.NewFromConfig(cfg), store)
}

func handler(ctx context.Context, ev events.CloudWatchEvent) error {

	env := syncer.Envelope{
		Source:     ev.Source,
		DetailType: ev.DetailType,
		Detail:     ev.Detail,
	}

	switch ev.Source {
	case syncer.SlackSource:
		return s.ProcessSlackEvent(ctx, env)
	case syncer.CaseSource:
		return s.ProcessCaseEvent(ctx, env)
	default:
		fmt.Printf("ignoring event from source %v\n", ev.Source)
		return nil
	}
}

func main() {
	lambda.Start(handler)
}
