package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/slack-go/slack"

	"github.com/security-ir/slacksync/pkg/casedb"
	"github.com/security-ir/slacksync/pkg/model"
	"github.com/security-ir/slacksync/pkg/paramcli"
	"github.com/security-ir/slacksync/pkg/webhook"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
)

var wh *webhook.Handler

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

	wh = webhook.NewHandler(
		api,
		eventbridge.NewFromConfig(cfg),
		lambdasvc.NewFromConfig(cfg),
		store,
		os.Getenv("EVENT_BUS_NAME"),
		os.Getenv("COMMAND_FUNCTION"),
	)
}

func handler(ctx context.Context, req *events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: 400, Body: "bad request"}, nil
		}
		body = string(decoded)
	}

	// slash commands arrive form encoded, events as JSON
	if strings.Contains(contentType(req.Headers), "application/x-www-form-urlencoded") {
		return handleCommand(ctx, body)
	}

	challenge, err := wh.HandleEvent(ctx, body)
	if err != nil {
		// Slack retries non-2xx deliveries, so log and acknowledge
		fmt.Printf("could not handle event: %v\n", err)
	}
	return events.APIGatewayProxyResponse{StatusCode: 200, Body: challenge}, nil
}

func handleCommand(ctx context.Context, body string) (events.APIGatewayProxyResponse, error) {

	values, err := url.ParseQuery(body)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: 400, Body: "bad request"}, nil
	}

	cmd := model.Command{
		Command:     values.Get("command"),
		Text:        values.Get("text"),
		UserID:      values.Get("user_id"),
		UserName:    values.Get("user_name"),
		ChannelID:   values.Get("channel_id"),
		ChannelName: values.Get("channel_name"),
		TeamID:      values.Get("team_id"),
		ResponseURL: values.Get("response_url"),
		TriggerID:   values.Get("trigger_id"),
	}

	if err := wh.HandleCommand(ctx, cmd); err != nil {
		fmt.Printf("could not handle command: %v\n", err)
	}
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func contentType(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	return ""
}

func main() {
	lambda.Start(handler)
}
