package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/security-ir/slacksync/pkg/authorizer"
	"github.com/security-ir/slacksync/pkg/paramcli"
)

var auth *authorizer.Authorizer

func init() {
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		panic(err)
	}
	cache := authorizer.NewSecretCache(ssm.NewFromConfig(cfg), paramcli.SigningSecretParameter)
	auth = authorizer.New(cache)
}

func handler(ctx context.Context, req authorizer.Request) (events.APIGatewayCustomAuthorizerResponse, error) {
	return auth.Handle(ctx, req)
}

func main() {
	lambda.Start(handler)
}
