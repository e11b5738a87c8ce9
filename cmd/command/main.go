package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/securityir"

	"github.com/security-ir/slacksync/pkg/command"
)

var h *command.Handler

func init() {
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		panic(err)
	}
	h = command.NewHandler(securityir.NewFromConfig(cfg))
}

func handler(ctx context.Context, p command.Payload) error {
	return h.Handle(ctx, p)
}

func main() {
	lambda.Start(handler)
}
