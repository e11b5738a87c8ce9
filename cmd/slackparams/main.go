package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"

	"github.com/security-ir/slacksync/internal/cli"
	"github.com/security-ir/slacksync/pkg/paramcli"
)

// Version is provided at compile time
var Version = "dev"

func main() {
	app := kingpin.New("slackparams", "Manage the Slack SSM parameters for the Security Incident Response integration")
	app.Version(Version)

	cli.ConfigureParamCommands(app, func() (cli.ParamManager, error) {
		sess, err := session.NewSessionWithOptions(session.Options{
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return nil, err
		}
		return paramcli.NewManager(ssm.New(sess, &aws.Config{Region: aws.String(os.Getenv("AWS_REGION"))})), nil
	})

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
