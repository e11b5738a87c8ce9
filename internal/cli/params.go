// Package cli wires the kingpin command surface for the parameter and
// deploy tools.
package cli

import (
	"github.com/alecthomas/kingpin/v2"
)

// ParamManager provides the parameter store operations behind the CLI
type ParamManager interface {
	Setup(botToken, signingSecret, workspaceID string) error
	Rotate(botToken, signingSecret, workspaceID string) error
	Validate() error
}

// ParamsCommandInput contains the input for the setup and rotate commands
type ParamsCommandInput struct {
	BotToken      string
	SigningSecret string
	WorkspaceID   string
}

// ConfigureParamCommands sets up the setup, rotate and validate commands
func ConfigureParamCommands(app *kingpin.Application, managerFn func() (ParamManager, error)) {

	setupInput := ParamsCommandInput{}
	rotateInput := ParamsCommandInput{}

	setupCmd := app.Command("setup", "Create the Slack SSM parameters, refusing to overwrite existing ones")
	addParamFlags(setupCmd, &setupInput)
	setupCmd.Action(func(c *kingpin.ParseContext) error {
		m, err := managerFn()
		if err != nil {
			return err
		}
		return m.Setup(setupInput.BotToken, setupInput.SigningSecret, setupInput.WorkspaceID)
	})

	rotateCmd := app.Command("rotate", "Overwrite the Slack SSM parameters with new values")
	addParamFlags(rotateCmd, &rotateInput)
	rotateCmd.Action(func(c *kingpin.ParseContext) error {
		m, err := managerFn()
		if err != nil {
			return err
		}
		return m.Rotate(rotateInput.BotToken, rotateInput.SigningSecret, rotateInput.WorkspaceID)
	})

	validateCmd := app.Command("validate", "Check that the Slack SSM parameters exist")
	validateCmd.Action(func(c *kingpin.ParseContext) error {
		m, err := managerFn()
		if err != nil {
			return err
		}
		return m.Validate()
	})
}

func addParamFlags(cmd *kingpin.CmdClause, input *ParamsCommandInput) {

	cmd.Flag("bot-token", "Slack bot user OAuth token (xoxb-...)").
		Required().
		StringVar(&input.BotToken)

	cmd.Flag("signing-secret", "Slack app signing secret (64 hex characters)").
		Required().
		StringVar(&input.SigningSecret)

	cmd.Flag("workspace-id", "Slack workspace ID (T...)").
		Required().
		StringVar(&input.WorkspaceID)
}
