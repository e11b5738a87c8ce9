package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/alecthomas/kingpin/v2"
)

// CloudFormation stack names the CDK app synthesizes
const (
	commonStack     = "AwsSecurityIncidentResponseSampleIntegrationsCommonStack"
	jiraStack       = "AwsSecurityIncidentResponseJiraIntegrationStack"
	serviceNowStack = "AwsSecurityIncidentResponseServiceNowIntegrationStack"
)

// RunFunc executes an external command
type RunFunc func(name string, args ...string) error

// DefaultRun executes the command with output attached to the terminal
func DefaultRun(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// JiraDeployInput contains the input for the jira deploy command
type JiraDeployInput struct {
	Email      string
	URL        string
	Token      string
	ProjectKey string
}

// ServiceNowDeployInput contains the input for the service-now deploy command
type ServiceNowDeployInput struct {
	InstanceID        string
	Username          string
	Password          string
	IntegrationModule string
}

// ConfigureDeployCommands sets up the jira and service-now deploy commands
func ConfigureDeployCommands(app *kingpin.Application, run RunFunc) {

	var logLevel string
	app.Flag("log-level", "Log level for the deployed functions").
		Default("error").
		EnumVar(&logLevel, "info", "debug", "error")

	jiraInput := JiraDeployInput{}
	jiraCmd := app.Command("jira", "Deploy the Jira integration")
	jiraCmd.Flag("email", "Jira email").Required().StringVar(&jiraInput.Email)
	jiraCmd.Flag("url", "Jira URL").Required().StringVar(&jiraInput.URL)
	jiraCmd.Flag("token", "Jira API token").Required().StringVar(&jiraInput.Token)
	jiraCmd.Flag("project-key", "Jira project key").Required().StringVar(&jiraInput.ProjectKey)
	jiraCmd.Action(func(c *kingpin.ParseContext) error {
		return deployJira(run, jiraInput, logLevel)
	})

	snowInput := ServiceNowDeployInput{}
	snowCmd := app.Command("service-now", "Deploy the ServiceNow integration")
	snowCmd.Flag("instance-id", "ServiceNow instance ID").Required().StringVar(&snowInput.InstanceID)
	snowCmd.Flag("username", "ServiceNow username").Required().StringVar(&snowInput.Username)
	snowCmd.Flag("password", "ServiceNow password").Required().StringVar(&snowInput.Password)
	snowCmd.Flag("integration-module", "ServiceNow module, itsm or ir").
		Default("itsm").
		EnumVar(&snowInput.IntegrationModule, "itsm", "ir")
	snowCmd.Action(func(c *kingpin.ParseContext) error {
		return deployServiceNow(run, snowInput, logLevel)
	})
}

func deployJira(run RunFunc, input JiraDeployInput, logLevel string) error {

	args := []string{
		"cdk", "deploy",
		commonStack,
		jiraStack,
		"--parameters", fmt.Sprintf("%v:logLevel=%v", commonStack, logLevel),
		"--parameters", fmt.Sprintf("%v:jiraEmail=%v", jiraStack, input.Email),
		"--parameters", fmt.Sprintf("%v:jiraUrl=%v", jiraStack, input.URL),
		"--parameters", fmt.Sprintf("%v:jiraToken=%v", jiraStack, input.Token),
		"--parameters", fmt.Sprintf("%v:jiraProjectKey=%v", jiraStack, input.ProjectKey),
	}

	fmt.Println("deploying Jira integration")
	if err := run("npx", args...); err != nil {
		return fmt.Errorf("could not deploy Jira integration: %v", err)
	}
	fmt.Println("Jira integration deployed")
	return nil
}

func deployServiceNow(run RunFunc, input ServiceNowDeployInput, logLevel string) error {

	args := []string{
		"cdk", "deploy",
		commonStack,
		serviceNowStack,
		"--parameters", fmt.Sprintf("%v:logLevel=%v", commonStack, logLevel),
		"--parameters", fmt.Sprintf("%v:integrationModule=%v", commonStack, input.IntegrationModule),
		"--parameters", fmt.Sprintf("%v:serviceNowInstanceId=%v", serviceNowStack, input.InstanceID),
		"--parameters", fmt.Sprintf("%v:serviceNowUser=%v", serviceNowStack, input.Username),
		"--parameters", fmt.Sprintf("%v:serviceNowPassword=%v", serviceNowStack, input.Password),
	}

	fmt.Println("deploying ServiceNow integration")
	if err := run("npx", args...); err != nil {
		return fmt.Errorf("could not deploy ServiceNow integration: %v", err)
	}
	fmt.Println("ServiceNow integration deployed")
	return nil
}
