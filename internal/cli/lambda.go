package cli

import (
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/alechenninger/gatehouse/internal/config"
)

// NewLambdaCmd creates the lambda command
func NewLambdaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "Run as a CloudFront Lambda@Edge function",
		Long: `Run the CloudFront Lambda@Edge handler under the AWS Lambda runtime.

Lambda@Edge functions cannot read environment variables, so configuration
normally comes from a file bundled with the function (--config). The key
cache and HTTP clients are built once and reused by every invocation the
container serves.`,
		RunE: runLambda,
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runLambda(cmd *cobra.Command, args []string) error {
	provider, _, err := loadProvider(cmd)
	if err != nil {
		return err
	}

	adapter, err := provider.EdgeAdapter()
	if err != nil {
		return fmt.Errorf("failed to build edge adapter: %w", err)
	}

	lambda.Start(adapter.HandleEvent)
	return nil
}
