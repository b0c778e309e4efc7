package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParametersByPath is the subset of *ssm.Client used to load the environment.
type ParametersByPath interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// NewSSMClient loads the default AWS configuration for region.
func NewSSMClient(ctx context.Context, region string) (*ssm.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("NewSSMClient: %w", err)
	}
	return ssm.NewFromConfig(cfg), nil
}

// LoadParameters exports every parameter under prefix as an environment
// variable named after the rest of its path. Variables already set in the
// process win. It returns the number of variables exported.
func LoadParameters(ctx context.Context, client ParametersByPath, prefix string) (int, error) {
	const op = "LoadParameters"

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	exported := 0
	var next *string
	for {
		out, err := client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
			NextToken:      next,
		})
		if err != nil {
			return exported, fmt.Errorf("%s %s: %w", op, prefix, err)
		}
		for _, param := range out.Parameters {
			key := strings.TrimPrefix(aws.ToString(param.Name), prefix)
			if key == "" {
				continue
			}
			if _, set := os.LookupEnv(key); set {
				continue
			}
			if err := os.Setenv(key, aws.ToString(param.Value)); err != nil {
				return exported, fmt.Errorf("%s: set %s: %w", op, key, err)
			}
			exported++
		}
		if out.NextToken == nil {
			return exported, nil
		}
		next = out.NextToken
	}
}
