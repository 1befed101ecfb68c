// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// WebserviceTokenEnv allows bypassing Secrets Manager lookups (e.g., local runs).
// When set (even to an empty string), ResolveWebserviceToken returns the value directly.
const WebserviceTokenEnv = "PHANTOMQA_WEBSERVICE_TOKEN" //nolint:gosec // env var name, not a credential

type secretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveWebserviceToken returns the bearer token for the web service.
// Priority:
// 1. WebserviceTokenEnv
// 2. the token from the config file
// 3. AWS Secrets Manager, when secretName is set
//
// An empty result means requests are sent without authorization.
func ResolveWebserviceToken(ctx context.Context, configured, secretName, region string) (string, error) {
	if tok, ok := os.LookupEnv(WebserviceTokenEnv); ok {
		return tok, nil
	}
	if configured != "" {
		return configured, nil
	}
	if secretName == "" {
		return "", nil
	}
	return GetTokenFromSecretsManager(ctx, secretName, region)
}

// GetTokenFromSecretsManager retrieves the web service token from AWS Secrets Manager.
// The secret JSON is expected to contain a "token" field.
func GetTokenFromSecretsManager(ctx context.Context, secretName, region string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}
	if region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("create AWS config: %w", err)
	}
	return getToken(ctx, secretsmanager.NewFromConfig(awsCfg), secretName)
}

func getToken(ctx context.Context, svc secretGetter, secretName string) (string, error) {
	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}
	return parseTokenSecret(*out.SecretString, secretName)
}

func parseTokenSecret(secret, secretName string) (string, error) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(secret), &payload); err != nil {
		return "", fmt.Errorf("parse secret json: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token field empty in secret %s", secretName)
	}
	return payload.Token, nil
}
