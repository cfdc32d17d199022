// Package paramstore reads secrets such as the bot token from AWS SSM
// Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "paramstore"

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter fetches one parameter value by name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted parameters.
type Client struct {
	api ssmAPI
}

// New wraps api.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	start := time.Now()
	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		logger.Error(ctx, component, "ssm.get",
			slog.String("status", "fail"),
			slog.String("name", name),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}
	logger.Info(ctx, component, "ssm.get",
		slog.String("status", "ok"),
		slog.String("name", name),
		slog.Duration("duration", logger.Took(start)),
	)
	return *out.Parameter.Value, nil
}

// Resolve returns value when set, otherwise the parameter named param.
func Resolve(ctx context.Context, g Getter, value, param string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	if strings.TrimSpace(param) == "" {
		return "", errors.New("paramstore: neither value nor parameter name given")
	}
	if g == nil {
		return "", errors.New("paramstore: no parameter store configured")
	}
	v, err := g.GetParameter(ctx, param)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("paramstore: parameter %q is empty", param)
	}
	return v, nil
}
