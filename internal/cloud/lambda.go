// Package cloud wraps the AWS services the operators drive besides S3:
// Lambda functions and Redshift cluster snapshots.
package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"saasloader/internal/domain"
	"saasloader/internal/objectstore"
)

// ── Lambda ─────────────────────────────────────────────────

// Invoker calls Lambda functions synchronously.
type Invoker struct {
	client *lambda.Client
	logger *slog.Logger
}

// NewInvoker builds an Invoker from a connection. Host is a custom endpoint;
// region overrides Extra["region"] when set.
func NewInvoker(ctx context.Context, conn *domain.Connection, region string, logger *slog.Logger) (*Invoker, error) {
	cfg, err := objectstore.LoadConfig(ctx, conn, region)
	if err != nil {
		return nil, err
	}
	var opts []func(*lambda.Options)
	if conn.Host != "" {
		endpoint := conn.Host
		opts = append(opts, func(o *lambda.Options) { o.BaseEndpoint = &endpoint })
	}
	return NewInvokerFromClient(lambda.NewFromConfig(cfg, opts...), logger), nil
}

// NewInvokerFromClient wraps an existing client.
func NewInvokerFromClient(client *lambda.Client, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{client: client, logger: logger}
}

// Invoke runs function with payload and returns its response. A function
// that raised is an error carrying the error payload.
func (i *Invoker) Invoke(ctx context.Context, function string, payload []byte) ([]byte, error) {
	out, err := i.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", function, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("invoke %s: function error %s: %s", function, aws.ToString(out.FunctionError), out.Payload)
	}
	i.logger.Info("lambda invoked", "function", function, "status", out.StatusCode, "bytes", len(out.Payload))
	return out.Payload, nil
}
