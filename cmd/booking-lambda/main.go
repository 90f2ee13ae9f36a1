package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/studio-booking/cmd/mainconfig"
	"github.com/wolfman30/studio-booking/internal/app/bootstrap"
	"github.com/wolfman30/studio-booking/internal/booking"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

type invoker interface {
	Invoke(ctx context.Context, name string, body []byte) (int, []byte)
}

func main() {
	cfg := mainconfig.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	app, err := bootstrap.Build(ctx, cfg, awsCfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build booking runtime", "error", err)
		os.Exit(1)
	}
	callable := booking.NewCallable(app.Service, logger)

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, callable, evt)
	})
}

// handle routes POST /<function> (optionally under a stage or /callable
// prefix) to the callable of the same name.
func handle(ctx context.Context, c invoker, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	rawPath := strings.TrimSpace(evt.RawPath)
	if rawPath == "" {
		rawPath = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if rawPath == "/health" || rawPath == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	name := path.Base(path.Clean("/" + rawPath))
	if name == "/" || name == "." {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	status, payload := c.Invoke(ctx, name, body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(payload),
		Headers:    map[string]string{"content-type": "application/json"},
	}, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}
