// Package main is the Lambda entry point behind API Gateway that lets users
// accept or reject AI category suggestions.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/Veraticus/expense-flow/internal/authz"
	"github.com/Veraticus/expense-flow/internal/awsutil"
	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/config"
	"github.com/Veraticus/expense-flow/internal/dynamo"
	"github.com/Veraticus/expense-flow/internal/httpapi"
	"github.com/Veraticus/expense-flow/internal/validation"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// App holds the handler's dependencies.
type App struct {
	validator *validation.Service
	logger    *slog.Logger
	devBypass bool
}

// handler serves POST /expenses/validate and GET /expenses/{id}.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	userID, err := authz.FromAPIGWv2(req, a.devBypass)
	if err != nil {
		return httpapi.Error(err), nil
	}

	switch req.RequestContext.HTTP.Method {
	case http.MethodGet:
		expense, err := a.validator.Get(ctx, userID, req.PathParameters["id"])
		if err != nil {
			return a.fail(req, err), nil
		}
		return httpapi.JSON(http.StatusOK, httpapi.NewExpenseView(expense)), nil

	case http.MethodPost:
		body := []byte(req.Body)
		if req.IsBase64Encoded {
			if body, err = base64.StdEncoding.DecodeString(req.Body); err != nil {
				return httpapi.Error(common.NewUserError("invalid body encoding", fmt.Errorf("%w: %v", common.ErrValidation, err))), nil
			}
		}

		var in validation.Request
		if err := json.Unmarshal(body, &in); err != nil {
			return httpapi.Error(common.NewUserError("invalid JSON body", fmt.Errorf("%w: %v", common.ErrValidation, err))), nil
		}

		expense, err := a.validator.Validate(ctx, userID, in)
		if err != nil {
			return a.fail(req, err), nil
		}
		return httpapi.JSON(http.StatusOK, httpapi.NewExpenseView(expense)), nil

	default:
		return httpapi.JSON(http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"}), nil
	}
}

func (a *App) fail(req events.APIGatewayV2HTTPRequest, err error) events.APIGatewayV2HTTPResponse {
	if httpapi.StatusCode(err) == http.StatusInternalServerError {
		a.logger.Error("request failed",
			"route", req.RouteKey,
			"request_id", req.RequestContext.RequestID,
			"error", err)
	}
	return httpapi.Error(err)
}

func main() {
	v, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadLambda(v)
	if err != nil {
		log.Fatal(err)
	}
	if err := common.SetupLogger(cfg.Logging.Level, "json"); err != nil {
		log.Fatal(err)
	}

	clients, err := awsutil.Load(context.Background(), cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		log.Fatal(err)
	}

	store := dynamo.NewStore(clients.DynamoDB, cfg.Store.Table, cfg.Store.UserIndex)
	app := &App{
		validator: validation.NewService(store, slog.Default()),
		logger:    slog.Default(),
		devBypass: cfg.Server.DevBypass,
	}
	lambda.Start(app.handler)
}
