package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// GraphQLClient talks to the remote data service with the single
// {query, variables} -> {data, errors} call shape.
type GraphQLClient struct {
	endpoint    string
	adminSecret string
	http        *http.Client
	logger      *zap.Logger
}

func NewGraphQLClient(endpoint, adminSecret string, timeout time.Duration, logger *zap.Logger) *GraphQLClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphQLClient{
		endpoint:    endpoint,
		adminSecret: adminSecret,
		http:        &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type bearerKey struct{}

// withBearer stores the caller's Authorization header so remote calls run as the caller.
func withBearer(ctx context.Context, authorization string) context.Context {
	if authorization == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey{}, authorization)
}

func bearerFromContext(ctx context.Context) string {
	s, _ := ctx.Value(bearerKey{}).(string)
	return s
}

// Execute runs one query and decodes its data member into out. Transport
// failures and GraphQL errors both come back as remote_query_failure.
func (c *GraphQLClient) Execute(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.endpoint == "" {
		return NewError(ErrRemoteQuery, "GraphQL endpoint is not configured")
	}
	body, err := sonic.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return WrapError(ErrInternal, "failed to encode GraphQL request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return WrapError(ErrInternal, "failed to build GraphQL request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if auth := bearerFromContext(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if c.adminSecret != "" {
		req.Header.Set("x-hasura-admin-secret", c.adminSecret)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("GraphQL request failed", zap.Error(err))
		return WrapError(ErrRemoteQuery, "GraphQL request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapError(ErrRemoteQuery, "failed to read GraphQL response", err)
	}
	c.logger.Debug("GraphQL request done",
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
		zap.Int("bytes", len(raw)))

	var decoded graphQLResponse
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return NewError(ErrRemoteQuery, fmt.Sprintf("GraphQL endpoint returned %s", resp.Status))
		}
		return WrapError(ErrRemoteQuery, "GraphQL response is not JSON", err)
	}
	if len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msgs = append(msgs, e.Message)
		}
		return NewError(ErrRemoteQuery, strings.Join(msgs, "; "))
	}
	if resp.StatusCode != http.StatusOK {
		return NewError(ErrRemoteQuery, fmt.Sprintf("GraphQL endpoint returned %s", resp.Status))
	}
	if out == nil || len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return nil
	}
	if err := sonic.Unmarshal(decoded.Data, out); err != nil {
		return WrapError(ErrRemoteQuery, "failed to decode GraphQL data", err)
	}
	return nil
}
