package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Compile-time check.
var _ ProjectAPI = (*projectAPIClient)(nil)

type projectAPIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	tokens     TokenProvider
}

// NewProjectAPIClient создает REST-клиент бэкенда проектов.
func NewProjectAPIClient(baseURL string, timeout time.Duration, logger *zap.Logger, tokens TokenProvider) (ProjectAPI, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL for project service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &projectAPIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("ProjectAPIClient"),
		tokens:     tokens,
	}, nil
}

// doRequestWithTokenRefresh выполняет запрос с bearer-токеном
// и одним повтором после обновления токена при 401.
func (c *projectAPIClient) doRequestWithTokenRefresh(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		resp.Body.Close()

		newToken, err := c.tokens.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}

		newReq := req.Clone(ctx)
		// Тело исходного запроса уже вычитано первым Do — перематываем.
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body for retry: %w", err)
			}
			newReq.Body = body
		}
		newReq.Header.Set("Authorization", "Bearer "+newToken)
		return c.httpClient.Do(newReq)
	}

	return resp, nil
}

// getJSON выполняет GET и декодирует JSON-ответ в out.
func (c *projectAPIClient) getJSON(ctx context.Context, path string, out interface{}) error {
	reqURL := c.baseURL + path
	log := c.logger.With(zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("internal error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequestWithTokenRefresh(ctx, req)
	if err != nil {
		log.Error("HTTP GET failed", zap.Error(err))
		return fmt.Errorf("failed to communicate with project service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read project service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("Received non-OK status", zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
		return fmt.Errorf("received unexpected status %d from project service", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("invalid response format from project service: %w", err)
	}
	return nil
}

// GetGenerationStatus возвращает серверное состояние генерации проекта.
func (c *projectAPIClient) GetGenerationStatus(ctx context.Context, projectID string) (*GenerationStatus, error) {
	var status GenerationStatus
	path := fmt.Sprintf("/projects/%s/generation/status", url.PathEscape(projectID))
	if err := c.getJSON(ctx, path, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListPromptTemplates возвращает шаблоны промптов.
func (c *projectAPIClient) ListPromptTemplates(ctx context.Context) ([]PromptTemplate, error) {
	var templates []PromptTemplate
	if err := c.getJSON(ctx, "/prompt-templates", &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// UpdatePromptTemplate сохраняет отредактированный шаблон промпта.
func (c *projectAPIClient) UpdatePromptTemplate(ctx context.Context, tpl PromptTemplate) error {
	reqURL := fmt.Sprintf("%s/prompt-templates/%s", c.baseURL, url.PathEscape(tpl.ID))
	log := c.logger.With(zap.String("url", reqURL))

	bodyBytes, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("internal error marshaling template: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("internal error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doRequestWithTokenRefresh(ctx, req)
	if err != nil {
		log.Error("HTTP PUT failed", zap.Error(err))
		return fmt.Errorf("failed to communicate with project service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Warn("Received non-OK status for template update",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return fmt.Errorf("received unexpected status %d from project service", resp.StatusCode)
	}

	log.Info("Prompt template updated", zap.String("templateID", tpl.ID))
	return nil
}
