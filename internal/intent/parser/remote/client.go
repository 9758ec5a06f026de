package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/intent"
	"OpenIntent-Chain/internal/intent/parser"
)

const (
	defaultModelName = "intent-parser-v2"
	defaultTimeout   = 30 * time.Second
)

// Config 描述调用远端意图解析服务所需的信息。
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用远端服务完成自然语言到意图的解析。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建解析客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未提供意图解析服务地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type parseRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type parseResponse struct {
	Intent struct {
		Type   string        `json:"type"`
		Params intent.Params `json:"params"`
	} `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Parse 将自由文本发送至解析服务并返回校验后的意图。
func (c *Client) Parse(ctx context.Context, text string) (*intent.Intent, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, xerrors.New(intent.CodeValidation, "解析文本不能为空")
	}

	payload, err := json.Marshal(parseRequest{Text: trimmed, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("序列化解析请求失败: %w", err)
	}

	endpoint := c.baseURL + "/v1/parse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建解析请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParserFailure, err, "请求意图解析服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeParserFailure,
			fmt.Sprintf("解析服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParserFailure, err, "解析服务响应格式非法")
	}

	parsed := &intent.Intent{
		Type:   intent.NormalizeType(decoded.Intent.Type),
		Params: decoded.Intent.Params,
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	return parsed, nil
}

// ensure interface compliance at compile time
var _ parser.Parser = (*Client)(nil)
