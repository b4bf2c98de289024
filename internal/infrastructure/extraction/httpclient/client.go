package httpclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

var (
	_ ports.ExtractionClient = (*Client)(nil)
	_ ports.CacheChecker     = (*Client)(nil)
)

type Options struct {
	APIKey             string
	Timeout            time.Duration
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

// New returns a client for the extraction service at baseURL. The per-page
// deadline comes from the caller's context; Timeout only bounds a single
// HTTP exchange.
func New(baseURL string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     options.APIKey,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

type extractRequest struct {
	SessionID      string             `json:"session_id"`
	CaseID         string             `json:"case_id,omitempty"`
	BatchID        string             `json:"batch_id"`
	Subtype        domain.Subtype     `json:"subtype"`
	PageName       string             `json:"page_name"`
	PageIndex      int                `json:"page_index"`
	MimeType       string             `json:"mime_type"`
	ContentBase64  string             `json:"content_base64"`
	Record         *domain.CaseRecord `json:"record"`
	UserText       string             `json:"user_text,omitempty"`
	LastQuestion   string             `json:"last_question,omitempty"`
	IncludeRawText bool               `json:"include_raw_text"`
	ForceReprocess bool               `json:"force_reprocess"`
}

func (c *Client) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	payload := extractRequest{
		SessionID:      req.SessionID,
		CaseID:         req.CaseID,
		BatchID:        req.BatchID,
		Subtype:        req.Subtype,
		PageName:       req.Page.Name,
		PageIndex:      req.PageIndex,
		MimeType:       req.Page.MimeType,
		ContentBase64:  base64.StdEncoding.EncodeToString(req.Page.Content),
		Record:         req.Record,
		UserText:       req.UserText,
		LastQuestion:   req.LastQuestion,
		IncludeRawText: req.IncludeRawText,
		ForceReprocess: req.ForceReprocess,
	}

	var result domain.ExtractionResult
	err := c.execute(ctx, "extraction.extract", func(ctx context.Context) error {
		result = domain.ExtractionResult{}
		return c.postJSON(ctx, "/v1/extract", req.SessionID, payload, &result, "extract")
	})
	if err != nil {
		return nil, mapExtractionError("extract page "+req.Page.Name, err)
	}
	return &result, nil
}

type cacheCheckRequest struct {
	SessionID string   `json:"session_id"`
	Hashes    []string `json:"hashes"`
}

type cacheCheckResponse struct {
	Processed []struct {
		Hash  string `json:"hash"`
		Scope string `json:"scope"`
	} `json:"processed"`
}

func (c *Client) CheckProcessed(ctx context.Context, sessionID string, hashes []string) (map[string]string, error) {
	if len(hashes) == 0 {
		return map[string]string{}, nil
	}
	var response cacheCheckResponse
	err := c.execute(ctx, "extraction.cache_check", func(ctx context.Context) error {
		response = cacheCheckResponse{}
		return c.postJSON(ctx, "/v1/cache/check", sessionID, cacheCheckRequest{SessionID: sessionID, Hashes: hashes}, &response, "cache check")
	})
	if err != nil {
		return nil, mapExtractionError("cache check", err)
	}
	out := make(map[string]string, len(response.Processed))
	for _, p := range response.Processed {
		if p.Hash == "" {
			continue
		}
		scope := p.Scope
		if scope == "" {
			scope = "global"
		}
		out[p.Hash] = scope
	}
	return out, nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyExtractionError)
}

// decodeResult rejects an empty body. A body without data decodes to an
// empty update.
func decodeResult(body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(body, out)
}
