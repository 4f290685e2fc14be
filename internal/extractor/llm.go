package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/property-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
)

const chatCompletionsPath = "/v1/chat/completions"

const systemPrompt = `부동산 검색어에서 키워드를 추출해 아래 형식의 JSON 객체 하나만 반환하세요.

{
  "address": "시·도 + 시·군·구 (예: 서울시 강남구)",
  "transaction_type": ["매매", "전세", "월세", "단기임대"] 중 1개 이상,
  "building_type": ["아파트", "오피스텔", "빌라", "아파트분양권", "오피스텔분양권", "재건축", "전원주택", "단독/다가구", "상가주택", "한옥주택", "재개발", "원룸", "상가", "사무실", "공장/창고", "건물", "토지", "지식산업센터"] 중 1개 이상,
  "sale_price": [최대값] 또는 [최소값, 최대값] 또는 null,
  "deposit": [최대값] 또는 [최소값, 최대값] 또는 null,
  "monthly_rent": [최대값] 또는 [최소값, 최대값] 또는 null,
  "area_range": "~ 10평", "10평대", "20평대", "30평대", "40평대", "50평대", "60평대", "70평 ~" 중 하나 또는 null
}

규칙:
1. address에 시·군·구가 없으면 {"error": "이유"}만 반환.
2. transaction_type, building_type을 하나도 찾을 수 없으면 {"error": "이유"}만 반환.
3. 모든 금액은 원 단위 정수. 여러 값이 있으면 최소값과 최대값만 반환.
4. 값이 없는 선택 필드는 null.
5. 위 필드 외의 필드는 포함하지 말 것.`

// HTTPError is a non-2xx answer from the completion endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.StatusCode, e.Body)
}

// LLMExtractor extracts filters through an OpenAI-compatible chat
// completions endpoint.
type LLMExtractor struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration

	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// NewLLM builds an LLMExtractor. m may be nil.
func NewLLM(cfg config.LLMConfig, m *metrics.Metrics) (*LLMExtractor, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llm: base url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        isUpstreamFailure,
	}
	if m != nil {
		breakerCfg.OnStateChange = m.ObserveBreaker()
	}

	return &LLMExtractor{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		httpClient:  &http.Client{Transport: tr},
		breaker:     resilience.NewCircuitBreaker("llm", breakerCfg),
		logger:      slog.Default().With("component", "llm-extractor"),
	}, nil
}

// NewLLMWithHTTPClient is NewLLM with a caller-supplied client, used by
// tests to avoid network access.
func NewLLMWithHTTPClient(cfg config.LLMConfig, m *metrics.Metrics, httpClient *http.Client) (*LLMExtractor, error) {
	e, err := NewLLM(cfg, m)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		e.httpClient = httpClient
	}
	return e, nil
}

// BreakerState reports the circuit state for health checks.
func (e *LLMExtractor) BreakerState() resilience.State {
	return e.breaker.GetState()
}

// Extract asks the model for a filter. Every failure is an ExtractionError:
// transport and upstream errors, answers that are not JSON, answers that
// violate the schema and filters that fail validation.
func (e *LLMExtractor) Extract(ctx context.Context, query string) (filter.Filter, error) {
	log := logger.FromContext(ctx).With("component", "llm-extractor")
	start := time.Now()

	content, err := resilience.WithTimeoutValue(ctx, e.timeout, "llm completion", func(ctx context.Context) (string, error) {
		return resilience.Call(e.breaker, func() (string, error) {
			return e.complete(ctx, query)
		})
	})
	if err != nil {
		log.Warn("llm completion failed", "error", err, "duration", time.Since(start))
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return filter.Filter{}, apperrors.Extraction("keyword extraction is temporarily unavailable", err)
		}
		return filter.Filter{}, apperrors.Extraction("keyword extraction failed", err)
	}

	f, err := decodeFilter(content)
	if err != nil {
		log.Info("llm answer rejected", "error", err, "answer", truncate(content, 300))
		return filter.Filter{}, apperrors.Extraction("could not understand the query, please rephrase", err)
	}
	log.Debug("keywords extracted", "address", f.Address, "duration", time.Since(start))
	return f, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (e *LLMExtractor) complete(ctx context.Context, query string) (string, error) {
	body := chatCompletionRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "쿼리: " + query},
		},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	}
	var resp chatCompletionResponse
	if err := e.doJSON(ctx, http.MethodPost, chatCompletionsPath, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *LLMExtractor) doJSON(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// isUpstreamFailure keeps client errors other than 429 from opening the
// circuit.
func isUpstreamFailure(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
