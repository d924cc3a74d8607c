package services

import (
	"bytes"
	ctx "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/pkoukk/tiktoken-go"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

// LLMService talks to the OpenAI-compatible upstream. Provider error bodies
// are logged but never forwarded to clients; callers see a sanitized AppError.
type LLMService struct {
	context.DefaultService

	apiKey  string
	baseURL string
	model   string

	client *http.Client
}

const LLM_SVC = "llm_svc"

const (
	upstreamTimeout      = 30 * time.Second
	realtimeTokenTTL     = time.Minute
	defaultChatModel     = "gpt-4o-mini"
	defaultRealtimeModel = "gpt-4o-mini-realtime-preview"
)

func (svc LLMService) Id() string {
	return LLM_SVC
}

func (svc *LLMService) Configure(c *context.Context) error {
	svc.apiKey = os.Getenv("OPENAI_API_KEY")

	svc.baseURL = strings.TrimSuffix(os.Getenv("OPENAI_BASE_URL"), "/")
	if svc.baseURL == "" {
		svc.baseURL = "https://api.openai.com/v1"
	}

	svc.model = os.Getenv("OPENAI_MODEL")
	if svc.model == "" {
		svc.model = defaultChatModel
	}

	svc.client = &http.Client{Timeout: upstreamTimeout}
	return svc.DefaultService.Configure(c)
}

func (svc *LLMService) Start() error {
	if svc.apiKey == "" {
		log.Warn("OPENAI_API_KEY is not set, upstream calls will fail")
	}
	return nil
}

func (svc *LLMService) Model() string {
	return svc.model
}

type chatCompletionRequest struct {
	Model    string            `json:"model"`
	Messages []dto.ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends the conversation to the upstream chat completions endpoint.
func (svc *LLMService) Complete(req *dto.ChatRequest) (*dto.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = svc.model
	}

	messages := make([]dto.ChatMessage, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, dto.ChatMessage{Role: "user", Content: req.Message})

	body, err := svc.postJSON("/chat/completions", chatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, err
	}

	var parsed chatCompletionResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, shared.NewInternalError(err, "The assistant returned an unreadable response.")
	}
	if len(parsed.Choices) == 0 {
		return nil, shared.NewInternalError(nil, "The assistant returned an empty response.")
	}

	inputTokens := parsed.Usage.PromptTokens
	if inputTokens == 0 {
		// Some compatible providers omit usage; estimate locally so the cost
		// ledger never records free tokens.
		inputTokens = svc.EstimateInputTokens(req)
	}

	return &dto.CompletionResult{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  inputTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

type realtimeSessionRequest struct {
	Model string `json:"model"`
}

type realtimeSessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// MintRealtimeToken asks the upstream for a short-lived client secret the
// browser uses to open its own realtime connection. The backend never relays
// realtime audio.
func (svc *LLMService) MintRealtimeToken() (*dto.RealtimeTokenResponse, error) {
	model := os.Getenv("OPENAI_REALTIME_MODEL")
	if model == "" {
		model = defaultRealtimeModel
	}

	body, err := svc.postJSON("/realtime/sessions", realtimeSessionRequest{Model: model})
	if err != nil {
		return nil, err
	}

	var parsed realtimeSessionResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, shared.NewInternalError(err, "The assistant returned an unreadable response.")
	}
	if parsed.ClientSecret.Value == "" {
		return nil, shared.NewInternalError(nil, "The assistant returned no session token.")
	}

	expiresAt := parsed.ClientSecret.ExpiresAt
	if expiresAt == 0 {
		expiresAt = time.Now().Add(realtimeTokenTTL).Unix()
	}

	return &dto.RealtimeTokenResponse{
		Token:     parsed.ClientSecret.Value,
		ExpiresAt: expiresAt,
		Model:     model,
	}, nil
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Synthesize returns raw MP3 audio for the given text.
func (svc *LLMService) Synthesize(text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}
	return svc.postJSON("/audio/speech", speechRequest{
		Model: "tts-1",
		Input: text,
		Voice: voice,
	})
}

// EstimateInputTokens counts prompt tokens locally so cost accounting still
// works when the upstream omits usage data.
func (svc *LLMService) EstimateInputTokens(req *dto.ChatRequest) int {
	enc, err := tiktoken.EncodingForModel(svc.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Rough fallback: four bytes per token.
			total := len(req.Message)
			for _, m := range req.History {
				total += len(m.Content)
			}
			return total / 4
		}
	}

	total := len(enc.Encode(req.Message, nil, nil))
	for _, m := range req.History {
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}

func (svc *LLMService) postJSON(path string, payload interface{}) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to encode upstream request.")
	}

	reqCtx, cancel := ctx.WithTimeout(ctx.Background(), upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, svc.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to build upstream request.")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+svc.apiKey)

	resp, err := svc.client.Do(req)
	if err != nil {
		if errors.Is(err, ctx.DeadlineExceeded) || isTimeout(err) {
			return nil, shared.NewUpstreamTimeoutError(err)
		}
		log.WithFields(log.Fields{"path": path, "error": err.Error()}).Error("Upstream request failed")
		return nil, shared.NewInternalError(err, "The assistant is unavailable right now.")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to read upstream response.")
	}

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"path":   path,
			"status": resp.StatusCode,
			"body":   truncate(string(body), 512),
		}).Error("Upstream returned an error")
		return nil, shared.NewInternalError(
			fmt.Errorf("upstream status %d", resp.StatusCode),
			"The assistant is unavailable right now.")
	}

	return body, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
