package explain

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inodb/pharmguard/internal/report"
)

// OpenAI defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	defaultTemperature   = 0.2
	defaultMaxTokens     = 300
	defaultTimeout       = 20 * time.Second
	defaultRPM           = 60
	maxErrorBody         = 4096
)

// ErrNoAPIKey is returned when the OpenAI explainer has no credentials.
var ErrNoAPIKey = errors.New("openai api key not configured")

// OpenAIConfig configures the chat-completions explainer.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// APIError is a non-2xx response from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Message)
}

// OpenAI explains decisions with a chat-completions model.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewOpenAI creates an OpenAI explainer. Zero config fields take defaults.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = defaultRPM
	}

	o := &OpenAI{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
		logger:    zap.NewNop(),
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			o.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return o, nil
}

// SetLogger sets the logger for breaker state changes.
func (o *OpenAI) SetLogger(l *zap.Logger) {
	o.logger = l
}

// Explain requests an explanation for c. The completion text fills both
// Summary and Mechanism.
func (o *OpenAI) Explain(ctx context.Context, c Context) (report.Explanation, error) {
	if err := o.rateLimit.Wait(ctx); err != nil {
		return report.Explanation{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	out, err := o.breaker.Execute(func() (interface{}, error) {
		return o.complete(ctx, Prompt(c))
	})
	if err != nil {
		return report.Explanation{}, err
	}

	text := out.(string)
	return report.Explanation{Summary: text, Mechanism: text}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       o.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	text := strings.TrimSpace(cr.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("completion response is empty")
	}
	return text, nil
}

// Prompt builds the model prompt for c's audience.
func Prompt(c Context) string {
	if c.Audience == Patient {
		return fmt.Sprintf(`Explain in simple, clear language (no jargon):

The patient's genetic test shows: %s %s
This means they are a: %s
They are prescribed: %s
The system assessment: %s

Explain:
- What their genetic result means
- Why this drug may not work well for them
- What safe alternatives exist

Keep it simple. Use everyday language.`, c.Gene, c.Diplotype, c.Phenotype, c.Drug, c.RiskLabel)
	}

	return fmt.Sprintf(`You are a pharmacogenomics clinical decision support assistant.

Context:
- Gene: %s
- Diplotype: %s
- Phenotype: %s
- Drug: %s
- Risk Label: %s
- Severity: %s
- Recommendation: %s

Task: Explain the pharmacokinetic mechanism and justify this recommendation.

Format your response as:
1. Mechanism: [Explain how the gene metabolizes this drug]
2. Clinical Implication: [Why this phenotype affects this drug]
3. Guideline Alignment: [Why this recommendation is appropriate]

CRITICAL: Do NOT change or question the risk decision. You are explaining, not deciding.`,
		c.Gene, c.Diplotype, c.Phenotype, c.Drug, c.RiskLabel, c.Severity, c.Recommendation)
}
