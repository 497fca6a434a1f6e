package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/threads"
	"github.com/sirupsen/logrus"
)

const previewRunes = 100

// Options configures a Client
type Options struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxRetries       int
	Timeout          time.Duration
	StructuredOutput bool
	Topic            string
	Aliases          map[string]string
	HTTPClient       *http.Client
}

// Client calls an OpenAI-compatible chat completion endpoint to mine product facts
type Client struct {
	api          openai.Client
	baseURL      string
	model        string
	temperature  float64
	structured   bool
	canon        *Canonicalizer
	systemPrompt string
}

// NewClient creates an extraction client. The base URL is fixed for the client's lifetime;
// endpoint fallback is decided per call.
func NewClient(opts Options) *Client {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	canon := NewCanonicalizer(opts.Aliases)
	return &Client{
		api:          openai.NewClient(clientOpts...),
		baseURL:      normalizeBaseURL(opts.BaseURL),
		model:        opts.Model,
		temperature:  opts.Temperature,
		structured:   opts.StructuredOutput,
		canon:        canon,
		systemPrompt: BuildSystemPrompt(opts.Topic, canon),
	}
}

// Extract mines facts from one serialized thread. Returned errors are *AuthError,
// *ParseError, *TransportError or the context's error.
func (c *Client) Extract(ctx context.Context, s threads.Serialized) ([]models.ExtractedFact, error) {
	content, err := c.complete(ctx, c.chatParams(BuildUserPrompt(s.Text)))
	if err != nil {
		return nil, err
	}

	facts, err := ParseResponse(content)
	if err != nil {
		return nil, err
	}

	preview := Preview(s.Text)
	for i := range facts {
		facts[i].ProductName = c.canon.Canonical(facts[i].ProductName)
		facts[i].ThreadEngagement = s.Engagement
		facts[i].ThreadSize = s.Size
		facts[i].RootID = s.RootID
		facts[i].Preview = preview
		facts[i].Conversation = s.Text
	}
	return facts, nil
}

// Ping sends a minimal completion to one base URL, without endpoint fallback, to check
// the credential and routing.
func (c *Client) Ping(ctx context.Context, baseURL string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("Reply with the single word: pong"),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(0),
	}
	base := normalizeBaseURL(baseURL)
	content, err := c.call(ctx, base, params)
	if err != nil {
		return "", classify(ctx, err, base)
	}
	return content, nil
}

// BaseURL returns the configured endpoint base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) chatParams(user string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(user),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
	}
	if c.structured {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "product_sentiment_extraction",
					Description: openai.String("Products and sentiments discussed in a comment conversation"),
					Schema:      GenerateSchema[extractionResponse](),
					Strict:      openai.Bool(true),
				},
			},
		}
	}
	return params
}

// complete runs one call against the configured base and, on a routing mismatch, exactly
// one more against the alternate path variant. The client itself is never mutated.
func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	content, err := c.call(ctx, c.baseURL, params)
	if err == nil {
		return content, nil
	}
	if ctx.Err() != nil || !isEndpointMismatch(err) || isAuthFailure(err) {
		return "", classify(ctx, err, c.baseURL)
	}

	alt := AlternateBaseURL(c.baseURL)
	logrus.Warnf("Endpoint error from %s, retrying once against %s: %v", c.baseURL, alt, err)

	content, err = c.call(ctx, alt, params)
	if err != nil {
		return "", classify(ctx, err, alt)
	}
	return content, nil
}

// classify maps a raw call error onto the extraction error taxonomy.
func classify(ctx context.Context, err error, endpoint string) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case IsParseError(err):
		return err
	case isAuthFailure(err):
		return &AuthError{StatusCode: statusCode(err), Err: err}
	default:
		return &TransportError{StatusCode: statusCode(err), Endpoint: endpoint, Err: err}
	}
}

func (c *Client) call(ctx context.Context, baseURL string, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, params, option.WithBaseURL(baseURL))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &ParseError{Err: errors.New("no response choices returned")}
	}
	logrus.Debugf("Extraction call used %d prompt / %d completion tokens",
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

func statusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func isAuthFailure(err error) bool {
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "incorrect api key")
}

func isEndpointMismatch(err error) bool {
	if statusCode(err) == http.StatusNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "endpoint")
}

// AlternateBaseURL returns the other path variant of a base URL: "/v1" is appended,
// or stripped when already present.
func AlternateBaseURL(base string) string {
	trimmed := strings.TrimRight(base, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1") + "/"
	}
	return trimmed + "/v1/"
}

func normalizeBaseURL(base string) string {
	return strings.TrimRight(base, "/") + "/"
}

// Preview returns the first 100 characters of a text block followed by "...".
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text + "..."
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "..."
}

// IsAuthError reports whether err is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func (c *Client) String() string {
	return fmt.Sprintf("extraction client (%s, model %s)", c.baseURL, c.model)
}
