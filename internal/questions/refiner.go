package questions

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const refinerSystemPrompt = `You are an empathetic, professional mental health therapist chatbot conducting an intake interview.
Your goal is to gather comprehensive information about the user's mental health, personal history, lifestyle, and experiences.

Important guidelines:
1. Maintain a warm, empathetic, and non-judgmental tone.
2. Ask open-ended and follow-up questions to gather detailed information.
3. Validate the user's feelings and use therapeutic communication techniques.
4. Focus on collecting information, not providing therapy or diagnoses.
5. Ensure to be to the point and keep the conversation relevant.`

// Refiner rewrites catalog questions into short, personalized questions via
// an LLM. Errors fall back to the raw catalog text at the call site.
type Refiner struct {
	client oai.Client
	model  shared.ChatModel
}

// RefinerOption is a functional option for [NewRefiner].
type RefinerOption func(*refinerConfig)

type refinerConfig struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the default API base URL. Primarily used in tests.
func WithBaseURL(url string) RefinerOption {
	return func(c *refinerConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) RefinerOption {
	return func(c *refinerConfig) { c.timeout = d }
}

// NewRefiner constructs a Refiner.
func NewRefiner(apiKey, model string, opts ...RefinerOption) (*Refiner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("questions: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("questions: model must not be empty")
	}

	cfg := &refinerConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Refiner{
		client: oai.NewClient(reqOpts...),
		model:  shared.ChatModel(model),
	}, nil
}

// Refine rewrites q into a personalized, simplified question, taking the
// user's previous answer into account when present.
func (r *Refiner) Refine(ctx context.Context, q Question, previousAnswer string) (string, error) {
	prompt := fmt.Sprintf(`You are an agent that selects psychological assessment questions.
Current question: %q (section: %s)

Expected elements in answer: %s

Create a personalized, simplified, small question from the given question.
If this is the first question, select an introductory one.
Make sure not to deviate too much from the current question.
Output only the question string and nothing else.`, q.Text, q.Section, q.Expected)

	if previousAnswer != "" {
		prompt += fmt.Sprintf("\n\nThe user's answer to the previous question was: %q", previousAnswer)
	}

	resp, err := r.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(refinerSystemPrompt),
			oai.UserMessage(prompt),
		},
		Temperature: param.NewOpt(1.0),
	})
	if err != nil {
		return "", fmt.Errorf("questions: refine: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("questions: refine: empty response")
	}

	refined := strings.TrimSpace(resp.Choices[0].Message.Content)
	if refined == "" {
		return "", fmt.Errorf("questions: refine: blank question")
	}
	return refined, nil
}
