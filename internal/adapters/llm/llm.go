// Package llm implements the Proposer and Scorer on an OpenAI-compatible
// chat completion API. Both ask for JSON object responses.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/pkg/logger"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.7

	proposerPersona = "You are a drug repurposing strategist. Reply with a JSON object " +
		`{"title": string, "content": string} and nothing else.`
	scorerPersona = "You are a critical pharmaceutical reviewer. Score on a %g to %g scale. " +
		`Reply with a JSON object {"scores": {"<criterion>": {"score": number, ` +
		`"strengths": string, "weaknesses": string}}} covering every criterion you are given.`
)

var defaultCriteria = []string{"efficacy", "safety", "feasibility", "novelty"}

// Client holds the API connection shared by Proposer and Scorer.
type Client struct {
	api         *openai.Client
	model       string
	baseURL     string
	temperature float32
	logger      logger.Logger
}

// New creates a client. apiKey is required.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		model:       defaultModel,
		temperature: defaultTemperature,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c, nil
}

// Proposer returns a lane.Proposer backed by c.
func (c *Client) Proposer() *Proposer { return &Proposer{c: c} }

// Scorer returns a lane.Scorer backed by c, scoring on [lo, hi].
func (c *Client) Scorer(lo, hi float64) *Scorer { return &Scorer{c: c, lo: lo, hi: hi} }

// complete sends one chat exchange and decodes the JSON object answer into v.
func (c *Client) complete(ctx context.Context, system, prompt string, temperature float32, v any) error {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn(ctx, "chat completion failed", logger.String("model", c.model), logger.Error(err))
		return classify(err)
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyResponse
	}
	body := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	c.logger.Debug(ctx, "chat completion",
		logger.String("model", c.model),
		logger.String("finish_reason", string(resp.Choices[0].FinishReason)),
		logger.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return nil
}

// classify marks client errors other than rate limiting as permanent so
// the lane engine does not retry them.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return backoff.Permanent(err)
		}
	}
	return err
}

// Proposer drafts ideas with the chat model.
type Proposer struct {
	c *Client
}

var _ lane.Proposer = (*Proposer)(nil)

type draft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Propose asks for a first idea when champion is nil, otherwise for an improvement of it.
func (p *Proposer) Propose(ctx context.Context, champion *model.Idea, t model.Tournament) (model.Idea, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", t.Problem)
	if len(t.Goals) > 0 {
		b.WriteString("Strategic goals (weight):\n")
		for _, g := range t.Goals {
			fmt.Fprintf(&b, "- %s (%.2f)\n", g.Name, g.Weight)
		}
	}
	if champion == nil {
		b.WriteString("Propose one concrete repurposing hypothesis.")
	} else {
		fmt.Fprintf(&b, "Current best idea (score %.2f):\nTitle: %s\n%s\n", champion.OverallScore, champion.Title, champion.Content)
		b.WriteString("Propose a single improved variant that should score higher on the goals.")
	}

	var d draft
	if err := p.c.complete(ctx, proposerPersona, b.String(), p.c.temperature, &d); err != nil {
		return model.Idea{}, err
	}
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Content) == "" {
		return model.Idea{}, fmt.Errorf("%w: empty idea", ErrMalformedResponse)
	}
	return model.Idea{Title: d.Title, Content: d.Content}, nil
}

// Scorer reviews ideas with the chat model.
type Scorer struct {
	c      *Client
	lo, hi float64
}

var _ lane.Scorer = (*Scorer)(nil)

type verdict struct {
	Scores map[string]struct {
		Score      float64 `json:"score"`
		Strengths  string  `json:"strengths"`
		Weaknesses string  `json:"weaknesses"`
	} `json:"scores"`
}

// Score asks for one score per goal, or per default criterion when the
// tournament has no goals. Criteria the model adds on its own are dropped.
func (s *Scorer) Score(ctx context.Context, idea model.Idea, t model.Tournament) (lane.Evaluation, error) {
	criteria := defaultCriteria
	if len(t.Goals) > 0 {
		criteria = make([]string, 0, len(t.Goals))
		for _, g := range t.Goals {
			criteria = append(criteria, g.Name)
		}
	}
	prompt := fmt.Sprintf("Problem: %s\nCriteria: %s\nIdea title: %s\nIdea:\n%s",
		t.Problem, strings.Join(criteria, ", "), idea.Title, idea.Content)

	var v verdict
	// Scoring runs cold so a re-scored champion stays comparable.
	if err := s.c.complete(ctx, fmt.Sprintf(scorerPersona, s.lo, s.hi), prompt, 0, &v); err != nil {
		return lane.Evaluation{}, err
	}

	eval := lane.Evaluation{Scores: make(map[string]float64, len(criteria))}
	for _, c := range criteria {
		got, ok := v.Scores[c]
		if !ok {
			continue
		}
		eval.Scores[c] = got.Score
		eval.Reviews = append(eval.Reviews, model.Review{
			EvaluatorID: c,
			Strengths:   got.Strengths,
			Weaknesses:  got.Weaknesses,
			Score:       got.Score,
		})
	}
	if len(eval.Scores) == 0 {
		return lane.Evaluation{}, fmt.Errorf("%w: no known criteria scored", ErrMalformedResponse)
	}
	return eval, nil
}
