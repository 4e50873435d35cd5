package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/platepulse/recommender/internal/domain"
)

// promptCandidates caps how many candidates are listed in the prompt.
const promptCandidates = 30

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// errNoUsable is returned when the model answered but none of its entries
// name a known candidate.
var errNoUsable = errors.New("llm ranker: no usable recommendations in response")

// LLMConfig configures the chat-completions ranker.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MinInterval time.Duration
}

// LLMRanker asks an OpenAI-compatible chat-completions endpoint to pick the
// best candidates. Calls go through a circuit breaker and a pacing limiter.
type LLMRanker struct {
	client   *resty.Client
	endpoint string
	model    string
	cb       *gobreaker.CircuitBreaker[[]domain.Recommendation]
	pace     *rate.Limiter
	logger   *zap.Logger
}

// NewLLMRanker builds the ranker. onState, when non-nil, observes breaker
// transitions.
func NewLLMRanker(cfg LLMConfig, logger *zap.Logger, onState func(from, to string)) *LLMRanker {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.Timeout)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}

	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		pace = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	r := &LLMRanker{
		client:   client,
		endpoint: baseURL + "/chat/completions",
		model:    cfg.Model,
		pace:     pace,
		logger:   logger,
	}
	r.cb = gobreaker.NewCircuitBreaker[[]domain.Recommendation](gobreaker.Settings{
		Name:        "llm-ranker",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if onState != nil {
				onState(from.String(), to.String())
			}
		},
	})
	return r
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *LLMRanker) Rank(ctx context.Context, user *domain.User, candidates []*domain.Item, limit int) ([]domain.Recommendation, error) {
	candidates = WithinPriceRange(user.Preferences, candidates)
	if len(candidates) == 0 || limit <= 0 {
		return []domain.Recommendation{}, nil
	}

	return r.cb.Execute(func() ([]domain.Recommendation, error) {
		if err := r.pace.Wait(ctx); err != nil {
			return nil, err
		}
		content, err := r.complete(ctx, buildPrompt(user, candidates, limit))
		if err != nil {
			return nil, err
		}
		return parseRecommendations(content, candidates, limit)
	})
}

func (r *LLMRanker) complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       r.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   2000,
	}

	var resp chatResponse
	httpResp, err := r.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("chat completion: %s", resp.Error.Message)
		}
		return "", fmt.Errorf("chat completion: status %d", httpResp.StatusCode())
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ---- helpers ----

func buildPrompt(user *domain.User, candidates []*domain.Item, limit int) string {
	prefs := user.Preferences
	var b strings.Builder

	fmt.Fprintf(&b, "You recommend food. Pick the %d dishes from the list below that best suit this user.\n\n", limit)
	b.WriteString("User:\n")
	fmt.Fprintf(&b, "- Name: %s\n", user.Name)
	fmt.Fprintf(&b, "- Location: %s\n", user.EffectiveLocation())
	fmt.Fprintf(&b, "- Budget: %.0f\n", prefs.Budget)
	fmt.Fprintf(&b, "- Dietary restrictions: %s\n", orDefault(prefs.DietaryRestrictions, "None"))
	fmt.Fprintf(&b, "- Preferred cuisines: %s\n", orDefault(prefs.CuisinePreferences, "Any"))
	fmt.Fprintf(&b, "- Price range: %.0f - %.0f\n\n", prefs.PriceRange.Min, prefs.PriceRange.Max)

	b.WriteString("Dishes:\n")
	for i, it := range candidates {
		if i == promptCandidates {
			break
		}
		fmt.Fprintf(&b, "%s - %.2f (rating %.1f/5, cuisine %s)\n", it.Name, it.Price, it.Rating, orDash(it.Cuisine))
	}

	b.WriteString(`
Weigh dietary restrictions first, then cuisine preferences, value for money, rating and budget.
Answer with JSON only, in exactly this shape:
{"recommendations":[{"name":"dish name","reason":"why it suits the user","matchScore":0.95}]}`)
	return b.String()
}

// parseRecommendations extracts the JSON object from a model answer, keeps the
// entries naming a known candidate and attaches that candidate's details.
func parseRecommendations(content string, candidates []*domain.Item, limit int) ([]domain.Recommendation, error) {
	raw := jsonObject.FindString(content)
	if raw == "" {
		return nil, errors.New("llm ranker: no JSON object in response")
	}

	var parsed struct {
		Recommendations []domain.Recommendation `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("llm ranker: decode response: %w", err)
	}

	byName := make(map[string]*domain.Item, len(candidates))
	for _, it := range candidates {
		key := strings.ToLower(strings.TrimSpace(it.Name))
		if _, dup := byName[key]; !dup {
			byName[key] = it
		}
	}

	recs := make([]domain.Recommendation, 0, limit)
	seen := make(map[string]bool)
	for _, rec := range parsed.Recommendations {
		key := strings.ToLower(strings.TrimSpace(rec.Name))
		it, ok := byName[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		recs = append(recs, domain.Recommendation{
			Name:       it.Name,
			Reason:     strings.TrimSpace(rec.Reason),
			MatchScore: domain.RoundScore(float64(rec.MatchScore)),
			Details:    DetailsOf(it),
		})
		if len(recs) == limit {
			break
		}
	}
	if len(recs) == 0 {
		return nil, errNoUsable
	}
	return recs, nil
}

func orDefault(values []string, def string) string {
	if len(values) == 0 {
		return def
	}
	return strings.Join(values, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
