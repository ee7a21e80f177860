package tools

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"healthcare-mcp/internal/cache"
)

const (
	healthFinderBaseURL = "https://health.gov/myhealthfinder/api/v3"
	healthTopicsTTL     = 7 * 24 * time.Hour
)

type HealthTopicsInput struct {
	Topic    string `json:"topic" jsonschema:"health topic to search for"`
	Language string `json:"language,omitempty" jsonschema:"en or es"`
}

type HealthTopic struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	LastUpdated string   `json:"last_updated,omitempty"`
	Section     string   `json:"section,omitempty"`
	Description string   `json:"description,omitempty"`
	Content     []string `json:"content,omitempty"`
}

type HealthTopicsOutput struct {
	Status       string        `json:"status"`
	SearchTerm   string        `json:"search_term,omitempty"`
	Language     string        `json:"language,omitempty"`
	TotalResults int           `json:"total_results"`
	Topics       []HealthTopic `json:"topics"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// HealthTopics serves evidence-based consumer health information from
// the Health.gov myhealthfinder API.
type HealthTopics struct {
	deps    Dependencies
	baseURL string
	flight  singleflight.Group
}

func NewHealthTopics(deps Dependencies) *HealthTopics {
	return &HealthTopics{deps: deps.withDefaults(), baseURL: healthFinderBaseURL}
}

func (t *HealthTopics) Name() string { return "health_topics" }

func (t *HealthTopics) Description() string {
	return "Get evidence-based health information on a topic from Health.gov"
}

func (t *HealthTopics) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input HealthTopicsInput
	if err := decodeArgs(args, &input); err != nil {
		return nil, err
	}
	return t.Get(ctx, input), nil
}

type healthFinderResponse struct {
	Result struct {
		Total     int `json:"Total"`
		Resources struct {
			Resource []healthFinderResource `json:"Resource"`
		} `json:"Resources"`
	} `json:"Result"`
}

type healthFinderResource struct {
	Title             string `json:"Title"`
	AccessibleVersion string `json:"AccessibleVersion"`
	LastUpdate        string `json:"LastUpdate"`
	Section           string `json:"Section"`
	Categories        struct {
		Category []struct {
			Title string `json:"Title"`
		} `json:"Category"`
	} `json:"Categories"`
	Sections struct {
		Section []struct {
			Content string `json:"Content"`
		} `json:"Section"`
	} `json:"Sections"`
}

func (t *HealthTopics) Get(ctx context.Context, input HealthTopicsInput) HealthTopicsOutput {
	if input.Topic == "" {
		return HealthTopicsOutput{Status: "error", ErrorMessage: "Topic is required", Topics: []HealthTopic{}}
	}
	language := strings.ToLower(input.Language)
	if language != "en" && language != "es" {
		language = "en"
	}

	t.deps.recordUsage(t.Name())

	key := cache.Key("health_topics", input.Topic, language)
	var cached HealthTopicsOutput
	if t.deps.Cache.Get(ctx, key, &cached) {
		return cached
	}

	v, err, _ := t.flight.Do(key, func() (any, error) {
		params := url.Values{
			"keyword": {input.Topic},
			"lang":    {language},
		}

		var resp healthFinderResponse
		if err := t.deps.HTTP.GetJSON(ctx, t.baseURL+"/topicsearch.json", params, &resp); err != nil {
			return nil, err
		}

		topics := make([]HealthTopic, 0, len(resp.Result.Resources.Resource))
		for _, r := range resp.Result.Resources.Resource {
			topic := HealthTopic{
				Title:       r.Title,
				URL:         r.AccessibleVersion,
				LastUpdated: r.LastUpdate,
				Section:     r.Section,
			}
			if len(r.Categories.Category) > 0 {
				topic.Description = r.Categories.Category[0].Title
			}
			for _, s := range r.Sections.Section {
				if s.Content != "" {
					topic.Content = append(topic.Content, s.Content)
				}
			}
			topics = append(topics, topic)
		}

		out := HealthTopicsOutput{
			Status:       "success",
			SearchTerm:   input.Topic,
			Language:     language,
			TotalResults: resp.Result.Total,
			Topics:       topics,
		}
		t.deps.Cache.Set(ctx, key, out, healthTopicsTTL)
		return out, nil
	})
	if err != nil {
		t.deps.Logger.Error("health topics fetch failed", zap.String("topic", input.Topic), zap.Error(err))
		return HealthTopicsOutput{
			Status:       "error",
			ErrorMessage: fmt.Sprintf("Error fetching health information: %v", err),
			Topics:       []HealthTopic{},
		}
	}
	return v.(HealthTopicsOutput)
}
