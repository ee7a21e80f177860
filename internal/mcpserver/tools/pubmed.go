package tools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"healthcare-mcp/internal/cache"
)

const (
	pubmedBaseURL   = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	pubmedSearchTTL = 12 * time.Hour
)

type PubMedInput struct {
	Query      string `json:"query" jsonschema:"search query for medical literature"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum articles to return, 1-100"`
	DateRange  string `json:"date_range,omitempty" jsonschema:"limit to articles published within this many years"`
}

type PubMedArticle struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Journal         string   `json:"journal"`
	PublicationDate string   `json:"publication_date"`
	DOI             string   `json:"doi,omitempty"`
	AbstractURL     string   `json:"abstract_url"`
}

type PubMedOutput struct {
	Status       string          `json:"status"`
	Query        string          `json:"query,omitempty"`
	TotalResults int             `json:"total_results"`
	Articles     []PubMedArticle `json:"articles"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// PubMedSearch queries NCBI E-utilities: esearch for matching IDs, then
// esummary for article metadata.
type PubMedSearch struct {
	deps    Dependencies
	baseURL string
	flight  singleflight.Group
}

func NewPubMedSearch(deps Dependencies) *PubMedSearch {
	return &PubMedSearch{deps: deps.withDefaults(), baseURL: pubmedBaseURL}
}

func (t *PubMedSearch) Name() string { return "pubmed_search" }

func (t *PubMedSearch) Description() string {
	return "Search medical literature in the PubMed database"
}

func (t *PubMedSearch) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input PubMedInput
	if err := decodeArgs(args, &input); err != nil {
		return nil, err
	}
	return t.Search(ctx, input), nil
}

type pubmedSearchResponse struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedSummaryResponse struct {
	Result map[string]pubmedArticleData `json:"result"`
}

type pubmedArticleData struct {
	Title           string `json:"title"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
	Authors         []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

func (t *PubMedSearch) Search(ctx context.Context, input PubMedInput) PubMedOutput {
	if input.Query == "" {
		return PubMedOutput{Status: "error", ErrorMessage: "Search query is required", Articles: []PubMedArticle{}}
	}
	maxResults := clampMax(input.MaxResults, 5)

	t.deps.recordUsage(t.Name())

	key := cache.Key("pubmed_search", input.Query, maxResults, input.DateRange)
	var cached PubMedOutput
	if t.deps.Cache.Get(ctx, key, &cached) {
		t.deps.Logger.Debug("pubmed cache hit", zap.String("query", input.Query))
		return cached
	}

	v, err, _ := t.flight.Do(key, func() (any, error) {
		out, err := t.search(ctx, input.Query, maxResults, input.DateRange)
		if err != nil {
			return nil, err
		}
		t.deps.Cache.Set(ctx, key, out, pubmedSearchTTL)
		return out, nil
	})
	if err != nil {
		t.deps.Logger.Error("pubmed search failed", zap.String("query", input.Query), zap.Error(err))
		return PubMedOutput{
			Status:       "error",
			ErrorMessage: fmt.Sprintf("Error searching PubMed: %v", err),
			Articles:     []PubMedArticle{},
		}
	}
	return v.(PubMedOutput)
}

func (t *PubMedSearch) search(ctx context.Context, query string, maxResults int, dateRange string) (PubMedOutput, error) {
	term := query
	if dateRange != "" {
		// A bare year count limits publication dates to the trailing window.
		if years, err := strconv.Atoi(dateRange); err == nil && years > 0 {
			current := time.Now().Year()
			term = fmt.Sprintf("%s AND %d:%d[pdat]", query, current-years, current)
		} else {
			t.deps.Logger.Warn("invalid pubmed date range, ignoring", zap.String("date_range", dateRange))
		}
	}

	searchParams := url.Values{
		"db":     {"pubmed"},
		"term":   {term},
		"retmax": {strconv.Itoa(maxResults)},
		"format": {"json"},
	}
	if t.deps.Config.PubMedAPIKey != "" {
		searchParams.Set("api_key", t.deps.Config.PubMedAPIKey)
	}

	var searchResp pubmedSearchResponse
	if err := t.deps.HTTP.GetJSON(ctx, t.baseURL+"/esearch.fcgi", searchParams, &searchResp); err != nil {
		return PubMedOutput{}, err
	}

	total, _ := strconv.Atoi(searchResp.ESearchResult.Count)
	out := PubMedOutput{
		Status:       "success",
		Query:        query,
		TotalResults: total,
		Articles:     []PubMedArticle{},
	}

	ids := searchResp.ESearchResult.IDList
	if len(ids) == 0 {
		return out, nil
	}

	summaryParams := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"json"},
	}
	if t.deps.Config.PubMedAPIKey != "" {
		summaryParams.Set("api_key", t.deps.Config.PubMedAPIKey)
	}

	var summaryResp pubmedSummaryResponse
	if err := t.deps.HTTP.GetJSON(ctx, t.baseURL+"/esummary.fcgi", summaryParams, &summaryResp); err != nil {
		return PubMedOutput{}, err
	}

	for _, id := range ids {
		data, ok := summaryResp.Result[id]
		if !ok {
			continue
		}
		article := PubMedArticle{
			ID:              id,
			Title:           data.Title,
			Authors:         []string{},
			Journal:         data.FullJournalName,
			PublicationDate: data.PubDate,
			AbstractURL:     fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", id),
		}
		for _, a := range data.Authors {
			if a.Name != "" {
				article.Authors = append(article.Authors, a.Name)
			}
		}
		for _, aid := range data.ArticleIDs {
			if aid.IDType == "doi" {
				article.DOI = aid.Value
			}
		}
		out.Articles = append(out.Articles, article)
	}
	return out, nil
}
