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
	clinicalTrialsBaseURL = "https://clinicaltrials.gov/api/v2/studies"
	clinicalTrialsTTL     = 24 * time.Hour
)

type ClinicalTrialsInput struct {
	Condition  string `json:"condition" jsonschema:"medical condition or disease to search for"`
	Status     string `json:"status,omitempty" jsonschema:"recruiting, not_recruiting, completed, active, or all"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum trials to return, 1-100"`
}

type TrialLocation struct {
	Facility string `json:"facility"`
	City     string `json:"city"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country"`
}

type TrialEligibility struct {
	Gender            string `json:"gender"`
	MinAge            string `json:"min_age"`
	MaxAge            string `json:"max_age"`
	HealthyVolunteers string `json:"healthy_volunteers"`
}

type ClinicalTrial struct {
	NCTID        string            `json:"nct_id"`
	Title        string            `json:"title"`
	Status       string            `json:"status"`
	Phase        string            `json:"phase"`
	StudyType    string            `json:"study_type"`
	Conditions   []string          `json:"conditions"`
	Locations    []TrialLocation   `json:"locations"`
	Sponsor      string            `json:"sponsor"`
	BriefSummary string            `json:"brief_summary,omitempty"`
	Eligibility  *TrialEligibility `json:"eligibility,omitempty"`
	URL          string            `json:"url"`
}

type ClinicalTrialsOutput struct {
	Status       string          `json:"status"`
	Condition    string          `json:"condition,omitempty"`
	SearchStatus string          `json:"search_status,omitempty"`
	TotalResults int             `json:"total_results"`
	Trials       []ClinicalTrial `json:"trials"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ClinicalTrialsSearch queries the ClinicalTrials.gov v2 studies API.
type ClinicalTrialsSearch struct {
	deps    Dependencies
	baseURL string
	flight  singleflight.Group
}

func NewClinicalTrialsSearch(deps Dependencies) *ClinicalTrialsSearch {
	return &ClinicalTrialsSearch{deps: deps.withDefaults(), baseURL: clinicalTrialsBaseURL}
}

func (t *ClinicalTrialsSearch) Name() string { return "clinical_trials_search" }

func (t *ClinicalTrialsSearch) Description() string {
	return "Search for clinical trials by condition and recruitment status on ClinicalTrials.gov"
}

func (t *ClinicalTrialsSearch) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input ClinicalTrialsInput
	if err := decodeArgs(args, &input); err != nil {
		return nil, err
	}
	return t.Search(ctx, input), nil
}

type ctStudiesResponse struct {
	TotalCount int       `json:"totalCount"`
	Studies    []ctStudy `json:"studies"`
}

type ctStudy struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"statusModule"`
		DesignModule struct {
			Phases    []string `json:"phases"`
			StudyType string   `json:"studyType"`
		} `json:"designModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				City     string `json:"city"`
				State    string `json:"state"`
				Country  string `json:"country"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		DescriptionModule struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		EligibilityModule struct {
			Sex               string `json:"sex"`
			MinimumAge        string `json:"minimumAge"`
			MaximumAge        string `json:"maximumAge"`
			HealthyVolunteers any    `json:"healthyVolunteers"`
		} `json:"eligibilityModule"`
	} `json:"protocolSection"`
}

func (t *ClinicalTrialsSearch) Search(ctx context.Context, input ClinicalTrialsInput) ClinicalTrialsOutput {
	if input.Condition == "" {
		return ClinicalTrialsOutput{Status: "error", ErrorMessage: "Condition is required", Trials: []ClinicalTrial{}}
	}
	if input.Status == "" {
		input.Status = "recruiting"
	}
	maxResults := clampMax(input.MaxResults, 10)

	t.deps.recordUsage(t.Name())

	key := cache.Key("clinical_trials", input.Condition, input.Status, maxResults)
	var cached ClinicalTrialsOutput
	if t.deps.Cache.Get(ctx, key, &cached) && cached.Status == "success" {
		return cached
	}

	v, err, _ := t.flight.Do(key, func() (any, error) {
		params := url.Values{
			"query.cond": {input.Condition},
			"pageSize":   {strconv.Itoa(maxResults)},
			"format":     {"json"},
		}
		if mapped := mapTrialStatus(input.Status); mapped != "" {
			params.Set("filter.overallStatus", mapped)
		}

		var resp ctStudiesResponse
		if err := t.deps.HTTP.GetJSON(ctx, t.baseURL, params, &resp); err != nil {
			return nil, err
		}

		out := ClinicalTrialsOutput{
			Status:       "success",
			Condition:    input.Condition,
			SearchStatus: input.Status,
			TotalResults: resp.TotalCount,
			Trials:       processTrials(resp.Studies),
		}
		t.deps.Cache.Set(ctx, key, out, clinicalTrialsTTL)
		return out, nil
	})
	if err != nil {
		t.deps.Logger.Error("clinical trials search failed",
			zap.String("condition", input.Condition), zap.Error(err))
		return ClinicalTrialsOutput{
			Status:       "error",
			ErrorMessage: fmt.Sprintf("Error connecting to ClinicalTrials.gov: %v", err),
			Trials:       []ClinicalTrial{},
		}
	}
	return v.(ClinicalTrialsOutput)
}

// mapTrialStatus translates friendly status names to the v2 API enum.
// "all" disables the filter.
func mapTrialStatus(status string) string {
	switch strings.ToLower(status) {
	case "all":
		return ""
	case "recruiting", "active":
		return "RECRUITING"
	case "not_recruiting":
		return "ACTIVE_NOT_RECRUITING"
	case "completed":
		return "COMPLETED"
	}
	return strings.ToUpper(status)
}

func processTrials(studies []ctStudy) []ClinicalTrial {
	trials := make([]ClinicalTrial, 0, len(studies))
	for _, study := range studies {
		ps := study.ProtocolSection

		phase := "Not Specified"
		if len(ps.DesignModule.Phases) > 0 {
			phase = strings.Join(ps.DesignModule.Phases, ", ")
		}

		trial := ClinicalTrial{
			NCTID:        ps.IdentificationModule.NCTID,
			Title:        ps.IdentificationModule.BriefTitle,
			Status:       ps.StatusModule.OverallStatus,
			Phase:        phase,
			StudyType:    ps.DesignModule.StudyType,
			Conditions:   ps.ConditionsModule.Conditions,
			Locations:    []TrialLocation{},
			Sponsor:      ps.SponsorCollaboratorsModule.LeadSponsor.Name,
			BriefSummary: ps.DescriptionModule.BriefSummary,
			URL:          "https://clinicaltrials.gov/study/" + ps.IdentificationModule.NCTID,
		}

		locations := ps.ContactsLocationsModule.Locations
		if len(locations) > 5 {
			locations = locations[:5]
		}
		for _, loc := range locations {
			trial.Locations = append(trial.Locations, TrialLocation{
				Facility: loc.Facility, City: loc.City, State: loc.State, Country: loc.Country,
			})
		}

		em := ps.EligibilityModule
		if em.Sex != "" || em.MinimumAge != "" || em.MaximumAge != "" {
			hv := ""
			if em.HealthyVolunteers != nil {
				hv = fmt.Sprint(em.HealthyVolunteers)
			}
			trial.Eligibility = &TrialEligibility{
				Gender:            em.Sex,
				MinAge:            em.MinimumAge,
				MaxAge:            em.MaximumAge,
				HealthyVolunteers: hv,
			}
		}

		trials = append(trials, trial)
	}
	return trials
}
