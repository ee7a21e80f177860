package tools

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"healthcare-mcp/internal/cache"
)

const (
	fdaDeviceBaseURL = "https://api.fda.gov/device"

	adverseEventsTTL = 4 * time.Hour
	recallsTTL       = 6 * time.Hour
	safetySignalsTTL = 12 * time.Hour
)

// FDADeviceInput selects one of three device monitoring queries against
// the openFDA MAUDE and recall databases.
type FDADeviceInput struct {
	SearchType string `json:"searchType,omitempty" jsonschema:"adverse_events, recalls, or safety_signals"`
	DeviceName string `json:"deviceName,omitempty" jsonschema:"device to search for, e.g. pacemaker"`
	DateRange  int    `json:"dateRange,omitempty" jsonschema:"days to look back"`
	EventType  string `json:"eventType,omitempty" jsonschema:"all, malfunction, injury, or death"`
}

type DeviceEvent struct {
	ReportNumber string   `json:"report_number"`
	DateReceived string   `json:"date_received"`
	EventType    string   `json:"event_type"`
	DeviceName   string   `json:"device_name"`
	GenericName  string   `json:"generic_name,omitempty"`
	BrandName    string   `json:"brand_name,omitempty"`
	ModelNumber  string   `json:"model_number,omitempty"`
	Manufacturer string   `json:"manufacturer"`
	Description  string   `json:"event_description"`
	Problems     []string `json:"patient_problems,omitempty"`
}

type EventSummary struct {
	Total       int `json:"total"`
	Malfunction int `json:"malfunction"`
	Injury      int `json:"injury"`
	Death       int `json:"death"`
}

type DeviceRecall struct {
	RecallNumber       string `json:"recall_number"`
	InitiationDate     string `json:"recall_initiation_date"`
	Class              string `json:"recall_class"`
	ProductDescription string `json:"product_description"`
	Reason             string `json:"reason"`
	FirmName           string `json:"firm_name"`
	Status             string `json:"status"`
}

type RecallSummary struct {
	Total  int `json:"total"`
	Class1 int `json:"class_1"`
	Class2 int `json:"class_2"`
	Class3 int `json:"class_3"`
}

type SafetySignals struct {
	DeviceBreakdown      map[string]int `json:"device_breakdown"`
	TemporalDistribution map[string]int `json:"temporal_distribution"`
	SeverityDistribution map[string]int `json:"severity_distribution"`
	RiskSignals          []RiskSignal   `json:"risk_signals"`
	Recommendations      []string       `json:"recommendations"`
}

type RiskSignal struct {
	Device     string `json:"device"`
	EventCount int    `json:"event_count"`
	RiskLevel  string `json:"risk_level"`
}

type FDAQueryInfo struct {
	DateRange  int    `json:"date_range"`
	DeviceName string `json:"device_name,omitempty"`
	EventType  string `json:"event_type,omitempty"`
}

type FDADeviceOutput struct {
	Status          string          `json:"status"`
	SearchType      string          `json:"search_type,omitempty"`
	Events          []DeviceEvent   `json:"events,omitempty"`
	Summary         *EventSummary   `json:"summary,omitempty"`
	DeviceBreakdown map[string]int  `json:"device_breakdown,omitempty"`
	Recalls         []DeviceRecall  `json:"recalls,omitempty"`
	RecallSummary   *RecallSummary  `json:"recall_summary,omitempty"`
	AnalysisPeriod  int             `json:"analysis_period,omitempty"`
	SafetySignals   *SafetySignals  `json:"safety_signals,omitempty"`
	TotalResults    int             `json:"total_results,omitempty"`
	QueryInfo       *FDAQueryInfo   `json:"query_info,omitempty"`
	GeneratedAt     string          `json:"generated_at,omitempty"`
	DemoMode        bool            `json:"demo_mode"`
	Message         string          `json:"message,omitempty"`
	FallbackReason  string          `json:"fallback_reason,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// FDADeviceLookup monitors medical devices through the openFDA MAUDE
// adverse event and recall databases. Upstream outages degrade to
// deterministic demo data flagged with DemoMode so callers always get a
// well-formed result.
type FDADeviceLookup struct {
	deps    Dependencies
	baseURL string
	flight  singleflight.Group
}

func NewFDADeviceLookup(deps Dependencies) *FDADeviceLookup {
	return &FDADeviceLookup{deps: deps.withDefaults(), baseURL: fdaDeviceBaseURL}
}

func (t *FDADeviceLookup) Name() string { return "fda_device_lookup" }

func (t *FDADeviceLookup) Description() string {
	return "Look up medical device adverse events, recalls, and safety signals from the FDA MAUDE database"
}

func (t *FDADeviceLookup) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var input FDADeviceInput
	if err := decodeArgs(args, &input); err != nil {
		return nil, err
	}
	return t.Lookup(ctx, input), nil
}

func (t *FDADeviceLookup) Lookup(ctx context.Context, input FDADeviceInput) FDADeviceOutput {
	if input.SearchType == "" {
		input.SearchType = "adverse_events"
	}
	if input.DateRange <= 0 {
		input.DateRange = 30
	}
	if input.EventType == "" {
		input.EventType = "all"
	}

	switch input.SearchType {
	case "adverse_events", "recalls", "safety_signals":
	default:
		return FDADeviceOutput{
			Status:       "error",
			ErrorMessage: "Invalid search type. Must be 'adverse_events', 'recalls', or 'safety_signals'",
		}
	}

	t.deps.recordUsage(t.Name())
	t.deps.Logger.Info("fda device lookup",
		zap.String("search_type", input.SearchType),
		zap.String("device", input.DeviceName),
		zap.Int("days", input.DateRange))

	var out FDADeviceOutput
	var err error
	switch input.SearchType {
	case "adverse_events":
		out, err = t.fetchAdverseEvents(ctx, input.DateRange, input.DeviceName, input.EventType)
	case "recalls":
		out, err = t.fetchRecalls(ctx, input.DateRange, input.DeviceName)
	case "safety_signals":
		out, err = t.analyzeSafetySignals(ctx, input.DateRange, input.DeviceName)
	}
	if err != nil {
		t.deps.Logger.Warn("fda upstream failed, serving demo data",
			zap.String("search_type", input.SearchType), zap.Error(err))
		demo := t.demoData(input.SearchType, input.DeviceName)
		demo.FallbackReason = fmt.Sprintf("API error: %v", err)
		return demo
	}
	out.SearchType = input.SearchType
	return out
}

type fdaEventDevice struct {
	DeviceName        string `json:"device_name"`
	GenericName       string `json:"generic_name"`
	BrandName         string `json:"brand_name"`
	ModelNumber       string `json:"model_number"`
	ManufacturerDName string `json:"manufacturer_d_name"`
	ManufacturerName  string `json:"manufacturer_name"`
}

type fdaEvent struct {
	ReportNumber string           `json:"report_number"`
	DateReceived string           `json:"date_received"`
	EventType    string           `json:"event_type"`
	Device       []fdaEventDevice `json:"device"`
	MDRText      []struct {
		Text string `json:"text"`
	} `json:"mdr_text"`
	Patient []struct {
		PatientProblemFlag string `json:"patient_problem_flag"`
	} `json:"patient"`
}

type fdaMeta struct {
	Results struct {
		Total int `json:"total"`
	} `json:"results"`
}

type fdaEventResponse struct {
	Meta    fdaMeta    `json:"meta"`
	Results []fdaEvent `json:"results"`
}

type fdaRecall struct {
	RecallNumber         string `json:"recall_number"`
	RecallInitiationDate string `json:"recall_initiation_date"`
	Classification       string `json:"classification"`
	ProductDescription   string `json:"product_description"`
	ReasonForRecall      string `json:"reason_for_recall"`
	RecallingFirm        string `json:"recalling_firm"`
	Status               string `json:"status"`
}

type fdaRecallResponse struct {
	Meta    fdaMeta     `json:"meta"`
	Results []fdaRecall `json:"results"`
}

func (t *FDADeviceLookup) fetchAdverseEvents(ctx context.Context, days int, device, eventType string) (FDADeviceOutput, error) {
	deviceKey := device
	if deviceKey == "" {
		deviceKey = "all"
	}
	key := cache.Key("maude_adverse", deviceKey, eventType, days)

	var out FDADeviceOutput
	if t.deps.Cache.Get(ctx, key, &out) {
		return out, nil
	}

	v, err, _ := t.flight.Do(key, func() (any, error) {
		query := deviceSearchQuery(device)
		if eventType != "all" {
			if code := eventTypeCode(eventType); code != "" {
				query += "+AND+event_type:" + code
			}
		}
		params := url.Values{
			"search": {query},
			"limit":  {"10"},
			"sort":   {"date_received:desc"},
		}
		if t.deps.Config.FDAAPIKey != "" {
			params.Set("api_key", t.deps.Config.FDAAPIKey)
		}

		var resp fdaEventResponse
		if err := t.deps.HTTP.GetJSON(ctx, t.baseURL+"/event.json", params, &resp); err != nil {
			return nil, err
		}

		// The upstream date filter is unreliable; filter client-side.
		events := filterEventsByDate(resp.Results, days)
		result := processAdverseEvents(events, device, eventType, days)
		result.TotalResults = resp.Meta.Results.Total

		t.deps.Cache.Set(ctx, key, result, adverseEventsTTL)
		return result, nil
	})
	if err != nil {
		return FDADeviceOutput{}, err
	}
	return v.(FDADeviceOutput), nil
}

func (t *FDADeviceLookup) fetchRecalls(ctx context.Context, days int, device string) (FDADeviceOutput, error) {
	deviceKey := device
	if deviceKey == "" {
		deviceKey = "all"
	}
	key := cache.Key("maude_recalls", deviceKey, days)

	var out FDADeviceOutput
	if t.deps.Cache.Get(ctx, key, &out) {
		return out, nil
	}

	v, err, _ := t.flight.Do(key, func() (any, error) {
		params := url.Values{
			"search": {deviceSearchQuery(device)},
			"limit":  {"10"},
			"sort":   {"recall_initiation_date:desc"},
		}
		if t.deps.Config.FDAAPIKey != "" {
			params.Set("api_key", t.deps.Config.FDAAPIKey)
		}

		var resp fdaRecallResponse
		if err := t.deps.HTTP.GetJSON(ctx, t.baseURL+"/recall.json", params, &resp); err != nil {
			return nil, err
		}

		result := processRecalls(resp.Results, days)
		result.TotalResults = resp.Meta.Results.Total

		t.deps.Cache.Set(ctx, key, result, recallsTTL)
		return result, nil
	})
	if err != nil {
		return FDADeviceOutput{}, err
	}
	return v.(FDADeviceOutput), nil
}

func (t *FDADeviceLookup) analyzeSafetySignals(ctx context.Context, days int, device string) (FDADeviceOutput, error) {
	deviceKey := device
	if deviceKey == "" {
		deviceKey = "all"
	}
	key := cache.Key("safety_signals", deviceKey, days)

	var out FDADeviceOutput
	if t.deps.Cache.Get(ctx, key, &out) {
		return out, nil
	}

	events, err := t.fetchAdverseEvents(ctx, days, device, "all")
	if err != nil {
		return FDADeviceOutput{}, err
	}

	result := FDADeviceOutput{
		Status:         "success",
		AnalysisPeriod: days,
		SafetySignals:  analyzeSafetyPatterns(events.Events),
		QueryInfo:      &FDAQueryInfo{DateRange: days, DeviceName: device},
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	t.deps.Cache.Set(ctx, key, result, safetySignalsTTL)
	return result, nil
}

// deviceSearchQuery builds the openFDA search expression. Without a
// device the MAUDE API rejects empty searches, so fall back to a broad
// surgical query.
func deviceSearchQuery(device string) string {
	device = strings.TrimSpace(strings.ToLower(device))
	if device == "" {
		return "device_name=surgical"
	}
	return fmt.Sprintf("device_name=%q", device)
}

func eventTypeCode(eventType string) string {
	switch strings.ToLower(eventType) {
	case "malfunction":
		return "M"
	case "injury":
		return "I"
	case "death":
		return "D"
	}
	return ""
}

func filterEventsByDate(events []fdaEvent, days int) []fdaEvent {
	cutoff := time.Now().AddDate(0, 0, -days).Format("20060102")
	var filtered []fdaEvent
	for _, e := range events {
		if e.DateReceived != "" && e.DateReceived >= cutoff {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func processAdverseEvents(events []fdaEvent, device, eventType string, days int) FDADeviceOutput {
	summary := &EventSummary{Total: len(events)}
	breakdown := map[string]int{}
	processed := make([]DeviceEvent, 0, len(events))

	for _, e := range events {
		name, generic, brand, model, manufacturer := extractDeviceInfo(e.Device)

		var problems []string
		for _, p := range e.Patient {
			if p.PatientProblemFlag != "" {
				problems = append(problems, p.PatientProblemFlag)
			}
		}

		processed = append(processed, DeviceEvent{
			ReportNumber: orDefault(e.ReportNumber, "Not Available"),
			DateReceived: formatReportDate(e.DateReceived),
			EventType:    formatEventType(e.EventType),
			DeviceName:   name,
			GenericName:  generic,
			BrandName:    brand,
			ModelNumber:  model,
			Manufacturer: manufacturer,
			Description:  eventDescription(e),
			Problems:     problems,
		})

		if strings.Contains(e.EventType, "M") {
			summary.Malfunction++
		}
		if strings.Contains(e.EventType, "I") {
			summary.Injury++
		}
		if strings.Contains(e.EventType, "D") {
			summary.Death++
		}
		if name != "Device Not Specified" {
			breakdown[name]++
		}
	}

	return FDADeviceOutput{
		Status:          "success",
		Events:          processed,
		Summary:         summary,
		DeviceBreakdown: breakdown,
		QueryInfo:       &FDAQueryInfo{DateRange: days, DeviceName: device, EventType: eventType},
	}
}

func processRecalls(recalls []fdaRecall, days int) FDADeviceOutput {
	summary := &RecallSummary{Total: len(recalls)}
	processed := make([]DeviceRecall, 0, len(recalls))

	for _, r := range recalls {
		processed = append(processed, DeviceRecall{
			RecallNumber:       orDefault(r.RecallNumber, "Unknown"),
			InitiationDate:     orDefault(r.RecallInitiationDate, "Unknown"),
			Class:              orDefault(r.Classification, "Unknown"),
			ProductDescription: orDefault(r.ProductDescription, "No description"),
			Reason:             orDefault(r.ReasonForRecall, "No reason provided"),
			FirmName:           orDefault(r.RecallingFirm, "Unknown"),
			Status:             orDefault(r.Status, "Unknown"),
		})
		switch {
		case strings.Contains(r.Classification, "Class I") && !strings.Contains(r.Classification, "Class II"):
			summary.Class1++
		case strings.Contains(r.Classification, "Class III"):
			summary.Class3++
		case strings.Contains(r.Classification, "Class II"):
			summary.Class2++
		}
	}

	return FDADeviceOutput{
		Status:        "success",
		Recalls:       processed,
		RecallSummary: summary,
		QueryInfo:     &FDAQueryInfo{DateRange: days},
	}
}

func analyzeSafetyPatterns(events []DeviceEvent) *SafetySignals {
	signals := &SafetySignals{
		DeviceBreakdown:      map[string]int{},
		TemporalDistribution: map[string]int{},
		SeverityDistribution: map[string]int{"malfunction": 0, "injury": 0, "death": 0},
		RiskSignals:          []RiskSignal{},
		Recommendations:      []string{},
	}

	for _, e := range events {
		signals.DeviceBreakdown[e.DeviceName]++

		if d, err := time.Parse("January 02, 2006", e.DateReceived); err == nil {
			signals.TemporalDistribution[d.Format("200601")]++
		}

		lower := strings.ToLower(e.EventType)
		if strings.Contains(lower, "malfunction") {
			signals.SeverityDistribution["malfunction"]++
		}
		if strings.Contains(lower, "injury") {
			signals.SeverityDistribution["injury"]++
		}
		if strings.Contains(lower, "death") {
			signals.SeverityDistribution["death"]++
		}
	}

	for device, count := range signals.DeviceBreakdown {
		if count > 5 {
			level := "Medium"
			if count > 20 {
				level = "High"
			}
			signals.RiskSignals = append(signals.RiskSignals, RiskSignal{
				Device: device, EventCount: count, RiskLevel: level,
			})
		}
	}
	sort.Slice(signals.RiskSignals, func(i, j int) bool {
		return signals.RiskSignals[i].EventCount > signals.RiskSignals[j].EventCount
	})

	if signals.SeverityDistribution["death"] > 0 {
		signals.Recommendations = append(signals.Recommendations, "Immediate review of fatal events required")
	}
	if signals.SeverityDistribution["injury"] > 10 {
		signals.Recommendations = append(signals.Recommendations, "Enhanced monitoring of injury reports recommended")
	}
	if len(signals.RiskSignals) > 0 {
		signals.Recommendations = append(signals.Recommendations, "Focused analysis of high-risk devices needed")
	}
	return signals
}

func extractDeviceInfo(devices []fdaEventDevice) (name, generic, brand, model, manufacturer string) {
	name = "Device Not Specified"
	manufacturer = "Manufacturer Not Available"
	if len(devices) == 0 {
		return
	}
	d := devices[0]
	for _, candidate := range []string{d.DeviceName, d.GenericName, d.BrandName, d.ModelNumber} {
		if s := strings.TrimSpace(candidate); s != "" {
			name = s
			break
		}
	}
	generic = strings.TrimSpace(d.GenericName)
	brand = strings.TrimSpace(d.BrandName)
	model = strings.TrimSpace(d.ModelNumber)
	for _, candidate := range []string{d.ManufacturerDName, d.ManufacturerName} {
		if s := strings.TrimSpace(candidate); s != "" {
			manufacturer = s
			break
		}
	}
	return
}

func eventDescription(e fdaEvent) string {
	for _, t := range e.MDRText {
		if s := strings.TrimSpace(t.Text); s != "" {
			return s
		}
	}
	if formatted := formatEventType(e.EventType); formatted != "Unknown Event Type" {
		return "Medical device event reported: " + formatted
	}
	return "Event details not available in report"
}

// formatReportDate converts openFDA YYYYMMDD dates to a readable form.
func formatReportDate(s string) string {
	if len(s) < 8 {
		return "Date Not Available"
	}
	d, err := time.Parse("20060102", s[:8])
	if err != nil {
		return s
	}
	return d.Format("January 02, 2006")
}

func formatEventType(code string) string {
	switch code {
	case "":
		return "Unknown Event Type"
	case "M":
		return "Device Malfunction"
	case "I":
		return "Patient Injury"
	case "D":
		return "Patient Death"
	}
	var parts []string
	if strings.Contains(code, "M") {
		parts = append(parts, "Malfunction")
	}
	if strings.Contains(code, "I") {
		parts = append(parts, "Injury")
	}
	if strings.Contains(code, "D") {
		parts = append(parts, "Death")
	}
	if len(parts) > 0 {
		return strings.Join(parts, " & ")
	}
	return "Event Type: " + code
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// demoData returns a deterministic stand-in result when openFDA is
// unreachable, always flagged with DemoMode.
func (t *FDADeviceLookup) demoData(searchType, device string) FDADeviceOutput {
	deviceOr := func(def string) string {
		if device != "" {
			return device
		}
		return def
	}

	switch searchType {
	case "recalls":
		return FDADeviceOutput{
			Status:     "success",
			SearchType: searchType,
			Recalls: []DeviceRecall{{
				RecallNumber:       "DEMO-RECALL-001",
				InitiationDate:     "September 01, 2024",
				Class:              "Class II",
				ProductDescription: fmt.Sprintf("Demo %s - Model XYZ-123, Serial Numbers 1000-2000", deviceOr("Medical Device")),
				Reason:             fmt.Sprintf("Potential malfunction in %s software that may cause incorrect readings during critical operations", deviceOr("device")),
				FirmName:           "Demo Medical Corporation",
				Status:             "Ongoing",
			}},
			RecallSummary: &RecallSummary{Total: 1, Class2: 1},
			QueryInfo:     &FDAQueryInfo{DateRange: 90, DeviceName: device},
			DemoMode:      true,
			Message:       "Demo data shown - FDA recalls API temporarily unavailable",
		}

	case "safety_signals":
		return FDADeviceOutput{
			Status:         "success",
			SearchType:     searchType,
			AnalysisPeriod: 180,
			SafetySignals: &SafetySignals{
				DeviceBreakdown:      map[string]int{deviceOr("Medical Device"): 3},
				TemporalDistribution: map[string]int{"202409": 2, "202408": 1},
				SeverityDistribution: map[string]int{"malfunction": 2, "injury": 1, "death": 0},
				RiskSignals: []RiskSignal{{
					Device: deviceOr("Medical Device"), EventCount: 3, RiskLevel: "Medium",
				}},
				Recommendations: []string{
					"Monitor device performance closely",
					"Review maintenance procedures",
					"Enhanced operator training recommended",
				},
			},
			DemoMode: true,
			Message:  "Demo analysis shown - FDA API temporarily unavailable",
		}

	default: // adverse_events
		return FDADeviceOutput{
			Status:     "success",
			SearchType: "adverse_events",
			Events: []DeviceEvent{
				{
					ReportNumber: "DEMO-2024-001",
					DateReceived: "September 15, 2024",
					EventType:    "Device Malfunction",
					DeviceName:   deviceOr("Surgical Instrument"),
					GenericName:  "Surgical Device",
					BrandName:    "ProSurg Model X",
					ModelNumber:  "PSX-2024",
					Manufacturer: "MedTech Solutions Inc.",
					Description:  fmt.Sprintf("Reported malfunction of %s during routine operation. Device stopped functioning as expected during procedure. No patient injury reported.", deviceOr("surgical device")),
				},
				{
					ReportNumber: "DEMO-2024-002",
					DateReceived: "September 10, 2024",
					EventType:    "Patient Injury",
					DeviceName:   deviceOr("Medical Monitoring Device"),
					GenericName:  "Patient Monitor",
					BrandName:    "VitalWatch Pro",
					ModelNumber:  "VW-500",
					Manufacturer: "Advanced Medical Systems Corp.",
					Description:  fmt.Sprintf("Patient experienced minor complications during %s use. Device alarm failed to activate during critical threshold event. Patient stable after intervention.", deviceOr("device")),
					Problems:     []string{"Device alarm malfunction", "Delayed response"},
				},
			},
			Summary: &EventSummary{Total: 2, Malfunction: 1, Injury: 1},
			DeviceBreakdown: map[string]int{
				deviceOr("Surgical Instrument"):       1,
				deviceOr("Medical Monitoring Device"): 1,
			},
			QueryInfo: &FDAQueryInfo{DateRange: 30, DeviceName: device, EventType: "all"},
			DemoMode:  true,
			Message:   "Demo data shown - FDA MAUDE API temporarily unavailable",
		}
	}
}
