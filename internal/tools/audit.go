package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const auditTimeLayout = "2006-01-02 15:04:05.999999"

// UserAudit retrieves a user's audit trail and summarizes their activity
// patterns so the assistant can answer questions about usage instead of
// dumping raw log lines.
type UserAudit struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

func NewUserAudit(baseURL, apiKey string) *UserAudit {
	return &UserAudit{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

func (u *UserAudit) Name() string { return "get_user_audit_logs" }
func (u *UserAudit) Description() string {
	return "Retrieve and analyze audit logs for a specific user, providing activity history and insights"
}
func (u *UserAudit) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"email": {"type": "string", "description": "Email address of the user to get audit logs for"}
		},
		"required": ["email"]
	}`)
}

type auditItem struct {
	Action        string `json:"action"`
	TableName     string `json:"tableName"`
	ChangeSummary string `json:"changeSummary"`
	CreatedAt     string `json:"createdAt"`
}

type auditPage struct {
	Items           []auditItem `json:"items"`
	TotalPages      int         `json:"totalPages"`
	TotalCount      int         `json:"totalCount"`
	HasPreviousPage bool        `json:"hasPreviousPage"`
	HasNextPage     bool        `json:"hasNextPage"`
}

type auditInsights struct {
	TotalActivities    int            `json:"total_activities"`
	MostCommonActions  map[string]int `json:"most_common_actions"`
	MostAffectedTables map[string]int `json:"most_affected_tables"`
	CommonChangeTypes  map[string]int `json:"common_change_types"`
	PeakActivityHours  map[string]int `json:"peak_activity_hours"`
	RecentActivity     bool           `json:"recent_activity"`
}

type auditReport struct {
	AuditLogs struct {
		Items      []auditItem `json:"items"`
		Pagination auditPage   `json:"pagination"`
	} `json:"audit_logs"`
	Insights auditInsights `json:"insights"`
	Summary  struct {
		Email        string `json:"email"`
		TotalRecords int    `json:"total_records"`
		DateRange    struct {
			From string `json:"from,omitempty"`
			To   string `json:"to,omitempty"`
		} `json:"date_range"`
	} `json:"summary"`
}

func (u *UserAudit) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Email == "" {
		return "", fmt.Errorf("email is required")
	}

	endpoint := fmt.Sprintf("%s/%s", u.baseURL, url.PathEscape(params.Email))
	body, err := apiGet(ctx, u.client, endpoint, u.apiKey)
	if err != nil {
		return "", fmt.Errorf("fetch audit logs for %s: %w", params.Email, err)
	}

	var envelope struct {
		Data *auditPage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parse audit response: %w", err)
	}
	if envelope.Data == nil {
		return "", fmt.Errorf("audit response missing data field")
	}

	report := u.buildReport(params.Email, *envelope.Data)
	out, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode audit report: %w", err)
	}
	return string(out), nil
}

func (u *UserAudit) buildReport(email string, page auditPage) auditReport {
	var report auditReport
	report.AuditLogs.Items = page.Items
	report.AuditLogs.Pagination = auditPage{
		TotalPages:      page.TotalPages,
		TotalCount:      page.TotalCount,
		HasPreviousPage: page.HasPreviousPage,
		HasNextPage:     page.HasNextPage,
	}
	report.Insights = u.analyze(page.Items)
	report.Summary.Email = email
	report.Summary.TotalRecords = page.TotalCount
	if len(page.Items) > 0 {
		// Items arrive newest first.
		report.Summary.DateRange.From = page.Items[len(page.Items)-1].CreatedAt
		report.Summary.DateRange.To = page.Items[0].CreatedAt
	}
	return report
}

func (u *UserAudit) analyze(items []auditItem) auditInsights {
	actions := make(map[string]int)
	tables := make(map[string]int)
	changes := make(map[string]int)
	hours := make(map[string]int)

	for _, item := range items {
		actions[item.Action]++
		if item.TableName != "" {
			tables[item.TableName]++
		}
		changes[item.ChangeSummary]++
		if ts, err := time.Parse(auditTimeLayout, item.CreatedAt); err == nil {
			hours[fmt.Sprintf("%02d:00", ts.Hour())]++
		}
	}

	recent := false
	if len(items) > 0 {
		if ts, err := time.Parse(auditTimeLayout, items[0].CreatedAt); err == nil {
			recent = u.now().Sub(ts) < 7*24*time.Hour
		}
	}

	return auditInsights{
		TotalActivities:    len(items),
		MostCommonActions:  topN(actions, 3),
		MostAffectedTables: topN(tables, 3),
		CommonChangeTypes:  topN(changes, 3),
		PeakActivityHours:  topN(hours, 3),
		RecentActivity:     recent,
	}
}

// topN keeps the n highest counts, breaking ties by key for stable output.
func topN(counts map[string]int, n int) map[string]int {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = counts[k]
	}
	return out
}
