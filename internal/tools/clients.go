package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ActiveClients reports the count of active clients per service offering,
// backed by a reporting view in the operations database.
type ActiveClients struct {
	db *sql.DB
}

// NewActiveClients creates the active-clients tool on an open database
// handle. The handle is shared with other database tools.
func NewActiveClients(db *sql.DB) *ActiveClients {
	return &ActiveClients{db: db}
}

func (a *ActiveClients) Name() string { return "get_active_clients_per_service" }
func (a *ActiveClients) Description() string {
	return "Get the count of active clients per service type. Shows how many active clients exist for each service offering."
}

// The query is fixed, so the function takes no arguments.
func (a *ActiveClients) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}, "required": []}`)
}

type serviceCount struct {
	Service     string `json:"service"`
	ClientCount int    `json:"client_count"`
}

type activeClientsReport struct {
	TotalActiveClients int            `json:"total_active_clients"`
	ServiceBreakdown   []serviceCount `json:"service_breakdown"`
}

func (a *ActiveClients) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT service_type, client_count FROM client_count_per_service ORDER BY client_count DESC`)
	if err != nil {
		return "", fmt.Errorf("query active clients: %w", err)
	}
	defer rows.Close()

	var counts []serviceCount
	for rows.Next() {
		var sc serviceCount
		if err := rows.Scan(&sc.Service, &sc.ClientCount); err != nil {
			return "", fmt.Errorf("scan active clients row: %w", err)
		}
		counts = append(counts, sc)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read active clients: %w", err)
	}
	return formatActiveClients(counts)
}

func formatActiveClients(counts []serviceCount) (string, error) {
	report := activeClientsReport{ServiceBreakdown: counts}
	for _, sc := range counts {
		report.TotalActiveClients += sc.ClientCount
	}
	out, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode active clients report: %w", err)
	}
	return string(out), nil
}
