package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// AvailableOffices finds office spaces matching a city and seating
// capacity requirement.
type AvailableOffices struct {
	db *sql.DB
}

func NewAvailableOffices(db *sql.DB) *AvailableOffices {
	return &AvailableOffices{db: db}
}

func (o *AvailableOffices) Name() string { return "get_available_offices" }
func (o *AvailableOffices) Description() string {
	return "Find available office spaces based on city location and required seating capacity."
}
func (o *AvailableOffices) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"city": {"type": "string", "description": "The city to search for available offices (e.g., 'Makati', 'Taguig', 'BGC')"},
			"capacity": {"type": "integer", "description": "The required seating capacity for the office space"}
		},
		"required": ["city", "capacity"]
	}`)
}

type officeSpace struct {
	Building    string  `json:"building"`
	City        string  `json:"city"`
	Floor       string  `json:"floor"`
	Capacity    int     `json:"capacity"`
	MonthlyRate float64 `json:"monthly_rate"`
}

type officesReport struct {
	TotalAvailableSpaces int           `json:"total_available_spaces"`
	City                 string        `json:"city"`
	RequiredCapacity     int           `json:"required_capacity"`
	AvailableOffices     []officeSpace `json:"available_offices"`
}

func (o *AvailableOffices) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		City     string `json:"city"`
		Capacity int    `json:"capacity"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.City == "" {
		return "", fmt.Errorf("city is required")
	}
	if params.Capacity <= 0 {
		return "", fmt.Errorf("capacity must be positive")
	}

	rows, err := o.db.QueryContext(ctx,
		`SELECT building, city, floor, capacity, monthly_rate
		 FROM available_offices
		 WHERE city ILIKE $1 AND capacity >= $2
		 ORDER BY capacity ASC`,
		params.City, params.Capacity)
	if err != nil {
		return "", fmt.Errorf("query available offices: %w", err)
	}
	defer rows.Close()

	var offices []officeSpace
	for rows.Next() {
		var sp officeSpace
		if err := rows.Scan(&sp.Building, &sp.City, &sp.Floor, &sp.Capacity, &sp.MonthlyRate); err != nil {
			return "", fmt.Errorf("scan office row: %w", err)
		}
		offices = append(offices, sp)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read available offices: %w", err)
	}
	return formatOffices(params.City, params.Capacity, offices)
}

func formatOffices(city string, capacity int, offices []officeSpace) (string, error) {
	report := officesReport{
		TotalAvailableSpaces: len(offices),
		City:                 city,
		RequiredCapacity:     capacity,
		AvailableOffices:     offices,
	}
	out, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode offices report: %w", err)
	}
	return string(out), nil
}
