package repository

import (
	"eventhub/data/models"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLimit = 10
	maxLimit     = 100
	defaultSort  = "-startDate"
)

// EventQuery describes a filtered, sorted and paginated event listing.
type EventQuery struct {
	StartFrom *time.Time
	StartTo   *time.Time
	Category  string
	Status    string
	Search    string
	Sort      string
	Page      int
	// Limit <= 0 disables pagination.
	Limit int

	ViewerID      int64
	ViewerIsAdmin bool
}

// NewEventQuery parses listing parameters as they arrive on the query string.
func NewEventQuery(queryParams map[string]string) (EventQuery, error) {
	q := EventQuery{
		Category: queryParams["category"],
		Status:   queryParams["status"],
		Search:   strings.TrimSpace(queryParams["search"]),
		Sort:     queryParams["sort"],
	}

	for key, dst := range map[string]**time.Time{"startDate": &q.StartFrom, "endDate": &q.StartTo} {
		raw := queryParams[key]
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			return EventQuery{}, fmt.Errorf("invalid query: %s must be a date: %v", key, err)
		}
		*dst = &t
	}

	page, limit, err := buildPaginationClause(queryParams)
	if err != nil {
		return EventQuery{}, fmt.Errorf("invalid query: %v", err)
	}
	q.Page, q.Limit = page, limit

	if _, _, err := buildSortingClause(q.Sort, models.MapJsonTagsToDB(models.Event{})); err != nil {
		return EventQuery{}, fmt.Errorf("invalid query: %v", err)
	}

	return q, nil
}

// buildQueryClauses constructs the parameterized WHERE, ORDER BY and
// LIMIT/OFFSET clauses for q. The where clause and its values are returned
// separately so that they can be reused for the count query.
func buildQueryClauses(q EventQuery) (where string, whereVals []interface{}, tail string, tailVals []interface{}, err error) {
	jsonMap := models.MapJsonTagsToDB(models.Event{})

	where, whereVals, placeholderIndex := buildWhereClause(q, 1)

	sort, order, err := buildSortingClause(q.Sort, jsonMap)
	if err != nil {
		return "", nil, "", nil, err
	}
	tail = fmt.Sprintf("ORDER BY %s %s, id ASC", sort, order)

	if q.Limit > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		tail = fmt.Sprintf("%s LIMIT $%d OFFSET $%d", tail, placeholderIndex, placeholderIndex+1)
		tailVals = append(tailVals, q.Limit, (page-1)*q.Limit)
	}

	return where, whereVals, tail, tailVals, nil
}

// buildWhereClause constructs a formatted and parameterized sql WHERE clause.
// It returns the clause, its values and the next free placeholder index. If
// there are no conditions it returns an empty string for the clause.
func buildWhereClause(q EventQuery, phIndex int) (string, []interface{}, int) {
	whereClauseParts := []string{}
	values := []interface{}{}

	add := func(format string, v interface{}) {
		whereClauseParts = append(whereClauseParts, fmt.Sprintf(format, phIndex))
		values = append(values, v)
		phIndex++
	}

	if q.StartFrom != nil {
		add("start_date >= $%d", *q.StartFrom)
	}
	if q.StartTo != nil {
		add("start_date <= $%d", *q.StartTo)
	}
	if q.Category != "" {
		add("category = $%d", q.Category)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	if q.Search != "" {
		add("(title ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+escapeLike(q.Search)+"%")
	}
	if !q.ViewerIsAdmin {
		add("((status = 'published' AND is_public) OR creator_id = $%d)", q.ViewerID)
	}

	if len(whereClauseParts) == 0 {
		return "", values, phIndex
	}
	return "WHERE " + strings.Join(whereClauseParts, " AND "), values, phIndex
}

// buildSortingClause maps a JSON field name, optionally prefixed with '-' for
// descending order, onto its column.
func buildSortingClause(sort string, jsonMap map[string]string) (string, string, error) {
	if sort == "" {
		sort = defaultSort
	}
	order := "ASC"
	if strings.HasPrefix(sort, "-") {
		order = "DESC"
		sort = strings.TrimPrefix(sort, "-")
	}

	if err := validateQueryParam(sort, jsonMap); err != nil {
		return "", "", fmt.Errorf("invalid sort value: %v", sort)
	}

	return jsonMap[sort], order, nil
}

func buildPaginationClause(queryParams map[string]string) (int, int, error) {
	page := 1
	limit := defaultLimit
	if p, ok := queryParams["page"]; ok && p != "" {
		var err error
		page, err = strconv.Atoi(p)
		if err != nil || page < 1 {
			return 0, 0, fmt.Errorf("pagination err; page must be a positive number")
		}
	}
	if l, ok := queryParams["limit"]; ok && l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("pagination err; limit must be a positive number")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, nil
}

func validateQueryParam(key string, jsonMap map[string]string) error {
	if jsonMap[key] == "" {
		return fmt.Errorf("invalid query parameter: %s", key)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
