package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
)

// parsePositiveInt reads an optional positive integer query value.
func parsePositiveInt(value string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return 0, strconv.ErrSyntax
	}
	return parsed, nil
}

// dayParam resolves the optional ?day= query value, defaulting to the
// current day in the tenant's timezone.
func dayParam(c *gin.Context, tenant *tenantdomain.Tenant) (string, error) {
	raw := strings.TrimSpace(c.Query("day"))
	if raw == "" {
		return creditdomain.DayKey(time.Now(), tenant.Location()), nil
	}
	if _, err := time.Parse(creditdomain.DayFormat, raw); err != nil {
		return "", newValidationError("day", "invalid_day", "day must be formatted YYYY-MM-DD")
	}
	return raw, nil
}

// rangeParams reads the required ?start= and ?end= RFC 3339 query values.
func rangeParams(c *gin.Context) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("start")))
	if err != nil {
		return time.Time{}, time.Time{}, newValidationError("start", "invalid_time", "start must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Query("end")))
	if err != nil {
		return time.Time{}, time.Time{}, newValidationError("end", "invalid_time", "end must be RFC 3339")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, newValidationError("end", "invalid_range", "end must be after start")
	}
	return start, end, nil
}
