package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"aigateway/internal/core"
	"aigateway/internal/usage"
)

var validIntervals = map[string]bool{
	"daily":   true,
	"weekly":  true,
	"monthly": true,
	"yearly":  true,
}

// parseUsageParams extracts UsageQueryParams from the request query string.
// Returns an error if date parameters are provided but malformed.
func parseUsageParams(c echo.Context) (usage.UsageQueryParams, error) {
	params := usage.UsageQueryParams{
		Endpoint: c.QueryParam("endpoint"),
		Provider: c.QueryParam("provider"),
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	startStr := c.QueryParam("start_date")
	endStr := c.QueryParam("end_date")

	var startParsed, endParsed bool

	if startStr != "" {
		t, err := time.Parse(time.DateOnly, startStr)
		if err != nil {
			return params, core.NewInvalidRequestError("invalid start_date format, expected YYYY-MM-DD", nil)
		}
		params.StartDate = t
		startParsed = true
	}

	if endStr != "" {
		t, err := time.Parse(time.DateOnly, endStr)
		if err != nil {
			return params, core.NewInvalidRequestError("invalid end_date format, expected YYYY-MM-DD", nil)
		}
		params.EndDate = t
		endParsed = true
	}

	if startParsed || endParsed {
		if !startParsed {
			params.StartDate = params.EndDate.AddDate(0, 0, -29)
		}
		if !endParsed {
			params.EndDate = today
		}
		if params.StartDate.After(params.EndDate) {
			return params, core.NewInvalidRequestError("start_date must not be after end_date", nil)
		}
	} else {
		days := 30
		if d := c.QueryParam("days"); d != "" {
			if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
				days = parsed
			}
		}
		params.EndDate = today
		params.StartDate = today.AddDate(0, 0, -(days - 1))
	}

	params.Interval = c.QueryParam("interval")
	if !validIntervals[params.Interval] {
		params.Interval = "daily"
	}

	return params, nil
}

// handleError converts errors to appropriate HTTP responses, matching the
// format used by the gateway handlers in the server package.
func handleError(c echo.Context, err error) error {
	gatewayErr := core.AsGatewayError(err)
	return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
}

// UsageSummary handles GET /usage/summary
func (h *Handler) UsageSummary(c echo.Context) error {
	if h.usageReader == nil {
		return c.JSON(http.StatusOK, usage.UsageSummary{})
	}

	params, err := parseUsageParams(c)
	if err != nil {
		return handleError(c, err)
	}

	summary, err := h.usageReader.GetSummary(c.Request().Context(), params)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, summary)
}

// DailyUsage handles GET /usage/daily
func (h *Handler) DailyUsage(c echo.Context) error {
	if h.usageReader == nil {
		return c.JSON(http.StatusOK, []usage.DailyUsage{})
	}

	params, err := parseUsageParams(c)
	if err != nil {
		return handleError(c, err)
	}

	daily, err := h.usageReader.GetDailyUsage(c.Request().Context(), params)
	if err != nil {
		return handleError(c, err)
	}

	if daily == nil {
		daily = []usage.DailyUsage{}
	}

	return c.JSON(http.StatusOK, daily)
}
