package middleware

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// Pagination limits for result listings.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Sort keys accepted by the results listing.
var validSortKeys = map[string]bool{
	"final_score":  true,
	"vision_score": true,
	"found_at":     true,
}

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ParseProjectID parses a positive project id from a path parameter.
func ParseProjectID(raw string) (int64, string) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, "projectId must be a positive integer"
	}
	return id, ""
}

// ParseResultID parses a positive result id from a path parameter.
func ParseResultID(raw string) (int64, string) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, "result id must be a positive integer"
	}
	return id, ""
}

// ParsePagination normalizes page and per_page query values. Out-of-range
// values clamp rather than error.
func ParsePagination(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// ValidateSortBy returns the sort key or the default for unknown values.
func ValidateSortBy(sortBy string) string {
	sortBy = strings.TrimSpace(strings.ToLower(sortBy))
	if !validSortKeys[sortBy] {
		return "final_score"
	}
	return sortBy
}

// ValidateImageURL checks that a proxied image URL is an absolute http(s)
// URL with a host.
func ValidateImageURL(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "url query parameter is required"
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "url must be an absolute http(s) URL"
	}
	return raw, ""
}
