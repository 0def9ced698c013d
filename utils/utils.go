package utils

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GenerateRateLimitKey builds the limiter storage key. Scoping by user,
// school and path keeps one school's burst from exhausting another's
// quota.
func GenerateRateLimitKey(userID uint, scope, path string) string {
	return fmt.Sprintf("rl:%d:%s:%s", userID, scope, path)
}

// ValidateMXRecords reports whether the address's domain can receive
// mail at all. Used when registering a school sender, not on every
// recipient.
func ValidateMXRecords(email string) (bool, error) {
	_, domain, found := strings.Cut(email, "@")
	if !found || domain == "" {
		return false, fmt.Errorf("invalid email format")
	}

	mxRecords, err := net.LookupMX(domain)
	if err != nil {
		return false, err
	}
	return len(mxRecords) > 0, nil
}

// SuccessResponse creates a standardized success response
func SuccessResponse(data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"data":    data,
	}
}

// ParseUint parses a route parameter, returning zero on bad input. The
// zero ID never matches a row, so lookups fail with a plain 404.
func ParseUint(s string) uint {
	i, _ := strconv.ParseUint(s, 10, 32)
	return uint(i)
}

// PaginatedResponse structure for paginated results
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
