package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

func parseSnowflakeID(value string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func parseOptionalSnowflakeID(value string) (snowflake.ID, bool) {
	if strings.TrimSpace(value) == "" {
		return 0, true
	}
	return parseSnowflakeID(value)
}

// pathID reads a snowflake path parameter, aborting with a validation error.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, ok := parseSnowflakeID(c.Param(name))
	if !ok {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid "+name))
		return 0, false
	}
	return id, true
}
