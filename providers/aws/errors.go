package aws

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// apiErrorCode returns the EC2 error code, or "" for non-API errors
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isNotFound matches InvalidInstanceID.NotFound, InvalidAMIID.Malformed and friends
func isNotFound(err error) bool {
	code := apiErrorCode(err)
	return strings.HasSuffix(code, ".NotFound") ||
		strings.HasSuffix(code, ".Malformed") ||
		strings.HasSuffix(code, ".Unavailable")
}

// errorDetail renders an API error as "Code: message"
func errorDetail(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}
