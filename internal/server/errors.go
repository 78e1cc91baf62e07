package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
	purchasedomain "github.com/smallbiznis/promptmart/internal/purchase/domain"
	"github.com/smallbiznis/promptmart/internal/ratelimit"
	rewardsdomain "github.com/smallbiznis/promptmart/internal/rewards/domain"
	"github.com/smallbiznis/promptmart/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, rewardsdomain.ErrGrantDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, purchasedomain.ErrPaymentDeclined),
		errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    domainCode(err),
			Message: "payment could not be completed",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    domainCode(err),
			Message: "conflict",
		}
	case errors.Is(err, purchasedomain.ErrListingUnavailable):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "listing_unavailable",
			Message: "listing is not available for purchase",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, purchasedomain.ErrProcessorNotConfigured),
		errors.Is(err, paymentdomain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// domainCode returns the sentinel code of the outermost known domain error.
func domainCode(err error) string {
	for _, sentinel := range []error{
		purchasedomain.ErrPaymentDeclined,
		purchasedomain.ErrIdempotencyKeyConflict,
		purchasedomain.ErrDuplicateSettlement,
		purchasedomain.ErrPaymentPending,
		purchasedomain.ErrOrderAlreadyRefunded,
		purchasedomain.ErrChargeMismatch,
		ledgerdomain.ErrInsufficientBalance,
		ledgerdomain.ErrDuplicateReference,
		ledgerdomain.ErrConcurrentModification,
		rewardsdomain.ErrAlreadyClaimed,
		rewardsdomain.ErrAlreadyGranted,
		payoutdomain.ErrWatermarkMoved,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "conflict"
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	case isListingValidationError(err),
		isPurchaseValidationError(err),
		isLedgerValidationError(err),
		isRewardsValidationError(err),
		isPayoutValidationError(err),
		isPaymentValidationError(err):
		return true
	default:
		return false
	}
}

func isListingValidationError(err error) bool {
	return errors.Is(err, listingdomain.ErrInvalidSeller) ||
		errors.Is(err, listingdomain.ErrInvalidTitle) ||
		errors.Is(err, listingdomain.ErrInvalidContent) ||
		errors.Is(err, listingdomain.ErrInvalidPrice) ||
		errors.Is(err, listingdomain.ErrInvalidPreview)
}

func isPurchaseValidationError(err error) bool {
	return errors.Is(err, purchasedomain.ErrInvalidBuyer) ||
		errors.Is(err, purchasedomain.ErrInvalidPaymentMethod) ||
		errors.Is(err, purchasedomain.ErrInvalidIdempotencyKey) ||
		errors.Is(err, purchasedomain.ErrSelfPurchase)
}

func isLedgerValidationError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, ledgerdomain.ErrInvalidDirection) ||
		errors.Is(err, ledgerdomain.ErrInvalidSource) ||
		errors.Is(err, ledgerdomain.ErrInvalidAsset) ||
		errors.Is(err, ledgerdomain.ErrInvalidOwner)
}

func isRewardsValidationError(err error) bool {
	return errors.Is(err, rewardsdomain.ErrUnsupportedGrant) ||
		errors.Is(err, rewardsdomain.ErrReferenceRequired)
}

func isPayoutValidationError(err error) bool {
	return errors.Is(err, payoutdomain.ErrInvalidProvider) ||
		errors.Is(err, payoutdomain.ErrInvalidDestination) ||
		errors.Is(err, payoutdomain.ErrInvalidOwner)
}

func isPaymentValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidProvider) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent)
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, purchasedomain.ErrIdempotencyKeyConflict),
		errors.Is(err, purchasedomain.ErrDuplicateSettlement),
		errors.Is(err, purchasedomain.ErrPaymentPending),
		errors.Is(err, purchasedomain.ErrOrderAlreadyRefunded),
		errors.Is(err, purchasedomain.ErrChargeMismatch),
		errors.Is(err, ledgerdomain.ErrDuplicateReference),
		errors.Is(err, ledgerdomain.ErrConcurrentModification),
		errors.Is(err, rewardsdomain.ErrAlreadyClaimed),
		errors.Is(err, rewardsdomain.ErrAlreadyGranted),
		errors.Is(err, payoutdomain.ErrWatermarkMoved):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, listingdomain.ErrNotFound),
		errors.Is(err, purchasedomain.ErrOrderNotFound),
		errors.Is(err, purchasedomain.ErrLicenseNotFound),
		errors.Is(err, purchasedomain.ErrAttemptNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, payoutdomain.ErrBatchNotFound),
		errors.Is(err, payoutdomain.ErrEntryNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, purchasedomain.ErrSelfPurchase):
		return "self_purchase"
	default:
		return rootCode(err)
	}
}

// rootCode unwraps to the innermost error, which carries the sentinel code.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "self_purchase":
		return "sellers cannot buy their own listings"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog reports the error type and code recorded on request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth", payload.Type
	default:
		return "client", payload.Type
	}
}
