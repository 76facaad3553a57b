// internal/handlers/errors.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

// respondError maps domain errors to HTTP responses.
func respondError(c *gin.Context, resource string, err error) {
	var missingCost *pricing.MissingCostError
	var missingShipping *pricing.ShippingConfigMissingError

	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.NotFoundResponse(c, resource)
	case errors.As(err, &missingCost), errors.As(err, &missingShipping):
		utils.UnprocessableResponse(c, err.Error())
	case marketplace.IsThrottled(err):
		utils.TooManyRequestsResponse(c, err.Error())
	case jobs.IsConcurrencyConflict(err):
		utils.ConflictResponse(c, "Concurrent update on "+resource+", retry the request")
	default:
		operatorID, _ := utils.GetOperatorIDFromContext(c)
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":        c.Request.URL.Path,
			"operator_id": operatorID,
		}).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// accountID is the account of the authenticated operator.
func accountID(c *gin.Context) (uuid.UUID, bool) {
	raw, _ := utils.GetAccountIDFromContext(c)
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.UnauthorizedResponse(c, "Token carries no account")
		return uuid.Nil, false
	}
	return id, true
}

// bindAndValidate decodes a JSON body and runs struct validation, writing
// the error response itself.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
