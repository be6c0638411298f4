package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/integration"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/repositories"
	apperrors "github.com/frostdev-ops/pma-switchbot-cloud/pkg/errors"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/utils"
	"github.com/gin-gonic/gin"
)

// toAppError maps domain errors onto HTTP statuses
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var validation *devices.ValidationError
	switch {
	case errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, integration.ErrEntityNotFound),
		errors.Is(err, devices.ErrDeviceNotFound),
		errors.Is(err, registry.ErrEntryNotLoaded):
		return apperrors.Wrap(err, http.StatusNotFound, "Resource not found")

	case errors.Is(err, repositories.ErrDuplicate),
		errors.Is(err, registry.ErrEntryAlreadyLoaded),
		errors.Is(err, integration.ErrEntryDisabled):
		return apperrors.Wrap(err, http.StatusConflict, "Conflict")

	case errors.Is(err, devices.ErrAuthenticationFailed):
		return apperrors.Wrap(err, http.StatusUnauthorized, "SwitchBot rejected the account credentials")

	case errors.Is(err, registry.ErrSetupRefused),
		errors.As(err, &validation),
		errors.Is(err, devices.ErrCommandNotSupported),
		errors.Is(err, devices.ErrInvalidDeviceID):
		return apperrors.Wrap(err, http.StatusBadRequest, "Bad request")

	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, http.StatusGatewayTimeout, "SwitchBot did not answer in time")

	case errors.Is(err, registry.ErrSetupDeferred),
		errors.Is(err, registry.ErrRegistryHalted),
		errors.Is(err, devices.ErrConnectionFailed),
		errors.Is(err, devices.ErrMalformedResponse):
		return apperrors.Wrap(err, http.StatusBadGateway, "SwitchBot cloud unavailable")
	}

	return apperrors.Wrap(err, http.StatusInternalServerError, "Internal server error")
}

func (h *Handlers) fail(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}

	message := appErr.Message
	if appErr.Details != "" {
		message = appErr.Message + ": " + appErr.Details
	}
	utils.SendError(c, appErr.Code, message)
}
