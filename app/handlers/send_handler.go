package handlers

import (
	"context"
	"log"
	"time"

	"github.com/coldflowhq/coldflow/app/dto"
	businessflow "github.com/coldflowhq/coldflow/business_flow"
	"github.com/coldflowhq/coldflow/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// SendHandlerInterface defines the contract for send handlers
type SendHandlerInterface interface {
	SendNow(c fiber.Ctx) error
	ScheduleSend(c fiber.Ctx) error
	ScheduleFollowUp(c fiber.Ctx) error
	GetQualification(c fiber.Ctx) error
	GetReputation(c fiber.Ctx) error
	RecordReputationEvent(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	CampaignReport(c fiber.Ctx) error
}

// SendHandler handles outreach-related HTTP requests
type SendHandler struct {
	sendFlow   businessflow.SendFlow
	reportFlow businessflow.ReportFlow
	validator  *validator.Validate
}

// NewSendHandler creates a new send handler
func NewSendHandler(sendFlow businessflow.SendFlow, reportFlow businessflow.ReportFlow) *SendHandler {
	return &SendHandler{
		sendFlow:   sendFlow,
		reportFlow: reportFlow,
		validator:  validator.New(),
	}
}

func (h *SendHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *SendHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// SendNow handles an immediate send through one identity
func (h *SendHandler) SendNow(c fiber.Ctx) error {
	var req dto.SendNowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.sendFlow.SendNow(h.createRequestContextWithTimeout(c, "/api/v1/sends", 5*time.Minute), &req, metadata)
	if err != nil {
		if businessflow.IsIdentityUnqualified(err) {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Sender identity is not qualified", "IDENTITY_UNQUALIFIED", result)
		}
		log.Println("Immediate send failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Send failed", "SEND_FAILED", result)
	}

	if result.MessageID == "" && result.Qualification != nil && !result.Qualification.Allowed {
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Sender identity is not qualified", "IDENTITY_UNQUALIFIED", result.Qualification)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Message sent successfully", result)
}

// ScheduleSend handles queuing a campaign for a future time
func (h *SendHandler) ScheduleSend(c fiber.Ctx) error {
	var req dto.ScheduleSendRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.sendFlow.ScheduleSend(h.createRequestContext(c, "/api/v1/sends/schedule"), &req, metadata)
	if err != nil {
		log.Println("Schedule send failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Schedule failed", "SCHEDULE_FAILED", err.Error())
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign scheduled successfully", result)
}

// ScheduleFollowUp handles attaching a follow-up to an existing campaign
func (h *SendHandler) ScheduleFollowUp(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")

	var req dto.ScheduleFollowUpRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CampaignUUID = campaignUUID

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.sendFlow.ScheduleFollowUp(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/follow-up"), &req, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		log.Println("Schedule follow-up failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Follow-up scheduling failed", "FOLLOW_UP_SCHEDULE_FAILED", err.Error())
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Follow-up scheduled successfully", result)
}

// GetQualification returns the gate verdict for a sender identity
func (h *SendHandler) GetQualification(c fiber.Ctx) error {
	identityID := c.Params("id")
	if identityID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Identity id is required", "MISSING_IDENTITY_ID", nil)
	}

	result, err := h.sendFlow.GetQualification(h.createRequestContext(c, "/api/v1/identities/:id/qualification"), identityID, c.Query("domain"))
	if err != nil {
		log.Println("Qualification lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusNotFound, "Qualification lookup failed", "QUALIFICATION_FAILED", err.Error())
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Qualification evaluated", result)
}

// GetReputation returns the reputation snapshot for a sender identity
func (h *SendHandler) GetReputation(c fiber.Ctx) error {
	identityID := c.Params("id")
	if identityID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Identity id is required", "MISSING_IDENTITY_ID", nil)
	}

	result, err := h.sendFlow.GetReputation(h.createRequestContext(c, "/api/v1/identities/:id/reputation"), identityID)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Reputation lookup failed", "REPUTATION_FAILED", err.Error())
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Reputation retrieved", result)
}

// RecordReputationEvent records an externally observed reputation event
func (h *SendHandler) RecordReputationEvent(c fiber.Ctx) error {
	var req dto.RecordReputationEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.sendFlow.RecordReputationEvent(h.createRequestContext(c, "/api/v1/reputation/events"), &req)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Failed to record event", "EVENT_RECORD_FAILED", err.Error())
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Event recorded", result)
}

// GetCampaign returns a campaign with its per-recipient results
func (h *SendHandler) GetCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")

	result, err := h.sendFlow.GetCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid"), campaignUUID)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign lookup failed", "CAMPAIGN_LOOKUP_FAILED", err.Error())
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved", result)
}

// CampaignReport streams the campaign's xlsx results report
func (h *SendHandler) CampaignReport(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")

	filename, data, err := h.reportFlow.CampaignReport(h.createRequestContext(c, "/api/v1/campaigns/:uuid/report.xlsx"), campaignUUID)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		log.Println("Campaign report failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Report generation failed", "REPORT_FAILED", nil)
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(data)
}

// createRequestContext creates a context with default timeout and request-scoped values
func (h *SendHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

// createRequestContextWithTimeout creates a context with custom timeout and request-scoped values
func (h *SendHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)

	return ctx
}
