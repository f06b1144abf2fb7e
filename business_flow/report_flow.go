package businessflow

import (
	"context"
	"time"

	"github.com/coldflowhq/coldflow/repository"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// ReportFlow exports campaign outcomes
type ReportFlow interface {
	// CampaignReport builds an xlsx workbook with one row per recipient
	// outcome and returns its filename and raw bytes.
	CampaignReport(ctx context.Context, campaignUUID string) (string, []byte, error)
}

// ReportFlowImpl implements the report flow
type ReportFlowImpl struct {
	campaignRepo repository.CampaignRepository
}

// NewReportFlow creates a new report flow instance
func NewReportFlow(campaignRepo repository.CampaignRepository) ReportFlow {
	return &ReportFlowImpl{campaignRepo: campaignRepo}
}

func (s *ReportFlowImpl) CampaignReport(ctx context.Context, campaignUUID string) (string, []byte, error) {
	id, err := uuid.Parse(campaignUUID)
	if err != nil {
		return "", nil, NewBusinessError("CAMPAIGN_UUID_INVALID", "campaign UUID is invalid", ErrCampaignUUIDRequired)
	}
	campaign, err := s.campaignRepo.ByUUID(ctx, id)
	if err != nil {
		return "", nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "failed to load campaign", err)
	}
	if campaign == nil {
		return "", nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "campaign not found", ErrCampaignNotFound)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := xl.GetSheetName(0)
	header := []string{"recipient", "identity_id", "success", "message_id", "error", "sent_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for ri, res := range campaign.Results {
		sentAt := ""
		if res.SentAt != nil {
			sentAt = res.SentAt.UTC().Format(time.RFC3339)
		}
		success := "no"
		if res.Success {
			success = "yes"
		}
		record := []string{
			res.Recipient,
			res.IdentityID,
			success,
			res.MessageID,
			res.Error,
			sentAt,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	filename := "campaign_" + campaign.UUID.String() + "_report.xlsx"
	return filename, buf.Bytes(), nil
}
