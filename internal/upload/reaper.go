package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stefando/imageHostAWS/internal/model"
)

// Reaper actions used in logs and metrics.
const (
	ReapConfirmed = "confirmed"
	ReapRemoved   = "removed"
	ReapFailed    = "failed"
)

// ReapReport summarizes one reconciliation sweep.
type ReapReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// ReapStalePending reconciles pending records created before cutoff.
// Records whose object made it to storage are promoted the same way
// ConfirmUpload does; records without an object are removed. Per-record
// failures are logged and counted and do not stop the sweep.
func (s *Service) ReapStalePending(ctx context.Context, cutoff time.Time) (*ReapReport, error) {
	records, err := s.meta.ScanPending(ctx, model.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending records: %w", err)
	}

	report := &ReapReport{Scanned: len(records)}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		action, err := s.reapOne(ctx, rec)
		if err != nil {
			report.Failed++
			s.logger.Error("failed to reap pending record",
				"owner_id", rec.OwnerID, "item_id", rec.ItemID, "error", err)
			continue
		}

		switch action {
		case ReapConfirmed:
			report.Confirmed++
		case ReapRemoved:
			report.Removed++
		}
		s.logger.Debug("reaped pending record",
			"owner_id", rec.OwnerID, "item_id", rec.ItemID, "action", action)
	}

	s.recorder.ObserveReaped(ReapConfirmed, report.Confirmed)
	s.recorder.ObserveReaped(ReapRemoved, report.Removed)
	s.recorder.ObserveReaped(ReapFailed, report.Failed)

	return report, nil
}

func (s *Service) reapOne(ctx context.Context, rec *model.ImageRecord) (string, error) {
	_, err := s.promote(ctx, rec)
	switch {
	case err == nil:
		return ReapConfirmed, nil
	case errors.Is(err, model.ErrRecordNotFound):
		// Already deleted by a client
		return ReapRemoved, nil
	case !errors.Is(err, model.ErrObjectNotFound):
		return "", err
	}

	if err := s.meta.Delete(ctx, rec.OwnerID, rec.ItemID); err != nil {
		return "", fmt.Errorf("failed to delete record: %w", err)
	}
	s.publish(ctx, model.EventReaped, rec)
	return ReapRemoved, nil
}
