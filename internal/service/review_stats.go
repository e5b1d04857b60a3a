package service

import (
	"sort"
	"strings"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/models"
)

// Aggregate summarises review progress for the given owning units. It is pure: the same inputs
// always yield the same output, with every list sorted by class id. Documents filed under a unit
// outside units still count and add that unit to the breakdown.
func Aggregate(units []string, docs []models.Document) dto.ClassroomStats {
	rows := make(map[string]*dto.UnitStats, len(units))
	expected := make(map[string]struct{}, len(units))
	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		expected[unit] = struct{}{}
		if _, ok := rows[unit]; !ok {
			rows[unit] = &dto.UnitStats{ClassID: unit}
		}
	}

	var stats dto.ClassroomStats
	for i := range docs {
		doc := &docs[i]
		row, ok := rows[doc.ClassID]
		if !ok {
			row = &dto.UnitStats{ClassID: doc.ClassID}
			rows[doc.ClassID] = row
		}
		row.Total++
		row.Uploaded = true
		stats.Total++
		switch doc.Approval.Status.Normalize() {
		case models.ApprovalApproved:
			row.Approved++
			stats.ApprovedCount++
		case models.ApprovalNeedsRevision:
			row.Revision++
			stats.RevisionCount++
			if doc.Responded() {
				row.Responded++
				stats.RespondedCount++
			}
		default:
			row.Pending++
			stats.PendingCount++
		}
	}

	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	stats.Units = make([]dto.UnitStats, 0, len(ids))
	stats.Uploaded = []string{}
	stats.Missing = []string{}
	for _, id := range ids {
		row := rows[id]
		stats.Units = append(stats.Units, *row)
		if row.Uploaded {
			stats.Uploaded = append(stats.Uploaded, id)
			continue
		}
		if _, ok := expected[id]; ok {
			stats.Missing = append(stats.Missing, id)
		}
	}
	return stats
}
