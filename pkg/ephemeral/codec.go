package ephemeral

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/WoushouW/woushBOT/pkg/ledger"
	"github.com/WoushouW/woushBOT/pkg/model"
)

func encodeResource(r model.Resource) ledger.Row {
	row := make(ledger.Row, ledger.ResourceColumns)
	row[ledger.ResourceID] = r.ID
	row[ledger.ResourceName] = r.Name
	row[ledger.ResourceOwnerID] = r.OwnerID
	row[ledger.ResourceOwnerLabel] = r.OwnerLabel
	row[ledger.ResourceAccessGroupID] = r.AccessGroupID
	row[ledger.ResourceDurationMinutes] = strconv.Itoa(r.DurationMinutes)
	row[ledger.ResourceCapacity] = strconv.Itoa(r.Capacity)
	row[ledger.ResourceCreatedAt] = ledger.FormatTime(r.CreatedAt)
	row[ledger.ResourceExpiresAt] = ledger.FormatTime(r.ExpiresAt)
	row[ledger.ResourceScopeID] = r.ScopeID
	row[ledger.ResourceScopeLabel] = r.ScopeLabel
	row[ledger.ResourceStatus] = string(r.Status)
	row[ledger.ResourceMemberIDs] = strings.Join(r.MemberIDs, ",")
	return row
}

func decodeResource(row ledger.Row) (model.Resource, error) {
	r := model.Resource{
		ID:            row.Cell(ledger.ResourceID),
		Name:          row.Cell(ledger.ResourceName),
		OwnerID:       row.Cell(ledger.ResourceOwnerID),
		OwnerLabel:    row.Cell(ledger.ResourceOwnerLabel),
		AccessGroupID: row.Cell(ledger.ResourceAccessGroupID),
		ScopeID:       row.Cell(ledger.ResourceScopeID),
		ScopeLabel:    row.Cell(ledger.ResourceScopeLabel),
	}
	if r.ID == "" {
		return model.Resource{}, fmt.Errorf("ephemeral: decode row: empty resource id")
	}

	var err error
	if r.DurationMinutes, err = strconv.Atoi(row.Cell(ledger.ResourceDurationMinutes)); err != nil {
		return model.Resource{}, fmt.Errorf("ephemeral: decode row %s: duration: %w", r.ID, err)
	}
	if r.Capacity, err = strconv.Atoi(row.Cell(ledger.ResourceCapacity)); err != nil {
		return model.Resource{}, fmt.Errorf("ephemeral: decode row %s: capacity: %w", r.ID, err)
	}
	if r.CreatedAt, err = ledger.ParseTime(row.Cell(ledger.ResourceCreatedAt)); err != nil {
		return model.Resource{}, fmt.Errorf("ephemeral: decode row %s: created_at: %w", r.ID, err)
	}
	if r.ExpiresAt, err = ledger.ParseTime(row.Cell(ledger.ResourceExpiresAt)); err != nil || r.ExpiresAt.IsZero() {
		return model.Resource{}, fmt.Errorf("ephemeral: decode row %s: expires_at %q invalid", r.ID, row.Cell(ledger.ResourceExpiresAt))
	}
	if r.Status, err = model.ParseResourceStatus(row.Cell(ledger.ResourceStatus)); err != nil {
		return model.Resource{}, fmt.Errorf("ephemeral: decode row %s: %w", r.ID, err)
	}

	if members := row.Cell(ledger.ResourceMemberIDs); members != "" {
		r.MemberIDs = strings.Split(members, ",")
	} else if r.OwnerID != "" {
		r.MemberIDs = []string{r.OwnerID}
	}
	return r, nil
}

// matchActive selects the active ledger row for a resource id.
func matchActive(id string) ledger.Predicate {
	return ledger.All(
		ledger.Match(ledger.ResourceID, id),
		ledger.Match(ledger.ResourceStatus, string(model.ResourceActive)),
	)
}
