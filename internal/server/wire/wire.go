// Package wire converts between server models and storepb messages shared
// by the gRPC and REST transports.
package wire

import (
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
)

func ToRow(rec *models.Record) storepb.Row {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return storepb.Row{
		ID:        rec.ID,
		Owner:     rec.Owner,
		Fields:    fields,
		DeletedAt: rec.DeletedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func ToRows(recs []*models.Record) storepb.RowsResponse {
	rows := make([]storepb.Row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, ToRow(r))
	}
	return storepb.RowsResponse{Rows: rows}
}

// FromRow builds the record to insert. Owner is left empty: the server
// always takes it from the authenticated user.
func FromRow(table string, row storepb.Row) *models.Record {
	return &models.Record{
		Table:     table,
		ID:        row.ID,
		Fields:    row.Fields,
		DeletedAt: row.DeletedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func FromPatch(p storepb.Patch) models.Patch {
	return models.Patch{Fields: p.Fields, DeletedAt: p.DeletedAt, UpdatedAt: p.UpdatedAt}
}

func ToTokenResponse(p *services.TokenPair) storepb.TokenResponse {
	return storepb.TokenResponse{
		UserID:       p.UserID,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    p.ExpiresAt,
	}
}
