package remote

import (
	"context"
	"maps"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
)

// Store is the remote data store as the sync coordinator sees it.
type Store interface {
	// Insert is a keyed upsert by id: replaying it is harmless.
	Insert(ctx context.Context, table string, rec models.Record) (models.Record, error)
	Update(ctx context.Context, table, id string, patch models.Patch) (models.Record, error)
	SelectAll(ctx context.Context, table string, filter models.Filter) ([]models.Record, error)
	Ping(ctx context.Context) error
}

// Authenticator exchanges credentials and refresh tokens for token pairs.
type Authenticator interface {
	SignIn(ctx context.Context, provider, username, password string) (storepb.TokenResponse, error)
	Register(ctx context.Context, username, password string) (storepb.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (storepb.TokenResponse, error)
}

// TokenSource supplies the current access token and renews it on demand.
type TokenSource interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) error
}

func toRow(rec models.Record) storepb.Row {
	return storepb.Row{
		ID:        rec.ID,
		Owner:     rec.Owner,
		Fields:    maps.Clone(rec.Fields),
		DeletedAt: rec.DeletedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func toWirePatch(p models.Patch) storepb.Patch {
	return storepb.Patch{Fields: maps.Clone(p.Fields), DeletedAt: p.DeletedAt, UpdatedAt: p.UpdatedAt}
}

// FromRow converts a stored row into a confirmed record of table.
func FromRow(table string, row storepb.Row) models.Record {
	rec := models.Record{
		Table:     table,
		ID:        row.ID,
		Owner:     row.Owner,
		Fields:    models.Fields(row.Fields),
		DeletedAt: row.DeletedAt,
		UpdatedAt: row.UpdatedAt,
		State:     models.StateConfirmed,
	}
	if rec.Fields == nil {
		rec.Fields = models.Fields{}
	}
	if rec.IsDeleted() {
		rec.State = models.StateSoftDeleted
	}
	return rec
}

func fromRows(table string, rows []storepb.Row) []models.Record {
	out := make([]models.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromRow(table, r))
	}
	return out
}
