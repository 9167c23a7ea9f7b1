package sql

import (
	"context"
	"database/sql"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/session"
)

type SessionPool struct {
	db *sql.DB
}

func NewSessionPool(db *sql.DB) *SessionPool {
	return &SessionPool{db: db}
}

func (p *SessionPool) Session(ctx context.Context, callback session.SessionPoolCallback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return callback(NewSession(ctx, p.db))
}

func (p *SessionPool) Close() error {
	return p.db.Close()
}
