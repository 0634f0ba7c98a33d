package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/stagehub/internal/model"
)

// PostgresListingRepo はリスティングコラボレータへの読み取り専用アクセス。
// リスティングのCRUDは本コアの対象外であり、会話からの参照確認にのみ使う。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// FindByID は指定IDのリスティングを取得する。見つからない場合はnilを返す。
// UUID形式でないIDはスキーマ上存在し得ないため、問い合わせずに未検出とする。
func (r *PostgresListingRepo) FindByID(ctx context.Context, id string) (*model.Listing, error) {
	if !isValidUUID(id) {
		return nil, nil
	}

	listing := &model.Listing{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title FROM listings WHERE id = $1`,
		id,
	).Scan(&listing.ID, &listing.Title)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}

	return listing, nil
}

// compile-time interface check
var _ ListingRepository = (*PostgresListingRepo)(nil)
