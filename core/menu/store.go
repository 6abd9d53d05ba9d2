package menu

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

// nodeRow mirrors the menu_nodes table. attrs and children_rows are JSON
// columns decoded into the in-memory node shape.
type nodeRow struct {
	ID           string         `db:"id"`
	Attrs        []byte         `db:"attrs"`
	AdminOnly    sql.NullBool   `db:"admin_only"`
	ParentID     sql.NullString `db:"parent_id"`
	ChildrenRows []byte         `db:"children_rows"`
}

const selectNodes = `SELECT id, attrs, admin_only, parent_id, children_rows FROM menu_nodes ORDER BY id`

// LoadTree reads the full menu forest from the store and validates it.
// Validation failures are configuration errors and surface as errors here,
// never to the end user.
func LoadTree(ctx context.Context, db *sqlx.DB) (*Tree, error) {
	start := time.Now()
	var rows []nodeRow
	if err := db.SelectContext(ctx, &rows, selectNodes); err != nil {
		logger.Error(ctx, "menu", "load.fail",
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("menu: load nodes: %w", err)
	}

	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	tree, err := NewTree(nodes)
	if err != nil {
		logger.Error(ctx, "menu", "load.invalid",
			slog.Int("nodes", len(nodes)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	logger.Debug(ctx, "menu", "load.ok",
		slog.Int("nodes", tree.Len()),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return tree, nil
}

func (r nodeRow) toNode() (Node, error) {
	n := Node{ID: r.ID}
	if len(r.Attrs) > 0 {
		if err := json.Unmarshal(r.Attrs, &n.Attrs); err != nil {
			return Node{}, fmt.Errorf("menu: node %q attrs: %w", r.ID, err)
		}
	}
	if r.AdminOnly.Valid {
		v := r.AdminOnly.Bool
		n.AdminOnly = &v
	}
	if r.ParentID.Valid {
		p := r.ParentID.String
		n.ParentID = &p
	}
	if len(r.ChildrenRows) > 0 {
		if err := json.Unmarshal(r.ChildrenRows, &n.ChildrenRows); err != nil {
			return Node{}, fmt.Errorf("menu: node %q children_rows: %w", r.ID, err)
		}
	}
	return n, nil
}
