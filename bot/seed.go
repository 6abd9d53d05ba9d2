package bot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/finbot/core/bootstrap"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/menu"
	"log/slog"
)

// Menu node identifiers. The feature handlers are bound to these ids and
// MenuSeeder keeps the corresponding rows in place.
const (
	NodePortfolio     = "portfolio"
	NodePortfolioAdd  = "portfolio.add"
	NodePortfolioList = "portfolio.list"
	NodeLoans         = "loans"
	NodeLoansAdd      = "loans.add"
	NodeLoansList     = "loans.list"
	NodeAlerts        = "alerts"
	NodeAlertsAdd     = "alerts.add"
	NodeAlertsList    = "alerts.list"
	NodeAdmin         = "admin"
	NodeAdminInfo     = "admin.info"
)

func adminOnly(v bool) *bool { return &v }

func parent(id string) *string { return &id }

// menuNodes is the reference menu tree. Migrations own the schema; the
// rows themselves are data and are reconciled on every start, so menu
// changes ship with the binary rather than with a migration.
func menuNodes() []menu.Node {
	return []menu.Node{
		{
			ID:    menu.RootID,
			Attrs: menu.Attrs{Text: "🏠 Main menu"},
			ChildrenRows: [][]string{
				{NodePortfolio, NodeLoans, NodeAlerts},
				{NodeAdmin},
			},
		},
		{ID: menu.ActionBack, Attrs: menu.Attrs{Text: "⬅️ Back"}, ParentID: parent(menu.RootID)},
		{ID: menu.ActionCancel, Attrs: menu.Attrs{Text: "❌ Cancel"}, ParentID: parent(menu.RootID)},

		{
			ID:       NodePortfolio,
			Attrs:    menu.Attrs{Text: "📊 Portfolio"},
			ParentID: parent(menu.RootID),
			ChildrenRows: [][]string{
				{NodePortfolioAdd, NodePortfolioList},
				{menu.ActionBack, menu.ActionCancel},
			},
		},
		{
			ID:           NodePortfolioAdd,
			Attrs:        menu.Attrs{Text: "➕ Add holding"},
			ParentID:     parent(NodePortfolio),
			ChildrenRows: [][]string{{menu.ActionBack, menu.ActionCancel}},
		},
		{
			ID:       NodePortfolioList,
			Attrs:    menu.Attrs{Text: "📄 My holdings"},
			ParentID: parent(NodePortfolio),
		},

		{
			ID:       NodeLoans,
			Attrs:    menu.Attrs{Text: "💳 Loans"},
			ParentID: parent(menu.RootID),
			ChildrenRows: [][]string{
				{NodeLoansAdd, NodeLoansList},
				{menu.ActionBack, menu.ActionCancel},
			},
		},
		{
			ID:           NodeLoansAdd,
			Attrs:        menu.Attrs{Text: "➕ Add loan"},
			ParentID:     parent(NodeLoans),
			ChildrenRows: [][]string{{menu.ActionBack, menu.ActionCancel}},
		},
		{
			ID:       NodeLoansList,
			Attrs:    menu.Attrs{Text: "📄 My loans"},
			ParentID: parent(NodeLoans),
		},

		{
			ID:       NodeAlerts,
			Attrs:    menu.Attrs{Text: "🔔 Alerts"},
			ParentID: parent(menu.RootID),
			ChildrenRows: [][]string{
				{NodeAlertsAdd, NodeAlertsList},
				{menu.ActionBack, menu.ActionCancel},
			},
		},
		{
			ID:           NodeAlertsAdd,
			Attrs:        menu.Attrs{Text: "➕ New alert"},
			ParentID:     parent(NodeAlerts),
			ChildrenRows: [][]string{{menu.ActionBack, menu.ActionCancel}},
		},
		{
			ID:       NodeAlertsList,
			Attrs:    menu.Attrs{Text: "📄 My alerts"},
			ParentID: parent(NodeAlerts),
		},

		{
			ID:        NodeAdmin,
			Attrs:     menu.Attrs{Text: "🛠 Admin"},
			AdminOnly: adminOnly(true),
			ParentID:  parent(menu.RootID),
			ChildrenRows: [][]string{
				{NodeAdminInfo},
				{menu.ActionBack, menu.ActionCancel},
			},
		},
		{
			ID:        NodeAdminInfo,
			Attrs:     menu.Attrs{Text: "ℹ️ Service info"},
			AdminOnly: adminOnly(true),
			ParentID:  parent(NodeAdmin),
		},
	}
}

const upsertMenuNode = `
INSERT INTO menu_nodes (id, attrs, admin_only, parent_id, children_rows)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET attrs = EXCLUDED.attrs, admin_only = EXCLUDED.admin_only,
	parent_id = EXCLUDED.parent_id, children_rows = EXCLUDED.children_rows`

// MenuSeeder reconciles the menu_nodes table with the reference tree.
type MenuSeeder struct{}

// Seed writes every reference node. The tree is validated in memory first
// so a broken definition never reaches the table.
func (MenuSeeder) Seed(ctx context.Context, storage bootstrap.Storage) error {
	db, ok := storage.(*sqlx.DB)
	if !ok {
		return fmt.Errorf("bot: menu seeder needs *sqlx.DB, got %T", storage)
	}

	nodes := menuNodes()
	if _, err := menu.NewTree(nodes); err != nil {
		return fmt.Errorf("bot: reference menu invalid: %w", err)
	}

	for _, n := range nodes {
		attrs, err := json.Marshal(n.Attrs)
		if err != nil {
			return fmt.Errorf("bot: encode attrs for %q: %w", n.ID, err)
		}
		var children any
		if len(n.ChildrenRows) > 0 {
			raw, err := json.Marshal(n.ChildrenRows)
			if err != nil {
				return fmt.Errorf("bot: encode children for %q: %w", n.ID, err)
			}
			children = raw
		}
		var parentID any
		if n.ParentID != nil {
			parentID = *n.ParentID
		}
		var admin any
		if n.AdminOnly != nil {
			admin = *n.AdminOnly
		}
		if _, err := db.ExecContext(ctx, upsertMenuNode, n.ID, attrs, admin, parentID, children); err != nil {
			return fmt.Errorf("bot: seed menu node %q: %w", n.ID, err)
		}
	}

	logger.Info(ctx, "menu", "seed.ok",
		slog.Int("nodes", len(nodes)),
	)
	return nil
}
