package tables

import "github.com/JonMunkholm/loadengine/internal/core"

// Credit returns the registry for the credit management entity set.
// Entities are declared in their conventional load order.
func Credit() *core.Registry {
	return core.MustRegistry(CreditEntities()...)
}

// CreditEntities returns the credit entity definitions without building a
// registry, for callers that extend the set.
func CreditEntities() []core.Entity {
	return []core.Entity{
		seniorAccountManagers(),
		accountManagers(),
		sellers(),
		credits(),
		leads(),
		invoices(),
		invoiceItems(),
		walletTransactions(),
		creditHistories(),
		creditChat(),
	}
}

func seniorAccountManagers() core.Entity {
	return core.Entity{
		Name:       "senior_account_managers",
		PrimaryKey: "sam_id",
		Columns: []core.Column{
			{Name: "sam_id", Type: core.TypeInteger},
			{Name: "sam_name", Type: core.TypeText},
			{Name: "sam_email", Type: core.TypeText},
		},
	}
}

func accountManagers() core.Entity {
	return core.Entity{
		Name:       "account_managers",
		PrimaryKey: "am_id",
		Columns: []core.Column{
			{Name: "am_id", Type: core.TypeInteger},
			{Name: "am_name", Type: core.TypeText},
			{Name: "am_email", Type: core.TypeText},
			{Name: "sam_id", Type: core.TypeInteger},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "sam_id", Parent: "senior_account_managers", ParentColumn: "sam_id"},
		},
	}
}

func sellers() core.Entity {
	return core.Entity{
		Name:       "sellers",
		PrimaryKey: "seller_id",
		Required:   []string{"seller_name", "market"},
		Columns: []core.Column{
			{Name: "seller_id", Type: core.TypeInteger},
			{Name: "seller_name", Type: core.TypeText},
			{Name: "market", Type: core.TypeText},
			{Name: "signup_date", Type: core.TypeDate},
			{Name: "credit_limit", Type: core.TypeReal},
			{Name: "avg_weekly_leads", Type: core.TypeInteger},
			{Name: "initial_wallet", Type: core.TypeReal},
			{Name: "am_id", Type: core.TypeInteger},
			{Name: "sam_id", Type: core.TypeInteger},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "am_id", Parent: "account_managers", ParentColumn: "am_id"},
			{Column: "sam_id", Parent: "senior_account_managers", ParentColumn: "sam_id"},
		},
	}
}

func credits() core.Entity {
	return core.Entity{
		Name:       "credits",
		PrimaryKey: "credit_id",
		Required:   []string{"seller_id", "amount"},
		Columns: []core.Column{
			{Name: "credit_id", Type: core.TypeInteger},
			{Name: "seller_id", Type: core.TypeInteger},
			{Name: "amount", Type: core.TypeReal},
			{Name: "issue_date", Type: core.TypeDate},
			{Name: "due_date", Type: core.TypeDate},
			{Name: "status", Type: core.TypeText},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "seller_id", Parent: "sellers", ParentColumn: "seller_id"},
		},
	}
}

func leads() core.Entity {
	return core.Entity{
		Name:       "leads",
		PrimaryKey: "lead_id",
		Required:   []string{"seller_id"},
		Columns: []core.Column{
			{Name: "lead_id", Type: core.TypeInteger},
			{Name: "seller_id", Type: core.TypeInteger},
			{Name: "created_at", Type: core.TypeDate},
			{Name: "amount", Type: core.TypeReal},
			{Name: "status", Type: core.TypeText},
			{Name: "shipping_status", Type: core.TypeText},
			{Name: "tracking_number", Type: core.TypeText},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "seller_id", Parent: "sellers", ParentColumn: "seller_id"},
		},
	}
}

func invoices() core.Entity {
	return core.Entity{
		Name:       "invoices",
		PrimaryKey: "invoice_id",
		Required:   []string{"seller_id"},
		Columns: []core.Column{
			{Name: "invoice_id", Type: core.TypeText},
			{Name: "seller_id", Type: core.TypeInteger},
			{Name: "period_start", Type: core.TypeDate},
			{Name: "period_end", Type: core.TypeDate},
			{Name: "sales_amount", Type: core.TypeReal},
			{Name: "fees", Type: core.TypeReal},
			{Name: "credits_due", Type: core.TypeReal},
			{Name: "from_balance", Type: core.TypeReal},
			{Name: "total", Type: core.TypeReal},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "seller_id", Parent: "sellers", ParentColumn: "seller_id"},
		},
	}
}

// invoiceItems has no external key; line items are numbered per batch.
func invoiceItems() core.Entity {
	return core.Entity{
		Name:       "invoice_items",
		PrimaryKey: "invoice_item_id",
		Required:   []string{"invoice_id", "item_type", "amount"},
		Columns: []core.Column{
			{Name: "invoice_item_id", Type: core.TypeInteger},
			{Name: "invoice_id", Type: core.TypeText},
			{Name: "item_type", Type: core.TypeText},
			{Name: "amount", Type: core.TypeReal},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "invoice_id", Parent: "invoices", ParentColumn: "invoice_id"},
		},
		KeyAlias:      "id",
		SynthesizeKey: true,
	}
}

// walletTransactions carries its key upstream as "id" but never synthesizes.
func walletTransactions() core.Entity {
	return core.Entity{
		Name:       "wallet_transactions",
		PrimaryKey: "transaction_id",
		Required:   []string{"seller_id", "amount"},
		Columns: []core.Column{
			{Name: "transaction_id", Type: core.TypeText},
			{Name: "seller_id", Type: core.TypeInteger},
			{Name: "type", Type: core.TypeText},
			{Name: "amount", Type: core.TypeReal},
			{Name: "created_at", Type: core.TypeDate},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "seller_id", Parent: "sellers", ParentColumn: "seller_id"},
		},
		KeyAlias: "id",
	}
}

func creditHistories() core.Entity {
	return core.Entity{
		Name:       "credit_histories",
		PrimaryKey: "credit_history_id",
		Required:   []string{"credit_id", "status", "changed_at"},
		Columns: []core.Column{
			{Name: "credit_history_id", Type: core.TypeInteger},
			{Name: "credit_id", Type: core.TypeInteger},
			{Name: "status", Type: core.TypeText},
			{Name: "changed_at", Type: core.TypeDate},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "credit_id", Parent: "credits", ParentColumn: "credit_id"},
		},
		KeyAlias:      "id",
		SynthesizeKey: true,
	}
}

func creditChat() core.Entity {
	return core.Entity{
		Name:       "credit_chat",
		PrimaryKey: "chat_id",
		Required:   []string{"credit_id", "user_id", "role", "message_time", "message"},
		Columns: []core.Column{
			{Name: "chat_id", Type: core.TypeInteger},
			{Name: "credit_id", Type: core.TypeInteger},
			{Name: "user_id", Type: core.TypeInteger},
			{Name: "role", Type: core.TypeText},
			{Name: "message_time", Type: core.TypeDate},
			{Name: "message", Type: core.TypeText},
		},
		ForeignKeys: []core.ForeignKey{
			{Column: "credit_id", Parent: "credits", ParentColumn: "credit_id"},
		},
		KeyAlias:      "id",
		SynthesizeKey: true,
	}
}
