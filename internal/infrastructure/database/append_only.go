package database

import (
	"fmt"

	"gorm.io/gorm"
)

// ============================================================================
// 账簿只追加约束
// ============================================================================
//
// journal_entries / journal_lines 写入后禁止 UPDATE、DELETE。
// 约束放在数据库层（触发器），应用之外的进程同样无法篡改。
//
// ============================================================================

var appendOnlyTables = []string{"journal_entries", "journal_lines"}

// EnforceAppendOnly 按方言安装拒绝修改的触发器，可重复执行
func EnforceAppendOnly(db *gorm.DB) error {
	var statements []string

	switch db.Dialector.Name() {
	case "mysql":
		statements = mysqlStatements()
	case "postgres":
		statements = postgresStatements()
	case "sqlite":
		statements = sqliteStatements()
	default:
		return nil
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("安装只追加触发器失败: %w", err)
		}
	}
	return nil
}

func mysqlStatements() []string {
	var out []string
	for _, table := range appendOnlyTables {
		for _, op := range []string{"UPDATE", "DELETE"} {
			name := triggerName(table, op)
			out = append(out,
				fmt.Sprintf("DROP TRIGGER IF EXISTS %s", name),
				fmt.Sprintf("CREATE TRIGGER %s BEFORE %s ON %s FOR EACH ROW "+
					"SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'append-only violation: %s on %s'",
					name, op, table, op, table),
			)
		}
	}
	return out
}

func postgresStatements() []string {
	out := []string{`CREATE OR REPLACE FUNCTION ledger_block_mutation() RETURNS trigger LANGUAGE plpgsql AS $$
BEGIN
	RAISE EXCEPTION 'append-only violation: % on %', TG_OP, TG_TABLE_NAME;
END;
$$`}
	for _, table := range appendOnlyTables {
		for _, op := range []string{"UPDATE", "DELETE"} {
			name := triggerName(table, op)
			out = append(out,
				fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, table),
				fmt.Sprintf("CREATE TRIGGER %s BEFORE %s ON %s FOR EACH ROW EXECUTE FUNCTION ledger_block_mutation()",
					name, op, table),
			)
		}
	}
	return out
}

func sqliteStatements() []string {
	var out []string
	for _, table := range appendOnlyTables {
		for _, op := range []string{"UPDATE", "DELETE"} {
			out = append(out, fmt.Sprintf(
				"CREATE TRIGGER IF NOT EXISTS %s BEFORE %s ON %s BEGIN SELECT RAISE(ABORT, 'append-only violation: %s on %s'); END",
				triggerName(table, op), op, table, op, table))
		}
	}
	return out
}

func triggerName(table, op string) string {
	if op == "UPDATE" {
		return "trg_" + table + "_block_update"
	}
	return "trg_" + table + "_block_delete"
}
