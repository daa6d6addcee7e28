package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/flowgraph/internal/domain"
)

const (
	// TypeDB — тип узла операции с базой данных.
	TypeDB = "action/db"

	defaultSelectLimit = 100
)

// Querier — минимальный интерфейс соединения PostgreSQL.
// Реализуется *pgxpool.Pool, *pgx.Conn и pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DBNode — узел операции с таблицей.
//
// Значения передаются только через параметры запроса,
// имена таблицы и колонок экранируются.
//
// Конфигурация:
//
//	{
//	    "operation": "insert",          // select | insert | update | delete
//	    "table": "users",
//	    "data": {"name": "{{user.name}}"},
//	    "where": {"id": "{{user.id}}"},
//	    "columns": ["id", "name"],      // для select
//	    "limit": 100                    // для select
//	}
//
// Outputs:
//
//	{"db_operation": "insert", "table": "users", "affected_rows": 1, "data": {...}, "rows": [...]}
type DBNode struct {
	db Querier
}

// NewDBNode создаёт DBNode.
func NewDBNode(deps Dependencies) *DBNode {
	return &DBNode{db: deps.DB}
}

// Type возвращает тип узла.
func (n *DBNode) Type() string { return TypeDB }

type dbConfig struct {
	Operation string         `mapstructure:"operation" validate:"oneof=select insert update delete"`
	Table     string         `mapstructure:"table" validate:"required"`
	Data      map[string]any `mapstructure:"data"`
	Where     map[string]any `mapstructure:"where"`
	Columns   []string       `mapstructure:"columns"`
	Limit     int            `mapstructure:"limit" validate:"gte=0"`
}

func (n *DBNode) parseConfig(config map[string]any) (*dbConfig, error) {
	cfg := &dbConfig{Operation: "select"}
	if err := decodeConfig(TypeDB, config, cfg); err != nil {
		return nil, err
	}
	cfg.Operation = strings.ToLower(cfg.Operation)

	switch cfg.Operation {
	case "insert", "update":
		if len(cfg.Data) == 0 {
			return nil, fmt.Errorf("%w: %s: data is required for %s", ErrInvalidConfig, TypeDB, cfg.Operation)
		}
	}
	switch cfg.Operation {
	case "update", "delete":
		if len(cfg.Where) == 0 {
			return nil, fmt.Errorf("%w: %s: where is required for %s", ErrInvalidConfig, TypeDB, cfg.Operation)
		}
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultSelectLimit
	}
	return cfg, nil
}

// ValidateConfig проверяет конфигурацию при валидации определения.
func (n *DBNode) ValidateConfig(node *domain.NodeSpec) error {
	_, err := n.parseConfig(node.Config)
	return err
}

// Execute выполняет операцию.
func (n *DBNode) Execute(ctx context.Context, node *domain.NodeSpec, data map[string]any) (map[string]any, error) {
	cfg, err := n.parseConfig(resolveConfigRefs(node.Config, data))
	if err != nil {
		return nil, err
	}
	if n.db == nil {
		return nil, fmt.Errorf("%w: %s: database connection", ErrNotConfigured, TypeDB)
	}

	sql, args := buildQuery(cfg)

	out := map[string]any{
		"db_operation": cfg.Operation,
		"table":        cfg.Table,
		"data":         cfg.Data,
	}

	if cfg.Operation == "select" {
		rows, err := n.db.Query(ctx, sql, args...)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", cfg.Table, err)
		}
		records, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return nil, fmt.Errorf("collect rows: %w", err)
		}

		result := make([]any, len(records))
		for i, r := range records {
			result[i] = r
		}
		out["rows"] = result
		out["affected_rows"] = len(records)
		return out, nil
	}

	tag, err := n.db.Exec(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", cfg.Operation, cfg.Table, err)
	}
	out["affected_rows"] = int(tag.RowsAffected())
	return out, nil
}

// resolveConfigRefs подставляет значения из контекста, сохраняя их типы
// для одиночных плейсхолдеров.
func resolveConfigRefs(config map[string]any, data map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for key, value := range config {
		if m, ok := value.(map[string]any); ok {
			out[key] = resolveConfigRefs(m, data)
			continue
		}
		out[key] = resolveRef(value, data)
	}
	return out
}

// buildQuery строит параметризованный SQL для операции.
func buildQuery(cfg *dbConfig) (string, []any) {
	table := quoteIdent(cfg.Table)

	switch cfg.Operation {
	case "insert":
		keys := sortedKeys(cfg.Data)
		cols := make([]string, len(keys))
		placeholders := make([]string, len(keys))
		args := make([]any, len(keys))
		for i, k := range keys {
			cols[i] = quoteIdent(k)
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = cfg.Data[k]
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args

	case "update":
		keys := sortedKeys(cfg.Data)
		sets := make([]string, len(keys))
		args := make([]any, 0, len(keys)+len(cfg.Where))
		for i, k := range keys {
			sets[i] = fmt.Sprintf("%s = $%d", quoteIdent(k), i+1)
			args = append(args, cfg.Data[k])
		}
		where, args := whereClause(cfg.Where, args)
		return fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where), args

	case "delete":
		where, args := whereClause(cfg.Where, nil)
		return fmt.Sprintf("DELETE FROM %s%s", table, where), args

	default:
		cols := "*"
		if len(cfg.Columns) > 0 {
			quoted := make([]string, len(cfg.Columns))
			for i, c := range cfg.Columns {
				quoted[i] = quoteIdent(c)
			}
			cols = strings.Join(quoted, ", ")
		}
		where, args := whereClause(cfg.Where, nil)
		return fmt.Sprintf("SELECT %s FROM %s%s LIMIT %d", cols, table, where, cfg.Limit), args
	}
}

// whereClause строит условие равенства по всем ключам where.
func whereClause(where map[string]any, args []any) (string, []any) {
	if len(where) == 0 {
		return "", args
	}
	keys := sortedKeys(where)
	conds := make([]string, len(keys))
	for i, k := range keys {
		args = append(args, where[k])
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdent(k), len(args))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// quoteIdent экранирует идентификатор; "schema.table" разбивается по точке.
func quoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
