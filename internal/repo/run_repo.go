package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowgraph/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunRepo — журнал запусков и выполнений узлов.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, workflow, definition, status, inputs, context, total_updates,
		       total_errors, started_at, finished_at, error, created_at`

// Create создаёт запись запуска.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	definitionJSON, err := marshalJSON(run.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	inputsJSON, err := marshalJSON(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		INSERT INTO runs (id, workflow, definition, status, inputs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Workflow,
		definitionJSON,
		run.Status,
		inputsJSON,
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update сохраняет статус и итог запуска.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	contextJSON, err := marshalJSON(run.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		UPDATE runs
		SET status = $2, context = $3, total_updates = $4, total_errors = $5,
		    started_at = $6, finished_at = $7, error = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		contextJSON,
		run.TotalUpdates,
		run.TotalErrors,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID возвращает запуск по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// RunFilter — параметры фильтрации запусков.
type RunFilter struct {
	Workflow string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// Normalize ограничивает Limit и Offset допустимыми значениями.
func (f RunFilter) Normalize() RunFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// List возвращает запуски, новые первыми. Определение в список не входит.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	filter = filter.Normalize()

	query := `
		SELECT id, workflow, NULL::jsonb, status, inputs, NULL::jsonb, total_updates,
		       total_errors, started_at, finished_at, error, created_at
		FROM runs
		WHERE ($1::text IS NULL OR workflow = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Workflow),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SaveNodeRuns записывает выполнения узлов запуска одним batch.
// Повторное сохранение перезаписывает записи с теми же seq.
func (r *RunRepo) SaveNodeRuns(ctx context.Context, runID uuid.UUID, nodeRuns []*domain.NodeRun) error {
	if len(nodeRuns) == 0 {
		return nil
	}

	query := `
		INSERT INTO node_runs (run_id, seq, node_id, name, type, attempt, status,
		                       outputs, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, seq) DO UPDATE
		SET attempt = EXCLUDED.attempt, status = EXCLUDED.status, outputs = EXCLUDED.outputs,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at, error = EXCLUDED.error
	`

	batch := &pgx.Batch{}
	for _, nr := range nodeRuns {
		outputsJSON, err := marshalJSON(nr.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs of %s: %w", nr.NodeID, err)
		}
		batch.Queue(query,
			runID,
			nr.Seq,
			nr.NodeID,
			nr.Name,
			nr.Type,
			nr.Attempt,
			nr.Status,
			outputsJSON,
			nr.StartedAt,
			nr.FinishedAt,
			nullString(nr.Error),
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save node runs: %w", err)
	}
	return nil
}

// ListNodeRuns возвращает выполнения узлов запуска в порядке обхода.
func (r *RunRepo) ListNodeRuns(ctx context.Context, runID uuid.UUID) ([]domain.NodeRun, error) {
	query := `
		SELECT run_id, seq, node_id, name, type, attempt, status, outputs,
		       started_at, finished_at, error
		FROM node_runs
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list node runs: %w", err)
	}
	defer rows.Close()

	nodeRuns := make([]domain.NodeRun, 0)
	for rows.Next() {
		var nr domain.NodeRun
		var outputsJSON []byte
		var nodeErr *string

		if err := rows.Scan(
			&nr.RunID,
			&nr.Seq,
			&nr.NodeID,
			&nr.Name,
			&nr.Type,
			&nr.Attempt,
			&nr.Status,
			&outputsJSON,
			&nr.StartedAt,
			&nr.FinishedAt,
			&nodeErr,
		); err != nil {
			return nil, fmt.Errorf("scan node run: %w", err)
		}

		if outputsJSON != nil {
			if err := json.Unmarshal(outputsJSON, &nr.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal outputs: %w", err)
			}
		}
		if nodeErr != nil {
			nr.Error = *nodeErr
		}
		nodeRuns = append(nodeRuns, nr)
	}
	return nodeRuns, rows.Err()
}

// --- Helpers ---

// scanRun сканирует строку в Run. Подходит и для pgx.Row, и для pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var definitionJSON, inputsJSON, contextJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.Workflow,
		&definitionJSON,
		&run.Status,
		&inputsJSON,
		&contextJSON,
		&run.TotalUpdates,
		&run.TotalErrors,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if definitionJSON != nil {
		run.Definition = &domain.WorkflowDefinition{}
		if err := json.Unmarshal(definitionJSON, run.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
	}
	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// marshalJSON сериализует значение; nil map и nil указатель дают NULL.
func marshalJSON[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
