package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jdholdren/debrief/internal/debrief"
	dberrs "github.com/jdholdren/debrief/internal/errors"
	"github.com/jdholdren/debrief/logger"
)

const runNamespace = "-run"

// Rows per INSERT, well under SQLite's bound parameter limit.
const insertChunk = 200

// The stored shape of a run; created_at is unix seconds.
type runRow struct {
	ID           string `db:"id"`
	Model        string `db:"model"`
	Interests    string `db:"interests"`
	ArticleCount int    `db:"article_count"`
	CreatedAt    int64  `db:"created_at"`
}

func (r runRow) run() debrief.Run {
	return debrief.Run{
		ID:           r.ID,
		Model:        r.Model,
		Interests:    r.Interests,
		ArticleCount: r.ArticleCount,
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
}

var runColumns = []string{"id", "model", "interests", "article_count", "created_at"}

// Persist stores the digest as a new run. Either the run and all of its rows are
// written, or nothing is.
func (r Repo) Persist(ctx context.Context, d debrief.RankedDigest) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := runRow{
		ID:           fmt.Sprintf("%s%s", uuid.NewString(), runNamespace),
		Model:        d.Model,
		Interests:    d.Interests,
		ArticleCount: len(d.Articles),
		CreatedAt:    created.Unix(),
	}
	ctx = logger.Ctx(ctx, slog.String("run_id", row.ID))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error starting transaction: %w", err))
	}
	defer tx.Rollback()

	const q = `INSERT INTO runs (id, model, interests, article_count, created_at)
		VALUES (:id, :model, :interests, :article_count, :created_at);`
	if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error inserting run: %w", err))
	}

	position := 0
	for chunk := range slices.Chunk(d.Articles, insertChunk) {
		ins := sq.Insert("ranked_articles").
			Columns("run_id", "position", "story_index", "title", "article_link", "rating")
		for _, a := range chunk {
			position++
			ins = ins.Values(row.ID, position, a.Index, a.Title, a.Link, a.Rating)
		}

		query, args, err := ins.ToSql()
		if err != nil {
			return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error constructing sql: %w", err))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error inserting ranked articles: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return dberrs.E(dberrs.KindPersistence, fmt.Errorf("error committing run: %w", err))
	}

	slog.InfoContext(ctx, "archived run", "articles", len(d.Articles))
	return nil
}

// Runs lists the newest runs first. A limit below 1 lists them all.
func (r Repo) Runs(ctx context.Context, limit int) ([]debrief.Run, error) {
	b := sq.Select(runColumns...).From("runs").OrderBy("created_at DESC", "rowid DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dberrs.E(dberrs.KindPersistence, fmt.Errorf("error fetching runs: %w", err))
	}

	runs := make([]debrief.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.run())
	}
	return runs, nil
}

func (r Repo) Run(ctx context.Context, id string) (debrief.Run, error) {
	query, args, err := sq.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return debrief.Run{}, fmt.Errorf("error constructing sql: %w", err)
	}

	var row runRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return debrief.Run{}, dberrs.E(dberrs.KindNotFound, fmt.Sprintf("run %s not found", id))
	}
	if err != nil {
		return debrief.Run{}, dberrs.E(dberrs.KindPersistence, fmt.Errorf("error fetching run: %w", err))
	}

	return row.run(), nil
}

// LatestRun returns the newest run, or a KindNotFound error for an empty archive.
func (r Repo) LatestRun(ctx context.Context) (debrief.Run, error) {
	runs, err := r.Runs(ctx, 1)
	if err != nil {
		return debrief.Run{}, err
	}
	if len(runs) == 0 {
		return debrief.Run{}, dberrs.E(dberrs.KindNotFound, "no runs archived yet")
	}
	return runs[0], nil
}

// RunArticles returns a run's articles in ranked order.
func (r Repo) RunArticles(ctx context.Context, id string) ([]debrief.ScoredArticle, error) {
	if _, err := r.Run(ctx, id); err != nil {
		return nil, err
	}

	query, args, err := sq.Select("story_index", "title", "article_link", "rating").
		From("ranked_articles").
		Where(sq.Eq{"run_id": id}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	articles := []debrief.ScoredArticle{}
	if err := r.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, dberrs.E(dberrs.KindPersistence, fmt.Errorf("error fetching ranked articles: %w", err))
	}

	return articles, nil
}
