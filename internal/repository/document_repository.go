package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-review-api/internal/models"
)

const documentColumns = `id, kind, class_id, title, file_ref, uploader_id, uploader_name, plan_type, period_week,
       period_month, period_year, school_year, approval_status, reviewer_id, reviewer_name, reviewed_at,
       rejection_reason, created_at, updated_at`

const commentColumns = `id, document_id, type, user_id, user_name, user_role, content, created_at, edited_at`

const scopeColumns = `id, class_id, kind, plan_type, period_week, period_month, period_year`

// documentRow mirrors review_documents. Kind specific columns are nullable.
type documentRow struct {
	ID              string         `db:"id"`
	Kind            string         `db:"kind"`
	ClassID         string         `db:"class_id"`
	Title           string         `db:"title"`
	FileRef         string         `db:"file_ref"`
	UploaderID      string         `db:"uploader_id"`
	UploaderName    string         `db:"uploader_name"`
	PlanType        sql.NullString `db:"plan_type"`
	PeriodWeek      sql.NullInt64  `db:"period_week"`
	PeriodMonth     sql.NullInt64  `db:"period_month"`
	PeriodYear      sql.NullInt64  `db:"period_year"`
	SchoolYear      sql.NullString `db:"school_year"`
	ApprovalStatus  sql.NullString `db:"approval_status"`
	ReviewerID      sql.NullString `db:"reviewer_id"`
	ReviewerName    sql.NullString `db:"reviewer_name"`
	ReviewedAt      sql.NullTime   `db:"reviewed_at"`
	RejectionReason sql.NullString `db:"rejection_reason"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// documentScope is the subset of columns needed to describe a change event.
type documentScope struct {
	ID          string         `db:"id"`
	ClassID     string         `db:"class_id"`
	Kind        string         `db:"kind"`
	PlanType    sql.NullString `db:"plan_type"`
	PeriodWeek  sql.NullInt64  `db:"period_week"`
	PeriodMonth sql.NullInt64  `db:"period_month"`
	PeriodYear  sql.NullInt64  `db:"period_year"`
}

func (s documentScope) change(op string) models.DocumentChange {
	return models.DocumentChange{
		Op:         op,
		DocumentID: s.ID,
		ClassID:    s.ClassID,
		Kind:       models.DocumentKind(s.Kind),
		PlanType:   models.PlanType(s.PlanType.String),
		Week:       int(s.PeriodWeek.Int64),
		Month:      int(s.PeriodMonth.Int64),
		Year:       int(s.PeriodYear.Int64),
	}
}

// DocumentRepositoryConfig tunes the document store.
type DocumentRepositoryConfig struct {
	// FeedChannel is the LISTEN/NOTIFY channel every write publishes to.
	FeedChannel string
	// DefaultSchoolYear fills OFFICE documents stored without one.
	DefaultSchoolYear string
}

// DocumentRepository persists review documents and their comment threads. Every write runs in a
// transaction that also publishes a change event with pg_notify, so subscribers only observe
// committed state.
type DocumentRepository struct {
	db                *sqlx.DB
	channel           string
	defaultSchoolYear string
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB, cfg DocumentRepositoryConfig) *DocumentRepository {
	if cfg.FeedChannel == "" {
		cfg.FeedChannel = "review_document_changes"
	}
	return &DocumentRepository{db: db, channel: cfg.FeedChannel, defaultSchoolYear: cfg.DefaultSchoolYear}
}

// Create inserts a new document with an empty thread.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
	doc.Approval.Status = doc.Approval.Status.Normalize()
	row := rowFromDocument(doc)

	const query = `INSERT INTO review_documents
	(id, kind, class_id, title, file_ref, uploader_id, uploader_name, plan_type, period_week, period_month, period_year,
	 school_year, approval_status, reviewer_id, reviewer_name, reviewed_at, rejection_reason, created_at, updated_at)
	VALUES (:id, :kind, :class_id, :title, :file_ref, :uploader_id, :uploader_name, :plan_type, :period_week, :period_month,
	 :period_year, :school_year, :approval_status, :reviewer_id, :reviewer_name, :reviewed_at, :rejection_reason,
	 :created_at, :updated_at)`
	return r.withTx(ctx, "create document", func(tx *sqlx.Tx) (*models.DocumentChange, error) {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return nil, fmt.Errorf("insert document: %w", err)
		}
		change := scopeFromRow(row).change(models.ChangeOpCreate)
		return &change, nil
	})
}

// GetByID loads a document and its thread. Returns sql.ErrNoRows when absent.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM review_documents WHERE id = $1`
	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc := normaliseDocument(row, r.defaultSchoolYear)

	commentsQuery := `SELECT ` + commentColumns + ` FROM review_comments WHERE document_id = $1 ORDER BY seq`
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, commentsQuery, id); err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	doc.Comments = nonNilComments(comments)
	return &doc, nil
}

// List returns documents matching the filter ordered by class then creation time.
// A non-positive limit returns every match.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	where, args := documentWhere(filter)
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + documentColumns + ` FROM review_documents`)
	builder.WriteString(where)
	builder.WriteString(" ORDER BY class_id, created_at, id")
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset))
	}

	var rows []documentRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]models.Document, len(rows))
	if len(rows) == 0 {
		return docs, nil
	}
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		docs[i] = normaliseDocument(row, r.defaultSchoolYear)
		ids[i] = row.ID
		index[row.ID] = i
	}

	commentsQuery := `SELECT ` + commentColumns + ` FROM review_comments WHERE document_id = ANY($1) ORDER BY document_id, seq`
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, commentsQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	for _, comment := range comments {
		if i, ok := index[comment.DocumentID]; ok {
			docs[i].Comments = append(docs[i].Comments, comment)
		}
	}
	return docs, nil
}

// Count returns the number of documents matching the filter, ignoring limit and offset.
func (r *DocumentRepository) Count(ctx context.Context, filter models.DocumentFilter) (int, error) {
	where, args := documentWhere(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM review_documents`+where, args...); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return total, nil
}

func documentWhere(filter models.DocumentFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 8)
	conditions := make([]string, 0, 8)
	if len(filter.ClassIDs) > 0 {
		args = append(args, pq.Array(filter.ClassIDs))
		conditions = append(conditions, fmt.Sprintf("class_id = ANY($%d)", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.PlanType != "" {
		args = append(args, string(filter.PlanType))
		conditions = append(conditions, fmt.Sprintf("plan_type = $%d", len(args)))
	}
	if filter.Week != 0 {
		args = append(args, filter.Week)
		conditions = append(conditions, fmt.Sprintf("period_week = $%d", len(args)))
	}
	if filter.Month != 0 {
		args = append(args, filter.Month)
		conditions = append(conditions, fmt.Sprintf("period_month = $%d", len(args)))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("period_year = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		includePending := false
		for i, status := range filter.Status {
			statuses[i] = string(status)
			if status == models.ApprovalPending {
				includePending = true
			}
		}
		args = append(args, pq.Array(statuses))
		cond := fmt.Sprintf("approval_status = ANY($%d)", len(args))
		if includePending {
			// absent or unknown stored values read as pending, see normaliseDocument
			cond = fmt.Sprintf("(%s OR approval_status IS NULL OR approval_status NOT IN ('%s', '%s'))",
				cond, models.ApprovalApproved, models.ApprovalNeedsRevision)
		}
		conditions = append(conditions, cond)
	}
	if filter.UploaderID != "" {
		args = append(args, filter.UploaderID)
		conditions = append(conditions, fmt.Sprintf("uploader_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// UpdateApproval persists the approval state and, when given, appends the revision request
// comment in the same transaction.
func (r *DocumentRepository) UpdateApproval(ctx context.Context, doc *models.Document, request *models.Comment) error {
	var reviewedAt sql.NullTime
	if doc.Approval.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *doc.Approval.ReviewedAt, Valid: true}
	}
	query := `UPDATE review_documents SET approval_status = $2, reviewer_id = $3, reviewer_name = $4, reviewed_at = $5,
	rejection_reason = $6, updated_at = $7 WHERE id = $1 RETURNING ` + scopeColumns
	return r.withTx(ctx, "update approval", func(tx *sqlx.Tx) (*models.DocumentChange, error) {
		var scope documentScope
		err := tx.GetContext(ctx, &scope, query,
			doc.ID,
			string(doc.Approval.Status),
			nullString(doc.Approval.ReviewerID),
			nullString(doc.Approval.ReviewerName),
			reviewedAt,
			nullString(doc.Approval.RejectionReason),
			time.Now().UTC(),
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			return nil, fmt.Errorf("update approval: %w", err)
		}
		if request != nil {
			if err := insertComment(ctx, tx, doc.ID, request); err != nil {
				return nil, err
			}
		}
		change := scope.change(models.ChangeOpApproval)
		return &change, nil
	})
}

// AppendComment adds an entry at the end of the thread.
func (r *DocumentRepository) AppendComment(ctx context.Context, documentID string, comment *models.Comment) error {
	return r.withTx(ctx, "append comment", func(tx *sqlx.Tx) (*models.DocumentChange, error) {
		scope, err := touchDocument(ctx, tx, documentID)
		if err != nil {
			return nil, err
		}
		if err := insertComment(ctx, tx, documentID, comment); err != nil {
			return nil, err
		}
		change := scope.change(models.ChangeOpComment)
		return &change, nil
	})
}

// UpdateComment replaces content and edit time of an existing entry. Returns sql.ErrNoRows when
// either the document or the comment is absent.
func (r *DocumentRepository) UpdateComment(ctx context.Context, documentID string, comment *models.Comment) error {
	const query = `UPDATE review_comments SET content = $3, edited_at = $4 WHERE id = $1 AND document_id = $2`
	return r.withTx(ctx, "update comment", func(tx *sqlx.Tx) (*models.DocumentChange, error) {
		scope, err := touchDocument(ctx, tx, documentID)
		if err != nil {
			return nil, err
		}
		var editedAt sql.NullTime
		if comment.EditedAt != nil {
			editedAt = sql.NullTime{Time: *comment.EditedAt, Valid: true}
		}
		result, err := tx.ExecContext(ctx, query, comment.ID, documentID, comment.Content, editedAt)
		if err != nil {
			return nil, fmt.Errorf("update comment: %w", err)
		}
		if err := requireAffected(result, "update comment"); err != nil {
			return nil, err
		}
		change := scope.change(models.ChangeOpComment)
		return &change, nil
	})
}

// RemoveComment deletes an entry from the thread.
func (r *DocumentRepository) RemoveComment(ctx context.Context, documentID, commentID string) error {
	const query = `DELETE FROM review_comments WHERE id = $1 AND document_id = $2`
	return r.withTx(ctx, "remove comment", func(tx *sqlx.Tx) (*models.DocumentChange, error) {
		scope, err := touchDocument(ctx, tx, documentID)
		if err != nil {
			return nil, err
		}
		result, err := tx.ExecContext(ctx, query, commentID, documentID)
		if err != nil {
			return nil, fmt.Errorf("remove comment: %w", err)
		}
		if err := requireAffected(result, "remove comment"); err != nil {
			return nil, err
		}
		change := scope.change(models.ChangeOpComment)
		return &change, nil
	})
}

// Delete removes a document together with its thread.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM review_documents WHERE id = $1 RETURNING ` + scopeColumns
	return r.withTx(ctx, "delete document", func(tx *sqlx.Tx) (*models.DocumentChange, error) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_comments WHERE document_id = $1`, id); err != nil {
			return nil, fmt.Errorf("delete comments: %w", err)
		}
		var scope documentScope
		if err := tx.GetContext(ctx, &scope, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			return nil, fmt.Errorf("delete document: %w", err)
		}
		change := scope.change(models.ChangeOpDelete)
		return &change, nil
	})
}

func (r *DocumentRepository) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) (*models.DocumentChange, error)) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", op, err)
	}
	change, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if change != nil {
		payload, err := json.Marshal(change)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode change event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, r.channel, string(payload)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("publish change event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", op, err)
	}
	return nil
}

// touchDocument bumps updated_at on the parent and doubles as its existence check.
func touchDocument(ctx context.Context, tx *sqlx.Tx, documentID string) (documentScope, error) {
	query := `UPDATE review_documents SET updated_at = $2 WHERE id = $1 RETURNING ` + scopeColumns
	var scope documentScope
	if err := tx.GetContext(ctx, &scope, query, documentID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scope, err
		}
		return scope, fmt.Errorf("touch document: %w", err)
	}
	return scope, nil
}

func insertComment(ctx context.Context, tx *sqlx.Tx, documentID string, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.Timestamp.IsZero() {
		comment.Timestamp = time.Now().UTC()
	}
	comment.DocumentID = documentID
	const query = `INSERT INTO review_comments (id, document_id, type, user_id, user_name, user_role, content, created_at, edited_at)
	VALUES (:id, :document_id, :type, :user_id, :user_name, :user_role, :content, :created_at, :edited_at)`
	if _, err := tx.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// normaliseDocument converts a stored row into the domain shape. It is the only place that
// fills read-boundary defaults: a missing status reads as pending and an OFFICE document
// without a school year gets the configured default.
func normaliseDocument(row documentRow, defaultSchoolYear string) models.Document {
	doc := models.Document{
		ID:           row.ID,
		Kind:         models.DocumentKind(row.Kind),
		ClassID:      row.ClassID,
		Title:        row.Title,
		FileRef:      row.FileRef,
		UploaderID:   row.UploaderID,
		UploaderName: row.UploaderName,
		Approval: models.ApprovalState{
			Status:          models.ApprovalStatus(row.ApprovalStatus.String).Normalize(),
			ReviewerID:      row.ReviewerID.String,
			ReviewerName:    row.ReviewerName.String,
			RejectionReason: row.RejectionReason.String,
		},
		Comments:  []models.Comment{},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ReviewedAt.Valid {
		at := row.ReviewedAt.Time
		doc.Approval.ReviewedAt = &at
	}
	period := models.Period{
		Week:  int(row.PeriodWeek.Int64),
		Month: int(row.PeriodMonth.Int64),
		Year:  int(row.PeriodYear.Int64),
	}
	switch doc.Kind {
	case models.DocumentKindPlan:
		doc.Plan = &models.PlanDetails{PlanType: models.PlanType(row.PlanType.String), Period: period}
	case models.DocumentKindBoarding:
		doc.Boarding = &models.BoardingDetails{Period: period}
	case models.DocumentKindOffice:
		schoolYear := strings.TrimSpace(row.SchoolYear.String)
		if schoolYear == "" {
			schoolYear = defaultSchoolYear
		}
		doc.Office = &models.OfficeDetails{SchoolYear: schoolYear}
	}
	return doc
}

func rowFromDocument(doc *models.Document) documentRow {
	row := documentRow{
		ID:              doc.ID,
		Kind:            string(doc.Kind),
		ClassID:         doc.ClassID,
		Title:           doc.Title,
		FileRef:         doc.FileRef,
		UploaderID:      doc.UploaderID,
		UploaderName:    doc.UploaderName,
		ApprovalStatus:  nullString(string(doc.Approval.Status)),
		ReviewerID:      nullString(doc.Approval.ReviewerID),
		ReviewerName:    nullString(doc.Approval.ReviewerName),
		RejectionReason: nullString(doc.Approval.RejectionReason),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if doc.Approval.ReviewedAt != nil {
		row.ReviewedAt = sql.NullTime{Time: *doc.Approval.ReviewedAt, Valid: true}
	}
	if period, ok := doc.Period(); ok {
		row.PeriodMonth = sql.NullInt64{Int64: int64(period.Month), Valid: true}
		row.PeriodYear = sql.NullInt64{Int64: int64(period.Year), Valid: true}
		if period.Week > 0 {
			row.PeriodWeek = sql.NullInt64{Int64: int64(period.Week), Valid: true}
		}
	}
	if doc.Plan != nil {
		row.PlanType = nullString(string(doc.Plan.PlanType))
	}
	if doc.Office != nil {
		row.SchoolYear = nullString(doc.Office.SchoolYear)
	}
	return row
}

func scopeFromRow(row documentRow) documentScope {
	return documentScope{
		ID:          row.ID,
		ClassID:     row.ClassID,
		Kind:        row.Kind,
		PlanType:    row.PlanType,
		PeriodWeek:  row.PeriodWeek,
		PeriodMonth: row.PeriodMonth,
		PeriodYear:  row.PeriodYear,
	}
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}

func nonNilComments(comments []models.Comment) []models.Comment {
	if comments == nil {
		return []models.Comment{}
	}
	return comments
}
