package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const documentColumns = `id, slug, title, summary, owner, hero_image_url, contact_email,
	contact_phone, contact_url, review_cadence, metadata, current_version_id,
	created_by, updated_by, created_at, updated_at`

const versionColumns = `id, document_id, version, status, content, change_notes,
	effective_at, published_at, created_by, published_by, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TxOps is the set of row operations available inside a workflow
// transaction. Locks taken through it are held until the transaction ends.
type TxOps interface {
	AcquireSlugLock(ctx context.Context, base string) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	LockDocumentBySlug(ctx context.Context, slug string) (Document, error)
	LockVersion(ctx context.Context, documentID, versionID string) (Version, error)
	LockDraft(ctx context.Context, documentID string) (*Version, error)
	NextVersionNumber(ctx context.Context, documentID string) (int, error)
	InsertDocument(ctx context.Context, item Document) error
	InsertVersion(ctx context.Context, item Version) error
	UpdateDocumentMetadata(ctx context.Context, item Document) error
	UpdateDraft(ctx context.Context, versionID string, content json.RawMessage, changeNotes string) error
	ArchivePublishedExcept(ctx context.Context, documentID, versionID string) error
	MarkPublished(ctx context.Context, versionID string, effectiveAt, publishedAt time.Time, publishedBy string) error
	SetCurrentVersion(ctx context.Context, documentID, versionID, updatedBy string) error
	ArchiveVersion(ctx context.Context, versionID string) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// InTx runs fn inside one database transaction. The transaction rolls back
// when fn returns an error or panics, so a failed workflow operation leaves
// no partial writes behind.
func (s *PostgresStore) InTx(ctx context.Context, fn func(TxOps) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type Tx struct {
	tx *sql.Tx
}

// AcquireSlugLock serializes slug allocation for one base slug across
// concurrent transactions. Without it, two creates with the same title
// could both observe the candidate as free and collide on insert.
func (t *Tx) AcquireSlugLock(ctx context.Context, base string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, base); err != nil {
		return fmt.Errorf("acquire slug lock: %w", err)
	}
	return nil
}

func (t *Tx) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM legal_documents WHERE slug=$1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

func (t *Tx) LockDocumentBySlug(ctx context.Context, slug string) (Document, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM legal_documents
		WHERE slug=$1
		FOR UPDATE
	`, slug)
	return scanDocument(row)
}

func (t *Tx) LockVersion(ctx context.Context, documentID, versionID string) (Version, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM legal_document_versions
		WHERE id=$1 AND document_id=$2
		FOR UPDATE
	`, versionID, documentID)
	return scanVersion(row)
}

func (t *Tx) LockDraft(ctx context.Context, documentID string) (*Version, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM legal_document_versions
		WHERE document_id=$1 AND status='draft'
		FOR UPDATE
	`, documentID)
	item, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// NextVersionNumber must run after the document row is locked; computing it
// outside the lock scope would let two drafts claim the same number.
func (t *Tx) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	var next int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM legal_document_versions
		WHERE document_id=$1
	`, documentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return next, nil
}

func (t *Tx) InsertDocument(ctx context.Context, item Document) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO legal_documents (
			id, slug, title, summary, owner, hero_image_url, contact_email,
			contact_phone, contact_url, review_cadence, metadata, created_by, updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.Slug, item.Title, item.Summary, item.Owner, item.HeroImageURL,
		item.ContactEmail, item.ContactPhone, item.ContactURL, item.ReviewCadence,
		metadata, item.CreatedBy, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *Tx) InsertVersion(ctx context.Context, item Version) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO legal_document_versions (
			id, document_id, version, status, content, change_notes, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.DocumentID, item.Version, item.Status, []byte(item.Content),
		item.ChangeNotes, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (t *Tx) UpdateDocumentMetadata(ctx context.Context, item Document) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE legal_documents
		SET title=$2, summary=$3, owner=$4, hero_image_url=$5, contact_email=$6,
			contact_phone=$7, contact_url=$8, review_cadence=$9, updated_by=$10,
			updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Summary, item.Owner, item.HeroImageURL,
		item.ContactEmail, item.ContactPhone, item.ContactURL, item.ReviewCadence,
		item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	return nil
}

func (t *Tx) UpdateDraft(ctx context.Context, versionID string, content json.RawMessage, changeNotes string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE legal_document_versions
		SET content=$2, change_notes=$3, updated_at=NOW()
		WHERE id=$1
	`, versionID, []byte(content), changeNotes)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	return nil
}

// ArchivePublishedExcept demotes every published version of the document
// other than the named one. There should be at most one such row, but the
// statement tolerates more.
func (t *Tx) ArchivePublishedExcept(ctx context.Context, documentID, versionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE legal_document_versions
		SET status='archived', updated_at=NOW()
		WHERE document_id=$1 AND status='published' AND id<>$2
	`, documentID, versionID)
	if err != nil {
		return fmt.Errorf("archive published versions: %w", err)
	}
	return nil
}

func (t *Tx) MarkPublished(ctx context.Context, versionID string, effectiveAt, publishedAt time.Time, publishedBy string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE legal_document_versions
		SET status='published', effective_at=$2, published_at=$3, published_by=$4, updated_at=NOW()
		WHERE id=$1
	`, versionID, effectiveAt, publishedAt, publishedBy)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

func (t *Tx) SetCurrentVersion(ctx context.Context, documentID, versionID, updatedBy string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE legal_documents
		SET current_version_id=$2, updated_by=$3, updated_at=NOW()
		WHERE id=$1
	`, documentID, versionID, updatedBy)
	if err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	return nil
}

func (t *Tx) ArchiveVersion(ctx context.Context, versionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE legal_document_versions
		SET status='archived', updated_at=NOW()
		WHERE id=$1
	`, versionID)
	if err != nil {
		return fmt.Errorf("archive version: %w", err)
	}
	return nil
}

// DeleteDocument removes the document row; versions go with it through the
// cascading foreign key.
func (t *Tx) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM legal_documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM legal_documents
		ORDER BY title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocumentBySlug(ctx context.Context, slug string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM legal_documents
		WHERE slug=$1
	`, slug)
	return scanDocument(row)
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM legal_document_versions
		WHERE document_id=$1
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// LatestVersionsByStatus returns, per document, the highest-numbered
// version in the given status, keyed by document id.
func (s *PostgresStore) LatestVersionsByStatus(ctx context.Context, status string) (map[string]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (document_id) `+versionColumns+`
		FROM legal_document_versions
		WHERE status=$1
		ORDER BY document_id, version DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("latest versions by status: %w", err)
	}
	defer rows.Close()

	items := make(map[string]Version)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items[item.DocumentID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RecentVersions(ctx context.Context, limit int) ([]TimelineVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.document_id, v.version, v.status, v.content, v.change_notes,
			v.effective_at, v.published_at, v.created_by, v.published_by,
			v.created_at, v.updated_at, d.slug, d.title
		FROM legal_document_versions v
		JOIN legal_documents d ON d.id = v.document_id
		ORDER BY v.updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent versions: %w", err)
	}
	defer rows.Close()

	items := make([]TimelineVersion, 0, limit)
	for rows.Next() {
		var item TimelineVersion
		var contentBytes []byte
		if err := rows.Scan(
			&item.ID, &item.DocumentID, &item.Version.Version, &item.Status, &contentBytes,
			&item.ChangeNotes, &item.EffectiveAt, &item.PublishedAt, &item.CreatedBy,
			&item.PublishedBy, &item.CreatedAt, &item.UpdatedAt,
			&item.DocumentSlug, &item.DocumentTitle,
		); err != nil {
			return nil, fmt.Errorf("scan timeline version: %w", err)
		}
		item.Content = contentBytes
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return items, nil
}

// SummaryCounts reports how many documents currently carry a published
// version and how many carry a draft.
func (s *PostgresStore) SummaryCounts(ctx context.Context) (published int, drafts int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT document_id) FILTER (WHERE status='published'),
			COUNT(DISTINCT document_id) FILTER (WHERE status='draft')
		FROM legal_document_versions
	`).Scan(&published, &drafts)
	if err != nil {
		return 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return published, drafts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var metadata []byte
	err := row.Scan(
		&item.ID, &item.Slug, &item.Title, &item.Summary, &item.Owner,
		&item.HeroImageURL, &item.ContactEmail, &item.ContactPhone, &item.ContactURL,
		&item.ReviewCadence, &metadata, &item.CurrentVersionID,
		&item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return Document{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return item, nil
}

func scanVersion(row rowScanner) (Version, error) {
	var item Version
	var contentBytes []byte
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.Version, &item.Status, &contentBytes,
		&item.ChangeNotes, &item.EffectiveAt, &item.PublishedAt,
		&item.CreatedBy, &item.PublishedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Version{}, err
	}
	item.Content = contentBytes
	return item, nil
}
