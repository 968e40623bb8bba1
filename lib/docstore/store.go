// Package docstore persists harvested documents, the credentials used to
// harvest them and the rate-limit bookkeeping for every credential.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"docharvest/lib/chrono"
	"docharvest/lib/credential"
	"docharvest/lib/docstore/db"
	"docharvest/lib/document"
	"docharvest/lib/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/docstore")

var ErrNotFound = errors.New("document not found")

type Store struct {
	db    *sql.DB
	qry   *db.Queries
	clock chrono.Clock
}

func NewStore(database *sql.DB, clock chrono.Clock) Store {
	if clock == nil {
		clock = chrono.Standard{}
	}
	return Store{
		db:    database,
		qry:   db.New(database),
		clock: clock,
	}
}

func decodeDocument(row db.Document) (document.Document, error) {
	doc := document.New(row.ID, row.Doctype, nil)
	err := json.Unmarshal([]byte(row.Source), &doc.Source)
	if err != nil {
		return document.Document{}, fmt.Errorf("decode source of %s: %w", row.ID, err)
	}
	err = json.Unmarshal([]byte(row.Meta), &doc.Meta)
	if err != nil {
		return document.Document{}, fmt.Errorf("decode META of %s: %w", row.ID, err)
	}
	if doc.Source == nil {
		doc.Source = map[string]any{}
	}
	if doc.Meta == nil {
		doc.Meta = map[string]document.MetaEntry{}
	}
	return doc, nil
}

func (s Store) Get(ctx context.Context, id string) (document.Document, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.String("id", id))

	row, err := s.qry.GetDocument(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get document")
		return document.Document{}, err
	}
	return decodeDocument(row)
}

func (s Store) Exists(ctx context.Context, id string) (bool, error) {
	exists, err := s.qry.DocumentExists(ctx, id)
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// Upsert writes doc. Unless force is set, the fields and META of an already
// stored document with the same id are merged with the incoming ones, the
// incoming values winning. With force the stored document is replaced.
func (s Store) Upsert(ctx context.Context, doc document.Document, force bool) error {
	ctx, span := tracer.Start(ctx, "Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("id", doc.ID),
		attribute.Bool("force", force),
	)

	if doc.ID == "" {
		return fmt.Errorf("%w: missing id", document.ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin transaction")
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	now := s.clock.Now().Unix()
	createdAt := now
	merged := doc.Clone()

	row, err := txqry.GetDocument(ctx, doc.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read stored document")
		return err
	default:
		createdAt = row.CreatedAt
		if !force {
			stored, err := decodeDocument(row)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to decode stored document")
				return err
			}
			merged, err = mergeDocuments(stored, doc)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to merge documents")
				return err
			}
		}
	}

	source, err := json.Marshal(merged.Source)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(merged.Meta)
	if err != nil {
		return err
	}

	err = txqry.UpsertDocument(ctx, db.UpsertDocumentParams{
		ID:        merged.ID,
		Doctype:   merged.Doctype,
		Source:    string(source),
		Meta:      string(meta),
		CreatedAt: createdAt,
		UpdatedAt: now,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert document")
		return err
	}

	return tx.Commit()
}

func mergeDocuments(stored, incoming document.Document) (document.Document, error) {
	out := stored.Clone()
	if incoming.Doctype != "" {
		out.Doctype = incoming.Doctype
	}
	// harvested values replace stored ones whole, derived fields are kept
	maps.Copy(out.Source, incoming.Source)
	for field, entry := range incoming.Meta {
		out.Meta[field] = entry
	}
	return out, nil
}

// List returns up to limit documents of a doctype, highest id first.
func (s Store) List(ctx context.Context, doctype string, limit int) ([]document.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.qry.ListDocuments(ctx, db.ListDocumentsParams{
		Doctype: doctype,
		Limit:   int64(limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := decodeDocument(r)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s Store) Count(ctx context.Context, doctype string) (int64, error) {
	return s.qry.CountDocuments(ctx, doctype)
}

func decodeCredential(row db.Credential) (credential.Credential, error) {
	cred := credential.Credential{
		Service: row.Service,
		Account: row.Account,
	}
	err := json.Unmarshal([]byte(row.Payload), &cred.Payload)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("decode credential %s: %w", row.ID, err)
	}
	return cred, nil
}

// AddCredential stores cred, replacing a stored credential for the same
// service account.
func (s Store) AddCredential(ctx context.Context, cred credential.Credential) error {
	payload, err := json.Marshal(cred.Payload)
	if err != nil {
		return err
	}
	return s.qry.CreateCredential(ctx, db.CreateCredentialParams{
		ID:        cred.ID(),
		Service:   cred.Service,
		Account:   cred.Account,
		Payload:   string(payload),
		CreatedAt: s.clock.Now().Unix(),
	})
}

func (s Store) RemoveCredential(ctx context.Context, id string) error {
	return s.qry.DeleteCredential(ctx, id)
}

// Credentials returns every stored credential of a service.
func (s Store) Credentials(ctx context.Context, service string) ([]credential.Credential, error) {
	rows, err := s.qry.GetCredentials(ctx, service)
	if err != nil {
		return nil, err
	}
	out := make([]credential.Credential, 0, len(rows))
	for _, r := range rows {
		cred, err := decodeCredential(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func (s Store) ListCredentials(ctx context.Context) ([]credential.Credential, error) {
	rows, err := s.qry.GetAllCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]credential.Credential, 0, len(rows))
	for _, r := range rows {
		cred, err := decodeCredential(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func decodeRateLimit(row db.RateLimit) ratelimit.Record {
	return ratelimit.Record{
		CredentialID: row.CredentialID,
		Endpoint:     row.Endpoint,
		Remaining:    int(row.Remaining),
		ResetAt:      time.Unix(row.ResetAt, 0).UTC(),
	}
}

// PutRateLimit stores the latest observation for a credential and endpoint,
// the last writer wins.
func (s Store) PutRateLimit(ctx context.Context, record ratelimit.Record) error {
	ctx, span := tracer.Start(ctx, "PutRateLimit")
	defer span.End()
	span.SetAttributes(
		attribute.String("credential", record.CredentialID),
		attribute.String("endpoint", record.Endpoint),
		attribute.Int("remaining", record.Remaining),
	)

	err := s.qry.UpsertRateLimit(ctx, db.UpsertRateLimitParams{
		CredentialID: record.CredentialID,
		Endpoint:     record.Endpoint,
		Remaining:    int64(record.Remaining),
		ResetAt:      record.ResetAt.Unix(),
		UpdatedAt:    s.clock.Now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store rate limit")
	}
	return err
}

func (s Store) RateLimit(ctx context.Context, credentialID, endpoint string) (ratelimit.Record, bool, error) {
	row, err := s.qry.GetRateLimit(ctx, db.GetRateLimitParams{
		CredentialID: credentialID,
		Endpoint:     endpoint,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ratelimit.Record{}, false, nil
	}
	if err != nil {
		return ratelimit.Record{}, false, err
	}
	return decodeRateLimit(row), true, nil
}

// RateLimitsByReset returns the records of an endpoint, earliest reset first.
func (s Store) RateLimitsByReset(ctx context.Context, endpoint string) ([]ratelimit.Record, error) {
	rows, err := s.qry.GetRateLimitsByReset(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]ratelimit.Record, len(rows))
	for i, r := range rows {
		out[i] = decodeRateLimit(r)
	}
	return out, nil
}

func (s Store) ListRateLimits(ctx context.Context) ([]ratelimit.Record, error) {
	rows, err := s.qry.GetAllRateLimits(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ratelimit.Record, len(rows))
	for i, r := range rows {
		out[i] = decodeRateLimit(r)
	}
	return out, nil
}
