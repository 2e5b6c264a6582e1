package core

import (
	"context"
	"fmt"
)

const defaultHistoryLimit = 20

// SyncStatusReport summarizes the ledger for one entity type: how many
// entities are delivered and which failed rows still need attention.
type SyncStatusReport struct {
	EntityType  EntityType
	SyncedCount int
	FailedCount int
	// Failed carries the full failed rows so callers can show the stored
	// error per entity.
	Failed []SyncRecord
}

// SyncStatus reports the per-connection delivery ledger for the entity
// type.
func (s *Service) SyncStatus(ctx context.Context, ownerID string, entityType EntityType) (report SyncStatusReport, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id":    ownerID,
		"entity_type": string(entityType),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "sync_status", err, fields)
	}()

	if s.syncRecordStore == nil {
		err = s.mapError(fmt.Errorf("core: sync record store is not configured"))
		return SyncStatusReport{}, err
	}
	if _, parseErr := ParseEntityType(string(entityType)); parseErr != nil {
		err = s.mapError(parseErr)
		return SyncStatusReport{}, err
	}
	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return SyncStatusReport{}, err
	}
	fields["connection_id"] = connection.ID

	synced, err := s.syncRecordStore.SyncedEntityIDs(ctx, connection.ID, entityType)
	if err != nil {
		err = s.mapError(err)
		return SyncStatusReport{}, err
	}
	failed, err := s.syncRecordStore.ListByStatus(ctx, connection.ID, entityType, SyncRecordStatusFailed)
	if err != nil {
		err = s.mapError(err)
		return SyncStatusReport{}, err
	}

	report = SyncStatusReport{
		EntityType:  entityType,
		SyncedCount: len(synced),
		FailedCount: len(failed),
		Failed:      failed,
	}
	return report, nil
}

// SyncHistoryList returns the owner's most recent runs, newest first.
// A non-positive limit falls back to a small default page.
func (s *Service) SyncHistoryList(ctx context.Context, ownerID string, limit int) (runs []SyncHistory, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "sync_history_list", err, fields)
	}()

	if s.syncHistoryStore == nil {
		err = s.mapError(fmt.Errorf("core: sync history store is not configured"))
		return nil, err
	}
	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	runs, err = s.syncHistoryStore.List(ctx, connection.ID, limit)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return runs, nil
}
