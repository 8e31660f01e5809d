package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// The pipelines evolve state across a run, so call-scripted mocks would
// couple every test to exact call order. These fakes behave like tiny
// repositories instead; the Func fields override single calls for failure
// injection and fall back to the stateful default when nil.

var (
	_ ledger.SyncStateRepository  = (*memStates)(nil)
	_ ledger.ConflictRepository   = (*memConflicts)(nil)
	_ ledger.SyncRunRepository    = (*memRuns)(nil)
	_ ledger.AuditRepository      = (*memAudits)(nil)
	_ ledger.CheckpointRepository = (*memCheckpoints)(nil)
	_ ledger.ConnectionRepository = (*memConnections)(nil)
	_ ledger.LocalStore           = (*memLocalStore)(nil)
	_ ledger.RemoteLedger         = (*fakeRemoteLedger)(nil)
	_ ledger.RunLocker            = (*memLocker)(nil)
	_ ledger.ConflictArchiver     = (*memArchiver)(nil)
	_ ledger.TokenProvider        = (*fakeTokens)(nil)
	_ ledger.SecretSealer         = (*staticSealer)(nil)
)

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

// memStates is an in-memory SyncStateRepository.
type memStates struct {
	mu    sync.Mutex
	items map[uuid.UUID]*ledger.SyncState
	saves int
}

func newMemStates() *memStates {
	return &memStates{items: make(map[uuid.UUID]*ledger.SyncState)}
}

func (m *memStates) FindByLocalID(_ context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.TenantID == tenantID && s.EntityType == entityType && s.LocalID == localID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ledger.ErrStateNotFound
}

func (m *memStates) FindByRemoteID(_ context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string) (*ledger.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.TenantID == tenantID && s.EntityType == entityType && s.RemoteID != "" && s.RemoteID == remoteID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ledger.ErrStateNotFound
}

func (m *memStates) ListByStatus(_ context.Context, tenantID uuid.UUID, status ledger.SyncStatus, page, pageSize int) ([]ledger.SyncState, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.SyncState
	for _, s := range m.items {
		if s.TenantID == tenantID && s.Status == status {
			out = append(out, *s)
		}
	}
	return pageOf(out, page, pageSize), int64(len(out)), nil
}

func (m *memStates) Save(_ context.Context, state *ledger.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.items[state.ID] = &cp
	m.saves++
	return nil
}

func (m *memStates) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStates) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// memConflicts is an in-memory ConflictRepository.
type memConflicts struct {
	mu    sync.Mutex
	items map[uuid.UUID]*ledger.ConflictRecord
}

func newMemConflicts() *memConflicts {
	return &memConflicts{items: make(map[uuid.UUID]*ledger.ConflictRecord)}
}

func (m *memConflicts) FindByID(_ context.Context, tenantID, id uuid.UUID) (*ledger.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.TenantID != tenantID {
		return nil, ledger.ErrConflictNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConflicts) FindOpenByRecord(_ context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.TenantID == tenantID && c.EntityType == entityType && c.LocalID == localID && c.Status == ledger.ConflictStatusOpen {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memConflicts) List(_ context.Context, tenantID uuid.UUID, filter ledger.ConflictFilter) ([]ledger.ConflictRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.ConflictRecord
	for _, c := range m.items {
		if c.TenantID != tenantID {
			continue
		}
		if filter.EntityType != nil && c.EntityType != *filter.EntityType {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return pageOf(out, filter.Page, filter.PageSize), int64(len(out)), nil
}

func (m *memConflicts) Save(_ context.Context, conflict *ledger.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conflict
	m.items[conflict.ID] = &cp
	return nil
}

func (m *memConflicts) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// memRuns is an in-memory SyncRunRepository.
type memRuns struct {
	mu    sync.Mutex
	items map[uuid.UUID]*ledger.SyncRun
}

func newMemRuns() *memRuns {
	return &memRuns{items: make(map[uuid.UUID]*ledger.SyncRun)}
}

func (m *memRuns) FindByID(_ context.Context, tenantID, id uuid.UUID) (*ledger.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.TenantID != tenantID {
		return nil, ledger.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) List(_ context.Context, tenantID uuid.UUID, filter ledger.RunFilter) ([]ledger.SyncRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.SyncRun
	for _, r := range m.items {
		if r.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return pageOf(out, filter.Page, filter.PageSize), int64(len(out)), nil
}

func (m *memRuns) Save(_ context.Context, run *ledger.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.items[run.ID] = &cp
	return nil
}

// memAudits is an in-memory AuditRepository.
type memAudits struct {
	mu      sync.Mutex
	entries []ledger.AuditEntry
}

func newMemAudits() *memAudits {
	return &memAudits{}
}

func (m *memAudits) Append(_ context.Context, entry *ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memAudits) ListByRun(_ context.Context, tenantID, runID uuid.UUID, page, pageSize int) ([]ledger.AuditEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.AuditEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.RunID == runID {
			out = append(out, e)
		}
	}
	return pageOf(out, page, pageSize), int64(len(out)), nil
}

func (m *memAudits) all() []ledger.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memAudits) forRun(runID uuid.UUID) []ledger.AuditEntry {
	var out []ledger.AuditEntry
	for _, e := range m.all() {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memAudits) byAction(runID uuid.UUID, action ledger.AuditAction) []ledger.AuditEntry {
	var out []ledger.AuditEntry
	for _, e := range m.forRun(runID) {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// memCheckpoints is an in-memory CheckpointRepository.
type memCheckpoints struct {
	mu         sync.Mutex
	items      map[string]*ledger.Checkpoint
	savedPages []int
	clears     int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{items: make(map[string]*ledger.Checkpoint)}
}

func checkpointKey(tenantID uuid.UUID, entityType ledger.EntityType) string {
	return tenantID.String() + "|" + entityType.String()
}

func (m *memCheckpoints) Find(_ context.Context, tenantID uuid.UUID, entityType ledger.EntityType) (*ledger.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.items[checkpointKey(tenantID, entityType)]
	if !ok {
		return nil, nil
	}
	out := *cp
	return &out, nil
}

func (m *memCheckpoints) Save(_ context.Context, checkpoint *ledger.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *checkpoint
	m.items[checkpointKey(checkpoint.TenantID, checkpoint.EntityType)] = &cp
	m.savedPages = append(m.savedPages, checkpoint.NextPage)
	return nil
}

func (m *memCheckpoints) Clear(_ context.Context, tenantID uuid.UUID, entityType ledger.EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, checkpointKey(tenantID, entityType))
	m.clears++
	return nil
}

func (m *memCheckpoints) savedNextPages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.savedPages))
	copy(out, m.savedPages)
	return out
}

func (m *memCheckpoints) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// memConnections is an in-memory ConnectionRepository.
type memConnections struct {
	mu    sync.Mutex
	items map[uuid.UUID]*ledger.Connection
}

func newMemConnections() *memConnections {
	return &memConnections{items: make(map[uuid.UUID]*ledger.Connection)}
}

func copyConnection(c *ledger.Connection) *ledger.Connection {
	cp := *c
	cp.Cursors = make(map[ledger.EntityType]time.Time, len(c.Cursors))
	for k, v := range c.Cursors {
		cp.Cursors[k] = v
	}
	return &cp
}

func (m *memConnections) FindByTenant(_ context.Context, tenantID uuid.UUID) (*ledger.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[tenantID]
	if !ok {
		return nil, ledger.ErrConnectionNotFound
	}
	return copyConnection(c), nil
}

func (m *memConnections) ListScheduled(_ context.Context) ([]ledger.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Connection
	for _, c := range m.items {
		if c.ScheduleEnabled {
			out = append(out, *copyConnection(c))
		}
	}
	return out, nil
}

func (m *memConnections) Save(_ context.Context, connection *ledger.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[connection.TenantID] = copyConnection(connection)
	return nil
}

func (m *memConnections) Delete(_ context.Context, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, tenantID)
	return nil
}

// ---------------------------------------------------------------------------
// Local Store
// ---------------------------------------------------------------------------

type localRow struct {
	doc       ledger.Document
	updatedAt time.Time
}

// memLocalStore is an in-memory LocalStore holding projected documents.
type memLocalStore struct {
	mu      sync.Mutex
	rows    map[ledger.EntityType]map[uuid.UUID]*localRow
	order   map[ledger.EntityType][]uuid.UUID
	patches int
	creates int

	GetRecordFunc        func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.LocalRecord, error)
	ListRefsFunc         func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, query ledger.LocalQuery) ([]ledger.LocalRef, error)
	ApplyPatchFunc       func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID, patch ledger.Document) error
	CreateFromRemoteFunc func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, doc ledger.Document) (uuid.UUID, error)
}

func newMemLocalStore() *memLocalStore {
	return &memLocalStore{
		rows:  make(map[ledger.EntityType]map[uuid.UUID]*localRow),
		order: make(map[ledger.EntityType][]uuid.UUID),
	}
}

// add seeds one local record, as if a user had created it in the app.
func (m *memLocalStore) add(entityType ledger.EntityType, doc ledger.Document) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.insertLocked(entityType, id, doc)
	return id
}

// set overwrites one local record, as if a user had edited it.
func (m *memLocalStore) set(entityType ledger.EntityType, localID uuid.UUID, doc ledger.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(entityType, localID, doc)
}

func (m *memLocalStore) insertLocked(entityType ledger.EntityType, localID uuid.UUID, doc ledger.Document) {
	if m.rows[entityType] == nil {
		m.rows[entityType] = make(map[uuid.UUID]*localRow)
	}
	if _, exists := m.rows[entityType][localID]; !exists {
		m.order[entityType] = append(m.order[entityType], localID)
	}
	m.rows[entityType][localID] = &localRow{doc: doc.Clone(), updatedAt: time.Now().UTC()}
}

// doc returns a copy of one stored document.
func (m *memLocalStore) doc(entityType ledger.EntityType, localID uuid.UUID) ledger.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[entityType][localID]
	if !ok {
		return nil
	}
	return row.doc.Clone()
}

func (m *memLocalStore) GetRecord(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID) (*ledger.LocalRecord, error) {
	if m.GetRecordFunc != nil {
		return m.GetRecordFunc(ctx, tenantID, entityType, localID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[entityType][localID]
	if !ok {
		return nil, ledger.ErrStateNotFound
	}
	return &ledger.LocalRecord{LocalID: localID, Document: row.doc.Clone(), UpdatedAt: row.updatedAt}, nil
}

func (m *memLocalStore) ListRefs(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, query ledger.LocalQuery) ([]ledger.LocalRef, error) {
	if m.ListRefsFunc != nil {
		return m.ListRefsFunc(ctx, tenantID, entityType, query)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(query.IDs))
	for _, id := range query.IDs {
		wanted[id] = true
	}
	var out []ledger.LocalRef
	for _, id := range m.order[entityType] {
		row := m.rows[entityType][id]
		if len(query.IDs) > 0 && !wanted[id] {
			continue
		}
		if query.ModifiedSince != nil && !row.updatedAt.After(*query.ModifiedSince) {
			continue
		}
		out = append(out, ledger.LocalRef{LocalID: id, UpdatedAt: row.updatedAt})
	}
	return out, nil
}

func (m *memLocalStore) ApplyPatch(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, localID uuid.UUID, patch ledger.Document) error {
	if m.ApplyPatchFunc != nil {
		return m.ApplyPatchFunc(ctx, tenantID, entityType, localID, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[entityType][localID]
	if !ok {
		return ledger.ErrStateNotFound
	}
	for k, v := range patch.Clone() {
		row.doc[k] = v
	}
	row.updatedAt = time.Now().UTC()
	m.patches++
	return nil
}

func (m *memLocalStore) CreateFromRemote(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, doc ledger.Document) (uuid.UUID, error) {
	if m.CreateFromRemoteFunc != nil {
		return m.CreateFromRemoteFunc(ctx, tenantID, entityType, doc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.insertLocked(entityType, id, doc)
	m.creates++
	return id, nil
}

func (m *memLocalStore) patchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patches
}

func (m *memLocalStore) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// ---------------------------------------------------------------------------
// Remote Ledger
// ---------------------------------------------------------------------------

type remoteRow struct {
	doc       ledger.Document
	updatedAt time.Time
}

// fakeRemoteLedger simulates the external accounting ledger: it stores
// documents, pages listings and recomputes its owned fields on every write.
type fakeRemoteLedger struct {
	mu     sync.Mutex
	rows   map[ledger.EntityType]map[string]*remoteRow
	order  map[ledger.EntityType][]string
	nextID int

	// Computed is overlaid onto every stored create and update, standing in
	// for the fields a real ledger derives itself.
	Computed map[ledger.EntityType]ledger.Document

	listQueries []ledger.ListQuery
	gets        int
	creates     int
	updates     int
	created     []ledger.Document
	updated     []ledger.Document

	ListEntitiesFunc func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, query ledger.ListQuery) (*ledger.RemotePage, error)
	GetEntityFunc    func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string) (*ledger.RemoteRecord, error)
	CreateEntityFunc func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, body ledger.Document) (*ledger.RemoteRecord, error)
	UpdateEntityFunc func(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string, body ledger.Document) (*ledger.RemoteRecord, error)
}

func newFakeRemoteLedger() *fakeRemoteLedger {
	return &fakeRemoteLedger{
		rows:   make(map[ledger.EntityType]map[string]*remoteRow),
		order:  make(map[ledger.EntityType][]string),
		nextID: 1,
	}
}

// seed stores one record as if it already existed on the ledger.
func (f *fakeRemoteLedger) seed(entityType ledger.EntityType, remoteID string, doc ledger.Document, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertLocked(entityType, remoteID, doc, updatedAt)
}

// setDoc overwrites one record, as if a human had edited it in the ledger UI.
func (f *fakeRemoteLedger) setDoc(entityType ledger.EntityType, remoteID string, doc ledger.Document, updatedAt time.Time) {
	f.seed(entityType, remoteID, doc, updatedAt)
}

// remove deletes one record, as if someone had voided it in the ledger.
func (f *fakeRemoteLedger) remove(entityType ledger.EntityType, remoteID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows[entityType], remoteID)
	ids := f.order[entityType]
	for i, id := range ids {
		if id == remoteID {
			f.order[entityType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (f *fakeRemoteLedger) insertLocked(entityType ledger.EntityType, remoteID string, doc ledger.Document, updatedAt time.Time) {
	if f.rows[entityType] == nil {
		f.rows[entityType] = make(map[string]*remoteRow)
	}
	if _, exists := f.rows[entityType][remoteID]; !exists {
		f.order[entityType] = append(f.order[entityType], remoteID)
	}
	f.rows[entityType][remoteID] = &remoteRow{doc: doc.Clone(), updatedAt: updatedAt.UTC()}
}

// doc returns a copy of one stored document.
func (f *fakeRemoteLedger) doc(entityType ledger.EntityType, remoteID string) ledger.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[entityType][remoteID]
	if !ok {
		return nil
	}
	return row.doc.Clone()
}

func (f *fakeRemoteLedger) ListEntities(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, query ledger.ListQuery) (*ledger.RemotePage, error) {
	f.mu.Lock()
	f.listQueries = append(f.listQueries, query)
	fn := f.ListEntitiesFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenantID, entityType, query)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var matching []ledger.RemoteRecord
	for _, id := range f.order[entityType] {
		row := f.rows[entityType][id]
		if query.ModifiedSince != nil && !row.updatedAt.After(*query.ModifiedSince) {
			continue
		}
		matching = append(matching, ledger.RemoteRecord{RemoteID: id, Document: row.doc.Clone(), UpdatedAt: row.updatedAt})
	}
	start := (query.Page - 1) * query.PageSize
	if start < 0 {
		start = 0
	}
	end := start + query.PageSize
	if end > len(matching) {
		end = len(matching)
	}
	if start > end {
		start = end
	}
	return &ledger.RemotePage{Records: matching[start:end], Page: query.Page, HasMore: end < len(matching)}, nil
}

func (f *fakeRemoteLedger) GetEntity(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string) (*ledger.RemoteRecord, error) {
	f.mu.Lock()
	f.gets++
	fn := f.GetEntityFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenantID, entityType, remoteID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[entityType][remoteID]
	if !ok {
		return nil, &ledger.RemoteError{StatusCode: 404, Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entityType, remoteID)}
	}
	return &ledger.RemoteRecord{RemoteID: remoteID, Document: row.doc.Clone(), UpdatedAt: row.updatedAt}, nil
}

func (f *fakeRemoteLedger) CreateEntity(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, body ledger.Document) (*ledger.RemoteRecord, error) {
	f.mu.Lock()
	f.creates++
	f.created = append(f.created, body.Clone())
	fn := f.CreateEntityFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenantID, entityType, body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	remoteID := fmt.Sprintf("R-%03d", f.nextID)
	f.nextID++
	stored := body.Clone()
	for k, v := range f.Computed[entityType] {
		stored[k] = v
	}
	now := time.Now().UTC()
	f.insertLocked(entityType, remoteID, stored, now)
	return &ledger.RemoteRecord{RemoteID: remoteID, Document: stored.Clone(), UpdatedAt: now}, nil
}

func (f *fakeRemoteLedger) UpdateEntity(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string, body ledger.Document) (*ledger.RemoteRecord, error) {
	f.mu.Lock()
	f.updates++
	f.updated = append(f.updated, body.Clone())
	fn := f.UpdateEntityFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, tenantID, entityType, remoteID, body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[entityType][remoteID]
	if !ok {
		return nil, &ledger.RemoteError{StatusCode: 404, Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entityType, remoteID)}
	}
	stored := row.doc.Clone()
	for k, v := range body.Clone() {
		stored[k] = v
	}
	for k, v := range f.Computed[entityType] {
		stored[k] = v
	}
	now := time.Now().UTC()
	row.doc = stored
	row.updatedAt = now
	return &ledger.RemoteRecord{RemoteID: remoteID, Document: stored.Clone(), UpdatedAt: now}, nil
}

func (f *fakeRemoteLedger) queries() []ledger.ListQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.ListQuery, len(f.listQueries))
	copy(out, f.listQueries)
	return out
}

func (f *fakeRemoteLedger) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeRemoteLedger) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeRemoteLedger) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *fakeRemoteLedger) createdBodies() []ledger.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.Document, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeRemoteLedger) updatedBodies() []ledger.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.Document, len(f.updated))
	copy(out, f.updated)
	return out
}

// ---------------------------------------------------------------------------
// Locker, Archiver, Sealer
// ---------------------------------------------------------------------------

// memLocker is an in-process RunLocker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (m *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memLocker) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

func (m *memLocker) holds(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key]
}

// memArchiver records archived conflicts.
type memArchiver struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *memArchiver) ArchiveConflict(_ context.Context, conflict *ledger.ConflictRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	key := fmt.Sprintf("conflicts/%s/%s/%s.json", conflict.TenantID, conflict.EntityType, conflict.ID)
	m.keys = append(m.keys, key)
	return key, nil
}

func (m *memArchiver) archived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// fakeTokens vends a static access token, or the configured error.
type fakeTokens struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeTokens) AccessToken(context.Context, uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "test-token", nil
}

func (f *fakeTokens) Invalidate(uuid.UUID) {}

func (f *fakeTokens) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// staticSealer marks secrets instead of encrypting them.
type staticSealer struct{}

var sealPrefix = []byte("sealed:")

func (staticSealer) Seal(plaintext []byte) ([]byte, error) {
	return append(append([]byte{}, sealPrefix...), plaintext...), nil
}

func (staticSealer) Open(sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, sealPrefix) {
		return nil, errors.New("not sealed")
	}
	return sealed[len(sealPrefix):], nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// testEnv bundles one tenant's worth of fakes wired into pipeline deps.
type testEnv struct {
	tenantID    uuid.UUID
	states      *memStates
	conflicts   *memConflicts
	runs        *memRuns
	audits      *memAudits
	checkpoints *memCheckpoints
	connections *memConnections
	local       *memLocalStore
	remote      *fakeRemoteLedger
	archiver    *memArchiver
	tokens      *fakeTokens
	conn        *ledger.Connection
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		tenantID:    uuid.New(),
		states:      newMemStates(),
		conflicts:   newMemConflicts(),
		runs:        newMemRuns(),
		audits:      newMemAudits(),
		checkpoints: newMemCheckpoints(),
		connections: newMemConnections(),
		local:       newMemLocalStore(),
		remote:      newFakeRemoteLedger(),
		archiver:    &memArchiver{},
		tokens:      &fakeTokens{},
	}
	env.conn = ledger.NewConnection(env.tenantID, "standardledger", "https://ledger.example.com/api/v1", "client-1")
	require.NoError(t, env.connections.Save(context.Background(), env.conn))
	return env
}

func (e *testEnv) deps() Deps {
	return Deps{
		States:      e.states,
		Conflicts:   e.conflicts,
		Checkpoints: e.checkpoints,
		Audits:      e.audits,
		Runs:        e.runs,
		Connections: e.connections,
		Local:       e.local,
		Remote:      e.remote,
		Tokens:      e.tokens,
		Archiver:    e.archiver,
	}
}

// testPipelineConfig keeps pages small and backoff fast.
func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PageSize: 2,
		Workers:  2,
		Retry:    RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
	}
}

func newPull(t *testing.T, env *testEnv) *PullPipeline {
	t.Helper()
	p, err := NewPullPipeline(env.deps(), testPipelineConfig())
	require.NoError(t, err)
	return p
}

func newPush(t *testing.T, env *testEnv) *PushPipeline {
	t.Helper()
	p, err := NewPushPipeline(env.deps(), testPipelineConfig())
	require.NoError(t, err)
	return p
}

// startedRun builds a RUNNING run the way the orchestrator would.
func startedRun(t *testing.T, tenantID uuid.UUID, direction ledger.Direction, opts ledger.RunOptions) *ledger.SyncRun {
	t.Helper()
	run, err := ledger.NewSyncRun(tenantID, direction, nil, opts)
	require.NoError(t, err)
	require.NoError(t, run.Start())
	return run
}

// seedSynced links one record on both sides with a clean baseline, as if a
// previous run had synced it.
func seedSynced(t *testing.T, env *testEnv, entityType ledger.EntityType, remoteID string, doc ledger.Document) (uuid.UUID, *ledger.SyncState) {
	t.Helper()
	localID := env.local.add(entityType, doc)
	env.remote.seed(entityType, remoteID, doc, time.Now().UTC().Add(-time.Hour))

	fp, err := ledger.Fingerprint(doc)
	require.NoError(t, err)

	state := ledger.NewSyncState(env.tenantID, entityType, localID)
	state.Link(remoteID)
	require.NoError(t, state.Rebaseline(fp, fp, ledger.OriginRemote, uuid.New()))
	require.NoError(t, env.states.Save(context.Background(), state))
	return localID, state
}

// waitForRun polls until an asynchronously executed run reaches a terminal
// status.
func waitForRun(t *testing.T, runs *memRuns, tenantID, runID uuid.UUID) *ledger.SyncRun {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := runs.FindByID(context.Background(), tenantID, runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status", runID)
	return nil
}

func pageOf[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func contactDoc(name, email string) ledger.Document {
	return ledger.Document{
		"name":           name,
		"contact_person": "Pat de Vries",
		"email":          email,
		"phone":          "+31 20 123 4567",
		"address_line1":  "Herengracht 1",
		"address_line2":  nil,
		"city":           "Amsterdam",
		"region":         nil,
		"postal_code":    "1015 BA",
		"country":        "NL",
		"tax_number":     "NL123456789B01",
		"is_customer":    true,
		"is_supplier":    false,
		"currency":       "EUR",

		"ledger_status":       "ACTIVE",
		"outstanding_balance": decimal.Zero,
		"overdue_balance":     decimal.Zero,
	}
}

func invoiceDoc(contactRemoteID, number string) ledger.Document {
	return ledger.Document{
		"contact_id": contactRemoteID,
		"number":     number,
		"reference":  "PO-7421",
		"issue_date": time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		"due_date":   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		"currency":   "EUR",
		"status":     "AUTHORISED",
		"line_items": []any{
			ledger.Document{
				"description": "Consulting",
				"quantity":    decimal.NewFromInt(10),
				"unit_amount": decimal.NewFromInt(120),
				"tax_rate":    decimal.NewFromInt(21),
			},
		},

		"sub_total":   decimal.NewFromInt(1200),
		"tax_total":   decimal.NewFromInt(252),
		"total":       decimal.NewFromInt(1452),
		"amount_due":  decimal.NewFromInt(1452),
		"amount_paid": decimal.Zero,
	}
}

// withField clones a document and replaces one field.
func withField(doc ledger.Document, key string, value any) ledger.Document {
	out := doc.Clone()
	out[key] = value
	return out
}
