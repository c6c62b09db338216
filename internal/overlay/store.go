package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultResyncDelay is the pause between a removal and the follow-up reload.
const DefaultResyncDelay = 150 * time.Millisecond

// Metrics receives persistence outcomes and index size updates.
type Metrics interface {
	ObservePersist(err error)
	SetRecords(n int)
}

// Config tunes a Store.
type Config struct {
	Logger      *slog.Logger
	ResyncDelay time.Duration
	// Location decides period boundaries. Defaults to time.Local.
	Location *time.Location
	Metrics  Metrics
}

// Store owns the partitioned index of temporary records. Every mutation is
// applied in memory and then written through to the mirror; mirror failures
// are logged and never undo the in-memory change.
//
// Each method runs to completion under a single mutex. Two callers racing on
// the same identifier are serialized but not otherwise coordinated, so the
// last write wins.
type Store struct {
	mu     sync.Mutex
	mirror Mirror
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time

	index     Snapshot
	next      int64
	simulated map[string]SimulatedApproval

	resync      deferredTask
	resyncDelay time.Duration
	metrics     Metrics

	dirty   bool
	lastErr error
	closed  bool
}

// NewStore constructs an empty store over mirror. Call Init before use.
func NewStore(mirror Mirror, cfg Config) *Store {
	if mirror == nil {
		mirror = NewMemoryMirror()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	delay := cfg.ResyncDelay
	if delay <= 0 {
		delay = DefaultResyncDelay
	}
	return &Store{
		mirror:      mirror,
		logger:      logger.With(slog.String("component", "overlay")),
		loc:         loc,
		now:         time.Now,
		index:       Snapshot{},
		next:        firstSequence,
		simulated:   make(map[string]SimulatedApproval),
		resyncDelay: delay,
		metrics:     cfg.Metrics,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.mu.Lock()
		s.now = now
		s.mu.Unlock()
	}
}

// Location returns the zone used for period boundaries.
func (s *Store) Location() *time.Location { return s.loc }

// CurrentPeriod returns the period containing the store clock's now.
func (s *Store) CurrentPeriod() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PeriodOf(s.now().In(s.loc))
}

// Init loads the mirror, repairs records whose stored id or expiry drifted and
// reseeds the identifier counter. A missing mirror is an empty index; an
// unreadable one is returned as an error.
func (s *Store) Init(ctx context.Context) error {
	snap, err := s.mirror.Load(ctx)
	if err != nil {
		return fmt.Errorf("overlay: init: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(ctx, snap)
	s.logger.Info("overlay store ready",
		slog.Int("records", s.index.Len()),
		slog.Int("periods", len(s.index)),
		slog.String("next_id", formatID(s.next)))
	return nil
}

// Close cancels the pending resync and flushes unsaved state.
func (s *Store) Close(ctx context.Context) error {
	s.resync.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty {
		s.persist(ctx)
		return s.lastErr
	}
	return nil
}

// Create inserts a new record for ownerID in the period of ref (now when ref
// is zero). Payload keys are copied first; the generated id and the other
// system attributes always override them. Only approvalStatus, motive and
// originalExternalId are accepted from the payload among system keys.
func (s *Store) Create(ctx context.Context, ownerID string, payload map[string]any, ref time.Time) (Record, error) {
	if ownerID == "" {
		return Record{}, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}

	rec := Record{Fields: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case KeyApprovalStatus:
			if v == nil {
				continue
			}
			status, err := ParseApprovalStatus(stringValue(v))
			if err != nil {
				return Record{}, err
			}
			rec.ApprovalStatus = status
		case KeyMotive:
			rec.Motive = stringValue(v)
		case KeyOriginalExternalID:
			rec.OriginalExternalID = stringValue(v)
		default:
			if !IsSystemKey(k) {
				rec.Fields[k] = v
			}
		}
	}

	now := stamp(s.now())
	if ref.IsZero() {
		ref = now
	}
	ref = ref.In(s.loc)
	rec.ID = formatID(s.next)
	s.next++
	rec.Type = TypeTemporary
	rec.OwnerID = ownerID
	rec.Period = PeriodOf(ref)
	rec.CreatedAt = now
	rec.ModifiedAt = now
	rec.ExpiresAt = stamp(nextMonthStart(ref))

	s.partition(rec.Period, ownerID)[rec.ID] = &rec
	s.persist(ctx)
	return rec.Clone(), nil
}

// Locate scans every partition for id.
func (s *Store) Locate(id string) (Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, period, owner, ok := s.find(id)
	if !ok {
		return Location{}, false
	}
	return Location{Record: rec.Clone(), Period: period, OwnerID: owner}, true
}

// Get returns the record stored under id.
func (s *Store) Get(id string) (Record, bool) {
	loc, ok := s.Locate(id)
	return loc.Record, ok
}

// Update shallow-merges patch into the record. System keys other than
// approvalStatus and motive are ignored; a nil value removes the field.
func (s *Store) Update(ctx context.Context, id string, patch map[string]any) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	rec, _, _, ok := s.find(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var status ApprovalStatus
	if v, ok := patch[KeyApprovalStatus]; ok && v != nil {
		parsed, err := ParseApprovalStatus(stringValue(v))
		if err != nil {
			return Record{}, err
		}
		status = parsed
	}
	for k, v := range patch {
		switch {
		case k == KeyMotive:
			rec.Motive = stringValue(v)
		case IsSystemKey(k):
		case v == nil:
			delete(rec.Fields, k)
		default:
			if rec.Fields == nil {
				rec.Fields = map[string]any{}
			}
			rec.Fields[k] = v
		}
	}
	if status != "" {
		rec.ApprovalStatus = status
	}
	rec.ModifiedAt = stamp(s.now())
	s.persist(ctx)
	return rec.Clone(), nil
}

// Approve marks id approved by approverID. Demonstration ids are recorded in
// the simulated approval table instead of the index.
func (s *Store) Approve(ctx context.Context, id, approverID string) (Approval, error) {
	return s.decide(ctx, id, approverID, StatusApproved, "")
}

// Reject marks id rejected by approverID with an optional reason.
func (s *Store) Reject(ctx context.Context, id, approverID, reason string) (Approval, error) {
	return s.decide(ctx, id, approverID, StatusRejected, reason)
}

func (s *Store) decide(ctx context.Context, id, actor string, status ApprovalStatus, reason string) (Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Approval{}, ErrClosed
	}
	now := stamp(s.now())

	if IsFallbackID(id) {
		entry := SimulatedApproval{ID: id, Status: status, Actor: actor, At: now, Motive: reason}
		s.simulated[id] = entry
		s.logger.Info("simulated approval recorded",
			slog.String("id", id), slog.String("status", string(status)), slog.String("actor", actor))
		return Approval{Simulated: &entry}, nil
	}

	rec, _, _, ok := s.find(id)
	if !ok {
		return Approval{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.ApprovalStatus = status
	switch status {
	case StatusApproved:
		rec.ApprovedBy = actor
		rec.ApprovedAt = &now
	case StatusRejected:
		rec.RejectedBy = actor
		rec.RejectedAt = &now
		rec.Motive = reason
	}
	rec.ModifiedAt = now
	s.persist(ctx)
	out := rec.Clone()
	return Approval{Record: &out}, nil
}

// SimulatedApproval returns the decision recorded for a demonstration id.
func (s *Store) SimulatedApproval(id string) (SimulatedApproval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.simulated[id]
	return entry, ok
}

// SimulatedApprovals returns a copy of the whole simulated approval table.
func (s *Store) SimulatedApprovals() map[string]SimulatedApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SimulatedApproval, len(s.simulated))
	for k, v := range s.simulated {
		out[k] = v
	}
	return out
}

// Remove deletes id from the owner/period partition, dropping partitions that
// become empty. A reload from the mirror is scheduled shortly after a
// successful removal.
func (s *Store) Remove(ctx context.Context, ownerID, period, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.drop(period, ownerID, id) {
		return false
	}
	s.persist(ctx)
	s.scheduleResync()
	return true
}

// RemoveOwnerPeriod deletes every record of ownerID in period and returns how
// many were removed.
func (s *Store) RemoveOwnerPeriod(ctx context.Context, ownerID, period string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	owners, ok := s.index[period]
	if !ok {
		return 0
	}
	n := len(owners[ownerID])
	if n == 0 {
		return 0
	}
	delete(owners, ownerID)
	if len(owners) == 0 {
		delete(s.index, period)
	}
	s.persist(ctx)
	s.scheduleResync()
	return n
}

// EvictExpired removes every record whose expiry has passed and persists when
// anything was removed.
func (s *Store) EvictExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	now := s.now()
	evicted := 0
	for period, owners := range s.index {
		for owner, recs := range owners {
			for id, rec := range recs {
				if rec.ExpiredAt(now) {
					s.drop(period, owner, id)
					evicted++
				}
			}
		}
	}
	if evicted > 0 {
		s.logger.Info("evicted expired overlay records", slog.Int("count", evicted))
		s.persist(ctx)
	}
	return evicted
}

// FindMask returns the ownerID's active record masking externalID.
func (s *Store) FindMask(ownerID, externalID string) (Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	periods := make([]string, 0, len(s.index))
	for p := range s.index {
		periods = append(periods, p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	for _, period := range periods {
		for _, rec := range sortRecords(s.index[period][ownerID]) {
			if rec.OriginalExternalID == externalID && !rec.ExpiredAt(now) {
				return Location{Record: rec.Clone(), Period: period, OwnerID: ownerID}, true
			}
		}
	}
	return Location{}, false
}

// ListForOwnerPeriod returns the partition content ordered by id sequence.
func (s *Store) ListForOwnerPeriod(ownerID, period string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(sortRecords(s.index[period][ownerID]))
}

// ListActive is ListForOwnerPeriod without records whose expiry has passed.
func (s *Store) ListActive(ownerID, period string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active(sortRecords(s.index[period][ownerID]))
}

// ListPeriod returns the unexpired records of every owner in period.
func (s *Store) ListPeriod(period string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []*Record
	for _, byID := range s.index[period] {
		for _, rec := range byID {
			recs = append(recs, rec)
		}
	}
	return s.active(sortSlice(recs))
}

// ListAll flattens the whole index, ordered by id sequence.
func (s *Store) ListAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []*Record
	for _, owners := range s.index {
		for _, byID := range owners {
			for _, rec := range byID {
				recs = append(recs, rec)
			}
		}
	}
	return cloneAll(sortSlice(recs))
}

// Periods lists the period partitions currently present.
func (s *Store) Periods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.index))
	for p := range s.index {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// LastPersistError returns the error of the most recent failed flush, or nil
// once a later flush succeeded.
func (s *Store) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot returns an encoded copy of the index as it would be mirrored.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EncodeSnapshot(s.index)
}

// Resync brings memory and mirror back in line. When the previous flush
// failed, memory is authoritative and the flush is retried; otherwise the
// index is reloaded from the mirror.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	dirty := s.dirty
	if dirty {
		s.persist(ctx)
		err := s.lastErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.Reload(ctx)
}

// Reload replaces the index with the mirror content, repairing and reseeding
// as Init does. The counter never moves backwards. The mirror is read under
// the store lock so no mutation lands between the read and the install.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	snap, err := s.mirror.Load(ctx)
	if err != nil {
		s.logger.Warn("reload overlay mirror", slog.Any("error", err))
		return fmt.Errorf("overlay: reload: %w", err)
	}
	s.install(ctx, snap)
	return nil
}

// FlushResync runs a pending post-removal resync immediately.
func (s *Store) FlushResync() bool { return s.resync.Flush() }

// ResyncPending reports whether a post-removal resync is scheduled.
func (s *Store) ResyncPending() bool { return s.resync.Pending() }

func (s *Store) scheduleResync() {
	s.resync.Schedule(s.resyncDelay, func() {
		if err := s.Resync(context.Background()); err != nil {
			s.logger.Warn("deferred overlay resync", slog.Any("error", err))
		}
	})
}

// install must be called with mu held.
func (s *Store) install(ctx context.Context, snap Snapshot) {
	if snap == nil {
		snap = Snapshot{}
	}
	s.index = snap
	if s.reconcileIDs() > 0 {
		s.persist(ctx)
	}
	s.reseedCounter()
	if s.metrics != nil {
		s.metrics.SetRecords(s.index.Len())
	}
}

// reconcileIDs realigns each record with the partition it is stored under and
// recomputes expiry from the period. It returns the number of records touched.
func (s *Store) reconcileIDs() int {
	fixed := 0
	for period, owners := range s.index {
		expiry, err := PeriodExpiry(period, s.loc)
		if err != nil {
			s.logger.Warn("overlay period key is not a month", slog.String("period", period))
		}
		for owner, recs := range owners {
			for key, rec := range recs {
				touched := false
				if rec.ID != key {
					s.logger.Warn("overlay record id mismatch repaired",
						slog.String("key", key), slog.String("stored_id", rec.ID))
					rec.ID = key
					touched = true
				}
				if rec.Period != period {
					rec.Period = period
					touched = true
				}
				if rec.OwnerID != owner {
					rec.OwnerID = owner
					touched = true
				}
				if rec.Type != TypeTemporary {
					rec.Type = TypeTemporary
					touched = true
				}
				if err == nil && !rec.ExpiresAt.Equal(expiry) {
					rec.ExpiresAt = stamp(expiry)
					touched = true
				}
				if rec.Fields == nil {
					rec.Fields = map[string]any{}
				}
				if touched {
					fixed++
				}
			}
		}
	}
	if fixed > 0 {
		s.logger.Info("overlay self-heal complete", slog.Int("repaired", fixed))
	}
	return fixed
}

// reseedCounter moves the counter past every stored temp_ suffix.
func (s *Store) reseedCounter() {
	highest := int64(-1)
	for _, owners := range s.index {
		for _, recs := range owners {
			for key := range recs {
				if n, ok := parseSequence(key); ok && n > highest {
					highest = n
				}
			}
		}
	}
	if highest+1 > s.next {
		s.next = highest + 1
	}
}

// persist writes the index through. Failures mark the store dirty and are
// swallowed. Must be called with mu held.
func (s *Store) persist(ctx context.Context) {
	err := s.mirror.Save(context.WithoutCancel(ctx), s.index)
	if s.metrics != nil {
		s.metrics.ObservePersist(err)
		s.metrics.SetRecords(s.index.Len())
	}
	if err != nil {
		s.dirty = true
		s.lastErr = err
		s.logger.Warn("persist overlay mirror", slog.Any("error", err))
		return
	}
	s.dirty = false
	s.lastErr = nil
}

func (s *Store) partition(period, ownerID string) map[string]*Record {
	owners, ok := s.index[period]
	if !ok {
		owners = make(map[string]map[string]*Record)
		s.index[period] = owners
	}
	recs, ok := owners[ownerID]
	if !ok {
		recs = make(map[string]*Record)
		owners[ownerID] = recs
	}
	return recs
}

func (s *Store) find(id string) (*Record, string, string, bool) {
	for period, owners := range s.index {
		for owner, recs := range owners {
			if rec, ok := recs[id]; ok {
				return rec, period, owner, true
			}
		}
	}
	return nil, "", "", false
}

// drop removes one entry and any partitions left empty.
func (s *Store) drop(period, ownerID, id string) bool {
	owners, ok := s.index[period]
	if !ok {
		return false
	}
	recs, ok := owners[ownerID]
	if !ok {
		return false
	}
	if _, ok := recs[id]; !ok {
		return false
	}
	delete(recs, id)
	if len(recs) == 0 {
		delete(owners, ownerID)
	}
	if len(owners) == 0 {
		delete(s.index, period)
	}
	return true
}

func (s *Store) active(recs []*Record) []Record {
	now := s.now()
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if !rec.ExpiredAt(now) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func sortRecords(byID map[string]*Record) []*Record {
	recs := make([]*Record, 0, len(byID))
	for _, rec := range byID {
		recs = append(recs, rec)
	}
	return sortSlice(recs)
}

func sortSlice(recs []*Record) []*Record {
	sort.Slice(recs, func(i, j int) bool {
		a, aok := parseSequence(recs[i].ID)
		b, bok := parseSequence(recs[j].ID)
		if aok && bok {
			return a < b
		}
		if aok != bok {
			return aok
		}
		return recs[i].ID < recs[j].ID
	})
	return recs
}

func cloneAll(recs []*Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Clone())
	}
	return out
}
