// Package records implements the generic entity records store: a
// per-(workspace, entity_id) key-to-record map with pagination, substring
// text search, and a lookup-optimized listing path. Grounded on
// original_source/app/stores.py's MemoryGenericRecordStore and on the
// teacher's storage.go Transaction/Storage split — the store itself does
// not interpret field types or enforce lookup domains; the action executor
// layers that on top (spec.md §4.6).
package records

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lowcraft/runtime/internal/manifest"
)

// NotFoundError indicates a record id has no matching row.
type NotFoundError struct {
	EntityID string
	RecordID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("records: %s/%s not found", e.EntityID, e.RecordID)
}

type bucketKey struct {
	workspaceID string
	entityID    string
}

// Store is a tenant-scoped generic record store.
type Store struct {
	mu       sync.RWMutex
	buckets  map[bucketKey]map[string]manifest.Doc
	idOrder  map[bucketKey][]string // insertion order, for stable pagination
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{buckets: make(map[bucketKey]map[string]manifest.Doc), idOrder: make(map[bucketKey][]string)}
}

func (s *Store) bucket(workspaceID, entityID string) map[string]manifest.Doc {
	key := bucketKey{workspaceID, entityID}
	b, ok := s.buckets[key]
	if !ok {
		b = make(map[string]manifest.Doc)
		s.buckets[key] = b
	}
	return b
}

// Create assigns a UUID id and stores data under it.
func (s *Store) Create(workspaceID, entityID string, data manifest.Doc) (string, manifest.Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	rec := manifest.CloneDoc(data).(manifest.Doc)
	rec["id"] = id
	s.bucket(workspaceID, entityID)[id] = rec
	key := bucketKey{workspaceID, entityID}
	s.idOrder[key] = append(s.idOrder[key], id)
	return id, manifest.CloneDoc(rec).(manifest.Doc)
}

// Get returns the record, or NotFoundError.
func (s *Store) Get(workspaceID, entityID, recordID string) (manifest.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bucket(workspaceID, entityID)[recordID]
	if !ok {
		return nil, &NotFoundError{EntityID: entityID, RecordID: recordID}
	}
	return manifest.CloneDoc(rec).(manifest.Doc), nil
}

// Update replaces stored fields with updated (full-record semantics; the
// caller — the action executor — has already merged patch over existing).
func (s *Store) Update(workspaceID, entityID, recordID string, updated manifest.Doc) (manifest.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(workspaceID, entityID)
	if _, ok := b[recordID]; !ok {
		return nil, &NotFoundError{EntityID: entityID, RecordID: recordID}
	}
	rec := manifest.CloneDoc(updated).(manifest.Doc)
	rec["id"] = recordID
	b[recordID] = rec
	return manifest.CloneDoc(rec).(manifest.Doc), nil
}

// Delete removes the record, if present.
func (s *Store) Delete(workspaceID, entityID, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucketKey{workspaceID, entityID}
	delete(s.bucket(workspaceID, entityID), recordID)
	order := s.idOrder[key]
	for i, id := range order {
		if id == recordID {
			s.idOrder[key] = append(order[:i], order[i+1:]...)
			break
		}
	}
}

// CountByEntity returns the number of records under (workspaceID, entityID);
// satisfies registry.RecordCounter.
func (s *Store) CountByEntity(workspaceID, entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bucket(workspaceID, entityID))
}

func (s *Store) orderedIDs(workspaceID, entityID string) []string {
	key := bucketKey{workspaceID, entityID}
	ids := s.idOrder[key]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func matchesQuery(rec manifest.Doc, q string, searchFields []string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	for _, field := range searchFields {
		v, ok := rec[field]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprintf("%v", v)), q) {
			return true
		}
	}
	return false
}

// List performs a substring, case-insensitive match over searchFields with
// stable (insertion) ordering, honoring limit/offset.
func (s *Store) List(workspaceID, entityID string, limit, offset int, q string, searchFields []string) []manifest.Doc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.bucket(workspaceID, entityID)
	out := make([]manifest.Doc, 0, len(b))
	for _, id := range s.orderedIDs(workspaceID, entityID) {
		rec, ok := b[id]
		if !ok {
			continue
		}
		if matchesQuery(rec, q, searchFields) {
			out = append(out, manifest.CloneDoc(rec).(manifest.Doc))
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Page is one row of a list_page response: the record id plus the
// (optionally projected) record.
type Page struct {
	RecordID string
	Record   manifest.Doc
}

// ListPage performs opaque cursor pagination. The cursor is a base64-encoded
// offset into the stable insertion-ordered id sequence; when fields is
// non-empty, projected records retain "id" (spec.md §4.6).
func (s *Store) ListPage(workspaceID, entityID string, limit int, cursor, q string, searchFields, fields []string) ([]Page, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.bucket(workspaceID, entityID)
	matched := make([]manifest.Doc, 0, len(b))
	for _, id := range s.orderedIDs(workspaceID, entityID) {
		rec, ok := b[id]
		if !ok {
			continue
		}
		if matchesQuery(rec, q, searchFields) {
			matched = append(matched, rec)
		}
	}
	start := decodeCursor(cursor)
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]

	out := make([]Page, 0, len(page))
	for _, rec := range page {
		id := manifest.Str(rec, "id")
		projected := manifest.CloneDoc(rec).(manifest.Doc)
		if len(fields) > 0 {
			trimmed := manifest.Doc{}
			for _, f := range fields {
				if v, ok := rec[f]; ok {
					trimmed[f] = v
				}
			}
			if id != "" {
				trimmed["id"] = id
			}
			projected = trimmed
		}
		out = append(out, Page{RecordID: id, Record: projected})
	}

	nextCursor := ""
	if end < len(matched) {
		nextCursor = encodeCursor(end)
	}
	return out, nextCursor
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(b))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// LookupRow is one row of a lookup listing: id plus display label.
type LookupRow struct {
	ID      string
	Display string
}

// ListLookup returns an id+display-only page, for populating lookup-field
// pickers without shipping whole records over the wire.
func (s *Store) ListLookup(workspaceID, entityID, displayField string, limit int, q string) []LookupRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.bucket(workspaceID, entityID)
	out := make([]LookupRow, 0, limit)
	for _, id := range s.orderedIDs(workspaceID, entityID) {
		rec, ok := b[id]
		if !ok {
			continue
		}
		display := fmt.Sprintf("%v", rec[displayField])
		if q != "" && !strings.Contains(strings.ToLower(display), strings.ToLower(q)) {
			continue
		}
		out = append(out, LookupRow{ID: id, Display: display})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Aggregate groups recs by groupBy and applies measure to each group;
// measure is either "count" or "sum:<field>".
func Aggregate(recs []manifest.Doc, groupBy, measure string) map[string]float64 {
	out := map[string]float64{}
	sumField := ""
	isSum := strings.HasPrefix(measure, "sum:")
	if isSum {
		sumField = strings.TrimPrefix(measure, "sum:")
	}
	for _, rec := range recs {
		key := fmt.Sprintf("%v", rec[groupBy])
		if isSum {
			if v, ok := toFloat(rec[sumField]); ok {
				out[key] += v
			}
		} else {
			out[key]++
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SortedKeys returns m's keys in stable sorted order, for deterministic
// aggregate/pivot responses.
func SortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pivot groups recs by both rowGroupBy and colGroupBy, applying the same
// "count" or "sum:<field>" measure Aggregate uses to each (row, col) cell.
func Pivot(recs []manifest.Doc, rowGroupBy, colGroupBy, measure string) map[string]map[string]float64 {
	out := map[string]map[string]float64{}
	sumField := ""
	isSum := strings.HasPrefix(measure, "sum:")
	if isSum {
		sumField = strings.TrimPrefix(measure, "sum:")
	}
	for _, rec := range recs {
		row := fmt.Sprintf("%v", rec[rowGroupBy])
		col := fmt.Sprintf("%v", rec[colGroupBy])
		if out[row] == nil {
			out[row] = map[string]float64{}
		}
		if isSum {
			if v, ok := toFloat(rec[sumField]); ok {
				out[row][col] += v
			}
		} else {
			out[row][col]++
		}
	}
	return out
}
