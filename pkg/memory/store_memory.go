package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const snapshotFormatVersion = 1

var errReadOnlyTx = errors.New("write attempted in read-only transaction")

// MemoryStore keeps every table in process memory. Writes run against a
// clone of the tables that replaces the live copy only on commit. When a
// snapshot path is set the tables are loaded from it on open and rewritten
// atomically after every commit.
type MemoryStore struct {
	mu           sync.RWMutex
	tables       *memTables
	snapshotPath string
	closed       bool
}

type memCourse struct {
	ID          int64  `json:"id"`
	Topic       string `json:"topic"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Objectives  string `json:"learning_objectives"`
	Sections    string `json:"sections"`
	Metadata    string `json:"metadata"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

type memSection struct {
	ID          int64  `json:"id"`
	CourseID    int64  `json:"course_id"`
	SectionID   string `json:"section_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

type memProgress struct {
	ID                 int64   `json:"id"`
	ClientID           string  `json:"client_id"`
	CourseID           int64   `json:"course_id"`
	SectionID          string  `json:"section_id"`
	Data               string  `json:"progress_data"`
	ComprehensionScore float64 `json:"comprehension_score"`
	InteractionCount   int     `json:"interaction_count"`
	LastActivityMS     int64   `json:"last_activity_ms"`
	CreatedAtMS        int64   `json:"created_at_ms"`
}

type memTables struct {
	Version  int                   `json:"version"`
	Seq      map[string]int64      `json:"seq"`
	Courses  []memCourse           `json:"course_outlines"`
	Sections []memSection          `json:"section_contents"`
	Progress []memProgress         `json:"learning_progress"`
	Records  []TeachingInteraction `json:"teaching_records"`
	Topics   []TopicSegment        `json:"topic_tracking"`
}

func newMemTables() *memTables {
	return &memTables{
		Version:  snapshotFormatVersion,
		Seq:      map[string]int64{},
		Courses:  []memCourse{},
		Sections: []memSection{},
		Progress: []memProgress{},
		Records:  []TeachingInteraction{},
		Topics:   []TopicSegment{},
	}
}

// Row values hold no shared mutable state, so copying the slices is a full
// copy.
func (t *memTables) clone() *memTables {
	out := &memTables{
		Version:  t.Version,
		Seq:      make(map[string]int64, len(t.Seq)),
		Courses:  append([]memCourse(nil), t.Courses...),
		Sections: append([]memSection(nil), t.Sections...),
		Progress: append([]memProgress(nil), t.Progress...),
		Records:  append([]TeachingInteraction(nil), t.Records...),
		Topics:   append([]TopicSegment(nil), t.Topics...),
	}
	for k, v := range t.Seq {
		out.Seq[k] = v
	}
	return out
}

func (t *memTables) next(table string) int64 {
	t.Seq[table]++
	return t.Seq[table]
}

// NewMemoryStore opens an in-memory store. An empty snapshotPath keeps data
// for the lifetime of the process only.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	s := &MemoryStore{tables: newMemTables(), snapshotPath: strings.TrimSpace(snapshotPath)}
	if s.snapshotPath == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return nil, storageErr("create snapshot dir", err)
	}
	raw, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, storageErr("read snapshot", err)
	}
	loaded := newMemTables()
	if err := json.Unmarshal(raw, loaded); err != nil {
		return nil, &SerializationError{Entity: "memory snapshot", Err: err}
	}
	if loaded.Version != snapshotFormatVersion {
		return nil, &SerializationError{Entity: "memory snapshot", Err: fmt.Errorf("unsupported snapshot version %d", loaded.Version)}
	}
	if loaded.Seq == nil {
		loaded.Seq = map[string]int64{}
	}
	s.tables = loaded
	return s, nil
}

func (s *MemoryStore) Backend() string { return string(StoreTypeMemory) }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return storageErr("update begin tx", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("update begin tx", errors.New("store is closed"))
	}

	work := s.tables.clone()
	if err := fn(&memTx{t: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("update commit", err)
	}
	if s.snapshotPath != "" {
		if err := writeSnapshot(s.snapshotPath, work); err != nil {
			return err
		}
	}
	s.tables = work
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return storageErr("view begin tx", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storageErr("view begin tx", errors.New("store is closed"))
	}
	return fn(&memTx{t: s.tables, readOnly: true})
}

func writeSnapshot(path string, t *memTables) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return &SerializationError{Entity: "memory snapshot", Err: err}
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return storageErr("write snapshot", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return storageErr("write snapshot", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return storageErr("sync snapshot", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return storageErr("close snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return storageErr("replace snapshot", err)
	}
	return nil
}

type memTx struct {
	t        *memTables
	readOnly bool
}

func (m *memTx) writable(op string) error {
	if m.readOnly {
		return storageErr(op, errReadOnlyTx)
	}
	return nil
}

// msTime drops sub-millisecond precision so both backends report identical
// timestamps.
func msTime(t time.Time) time.Time {
	return fromMS(toMS(t))
}

func (m *memTx) InsertCourse(_ context.Context, c CourseOutline) (int64, error) {
	if err := m.writable("insert course outline"); err != nil {
		return 0, err
	}
	objectives, err := encodeJSON("learning objectives", nonNilStrings(c.LearningObjectives))
	if err != nil {
		return 0, err
	}
	sections, err := encodeJSON("sections", nonNilSections(c.Sections))
	if err != nil {
		return 0, err
	}
	meta, err := encodeJSON("course metadata", nonNilMap(c.Metadata))
	if err != nil {
		return 0, err
	}
	id := m.t.next("course_outlines")
	m.t.Courses = append(m.t.Courses, memCourse{
		ID:          id,
		Topic:       c.Topic,
		Title:       c.Title,
		Description: c.Description,
		Objectives:  objectives,
		Sections:    sections,
		Metadata:    meta,
		CreatedAtMS: toMS(c.CreatedAt),
	})
	return id, nil
}

func (r memCourse) decode() (CourseOutline, error) {
	c := CourseOutline{
		ID:          r.ID,
		Topic:       r.Topic,
		Title:       r.Title,
		Description: r.Description,
		CreatedAt:   fromMS(r.CreatedAtMS),
	}
	if err := decodeJSON("learning objectives", r.Objectives, &c.LearningObjectives); err != nil {
		return CourseOutline{}, err
	}
	if err := decodeJSON("sections", r.Sections, &c.Sections); err != nil {
		return CourseOutline{}, err
	}
	if err := decodeJSON("course metadata", r.Metadata, &c.Metadata); err != nil {
		return CourseOutline{}, err
	}
	return c, nil
}

func (m *memTx) GetCourse(_ context.Context, id int64) (CourseOutline, error) {
	for _, r := range m.t.Courses {
		if r.ID == id {
			return r.decode()
		}
	}
	return CourseOutline{}, ErrNotFound
}

func (m *memTx) SearchCourses(_ context.Context, keywords string) ([]CourseSummary, error) {
	needle := strings.ToLower(keywords)
	out := []CourseSummary{}
	for _, r := range m.t.Courses {
		if strings.Contains(strings.ToLower(r.Topic), needle) ||
			strings.Contains(strings.ToLower(r.Title), needle) ||
			strings.Contains(strings.ToLower(r.Description), needle) {
			out = append(out, CourseSummary{
				ID:          r.ID,
				Topic:       r.Topic,
				Title:       r.Title,
				Description: r.Description,
				CreatedAt:   fromMS(r.CreatedAtMS),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memTx) ListCourses(_ context.Context) ([]CourseOutline, error) {
	out := make([]CourseOutline, 0, len(m.t.Courses))
	for _, r := range m.t.Courses {
		c, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memTx) InsertSectionContent(_ context.Context, sc SectionContent) (int64, error) {
	if err := m.writable("insert section content"); err != nil {
		return 0, err
	}
	raw, err := encodeContent(sc.Content)
	if err != nil {
		return 0, err
	}
	id := m.t.next("section_contents")
	m.t.Sections = append(m.t.Sections, memSection{
		ID:          id,
		CourseID:    sc.CourseID,
		SectionID:   sc.SectionID,
		Title:       sc.Title,
		Content:     raw,
		CreatedAtMS: toMS(sc.CreatedAt),
	})
	return id, nil
}

func (r memSection) decode() (SectionContent, error) {
	content, err := decodeContent(r.Content)
	if err != nil {
		return SectionContent{}, err
	}
	return SectionContent{
		ID:        r.ID,
		CourseID:  r.CourseID,
		SectionID: r.SectionID,
		Title:     r.Title,
		Content:   content,
		CreatedAt: fromMS(r.CreatedAtMS),
	}, nil
}

func (m *memTx) LatestSectionContent(_ context.Context, sectionID string) (SectionContent, error) {
	var best *memSection
	for i := range m.t.Sections {
		r := &m.t.Sections[i]
		if r.SectionID != sectionID {
			continue
		}
		if best == nil || r.CreatedAtMS > best.CreatedAtMS || (r.CreatedAtMS == best.CreatedAtMS && r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return SectionContent{}, ErrNotFound
	}
	return best.decode()
}

func (m *memTx) ListSectionContents(_ context.Context) ([]SectionContent, error) {
	out := make([]SectionContent, 0, len(m.t.Sections))
	for _, r := range m.t.Sections {
		sc, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func (r memProgress) decode() (LearningProgress, error) {
	data, err := decodeProgress(r.Data)
	if err != nil {
		return LearningProgress{}, err
	}
	return LearningProgress{
		ID:                 r.ID,
		ClientID:           r.ClientID,
		CourseID:           r.CourseID,
		SectionID:          r.SectionID,
		Data:               data,
		ComprehensionScore: r.ComprehensionScore,
		InteractionCount:   r.InteractionCount,
		LastActivity:       fromMS(r.LastActivityMS),
		CreatedAt:          fromMS(r.CreatedAtMS),
	}, nil
}

func (m *memTx) findProgress(key ProgressKey) int {
	for i, r := range m.t.Progress {
		if r.ClientID == key.ClientID && r.CourseID == key.CourseID && r.SectionID == key.SectionID {
			return i
		}
	}
	return -1
}

func (m *memTx) GetProgress(_ context.Context, key ProgressKey) (LearningProgress, error) {
	i := m.findProgress(key)
	if i < 0 {
		return LearningProgress{}, ErrNotFound
	}
	return m.t.Progress[i].decode()
}

func (m *memTx) InsertProgress(_ context.Context, p LearningProgress) (int64, error) {
	if err := m.writable("insert learning progress"); err != nil {
		return 0, err
	}
	if m.findProgress(p.Key()) >= 0 {
		return 0, storageErr("insert learning progress", fmt.Errorf("duplicate key (%s, %d, %s)", p.ClientID, p.CourseID, p.SectionID))
	}
	raw, err := encodeProgress(p.Data)
	if err != nil {
		return 0, err
	}
	id := m.t.next("learning_progress")
	m.t.Progress = append(m.t.Progress, memProgress{
		ID:                 id,
		ClientID:           p.ClientID,
		CourseID:           p.CourseID,
		SectionID:          p.SectionID,
		Data:               raw,
		ComprehensionScore: p.ComprehensionScore,
		InteractionCount:   p.InteractionCount,
		LastActivityMS:     toMS(p.LastActivity),
		CreatedAtMS:        toMS(p.CreatedAt),
	})
	return id, nil
}

func (m *memTx) UpdateProgress(_ context.Context, p LearningProgress) error {
	if err := m.writable("update learning progress"); err != nil {
		return err
	}
	raw, err := encodeProgress(p.Data)
	if err != nil {
		return err
	}
	for i := range m.t.Progress {
		r := &m.t.Progress[i]
		if r.ID != p.ID {
			continue
		}
		r.Data = raw
		r.ComprehensionScore = p.ComprehensionScore
		r.InteractionCount = p.InteractionCount
		r.LastActivityMS = toMS(p.LastActivity)
		return nil
	}
	return ErrNotFound
}

func (m *memTx) ListProgress(_ context.Context, clientID string, courseID *int64) ([]LearningProgress, error) {
	out := []LearningProgress{}
	for _, r := range m.t.Progress {
		if r.ClientID != clientID {
			continue
		}
		if courseID != nil && r.CourseID != *courseID {
			continue
		}
		p, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memTx) ListAllProgress(_ context.Context) ([]LearningProgress, error) {
	out := make([]LearningProgress, 0, len(m.t.Progress))
	for _, r := range m.t.Progress {
		p, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memTx) InsertInteraction(_ context.Context, it TeachingInteraction) (int64, error) {
	if err := m.writable("insert teaching record"); err != nil {
		return 0, err
	}
	it.ID = m.t.next("teaching_records")
	it.CreatedAt = msTime(it.CreatedAt)
	m.t.Records = append(m.t.Records, it)
	return it.ID, nil
}

func (m *memTx) ListInteractions(_ context.Context, q HistoryQuery) ([]TeachingInteraction, error) {
	out := []TeachingInteraction{}
	for _, r := range m.t.Records {
		if r.ClientID != q.ClientID {
			continue
		}
		if !q.AllSessions && r.SessionID != q.SessionID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit >= 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memTx) ListAllInteractions(_ context.Context) ([]TeachingInteraction, error) {
	return append([]TeachingInteraction{}, m.t.Records...), nil
}

func (m *memTx) openTopicIndex(clientID, sessionID string) int {
	best := -1
	for i, seg := range m.t.Topics {
		if seg.Closed || seg.ClientID != clientID || seg.SessionID != sessionID {
			continue
		}
		if best < 0 || seg.CreatedAt.After(m.t.Topics[best].CreatedAt) ||
			(seg.CreatedAt.Equal(m.t.Topics[best].CreatedAt) && seg.ID > m.t.Topics[best].ID) {
			best = i
		}
	}
	return best
}

func (m *memTx) OpenTopic(_ context.Context, clientID, sessionID string) (TopicSegment, error) {
	i := m.openTopicIndex(clientID, sessionID)
	if i < 0 {
		return TopicSegment{}, ErrNotFound
	}
	return m.t.Topics[i], nil
}

func (m *memTx) InsertTopic(_ context.Context, seg TopicSegment) (int64, error) {
	if err := m.writable("insert topic segment"); err != nil {
		return 0, err
	}
	if !seg.Closed && m.openTopicIndex(seg.ClientID, seg.SessionID) >= 0 {
		return 0, storageErr("insert topic segment", fmt.Errorf("open segment already exists for (%s, %s)", seg.ClientID, seg.SessionID))
	}
	seg.ID = m.t.next("topic_tracking")
	seg.StartedAt = msTime(seg.StartedAt)
	seg.CreatedAt = msTime(seg.CreatedAt)
	if seg.UpdatedAt.IsZero() {
		seg.UpdatedAt = seg.CreatedAt
	} else {
		seg.UpdatedAt = msTime(seg.UpdatedAt)
	}
	seg.Duration = seg.Duration.Truncate(time.Millisecond)
	m.t.Topics = append(m.t.Topics, seg)
	return seg.ID, nil
}

func (m *memTx) CloseTopic(_ context.Context, id int64, duration time.Duration, at time.Time) error {
	if err := m.writable("close topic segment"); err != nil {
		return err
	}
	for i := range m.t.Topics {
		seg := &m.t.Topics[i]
		if seg.ID != id || seg.Closed {
			continue
		}
		seg.Closed = true
		seg.Duration = duration.Truncate(time.Millisecond)
		seg.UpdatedAt = msTime(at)
		return nil
	}
	return ErrNotFound
}

func (m *memTx) BumpTopicCounters(_ context.Context, id int64, interactions, deviations int, at time.Time) error {
	if err := m.writable("bump topic counters"); err != nil {
		return err
	}
	for i := range m.t.Topics {
		seg := &m.t.Topics[i]
		if seg.ID != id {
			continue
		}
		seg.TotalInteractions += interactions
		seg.DeviationCount += deviations
		seg.UpdatedAt = msTime(at)
		return nil
	}
	return ErrNotFound
}

func (m *memTx) ListTopics(_ context.Context, clientID, sessionID string, limit int) ([]TopicSegment, error) {
	out := []TopicSegment{}
	for _, seg := range m.t.Topics {
		if seg.ClientID == clientID && seg.SessionID == sessionID {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTx) ListAllTopics(_ context.Context) ([]TopicSegment, error) {
	return append([]TopicSegment{}, m.t.Topics...), nil
}

func (m *memTx) Counts(_ context.Context) (TableCounts, error) {
	return TableCounts{
		Courses:         len(m.t.Courses),
		SectionContents: len(m.t.Sections),
		Progress:        len(m.t.Progress),
		Interactions:    len(m.t.Records),
		Topics:          len(m.t.Topics),
	}, nil
}
