package memory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
)

var (
	registerLowerOnce sync.Once
	registerLowerErr  error
)

// registerUnicodeLower installs unicode_lower(x), which folds case the way
// strings.ToLower does. SQLite's built-in lower() only folds ASCII.
func registerUnicodeLower() error {
	registerLowerOnce.Do(func() {
		registerLowerErr = sqlite.RegisterDeterministicScalarFunction("unicode_lower", 1,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				switch v := args[0].(type) {
				case string:
					return strings.ToLower(v), nil
				case []byte:
					return strings.ToLower(string(v)), nil
				default:
					return v, nil
				}
			})
	})
	return registerLowerErr
}

// SQLiteStore is the default embedded backend.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates/opens the teaching memory database at path and
// brings its schema up to date.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, invalid("db_path", "must not be empty")
	}
	if err := registerUnicodeLower(); err != nil {
		return nil, storageErr("register sqlite functions", err)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storageErr("create db dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open sqlite db", err)
	}
	// Single-process service. One shared connection serializes writers and
	// keeps :memory: databases alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, path: path}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Backend() string { return string(StoreTypeSQLite) }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// schemaMigrations are applied in order; PRAGMA user_version records how many
// have run. Append only.
var schemaMigrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS course_outlines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			learning_objectives_json TEXT NOT NULL DEFAULT '[]',
			sections_json TEXT NOT NULL DEFAULT '[]',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS section_contents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id INTEGER NOT NULL DEFAULT 0,
			section_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS learning_progress (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			course_id INTEGER NOT NULL,
			section_id TEXT NOT NULL,
			progress_json TEXT NOT NULL DEFAULT '{}',
			comprehension_score REAL NOT NULL DEFAULT 0,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			last_activity_ms INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			UNIQUE(client_id, course_id, section_id)
		);`,
		`CREATE TABLE IF NOT EXISTS teaching_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			interaction_type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			response TEXT NOT NULL DEFAULT '',
			topic_relevance REAL NOT NULL DEFAULT 1.0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS topic_tracking (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			current_topic TEXT NOT NULL DEFAULT '',
			topic_start_ms INTEGER NOT NULL,
			topic_duration_ms INTEGER NOT NULL DEFAULT 0,
			ended_at_ms INTEGER NOT NULL DEFAULT 0,
			deviation_count INTEGER NOT NULL DEFAULT 0,
			total_interactions INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
	},
	{
		`CREATE INDEX IF NOT EXISTS course_outlines_topic_idx ON course_outlines(topic);`,
		`CREATE INDEX IF NOT EXISTS section_contents_section_idx ON section_contents(section_id, created_at_ms DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS learning_progress_client_idx ON learning_progress(client_id, last_activity_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS teaching_records_client_idx ON teaching_records(client_id, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS teaching_records_session_idx ON teaching_records(client_id, session_id, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS teaching_records_topic_idx ON teaching_records(topic);`,
		`CREATE INDEX IF NOT EXISTS topic_tracking_session_idx ON topic_tracking(client_id, session_id, created_at_ms DESC);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS topic_tracking_one_open ON topic_tracking(client_id, session_id) WHERE ended_at_ms = 0;`,
	},
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, stmt := range pragmas {
		if _, err := s.db.Exec(stmt); err != nil {
			return storageErr(fmt.Sprintf("init pragma %q", trimSQL(stmt)), err)
		}
	}

	var version int
	if err := s.db.QueryRow(`PRAGMA user_version;`).Scan(&version); err != nil {
		return storageErr("read schema version", err)
	}

	for i := version; i < len(schemaMigrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return storageErr("begin schema migration", err)
		}
		for _, stmt := range schemaMigrations[i] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return storageErr(fmt.Sprintf("init sqlite schema failed on %q", trimSQL(stmt)), err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()
			return storageErr("set schema version", err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr("commit schema migration", err)
		}
	}
	return nil
}

// SchemaVersion reports how many schema migrations have been applied.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return 0, storageErr("read schema version", err)
	}
	return version, nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, "update", fn)
}

// View shares Update's path: the single connection already serializes access
// and the driver does not offer read-only transactions.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, "view", fn)
}

func (s *SQLiteStore) run(ctx context.Context, op string, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op+" begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op+" commit", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func toMS(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (t *sqliteTx) InsertCourse(ctx context.Context, c CourseOutline) (int64, error) {
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
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO course_outlines(topic, title, description, learning_objectives_json, sections_json, metadata_json, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)`, c.Topic, c.Title, c.Description, objectives, sections, meta, toMS(c.CreatedAt))
	if err != nil {
		return 0, storageErr("insert course outline", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert course outline id", err)
	}
	return id, nil
}

const courseColumns = `id, topic, title, description, learning_objectives_json, sections_json, metadata_json, created_at_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCourse(row rowScanner) (CourseOutline, error) {
	var c CourseOutline
	var objectivesRaw, sectionsRaw, metaRaw string
	var createdMS int64
	if err := row.Scan(&c.ID, &c.Topic, &c.Title, &c.Description, &objectivesRaw, &sectionsRaw, &metaRaw, &createdMS); err != nil {
		return CourseOutline{}, err
	}
	if err := decodeJSON("learning objectives", objectivesRaw, &c.LearningObjectives); err != nil {
		return CourseOutline{}, err
	}
	if err := decodeJSON("sections", sectionsRaw, &c.Sections); err != nil {
		return CourseOutline{}, err
	}
	if err := decodeJSON("course metadata", metaRaw, &c.Metadata); err != nil {
		return CourseOutline{}, err
	}
	c.CreatedAt = fromMS(createdMS)
	return c, nil
}

func (t *sqliteTx) GetCourse(ctx context.Context, id int64) (CourseOutline, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM course_outlines WHERE id = ?`, id)
	c, err := scanCourse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CourseOutline{}, ErrNotFound
		}
		if IsSerialization(err) {
			return CourseOutline{}, err
		}
		return CourseOutline{}, storageErr("get course outline", err)
	}
	return c, nil
}

func likePattern(keywords string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(keywords)) + "%"
}

func (t *sqliteTx) SearchCourses(ctx context.Context, keywords string) ([]CourseSummary, error) {
	pattern := likePattern(keywords)
	rows, err := t.tx.QueryContext(ctx, `
SELECT id, topic, title, description, created_at_ms
FROM course_outlines
WHERE unicode_lower(topic) LIKE ? ESCAPE '\'
OR unicode_lower(title) LIKE ? ESCAPE '\'
OR unicode_lower(description) LIKE ? ESCAPE '\'
ORDER BY created_at_ms DESC, id DESC`, pattern, pattern, pattern)
	if err != nil {
		return nil, storageErr("search courses", err)
	}
	defer rows.Close()

	out := []CourseSummary{}
	for rows.Next() {
		var cs CourseSummary
		var createdMS int64
		if err := rows.Scan(&cs.ID, &cs.Topic, &cs.Title, &cs.Description, &createdMS); err != nil {
			return nil, storageErr("scan course summary", err)
		}
		cs.CreatedAt = fromMS(createdMS)
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate course summaries", err)
	}
	return out, nil
}

func (t *sqliteTx) ListCourses(ctx context.Context) ([]CourseOutline, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+courseColumns+` FROM course_outlines ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list courses", err)
	}
	defer rows.Close()

	out := []CourseOutline{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			if IsSerialization(err) {
				return nil, err
			}
			return nil, storageErr("scan course outline", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate course outlines", err)
	}
	return out, nil
}

func (t *sqliteTx) InsertSectionContent(ctx context.Context, sc SectionContent) (int64, error) {
	raw, err := encodeContent(sc.Content)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO section_contents(course_id, section_id, title, content_json, created_at_ms)
VALUES(?, ?, ?, ?, ?)`, sc.CourseID, sc.SectionID, sc.Title, raw, toMS(sc.CreatedAt))
	if err != nil {
		return 0, storageErr("insert section content", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert section content id", err)
	}
	return id, nil
}

const sectionColumns = `id, course_id, section_id, title, content_json, created_at_ms`

func scanSection(row rowScanner) (SectionContent, error) {
	var sc SectionContent
	var raw string
	var createdMS int64
	if err := row.Scan(&sc.ID, &sc.CourseID, &sc.SectionID, &sc.Title, &raw, &createdMS); err != nil {
		return SectionContent{}, err
	}
	content, err := decodeContent(raw)
	if err != nil {
		return SectionContent{}, err
	}
	sc.Content = content
	sc.CreatedAt = fromMS(createdMS)
	return sc, nil
}

func (t *sqliteTx) LatestSectionContent(ctx context.Context, sectionID string) (SectionContent, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+sectionColumns+`
FROM section_contents
WHERE section_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT 1`, sectionID)
	sc, err := scanSection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SectionContent{}, ErrNotFound
		}
		if IsSerialization(err) {
			return SectionContent{}, err
		}
		return SectionContent{}, storageErr("get section content", err)
	}
	return sc, nil
}

func (t *sqliteTx) ListSectionContents(ctx context.Context) ([]SectionContent, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+sectionColumns+` FROM section_contents ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list section contents", err)
	}
	defer rows.Close()

	out := []SectionContent{}
	for rows.Next() {
		sc, err := scanSection(rows)
		if err != nil {
			if IsSerialization(err) {
				return nil, err
			}
			return nil, storageErr("scan section content", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate section contents", err)
	}
	return out, nil
}

const progressColumns = `id, client_id, course_id, section_id, progress_json, comprehension_score, interaction_count, last_activity_ms, created_at_ms`

func scanProgress(row rowScanner) (LearningProgress, error) {
	var p LearningProgress
	var raw string
	var lastMS, createdMS int64
	if err := row.Scan(&p.ID, &p.ClientID, &p.CourseID, &p.SectionID, &raw, &p.ComprehensionScore, &p.InteractionCount, &lastMS, &createdMS); err != nil {
		return LearningProgress{}, err
	}
	data, err := decodeProgress(raw)
	if err != nil {
		return LearningProgress{}, err
	}
	p.Data = data
	p.LastActivity = fromMS(lastMS)
	p.CreatedAt = fromMS(createdMS)
	return p, nil
}

func (t *sqliteTx) GetProgress(ctx context.Context, key ProgressKey) (LearningProgress, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+progressColumns+`
FROM learning_progress
WHERE client_id = ? AND course_id = ? AND section_id = ?`, key.ClientID, key.CourseID, key.SectionID)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LearningProgress{}, ErrNotFound
		}
		if IsSerialization(err) {
			return LearningProgress{}, err
		}
		return LearningProgress{}, storageErr("get learning progress", err)
	}
	return p, nil
}

func (t *sqliteTx) InsertProgress(ctx context.Context, p LearningProgress) (int64, error) {
	raw, err := encodeProgress(p.Data)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO learning_progress(client_id, course_id, section_id, progress_json, comprehension_score, interaction_count, last_activity_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`, p.ClientID, p.CourseID, p.SectionID, raw, p.ComprehensionScore, p.InteractionCount, toMS(p.LastActivity), toMS(p.CreatedAt))
	if err != nil {
		return 0, storageErr("insert learning progress", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert learning progress id", err)
	}
	return id, nil
}

func (t *sqliteTx) UpdateProgress(ctx context.Context, p LearningProgress) error {
	raw, err := encodeProgress(p.Data)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE learning_progress
SET progress_json = ?, comprehension_score = ?, interaction_count = ?, last_activity_ms = ?
WHERE id = ?`, raw, p.ComprehensionScore, p.InteractionCount, toMS(p.LastActivity), p.ID)
	if err != nil {
		return storageErr("update learning progress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) ListProgress(ctx context.Context, clientID string, courseID *int64) ([]LearningProgress, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if courseID != nil {
		rows, err = t.tx.QueryContext(ctx, `
SELECT `+progressColumns+`
FROM learning_progress
WHERE client_id = ? AND course_id = ?
ORDER BY last_activity_ms DESC, id DESC`, clientID, *courseID)
	} else {
		rows, err = t.tx.QueryContext(ctx, `
SELECT `+progressColumns+`
FROM learning_progress
WHERE client_id = ?
ORDER BY last_activity_ms DESC, id DESC`, clientID)
	}
	if err != nil {
		return nil, storageErr("list learning progress", err)
	}
	defer rows.Close()
	return collectProgress(rows)
}

func (t *sqliteTx) ListAllProgress(ctx context.Context) ([]LearningProgress, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+progressColumns+` FROM learning_progress ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list all learning progress", err)
	}
	defer rows.Close()
	return collectProgress(rows)
}

func collectProgress(rows *sql.Rows) ([]LearningProgress, error) {
	out := []LearningProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			if IsSerialization(err) {
				return nil, err
			}
			return nil, storageErr("scan learning progress", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate learning progress", err)
	}
	return out, nil
}

func (t *sqliteTx) InsertInteraction(ctx context.Context, it TeachingInteraction) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO teaching_records(client_id, session_id, topic, interaction_type, content, response, topic_relevance, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`, it.ClientID, it.SessionID, it.Topic, string(it.Type), it.Content, it.Response, it.TopicRelevance, toMS(it.CreatedAt))
	if err != nil {
		return 0, storageErr("insert teaching record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert teaching record id", err)
	}
	return id, nil
}

const interactionColumns = `id, client_id, session_id, topic, interaction_type, content, response, topic_relevance, created_at_ms`

func (t *sqliteTx) ListInteractions(ctx context.Context, q HistoryQuery) ([]TeachingInteraction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if !q.AllSessions {
		rows, err = t.tx.QueryContext(ctx, `
SELECT `+interactionColumns+`
FROM teaching_records
WHERE client_id = ? AND session_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, q.ClientID, q.SessionID, q.Limit)
	} else {
		rows, err = t.tx.QueryContext(ctx, `
SELECT `+interactionColumns+`
FROM teaching_records
WHERE client_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, q.ClientID, q.Limit)
	}
	if err != nil {
		return nil, storageErr("list teaching records", err)
	}
	defer rows.Close()
	return collectInteractions(rows)
}

func (t *sqliteTx) ListAllInteractions(ctx context.Context) ([]TeachingInteraction, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+interactionColumns+` FROM teaching_records ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list all teaching records", err)
	}
	defer rows.Close()
	return collectInteractions(rows)
}

func collectInteractions(rows *sql.Rows) ([]TeachingInteraction, error) {
	out := []TeachingInteraction{}
	for rows.Next() {
		var it TeachingInteraction
		var kind string
		var createdMS int64
		if err := rows.Scan(&it.ID, &it.ClientID, &it.SessionID, &it.Topic, &kind, &it.Content, &it.Response, &it.TopicRelevance, &createdMS); err != nil {
			return nil, storageErr("scan teaching record", err)
		}
		it.Type = InteractionType(kind)
		it.CreatedAt = fromMS(createdMS)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate teaching records", err)
	}
	return out, nil
}

const topicColumns = `id, client_id, session_id, current_topic, topic_start_ms, topic_duration_ms, ended_at_ms, deviation_count, total_interactions, created_at_ms, updated_at_ms`

func scanTopic(row rowScanner) (TopicSegment, error) {
	var seg TopicSegment
	var startMS, durationMS, endedMS, createdMS, updatedMS int64
	if err := row.Scan(&seg.ID, &seg.ClientID, &seg.SessionID, &seg.Topic, &startMS, &durationMS, &endedMS, &seg.DeviationCount, &seg.TotalInteractions, &createdMS, &updatedMS); err != nil {
		return TopicSegment{}, err
	}
	seg.StartedAt = fromMS(startMS)
	seg.Duration = time.Duration(durationMS) * time.Millisecond
	seg.Closed = endedMS != 0
	seg.CreatedAt = fromMS(createdMS)
	seg.UpdatedAt = fromMS(updatedMS)
	return seg, nil
}

func (t *sqliteTx) OpenTopic(ctx context.Context, clientID, sessionID string) (TopicSegment, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+topicColumns+`
FROM topic_tracking
WHERE client_id = ? AND session_id = ? AND ended_at_ms = 0
ORDER BY created_at_ms DESC, id DESC
LIMIT 1`, clientID, sessionID)
	seg, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TopicSegment{}, ErrNotFound
		}
		return TopicSegment{}, storageErr("get open topic", err)
	}
	return seg, nil
}

func (t *sqliteTx) InsertTopic(ctx context.Context, seg TopicSegment) (int64, error) {
	created := toMS(seg.CreatedAt)
	updated := created
	if !seg.UpdatedAt.IsZero() {
		updated = seg.UpdatedAt.UnixMilli()
	}
	var ended int64
	if seg.Closed {
		ended = updated
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO topic_tracking(client_id, session_id, current_topic, topic_start_ms, topic_duration_ms, ended_at_ms, deviation_count, total_interactions, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ClientID, seg.SessionID, seg.Topic, toMS(seg.StartedAt), seg.Duration.Milliseconds(), ended,
		seg.DeviationCount, seg.TotalInteractions, created, updated)
	if err != nil {
		return 0, storageErr("insert topic segment", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert topic segment id", err)
	}
	return id, nil
}

func (t *sqliteTx) CloseTopic(ctx context.Context, id int64, duration time.Duration, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE topic_tracking
SET topic_duration_ms = ?, ended_at_ms = ?, updated_at_ms = ?
WHERE id = ? AND ended_at_ms = 0`, duration.Milliseconds(), toMS(at), toMS(at), id)
	if err != nil {
		return storageErr("close topic segment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) BumpTopicCounters(ctx context.Context, id int64, interactions, deviations int, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE topic_tracking
SET total_interactions = total_interactions + ?, deviation_count = deviation_count + ?, updated_at_ms = ?
WHERE id = ?`, interactions, deviations, toMS(at), id)
	if err != nil {
		return storageErr("bump topic counters", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) ListTopics(ctx context.Context, clientID, sessionID string, limit int) ([]TopicSegment, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT `+topicColumns+`
FROM topic_tracking
WHERE client_id = ? AND session_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, clientID, sessionID, limit)
	if err != nil {
		return nil, storageErr("list topic segments", err)
	}
	defer rows.Close()
	return collectTopics(rows)
}

func (t *sqliteTx) ListAllTopics(ctx context.Context) ([]TopicSegment, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+topicColumns+` FROM topic_tracking ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list all topic segments", err)
	}
	defer rows.Close()
	return collectTopics(rows)
}

func collectTopics(rows *sql.Rows) ([]TopicSegment, error) {
	out := []TopicSegment{}
	for rows.Next() {
		seg, err := scanTopic(rows)
		if err != nil {
			return nil, storageErr("scan topic segment", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate topic segments", err)
	}
	return out, nil
}

func (t *sqliteTx) Counts(ctx context.Context) (TableCounts, error) {
	var c TableCounts
	targets := []struct {
		table string
		dst   *int
	}{
		{"course_outlines", &c.Courses},
		{"section_contents", &c.SectionContents},
		{"learning_progress", &c.Progress},
		{"teaching_records", &c.Interactions},
		{"topic_tracking", &c.Topics},
	}
	for _, target := range targets {
		if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+target.table).Scan(target.dst); err != nil {
			return TableCounts{}, storageErr("count "+target.table, err)
		}
	}
	return c, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilSections(v []SectionRef) []SectionRef {
	if v == nil {
		return []SectionRef{}
	}
	return v
}

func nonNilMap(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}
