package memory

import (
	"context"
	"strings"
	"time"

	"github.com/dotsetgreg/tutormem/pkg/logger"
)

// StoreSectionContent appends a content version for sectionID. courseID is
// not checked against the catalog.
func (m *Manager) StoreSectionContent(ctx context.Context, courseID int64, sectionID, title string, content ContentPayload) (id int64, err error) {
	started := time.Now()
	defer func() { m.observe("store_section_content", started, err, true) }()

	sectionID = strings.TrimSpace(sectionID)
	if sectionID == "" {
		return 0, invalid("section_id", "must not be empty")
	}
	if content.Version == 0 {
		content.Version = ContentSchemaVersion
	}
	if err := content.Validate(); err != nil {
		return 0, err
	}

	sc := SectionContent{
		CourseID:  courseID,
		SectionID: sectionID,
		Title:     title,
		Content:   content,
		CreatedAt: m.now(),
	}
	err = m.store.Update(ctx, func(tx Tx) error {
		var txErr error
		id, txErr = tx.InsertSectionContent(ctx, sc)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	logger.DebugCF("memory", "Stored section content", map[string]interface{}{
		"content_id": id,
		"course_id":  courseID,
		"section_id": sectionID,
	})
	return id, nil
}

// GetSectionContent returns the most recently created content for sectionID.
func (m *Manager) GetSectionContent(ctx context.Context, sectionID string) (out SectionContent, found bool, err error) {
	started := time.Now()
	defer func() { m.observe("get_section_content", started, err, found) }()

	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.LatestSectionContent(ctx, strings.TrimSpace(sectionID))
		return txErr
	})
	miss, err := notFound(err)
	if err != nil || miss {
		return SectionContent{}, false, err
	}
	return out, true, nil
}
