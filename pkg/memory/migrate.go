package memory

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/tutormem/pkg/logger"
)

// MigrationReport describes a copy between two stores.
type MigrationReport struct {
	SourceBackend      string          `json:"source_backend"`
	DestinationBackend string          `json:"destination_backend"`
	Source             TableCounts     `json:"source"`
	Destination        TableCounts     `json:"destination"`
	CourseIDs          map[int64]int64 `json:"course_ids,omitempty"`
	Match              bool            `json:"match"`
}

type storeDump struct {
	courses      []CourseOutline
	sections     []SectionContent
	progress     []LearningProgress
	interactions []TeachingInteraction
	topics       []TopicSegment
}

// CopyStore copies every row of src into dst, which must be empty. Course ids
// are reassigned by dst; section content and progress rows are rewritten to
// the new ids, and references to courses that do not exist are kept as-is.
// The copy runs in one dst transaction.
func CopyStore(ctx context.Context, src, dst Store) (MigrationReport, error) {
	report := MigrationReport{
		SourceBackend:      src.Backend(),
		DestinationBackend: dst.Backend(),
		CourseIDs:          map[int64]int64{},
	}

	var dump storeDump
	err := src.View(ctx, func(tx Tx) error {
		var err error
		if dump.courses, err = tx.ListCourses(ctx); err != nil {
			return err
		}
		if dump.sections, err = tx.ListSectionContents(ctx); err != nil {
			return err
		}
		if dump.progress, err = tx.ListAllProgress(ctx); err != nil {
			return err
		}
		if dump.interactions, err = tx.ListAllInteractions(ctx); err != nil {
			return err
		}
		if dump.topics, err = tx.ListAllTopics(ctx); err != nil {
			return err
		}
		report.Source, err = tx.Counts(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("read source store: %w", err)
	}

	err = dst.Update(ctx, func(tx Tx) error {
		existing, err := tx.Counts(ctx)
		if err != nil {
			return err
		}
		if existing != (TableCounts{}) {
			return invalid("destination", "store already holds data")
		}

		for _, c := range dump.courses {
			id, err := tx.InsertCourse(ctx, c)
			if err != nil {
				return err
			}
			report.CourseIDs[c.ID] = id
		}
		remap := func(id int64) int64 {
			if mapped, ok := report.CourseIDs[id]; ok {
				return mapped
			}
			return id
		}
		for _, sc := range dump.sections {
			sc.CourseID = remap(sc.CourseID)
			if _, err := tx.InsertSectionContent(ctx, sc); err != nil {
				return err
			}
		}
		for _, p := range dump.progress {
			p.CourseID = remap(p.CourseID)
			if _, err := tx.InsertProgress(ctx, p); err != nil {
				return err
			}
		}
		for _, it := range dump.interactions {
			if _, err := tx.InsertInteraction(ctx, it); err != nil {
				return err
			}
		}
		for _, seg := range dump.topics {
			if _, err := tx.InsertTopic(ctx, seg); err != nil {
				return err
			}
		}
		report.Destination, err = tx.Counts(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("write destination store: %w", err)
	}

	report.Match = report.Source == report.Destination
	logger.InfoCF("memory", "Copied teaching memory", map[string]interface{}{
		"from":    report.SourceBackend,
		"to":      report.DestinationBackend,
		"courses": report.Destination.Courses,
		"records": report.Destination.Interactions,
		"match":   report.Match,
	})
	return report, nil
}

// ValidateMigration compares per-table row counts of src and dst.
func ValidateMigration(ctx context.Context, src, dst Store) (MigrationReport, error) {
	report := MigrationReport{
		SourceBackend:      src.Backend(),
		DestinationBackend: dst.Backend(),
	}
	err := src.View(ctx, func(tx Tx) error {
		var err error
		report.Source, err = tx.Counts(ctx)
		return err
	})
	if err != nil {
		return report, err
	}
	err = dst.View(ctx, func(tx Tx) error {
		var err error
		report.Destination, err = tx.Counts(ctx)
		return err
	})
	if err != nil {
		return report, err
	}
	report.Match = report.Source == report.Destination
	if !report.Match {
		logger.WarnCF("memory", "Migration row counts differ", map[string]interface{}{
			"source":      fmt.Sprintf("%+v", report.Source),
			"destination": fmt.Sprintf("%+v", report.Destination),
		})
	}
	return report, nil
}
