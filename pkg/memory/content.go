package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentSchemaVersion is the only payload version this build reads and writes.
const ContentSchemaVersion = 1

// ContentKind tags a ContentBlock variant.
type ContentKind string

const (
	KindIntroduction ContentKind = "introduction"
	KindConcept      ContentKind = "concept"
	KindActivity     ContentKind = "activity"
	KindMedia        ContentKind = "media"
	KindAssessment   ContentKind = "assessment"
)

// ContentKinds lists every block kind in declaration order.
func ContentKinds() []ContentKind {
	return []ContentKind{KindIntroduction, KindConcept, KindActivity, KindMedia, KindAssessment}
}

type IntroductionBlock struct {
	Text string `json:"text"`
}

type ConceptBlock struct {
	Name        string   `json:"name"`
	Explanation string   `json:"explanation"`
	Examples    []string `json:"examples,omitempty"`
}

type ActivityBlock struct {
	Instructions string   `json:"instructions"`
	Steps        []string `json:"steps,omitempty"`
}

type MediaBlock struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Caption   string `json:"caption,omitempty"`
}

type AssessmentQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
	Answer  string   `json:"answer"`
}

type AssessmentBlock struct {
	Questions []AssessmentQuestion `json:"questions"`
}

// ContentBlock carries exactly one variant, selected by Kind.
type ContentBlock struct {
	Kind         ContentKind        `json:"kind"`
	Introduction *IntroductionBlock `json:"introduction,omitempty"`
	Concept      *ConceptBlock      `json:"concept,omitempty"`
	Activity     *ActivityBlock     `json:"activity,omitempty"`
	Media        *MediaBlock        `json:"media,omitempty"`
	Assessment   *AssessmentBlock   `json:"assessment,omitempty"`
}

// ContentPayload is the versioned teaching material stored per section.
type ContentPayload struct {
	Version int            `json:"version"`
	Summary string         `json:"summary,omitempty"`
	Blocks  []ContentBlock `json:"blocks"`
}

func IntroductionContent(text string) ContentPayload {
	return ContentPayload{
		Version: ContentSchemaVersion,
		Blocks: []ContentBlock{{
			Kind:         KindIntroduction,
			Introduction: &IntroductionBlock{Text: text},
		}},
	}
}

func (b ContentBlock) variants() int {
	n := 0
	if b.Introduction != nil {
		n++
	}
	if b.Concept != nil {
		n++
	}
	if b.Activity != nil {
		n++
	}
	if b.Media != nil {
		n++
	}
	if b.Assessment != nil {
		n++
	}
	return n
}

func (b ContentBlock) validate() error {
	if b.variants() != 1 {
		return fmt.Errorf("block %q must carry exactly one variant, has %d", b.Kind, b.variants())
	}
	switch b.Kind {
	case KindIntroduction:
		if b.Introduction == nil || strings.TrimSpace(b.Introduction.Text) == "" {
			return fmt.Errorf("introduction block requires text")
		}
	case KindConcept:
		if b.Concept == nil || strings.TrimSpace(b.Concept.Name) == "" {
			return fmt.Errorf("concept block requires a name")
		}
	case KindActivity:
		if b.Activity == nil || strings.TrimSpace(b.Activity.Instructions) == "" {
			return fmt.Errorf("activity block requires instructions")
		}
	case KindMedia:
		if b.Media == nil || strings.TrimSpace(b.Media.URL) == "" {
			return fmt.Errorf("media block requires a url")
		}
	case KindAssessment:
		if b.Assessment == nil || len(b.Assessment.Questions) == 0 {
			return fmt.Errorf("assessment block requires questions")
		}
		for i, q := range b.Assessment.Questions {
			if strings.TrimSpace(q.Prompt) == "" {
				return fmt.Errorf("assessment question %d has no prompt", i)
			}
		}
	default:
		return fmt.Errorf("unknown block kind %q", b.Kind)
	}
	return nil
}

// Validate checks the version and every block.
func (p ContentPayload) Validate() error {
	if p.Version != ContentSchemaVersion {
		return invalid("content.version", "unsupported version %d", p.Version)
	}
	for i, b := range p.Blocks {
		if err := b.validate(); err != nil {
			return invalid(fmt.Sprintf("content.blocks[%d]", i), "%v", err)
		}
	}
	return nil
}

// Kinds lists block kinds in order, de-duplicated.
func (p ContentPayload) Kinds() []ContentKind {
	seen := map[ContentKind]struct{}{}
	out := []ContentKind{}
	for _, b := range p.Blocks {
		if _, ok := seen[b.Kind]; ok {
			continue
		}
		seen[b.Kind] = struct{}{}
		out = append(out, b.Kind)
	}
	return out
}

func encodeContent(p ContentPayload) (string, error) {
	if p.Version == 0 {
		p.Version = ContentSchemaVersion
	}
	if p.Blocks == nil {
		p.Blocks = []ContentBlock{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", &SerializationError{Entity: "section content", Err: err}
	}
	return string(b), nil
}

func decodeContent(raw string) (ContentPayload, error) {
	var p ContentPayload
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return ContentPayload{}, &SerializationError{Entity: "section content", Err: err}
	}
	if p.Version == 0 {
		p.Version = ContentSchemaVersion
	}
	if err := p.Validate(); err != nil {
		return ContentPayload{}, &SerializationError{Entity: "section content", Err: err}
	}
	return p, nil
}

func encodeProgress(d ProgressData) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", &SerializationError{Entity: "progress data", Err: err}
	}
	return string(b), nil
}

func decodeProgress(raw string) (ProgressData, error) {
	var d ProgressData
	if strings.TrimSpace(raw) == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return ProgressData{}, &SerializationError{Entity: "progress data", Err: err}
	}
	return d, nil
}

func encodeJSON(entity string, v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", &SerializationError{Entity: entity, Err: err}
	}
	return string(b), nil
}

func decodeJSON(entity, raw string, v interface{}) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &SerializationError{Entity: entity, Err: err}
	}
	return nil
}
