// Package intake parses finalized specification documents (PRDs) into
// structured data for downstream planning stages.
package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrEmptySpec is returned when the input document has no content.
var ErrEmptySpec = errors.New("specification content is empty")

// DocType identifies the detected document format.
type DocType string

const (
	DocTypePRD      DocType = "prd"
	DocTypeTechSpec DocType = "tech_spec"
	DocTypeUnknown  DocType = "unknown"
)

// UserStory is a user story extracted from the spec (US-1, US-2, ...).
type UserStory struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// FunctionalRequirement is a functional requirement (FR-1, FR-2, ...).
type FunctionalRequirement struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NonFunctionalRequirement is a non-functional requirement (NFR-1, ...).
type NonFunctionalRequirement struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Risk is a risk item with a severity level (R-1, R-2, ...).
type Risk struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"` // HIGH, MEDIUM, LOW
	Description string `json:"description"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// Decision is a recorded decision from the spec's Decisions section.
type Decision struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Dependencies holds the Required/Optional dependency lists.
type Dependencies struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// Document is a parsed specification with all extracted components.
type Document struct {
	Title      string  `json:"title"`
	RawContent string  `json:"raw_content"`
	DocType    DocType `json:"doc_type"`

	ExecutiveSummary          string                     `json:"executive_summary,omitempty"`
	ProblemStatement          string                     `json:"problem_statement,omitempty"`
	UserStories               []UserStory                `json:"user_stories"`
	FunctionalRequirements    []FunctionalRequirement    `json:"functional_requirements"`
	NonFunctionalRequirements []NonFunctionalRequirement `json:"non_functional_requirements"`
	Risks                     []Risk                     `json:"risks"`
	Decisions                 []Decision                 `json:"decisions"`
	Dependencies              Dependencies               `json:"dependencies"`

	Warnings    []string  `json:"warnings"`
	ParsedAt    time.Time `json:"parsed_at"`
	ContentHash string    `json:"content_hash"`
	SourcePath  string    `json:"source_path,omitempty"`
}

// Parse parses a markdown specification document. Returns ErrEmptySpec if
// the content is empty or whitespace-only; structural problems surface as
// warnings on the document, never as errors.
func Parse(content string) (*Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptySpec
	}

	title := extractTitle(content)
	if title == "" {
		title = "Untitled Specification"
	}

	sum := sha256.Sum256([]byte(content))

	doc := &Document{
		Title:       title,
		RawContent:  content,
		DocType:     detectDocType(content),
		ParsedAt:    time.Now().UTC(),
		ContentHash: hex.EncodeToString(sum[:])[:16],
	}

	doc.ExecutiveSummary = extractSection(content, "Executive Summary", "Summary")
	doc.ProblemStatement = extractSection(content, "Problem Statement", "Problem", "Background")
	doc.UserStories = extractUserStories(content)
	doc.FunctionalRequirements = extractFunctionalRequirements(content)
	doc.NonFunctionalRequirements = extractNonFunctionalRequirements(content)
	doc.Risks = extractRisks(content)
	doc.Decisions = extractDecisions(content)
	doc.Dependencies = extractDependencies(content)

	doc.Warnings = missingSectionWarnings(doc)

	return doc, nil
}

// ParseFile reads and parses a specification file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading specification file: %w", err)
	}
	doc, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	doc.SourcePath = path
	return doc, nil
}

// missingSectionWarnings flags recommended sections that were not found.
func missingSectionWarnings(doc *Document) []string {
	var warnings []string
	if doc.ExecutiveSummary == "" {
		warnings = append(warnings, "Missing Executive Summary section")
	}
	if len(doc.UserStories) == 0 {
		warnings = append(warnings, "No user stories found (US-N format)")
	}
	if len(doc.FunctionalRequirements) == 0 {
		warnings = append(warnings, "No functional requirements found (FR-N format)")
	}
	return warnings
}

// ToJSON serializes the document.
func (d *Document) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// FromJSON deserializes a document produced by ToJSON.
func FromJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding specification document: %w", err)
	}
	return &doc, nil
}

// IsPRD reports whether the document was detected as a PRD.
func (d *Document) IsPRD() bool { return d.DocType == DocTypePRD }
