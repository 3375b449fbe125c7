package intake

import (
	"regexp"
	"strings"
)

var (
	titleRe     = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	userStoryRe = regexp.MustCompile(`^[-*]\s+\*{0,2}(US-\d+)\*{0,2}:\s*(.*)$`)
	frHeadRe    = regexp.MustCompile(`^###\s+(FR-\d+):\s*(.+)$`)
	nfrHeadRe   = regexp.MustCompile(`^###\s+(NFR-\d+):\s*(.+)$`)
	riskHeadRe  = regexp.MustCompile(`^###\s+(R-\d+):\s*(.+?)\s*\((\w+)\)\s*$`)
	decisionRe  = regexp.MustCompile(`^\d+\.\s+\*\*(.+?)\*\*:\s*(.*)$`)
)

var prdIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)user\s*stor(?:y|ies)`),
	regexp.MustCompile(`FR-\d+`),
	regexp.MustCompile(`(?i)functional\s*requirements?`),
	regexp.MustCompile(`NFR-\d+`),
	regexp.MustCompile(`(?i)non-functional\s*requirements?`),
	regexp.MustCompile(`(?i)target\s*users?.*personas?`),
	regexp.MustCompile(`(?i)success\s*metrics?`),
}

var techSpecIndicators = []*regexp.Regexp{
	regexp.MustCompile(`##\s*\d+\.\s+`),
	regexp.MustCompile("```typescript"),
	regexp.MustCompile(`interface\s+\w+\s*\{`),
	regexp.MustCompile(`(?i)API\s*Design`),
	regexp.MustCompile(`(?i)Data\s*Model`),
	regexp.MustCompile(`(?i)Performance\s*SLA`),
	regexp.MustCompile(`(?i)Scheduled\s*Function`),
	regexp.MustCompile(`(?i)Goals?\s*(?:and|/)\s*Non-Goals?`),
}

func extractTitle(content string) string {
	if m := titleRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// detectDocType scores format indicators to classify the document.
func detectDocType(content string) DocType {
	prdScore, techScore := 0, 0
	for _, re := range prdIndicators {
		if re.MatchString(content) {
			prdScore++
		}
	}
	for _, re := range techSpecIndicators {
		if re.MatchString(content) {
			techScore++
		}
	}

	// Explicit markers near the top of the document weigh heavier.
	head := strings.ToLower(content)
	if len(head) > 500 {
		head = head[:500]
	}
	if strings.Contains(head, "prd") || strings.Contains(head, "product requirements") {
		prdScore += 2
	}
	if strings.Contains(head, "technical specification") || strings.Contains(head, "tech spec") {
		techScore += 2
	}

	switch {
	case prdScore > techScore:
		return DocTypePRD
	case techScore > prdScore:
		return DocTypeTechSpec
	default:
		return DocTypeUnknown
	}
}

func isH2(line string) bool {
	return strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "###")
}

func isH3(line string) bool {
	return strings.HasPrefix(line, "### ")
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*")
}

// extractSection returns the body of the first H2 section whose header
// matches any of the given names, up to the next H2 or end of input.
func extractSection(content string, names ...string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !isH2(line) {
			continue
		}
		header := strings.TrimSpace(strings.TrimPrefix(line, "## "))
		for _, name := range names {
			if strings.EqualFold(header, name) {
				var body []string
				for _, next := range lines[i+1:] {
					if isH2(next) {
						break
					}
					body = append(body, next)
				}
				return strings.TrimSpace(strings.Join(body, "\n"))
			}
		}
	}
	return ""
}

// extractUserStories collects "- **US-n**: ..." bullets anywhere in the
// document, folding in indented continuation lines.
func extractUserStories(content string) []UserStory {
	var stories []UserStory
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		m := userStoryRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		body := []string{m[2]}
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || isBullet(next) || strings.HasPrefix(next, "#") {
				break
			}
			body = append(body, next)
			i = j
		}
		stories = append(stories, UserStory{
			ID:      m[1],
			Content: strings.TrimSpace(strings.Join(body, "\n")),
		})
	}
	return stories
}

// h3Block is an H3 heading plus its body, up to the next H3 or H2.
type h3Block struct {
	match []string
	body  string
}

func extractH3Blocks(content string, headRe *regexp.Regexp) []h3Block {
	var blocks []h3Block
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		m := headRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		var body []string
		for j := i + 1; j < len(lines); j++ {
			if isH3(lines[j]) || isH2(lines[j]) {
				break
			}
			body = append(body, lines[j])
			i = j
		}
		blocks = append(blocks, h3Block{match: m, body: strings.TrimSpace(strings.Join(body, "\n"))})
	}
	return blocks
}

func extractFunctionalRequirements(content string) []FunctionalRequirement {
	var reqs []FunctionalRequirement
	for _, b := range extractH3Blocks(content, frHeadRe) {
		reqs = append(reqs, FunctionalRequirement{
			ID:      b.match[1],
			Title:   strings.TrimSpace(b.match[2]),
			Content: b.body,
		})
	}
	return reqs
}

func extractNonFunctionalRequirements(content string) []NonFunctionalRequirement {
	var reqs []NonFunctionalRequirement
	for _, b := range extractH3Blocks(content, nfrHeadRe) {
		reqs = append(reqs, NonFunctionalRequirement{
			ID:      b.match[1],
			Title:   strings.TrimSpace(b.match[2]),
			Content: b.body,
		})
	}
	return reqs
}

func extractRisks(content string) []Risk {
	var risks []Risk
	for _, b := range extractH3Blocks(content, riskHeadRe) {
		risks = append(risks, Risk{
			ID:          b.match[1],
			Title:       strings.TrimSpace(b.match[2]),
			Severity:    strings.ToUpper(b.match[3]),
			Description: boldFieldValue(b.body, "Risk"),
			Mitigation:  firstNonEmpty(boldFieldValue(b.body, "Mitigations"), boldFieldValue(b.body, "Mitigation")),
		})
	}
	return risks
}

// boldFieldValue extracts the value of a "**Name**: value" field, including
// continuation lines up to the next bold field.
func boldFieldValue(body, name string) string {
	prefix := "**" + name + "**:"
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		value := []string{strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))}
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if strings.HasPrefix(next, "**") {
				break
			}
			value = append(value, next)
		}
		return strings.TrimSpace(strings.Join(value, "\n"))
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// extractDecisions reads numbered "1. **Title**: content" items from the
// Decisions section.
func extractDecisions(content string) []Decision {
	section := extractSection(content, "Decisions", "Key Decisions")
	if section == "" {
		return nil
	}
	var decisions []Decision
	lines := strings.Split(section, "\n")
	for i := 0; i < len(lines); i++ {
		m := decisionRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		body := []string{m[2]}
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || decisionRe.MatchString(next) || strings.HasPrefix(next, "#") {
				break
			}
			body = append(body, next)
			i = j
		}
		decisions = append(decisions, Decision{
			Title:   strings.TrimSpace(m[1]),
			Content: strings.TrimSpace(strings.Join(body, "\n")),
		})
	}
	return decisions
}

func extractDependencies(content string) Dependencies {
	deps := Dependencies{Required: []string{}, Optional: []string{}}
	section := extractSection(content, "Dependencies")
	if section == "" {
		return deps
	}
	deps.Required = h3BulletList(section, "Required")
	deps.Optional = h3BulletList(section, "Optional")
	return deps
}

// h3BulletList returns the bullet items under "### <name>" within a section.
func h3BulletList(section, name string) []string {
	items := []string{}
	lines := strings.Split(section, "\n")
	for i, line := range lines {
		if !isH3(line) || !strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(line, "### ")), name) {
			continue
		}
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if isH3(next) {
				break
			}
			if isBullet(next) {
				items = append(items, strings.TrimSpace(next[1:]))
			}
		}
		break
	}
	return items
}
