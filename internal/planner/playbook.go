package planner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/autopilot/internal/models"
)

// ActionTemplate is one playbook-defined candidate action. Values come from
// the `## Action: TYPE` sections of a playbook file.
type ActionTemplate struct {
	Type             models.ActionType
	Priority         models.Priority
	SafetyLevel      models.SafetyLevel
	Confidence       float64
	TargetField      string // Primary-object field to take the target from
	ApprovalRequired bool
	Reason           string
}

// Playbook is a markdown-defined set of extra candidate actions for one
// context type. Playbook candidates pass through the same viability filter
// as strategy candidates.
type Playbook struct {
	Name    string
	Source  models.ContextType // Context type the playbook applies to
	Actions []ActionTemplate
}

// Matches reports whether the playbook applies to the given context type.
func (pb *Playbook) Matches(ct models.ContextType) bool {
	return pb.Source == ct
}

// Propose instantiates the playbook's templates against one resolved context.
func (pb *Playbook) Propose(p *AutoPlanner, event *models.ProcessedEvent, rc *models.ResolvedContext) []models.PlannedAction {
	actions := make([]models.PlannedAction, 0, len(pb.Actions))
	for _, tpl := range pb.Actions {
		target := rc.StringField(tpl.TargetField)
		if target == "" {
			target = event.ID
		}
		actions = append(actions, models.PlannedAction{
			ID:                    uuid.NewString(),
			Type:                  tpl.Type,
			Priority:              tpl.Priority,
			SafetyLevel:           tpl.SafetyLevel,
			ConfidenceScore:       tpl.Confidence,
			ContextCompleteness:   rc.ContextCompleteness,
			Target:                target,
			Parameters:            map[string]interface{}{"playbook": pb.Name},
			HumanApprovalRequired: tpl.ApprovalRequired,
			MaxRetries:            p.cfg.DefaultMaxRetries,
			Timeout:               p.cfg.DefaultActionTimeout,
			EstimatedDuration:     10 * time.Minute,
			Reason:                tpl.Reason,
		})
	}
	return actions
}

// playbookFrontmatter is the yaml header of a playbook file.
type playbookFrontmatter struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

var (
	actionHeadingRegex = regexp.MustCompile(`^Action:\s+(.+)$`)
	templateFieldRegex = regexp.MustCompile(`^([a-z_]+):\s*(.+)$`)
)

// LoadPlaybooks parses every .md file in dir. A missing directory yields no
// playbooks and no error; a malformed file is an error.
func LoadPlaybooks(dir string) ([]*Playbook, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playbook dir: %w", err)
	}

	var playbooks []*Playbook
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read playbook %s: %w", path, err)
		}
		pb, err := ParsePlaybook(data)
		if err != nil {
			return nil, fmt.Errorf("parse playbook %s: %w", path, err)
		}
		if pb.Name == "" {
			pb.Name = strings.TrimSuffix(entry.Name(), ".md")
		}
		playbooks = append(playbooks, pb)
	}
	return playbooks, nil
}

// ParsePlaybook parses one playbook document: yaml frontmatter selecting the
// source context type, then `## Action: TYPE` sections whose list items set
// template fields (priority, safety, confidence, target_field, approval,
// reason).
func ParsePlaybook(content []byte) (*Playbook, error) {
	body, frontmatter := extractFrontmatter(content)

	pb := &Playbook{Source: models.ContextGeneric}
	if frontmatter != nil {
		var fm playbookFrontmatter
		if err := yaml.Unmarshal(frontmatter, &fm); err != nil {
			return nil, fmt.Errorf("parse frontmatter: %w", err)
		}
		pb.Name = fm.Name
		if fm.Source != "" {
			pb.Source = models.ContextType(fm.Source)
		}
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(body))

	var current *ActionTemplate
	flush := func() {
		if current != nil {
			pb.Actions = append(pb.Actions, *current)
			current = nil
		}
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if heading, ok := n.(*ast.Heading); ok && heading.Level == 2 {
			flush()
			headingText := extractText(heading, body)
			if matches := actionHeadingRegex.FindStringSubmatch(headingText); len(matches) == 2 {
				current = &ActionTemplate{
					Type:        models.ParseActionType(matches[1]),
					Priority:    models.PriorityMedium,
					SafetyLevel: models.SafetyCautious,
					Confidence:  0.7,
				}
			}
			return ast.WalkContinue, nil
		}

		if item, ok := n.(*ast.ListItem); ok && current != nil {
			line := strings.TrimSpace(extractText(item, body))
			matches := templateFieldRegex.FindStringSubmatch(line)
			if len(matches) != 3 {
				return ast.WalkSkipChildren, nil
			}
			if err := applyTemplateField(current, matches[1], strings.TrimSpace(matches[2])); err != nil {
				return ast.WalkStop, err
			}
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	flush()

	return pb, nil
}

func applyTemplateField(tpl *ActionTemplate, key, value string) error {
	switch key {
	case "priority":
		tpl.Priority = models.ParsePriority(value)
	case "safety":
		tpl.SafetyLevel = models.ParseSafetyLevel(value)
	case "confidence":
		conf, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid confidence %q: %w", value, err)
		}
		tpl.Confidence = conf
	case "target_field":
		tpl.TargetField = value
	case "approval":
		tpl.ApprovalRequired = value == "required" || value == "true"
	case "reason":
		tpl.Reason = value
	}
	// Unknown keys are ignored so playbooks can carry prose lists too.
	return nil
}

// extractFrontmatter splits a leading `---` yaml block off the document.
// Returns the body and the frontmatter bytes (nil when absent).
func extractFrontmatter(content []byte) (body, frontmatter []byte) {
	const delim = "---\n"
	if !bytes.HasPrefix(content, []byte(delim)) {
		return content, nil
	}
	rest := content[len(delim):]
	end := bytes.Index(rest, []byte(delim))
	if end < 0 {
		return content, nil
	}
	return rest[end+len(delim):], rest[:end]
}

// extractText collects the raw text under a node.
func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
