package flow

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single Maestro YAML flow file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses Maestro YAML content. An optional header document precedes
// the command list, separated by a "---" line.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))
	if len(parts) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty flow file"}
	}

	flow := &Flow{SourcePath: sourcePath}
	commands := parts[0]
	if len(parts) > 1 {
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		commands = parts[1]
	}
	steps, err := parseSteps(commands, sourcePath)
	if err != nil {
		return nil, err
	}
	flow.Steps = steps
	return flow, nil
}

// splitYAMLDocuments splits on "---" lines that are not inside a block scalar.
func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inBlock := false
	blockParent := 0

	for _, line := range strings.Split(content, "\n") {
		if inBlock && strings.TrimSpace(line) != "" && indentOf(line) <= blockParent {
			inBlock = false
		}
		if !inBlock {
			blockParent, inBlock = blockScalarStart(line)
		}

		if !inBlock && strings.TrimRight(line, " \t\r") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}
	return parts
}

// blockScalarHeader matches a "|" or ">" header with optional chomping and
// indentation indicators and a trailing comment.
var blockScalarHeader = regexp.MustCompile(`^[|>]([1-9][+-]?|[+-][1-9]?)?\s*(#.*)?$`)

// blockScalarStart reports whether line opens a block scalar, either as the
// value of "key:" or of a "- " entry. parent is the column of that key or
// dash; the scalar ends at the first non-blank line indented no deeper.
func blockScalarStart(line string) (parent int, ok bool) {
	line = strings.TrimRight(line, " \t\r")
	col := indentOf(line)
	rest := line[col:]
	parent = -1
	for len(rest) > 1 && rest[0] == '-' && (rest[1] == ' ' || rest[1] == '\t') {
		parent = col
		next := strings.TrimLeft(rest[1:], " \t")
		col += len(rest) - len(next)
		rest = next
	}

	value := rest
	if i := mappingColon(rest); i >= 0 {
		parent = col
		value = strings.TrimLeft(rest[i+1:], " \t")
	}
	if parent < 0 || !blockScalarHeader.MatchString(value) {
		return 0, false
	}
	return parent, true
}

// mappingColon returns the index of the ":" ending a plain mapping key, or -1.
func mappingColon(s string) int {
	if s == "" || s[0] == '"' || s[0] == '\'' || s[0] == '#' {
		return -1
	}
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '#' && i > 0 && (s[i-1] == ' ' || s[i-1] == '\t'):
			return -1
		case s[i] == ':' && (i+1 == len(s) || s[i+1] == ' ' || s[i+1] == '\t'):
			return i
		}
	}
	return -1
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func parseConfig(content string, flow *Flow) error {
	var raw struct {
		Config         `yaml:",inline"`
		OnFlowStart    []yaml.Node `yaml:"onFlowStart"`
		OnFlowComplete []yaml.Node `yaml:"onFlowComplete"`
	}
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return &ParseError{Path: flow.SourcePath, Message: fmt.Sprintf("invalid config: %v", err)}
	}

	var err error
	if raw.Config.OnFlowStart, err = parseNodes(raw.OnFlowStart, flow.SourcePath); err != nil {
		return err
	}
	if raw.Config.OnFlowComplete, err = parseNodes(raw.OnFlowComplete, flow.SourcePath); err != nil {
		return err
	}
	flow.Config = raw.Config
	return nil
}

func parseSteps(content, sourcePath string) ([]Step, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &nodes); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid steps: %v", err)}
	}
	return parseNodes(nodes, sourcePath)
}

func parseNodes(nodes []yaml.Node, sourcePath string) ([]Step, error) {
	steps := make([]Step, 0, len(nodes))
	for i := range nodes {
		step, err := parseStep(&nodes[i], sourcePath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		// "- back" with no parameters
		dec, ok := decoders[StepType(node.Value)]
		if !ok {
			return nil, unknownStepError(sourcePath, node.Line, node.Value)
		}
		return dec(StepType(node.Value), &yaml.Node{Kind: yaml.MappingNode}, sourcePath)

	case yaml.MappingNode:
		if len(node.Content) < 2 {
			return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "empty step"}
		}
		key := node.Content[0].Value
		dec, ok := decoders[StepType(key)]
		if !ok {
			return nil, unknownStepError(sourcePath, node.Content[0].Line, key)
		}
		if len(node.Content) > 2 {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    node.Content[2].Line,
				Message: fmt.Sprintf("unexpected key %q next to %s", node.Content[2].Value, key),
			}
		}
		return dec(StepType(key), node.Content[1], sourcePath)

	default:
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "step must be a mapping or command name"}
	}
}

func unknownStepError(path string, line int, key string) error {
	msg := fmt.Sprintf("unknown step type: %s", key)
	if s := SuggestStepType(key); s != "" {
		msg += fmt.Sprintf(" (did you mean %s?)", s)
	}
	return &ParseError{Path: path, Line: line, Message: msg}
}

// SuggestStepType returns the known step type closest to key, or "".
func SuggestStepType(key string) string {
	names := StepTypes()
	ranks := fuzzy.RankFindFold(key, names)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDist := "", 4
	lower := strings.ToLower(key)
	for _, name := range names {
		if d := fuzzy.LevenshteinDistance(lower, strings.ToLower(name)); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

// StepTypes returns every known step type, sorted.
func StepTypes() []string {
	names := make([]string, 0, len(decoders))
	for t := range decoders {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

type decoder func(t StepType, node *yaml.Node, sourcePath string) (Step, error)

var decoders map[StepType]decoder

func init() {
	decoders = map[StepType]decoder{
		StepTapOn:        selectorStep[TapOnStep](),
		StepDoubleTapOn:  selectorStep[DoubleTapOnStep](),
		StepLongPressOn:  selectorStep[LongPressOnStep](),
		StepTapOnPoint:   plainStep[TapOnPointStep](func(s *TapOnPointStep, v string) error { s.Point = v; return nil }),
		StepSwipe:        plainStep[SwipeStep](func(s *SwipeStep, v string) error { s.Direction = v; return nil }),
		StepScroll:       plainStep[ScrollStep](func(s *ScrollStep, v string) error { s.Direction = v; return nil }),
		StepBack:         plainStep[BackStep](nil),
		StepHideKeyboard: plainStep[HideKeyboardStep](nil),

		StepInputText: plainStep[InputTextStep](func(s *InputTextStep, v string) error { s.Text = v; return nil }),
		StepEraseText: plainStep[EraseTextStep](func(s *EraseTextStep, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("eraseText expects a number of characters, got %q", v)
			}
			s.Characters = n
			return nil
		}),
		StepPressKey: plainStep[PressKeyStep](func(s *PressKeyStep, v string) error { s.Key = v; return nil }),

		StepAssertVisible:         selectorStep[AssertVisibleStep](),
		StepAssertNotVisible:      selectorStep[AssertNotVisibleStep](),
		StepAssertTrue:            plainStep[AssertTrueStep](func(s *AssertTrueStep, v string) error { s.Script = v; return nil }),
		StepAssertCondition:       decodeAssertCondition,
		StepWaitUntil:             plainStep[WaitUntilStep](nil),
		StepWaitForAnimationToEnd: plainStep[WaitForAnimationToEndStep](nil),

		StepLaunchApp:   plainStep[LaunchAppStep](func(s *LaunchAppStep, v string) error { s.AppID = v; return nil }),
		StepStopApp:     plainStep[StopAppStep](func(s *StopAppStep, v string) error { s.AppID = v; return nil }),
		StepKillApp:     plainStep[KillAppStep](func(s *KillAppStep, v string) error { s.AppID = v; return nil }),
		StepClearState:  plainStep[ClearStateStep](func(s *ClearStateStep, v string) error { s.AppID = v; return nil }),
		StepSetLocation: plainStep[SetLocationStep](nil),
		StepOpenLink:    plainStep[OpenLinkStep](func(s *OpenLinkStep, v string) error { s.Link = v; return nil }),

		StepTakeScreenshot: plainStep[TakeScreenshotStep](func(s *TakeScreenshotStep, v string) error { s.Path = v; return nil }),
		StepAddMedia:       decodeAddMedia,

		StepRunFlow:         decodeRunFlow,
		StepRunScript:       decodeRunScript,
		StepEvalScript:      plainStep[EvalScriptStep](func(s *EvalScriptStep, v string) error { s.Script = v; return nil }),
		StepDefineVariables: decodeDefineVariables,
		StepRepeat:          decodeRepeat,
		StepRetry:           decodeRetry,
	}
}

// stepPtr is satisfied by pointers to step structs embedding BaseStep.
type stepPtr[T any] interface {
	*T
	Step
	setType(StepType)
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && (node.Tag == "!!null" || node.Value == "")
}

// plainStep decodes a mapping into T; a scalar value goes through scalar.
func plainStep[T any, P stepPtr[T]](scalar func(P, string) error) decoder {
	return func(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
		p := P(new(T))
		switch {
		case node.Kind == yaml.MappingNode:
			if err := node.Decode(p); err != nil {
				return nil, wrapParseError(sourcePath, node.Line, err)
			}
		case isNull(node):
		case node.Kind == yaml.ScalarNode && scalar != nil:
			if err := scalar(p, node.Value); err != nil {
				return nil, wrapParseError(sourcePath, node.Line, err)
			}
		default:
			return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("%s: unexpected value", t)}
		}
		p.setType(t)
		return p, nil
	}
}

// selectorStep decodes steps that target an element. The selector is read
// from the same node as the step options.
func selectorStep[T any, P interface {
	stepPtr[T]
	target() *Selector
}]() decoder {
	return func(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
		p := P(new(T))
		if node.Kind == yaml.MappingNode {
			if err := node.Decode(p); err != nil {
				return nil, wrapParseError(sourcePath, node.Line, err)
			}
		}
		if !isNull(node) {
			if err := node.Decode(p.target()); err != nil {
				return nil, wrapParseError(sourcePath, node.Line, err)
			}
		}
		if p.target().IsEmpty() {
			return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("%s requires a selector", t)}
		}
		p.setType(t)
		return p, nil
	}
}

func (s *TapOnStep) target() *Selector            { return &s.Selector }
func (s *DoubleTapOnStep) target() *Selector      { return &s.Selector }
func (s *LongPressOnStep) target() *Selector      { return &s.Selector }
func (s *AssertVisibleStep) target() *Selector    { return &s.Selector }
func (s *AssertNotVisibleStep) target() *Selector { return &s.Selector }

func decodeAssertCondition(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &AssertConditionStep{BaseStep: BaseStep{StepType: t}}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "assertCondition requires a mapping"}
	}
	if err := node.Decode(s); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	if err := node.Decode(&s.Condition); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	s.StepType = t
	return s, nil
}

func decodeAddMedia(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &AddMediaStep{}
	var err error
	switch node.Kind {
	case yaml.SequenceNode:
		err = node.Decode(&s.Files)
	case yaml.MappingNode:
		err = node.Decode(s)
	default:
		s.Files = []string{node.Value}
	}
	if err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	s.StepType = t
	return s, nil
}

func decodeRunScript(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &RunScriptStep{}
	if node.Kind == yaml.ScalarNode {
		s.File = node.Value
	} else if err := node.Decode(s); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	if s.File == "" {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "runScript requires a file"}
	}
	s.StepType = t
	return s, nil
}

func decodeDefineVariables(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &DefineVariablesStep{}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "defineVariables requires a mapping"}
	}
	if err := node.Decode(&s.Env); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	s.StepType = t
	return s, nil
}

// decodeCommands parses the nested "commands" list of a composite step.
func decodeCommands(node *yaml.Node, sourcePath string) ([]Step, error) {
	var raw struct {
		Commands []yaml.Node `yaml:"commands"`
	}
	if err := node.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	return parseNodes(raw.Commands, sourcePath)
}

func decodeRunFlow(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &RunFlowStep{}
	if node.Kind == yaml.ScalarNode {
		s.File = node.Value
	} else {
		if err := node.Decode(s); err != nil {
			return nil, wrapParseError(sourcePath, node.Line, err)
		}
		steps, err := decodeCommands(node, sourcePath)
		if err != nil {
			return nil, err
		}
		s.Steps = steps
	}
	if s.File == "" && len(s.Steps) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "runFlow requires file or commands"}
	}
	s.StepType = t
	return s, nil
}

func decodeRetry(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &RetryStep{}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "retry requires a mapping"}
	}
	if err := node.Decode(s); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	steps, err := decodeCommands(node, sourcePath)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	if s.File == "" && len(s.Steps) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "retry requires file or commands"}
	}
	s.StepType = t
	return s, nil
}

func decodeRepeat(t StepType, node *yaml.Node, sourcePath string) (Step, error) {
	s := &RepeatStep{}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "repeat requires a mapping"}
	}
	if err := node.Decode(s); err != nil {
		return nil, wrapParseError(sourcePath, node.Line, err)
	}
	steps, err := decodeCommands(node, sourcePath)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	if s.Times == "" && s.While.IsEmpty() {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: "repeat requires times or while"}
	}
	s.StepType = t
	return s, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}
