package pipeline

type Kind string

const (
	KindMeta          Kind = "meta"
	KindChat          Kind = "chat"
	KindClarification Kind = "clarification"
	KindSuccess       Kind = "success"
	KindFailure       Kind = "failure"
)

type FailureKind string

const (
	FailureGeneration FailureKind = "generation"
	FailureValidation FailureKind = "validation"
	FailureExecution  FailureKind = "execution"
	FailureExhausted  FailureKind = "exhausted"
)

type StepStatus string

const (
	StepComplete StepStatus = "complete"
	StepRetry    StepStatus = "retry"
	StepError    StepStatus = "error"
)

// Step is one entry of the trail shown to the user next to every answer.
type Step struct {
	Stage  string     `json:"stage"`
	Text   string     `json:"text"`
	Status StepStatus `json:"status"`
}

// Attempt is one failed execution.
type Attempt struct {
	SQL   string `json:"sql"`
	Error string `json:"error"`
}

type Clarification struct {
	Question string   `json:"question"`
	Term     string   `json:"term"`
	Options  []string `json:"options"`
	Category string   `json:"category"`
}

// Outcome is the terminal state of one question. Which fields are set
// depends on Kind.
type Outcome struct {
	Kind     Kind   `json:"kind"`
	Question string `json:"question"`
	Answer   string `json:"answer"`

	Reasoning string   `json:"reasoning,omitempty"`
	SQL       string   `json:"sql,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	Rows      [][]any  `json:"rows,omitempty"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	Retries   int      `json:"retries"`
	ExportKey string   `json:"export_key,omitempty"`

	Clarification *Clarification `json:"clarification,omitempty"`

	Failure  FailureKind `json:"failure_kind,omitempty"`
	Error    string      `json:"error,omitempty"`
	Attempts []Attempt   `json:"attempts,omitempty"`

	Suggestions []string `json:"suggestions"`
	Steps       []Step   `json:"reasoning_steps"`
}

// MetricLabel names the outcome for metrics, using the failure kind for
// failures.
func (o Outcome) MetricLabel() string {
	if o.Kind == KindFailure && o.Failure != "" {
		return "failure_" + string(o.Failure)
	}
	return string(o.Kind)
}

type trail struct {
	steps []Step
}

func (t *trail) add(stage, text string) {
	t.steps = append(t.steps, Step{Stage: stage, Text: text, Status: StepComplete})
}

func (t *trail) addStatus(stage, text string, status StepStatus) {
	t.steps = append(t.steps, Step{Stage: stage, Text: text, Status: status})
}

func (t *trail) list() []Step {
	return append([]Step(nil), t.steps...)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
