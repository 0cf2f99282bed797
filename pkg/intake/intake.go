// Package intake turns a natural-language request into a structured
// TaskSpec. The parser is purely heuristic: keyword scans for the goal
// sentence, data path, ranking parameters and budget, plus synthesized
// acceptance criteria for the cues it recognizes. Requests arrive in
// English or Chinese, so the keyword tables carry both.
package intake

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"github.com/agentos-io/agentcore/pkg/models"
)

// CNYToUSDRate converts CNY budgets into the USD the spec carries.
const CNYToUSDRate = 0.14

// ErrInsufficient reports a request the parser cannot turn into a spec.
// Missing names the fields the caller has to supply.
type ErrInsufficient struct {
	Missing []string
}

func (e *ErrInsufficient) Error() string {
	return fmt.Sprintf("insufficient request: missing %s", strings.Join(e.Missing, ", "))
}

// AsInsufficient unwraps err into an *ErrInsufficient, if it is one.
func AsInsufficient(err error) (*ErrInsufficient, bool) {
	var e *ErrInsufficient
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// scoreKeywords maps a score_by column to the phrases that select it.
// First match in declaration order wins.
var scoreKeywords = []struct {
	field string
	words []string
}{
	{"views", []string{"浏览", "播放", "热度", "view", "阅读"}},
	{"likes", []string{"点赞", "喜欢", "like"}},
	{"comments", []string{"评论", "comment"}},
	{"clicks", []string{"点击", "click"}},
	{"conversion_rate", []string{"转化", "成交", "conversion"}},
}

// scoreLabels names each score column for synthesized acceptance text.
var scoreLabels = map[string]string{
	"views":           "views",
	"likes":           "likes",
	"comments":        "comments",
	"clicks":          "clicks",
	"conversion_rate": "conversion rate",
}

var (
	goalVerbs = []string{"生成", "制作", "产出", "撰写", "整理", "分析"}

	csvPathRE  = regexp.MustCompile(`([A-Za-z0-9_./\\-]+\.csv)`)
	sentenceRE = regexp.MustCompile(`[。！？\n]\s*`)

	topNPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)top\s*(\d{1,3})`),
		regexp.MustCompile(`前\s*(\d{1,3})\s*(?:条|个|名|项|篇)`),
		regexp.MustCompile(`挑(?:选|出)\s*(\d{1,3})`),
		regexp.MustCompile(`(\d{1,3})\s*(?:条|个|篇)\s*(?:热点|高|热门)`),
	}

	budgetUSDRE    = regexp.MustCompile(`(?i)(?:预算|成本|花费|budget|cost)[^\d]{0,4}([0-9]+(?:\.[0-9]+)?)\s*(?:usd|美元|美金)`)
	budgetSymbolRE = regexp.MustCompile(`\$\s*([0-9]+(?:\.[0-9]+)?)`)
	budgetCNYRE    = regexp.MustCompile(`(?i)(?:预算|成本|花费|budget|cost)[^\d]{0,4}([0-9]+(?:\.[0-9]+)?)\s*(?:元|人民币|cny|¥|￥)`)
)

// DefaultConstraints apply when the caller does not provide any.
var DefaultConstraints = []string{"cost<=$1", "duration<=2min"}

// Parser extracts a TaskSpec from free-form text.
type Parser struct {
	// Constraints seed every parsed spec. Nil means DefaultConstraints.
	Constraints []string
}

// Parse builds a spec from the request text. dataPath, when non-empty,
// overrides any CSV path found in the text; overrides, when non-nil,
// are merged on top of the heuristic result before finalization.
func (p *Parser) Parse(query, dataPath string, overrides *models.TaskSpec) (*models.TaskSpec, error) {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil, &ErrInsufficient{Missing: []string{"query"}}
	}

	spec := &models.TaskSpec{
		Goal:   inferGoal(text),
		Inputs: map[string]any{},
		Params: map[string]any{},
	}
	path := dataPath
	if path == "" {
		path = extractCSVPath(text)
	}
	if path == "" {
		return nil, &ErrInsufficient{Missing: []string{"inputs.csv_path"}}
	}
	spec.Inputs["csv_path"] = path

	constraints := p.Constraints
	if constraints == nil {
		constraints = DefaultConstraints
	}
	spec.Constraints = append(spec.Constraints, constraints...)

	inferParams(text, spec.Params)
	spec.Acceptance = inferAcceptance(text, spec.Params)
	spec.Risks = inferRisks(text, spec.Params)
	if budget, ok := inferBudget(text); ok {
		spec.BudgetUSD = budget
	}
	if warnings := collectWarnings(spec); len(warnings) > 0 {
		spec.Metadata = map[string]any{"warnings": warnings}
	}

	if overrides != nil {
		if err := applyOverrides(spec, overrides); err != nil {
			return nil, err
		}
	}

	Finalize(spec)
	return spec, nil
}

// Finalize normalizes a spec in place: dedups constraints, acceptance
// and risks, fills the ranking parameter defaults, assigns acceptance
// ids, and clamps the budget to non-negative.
func Finalize(spec *models.TaskSpec) {
	spec.Constraints = dedupStrings(spec.Constraints)

	if spec.Params == nil {
		spec.Params = map[string]any{}
	}
	spec.Params["top_n"] = coerceTopN(spec.Params["top_n"])
	if _, ok := spec.Params["score_by"]; !ok {
		spec.Params["score_by"] = "views"
	}
	if _, ok := spec.Params["title_field"]; !ok {
		spec.Params["title_field"] = "title"
	}

	deduped := make([]models.AcceptanceCriterion, 0, len(spec.Acceptance))
	seen := map[string]bool{}
	for _, crit := range spec.Acceptance {
		if crit.Then == "" {
			continue
		}
		key := crit.Then + "\x00" + crit.Given + "\x00" + crit.When
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, crit)
	}
	if len(deduped) == 0 {
		deduped = append(deduped, models.AcceptanceCriterion{
			ID:    "A1",
			Given: "structured data is provided",
			When:  "the closed-loop pipeline runs",
			Then:  "a Markdown report is delivered with Summary and Top sections",
		})
	}
	for i := range deduped {
		if deduped[i].ID == "" {
			deduped[i].ID = fmt.Sprintf("A%d", i+1)
		}
	}
	spec.Acceptance = deduped

	spec.Risks = dedupStrings(spec.Risks)

	spec.Goal = strings.TrimSpace(spec.Goal)
	if spec.Goal == "" {
		spec.Goal = "generate a data insight report"
	}
	if spec.BudgetUSD < 0 {
		spec.BudgetUSD = 0
	}
}

func inferGoal(text string) string {
	sentences := sentenceRE.Split(text, -1)
	for _, sent := range sentences {
		stripped := strings.Trim(sent, " ，,;；")
		if stripped == "" {
			continue
		}
		for _, verb := range goalVerbs {
			if idx := strings.Index(stripped, verb); idx != -1 {
				return strings.TrimSpace(stripped[idx:])
			}
		}
	}
	if len(sentences) > 0 {
		return strings.TrimSpace(sentences[0])
	}
	return strings.TrimSpace(text)
}

func extractCSVPath(text string) string {
	if m := csvPathRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func extractTopN(text string) (int, bool) {
	for _, re := range topNPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

func inferParams(text string, params map[string]any) {
	if n, ok := extractTopN(text); ok {
		params["top_n"] = n
	}

	lowered := strings.ToLower(text)
	for _, entry := range scoreKeywords {
		for _, kw := range entry.words {
			if strings.Contains(lowered, strings.ToLower(kw)) || strings.Contains(text, kw) {
				params["score_by"] = entry.field
				break
			}
		}
		if _, ok := params["score_by"]; ok {
			break
		}
	}

	if strings.Contains(text, "标题") || strings.Contains(lowered, "title") {
		params["title_field"] = "title"
	} else if strings.Contains(text, "名称") {
		params["title_field"] = "name"
	}
}

func inferAcceptance(text string, params map[string]any) []models.AcceptanceCriterion {
	var acceptance []models.AcceptanceCriterion
	const (
		baseGiven = "structured data is provided"
		baseWhen  = "the closed-loop pipeline runs"
	)
	lowered := strings.ToLower(text)

	if containsAny(lowered, "summary", "overview") || containsAny(text, "摘要", "总结") {
		acceptance = append(acceptance, models.AcceptanceCriterion{
			Given: baseGiven, When: baseWhen,
			Then: "the report contains a Summary section",
		})
	}

	if topN, ok := params["top_n"].(int); ok && topN > 0 {
		scoreBy, _ := params["score_by"].(string)
		label := scoreLabels[scoreBy]
		if label == "" {
			label = "score"
		}
		acceptance = append(acceptance, models.AcceptanceCriterion{
			Given: baseGiven, When: "the ranking step runs",
			Then: fmt.Sprintf("the top list holds %d records sorted by %s descending", topN, label),
		})
	}

	if containsAny(lowered, "markdown", "table") || containsAny(text, "表格") {
		acceptance = append(acceptance, models.AcceptanceCriterion{
			Given: baseGiven, When: baseWhen,
			Then: "the deliverable is Markdown with a table of the key metrics",
		})
	}

	if containsAny(lowered, "link") || containsAny(text, "链接", "来源") {
		acceptance = append(acceptance, models.AcceptanceCriterion{
			Given: baseGiven, When: baseWhen,
			Then: "top list entries carry a source or link field",
		})
	}

	if containsAny(lowered, "insight") || containsAny(text, "洞察", "原因") {
		acceptance = append(acceptance, models.AcceptanceCriterion{
			Given: baseGiven, When: baseWhen,
			Then: "the Summary states the key insights or causes",
		})
	}

	return acceptance
}

func inferRisks(text string, params map[string]any) []string {
	var risks []string
	lowered := strings.ToLower(text)
	if containsAny(lowered, "today", "current") || containsAny(text, "实时", "最新") {
		risks = append(risks, "freshness matters; confirm the CSV is the latest export")
	}
	if scoreBy, ok := params["score_by"].(string); ok {
		if _, known := scoreLabels[scoreBy]; !known {
			risks = append(risks, "score_by column may be missing or named differently in the data")
		}
	}
	if topN, ok := params["top_n"].(int); ok && topN > 50 {
		risks = append(risks, "large top_n may slow the run down")
	}
	if len(risks) == 0 {
		risks = []string{
			"missing or inconsistently named CSV columns can fail the aggregation",
			"an empty data source needs a fallback to the default sample",
		}
	}
	return risks
}

// inferBudget reads an explicit budget in USD or CNY. Precedence:
// labeled USD amount, then a bare $ amount, then labeled CNY converted
// at CNYToUSDRate.
func inferBudget(text string) (float64, bool) {
	if m := budgetUSDRE.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	if m := budgetSymbolRE.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	if m := budgetCNYRE.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return round4(v * CNYToUSDRate), true
		}
	}
	return 0, false
}

func collectWarnings(spec *models.TaskSpec) []string {
	var warnings []string
	if topN, ok := spec.Params["top_n"].(int); ok && topN > 50 {
		warnings = append(warnings, "top_n is large; confirm run time is acceptable")
	}
	return warnings
}

// applyOverrides merges caller-supplied fields over the heuristic spec.
// Scalars replace, maps deep-merge, lists append (dedup happens in
// Finalize).
func applyOverrides(spec, overrides *models.TaskSpec) error {
	if goal := strings.TrimSpace(overrides.Goal); goal != "" {
		spec.Goal = goal
	}
	if overrides.BudgetUSD != 0 {
		spec.BudgetUSD = overrides.BudgetUSD
	}
	spec.Constraints = append(spec.Constraints, overrides.Constraints...)
	spec.Risks = append(spec.Risks, overrides.Risks...)
	for _, crit := range overrides.Acceptance {
		if strings.TrimSpace(crit.Then) == "" {
			continue
		}
		spec.Acceptance = append(spec.Acceptance, crit)
	}
	if err := mergo.Merge(&spec.Inputs, overrides.Inputs, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge inputs: %w", err)
	}
	if err := mergo.Merge(&spec.Params, overrides.Params, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge params: %w", err)
	}
	if err := mergo.Merge(&spec.Metadata, overrides.Metadata, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge metadata: %w", err)
	}
	return nil
}

func coerceTopN(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return 10
}

func dedupStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
