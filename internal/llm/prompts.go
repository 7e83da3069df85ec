package llm

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/Veraticus/margin-intel/internal/report"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	clusterSystemPrompt = "You are a data operations analyst. You must output valid JSON only. No extra text."
	rankSystemPrompt    = "You are an AI workflow engine that produces machine-usable decisions. Output valid JSON only."
)

// promptBuilder renders the user prompts from embedded templates.
type promptBuilder struct {
	templates map[string]*template.Template
}

func newPromptBuilder() (*promptBuilder, error) {
	pb := &promptBuilder{templates: make(map[string]*template.Template)}
	for _, name := range []string{"cluster_reasons", "rank_actions"} {
		filename := fmt.Sprintf("templates/%s.tmpl", name)
		tmpl, err := template.New(name + ".tmpl").ParseFS(templateFS, filename)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pb.templates[name] = tmpl
	}
	return pb, nil
}

func (pb *promptBuilder) render(name string, data any) (string, error) {
	tmpl, ok := pb.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not loaded", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// BuildClusterPrompt renders the reason clustering prompt.
func (pb *promptBuilder) BuildClusterPrompt(sample []model.ReasonSample) (Request, error) {
	raw, err := json.Marshal(sample)
	if err != nil {
		return Request{}, fmt.Errorf("failed to marshal reason sample: %w", err)
	}
	user, err := pb.render("cluster_reasons", struct{ SampleJSON string }{string(raw)})
	if err != nil {
		return Request{}, err
	}
	return Request{System: clusterSystemPrompt, User: user, JSONMode: true}, nil
}

// rankInput is the payload serialised into the ranking prompt.
type rankInput struct {
	BusinessGoal string            `json:"business_goal"`
	Constraints  string            `json:"constraints"`
	Profiling    report.Profiling  `json:"profiling"`
	Modules      report.Modules    `json:"modules"`
	Dataset      *rankDatasetHints `json:"dataset,omitempty"`
}

type rankDatasetHints struct {
	DateStart   string `json:"date_start,omitempty"`
	DateEnd     string `json:"date_end,omitempty"`
	TotalOrders int    `json:"total_orders"`
}

// BuildRankPrompt renders the action ranking prompt.
func (pb *promptBuilder) BuildRankPrompt(req model.RankRequest, maxActions int) (Request, error) {
	in := rankInput{
		BusinessGoal: req.Goal,
		Constraints:  req.Constraints,
		Profiling:    report.ProfilingSection(&req.Profiling),
		Modules:      report.ModulesSection(&req.Returns, &req.Dependency),
		Dataset: &rankDatasetHints{
			DateStart:   req.Profiling.DateRange.Start,
			DateEnd:     req.Profiling.DateRange.End,
			TotalOrders: req.Profiling.TotalOrders,
		},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return Request{}, fmt.Errorf("failed to marshal ranking input: %w", err)
	}

	user, err := pb.render("rank_actions", struct {
		InputJSON   string
		Constraints string
		MaxActions  int
	}{string(raw), req.Constraints, maxActions})
	if err != nil {
		return Request{}, err
	}
	return Request{System: rankSystemPrompt, User: user, JSONMode: true}, nil
}
