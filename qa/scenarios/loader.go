// Package scenarios runs YAML-described dispatch schedules against the
// engine and checks the activation states they should produce. Each
// scenario file is self-contained: dispatches with offsets relative to
// a base instant, and probes asserting the state of every dispatch at
// given offsets.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/griddispatch/core/model"
)

// DispatchDef describes one dispatch with offsets relative to the
// scenario base instant.
type DispatchDef struct {
	Type         string   `yaml:"type"`
	StartOffset  string   `yaml:"start_offset"`
	Duration     string   `yaml:"duration,omitempty"`
	ComponentIDs []uint64 `yaml:"component_ids,omitempty"`
	Categories   []string `yaml:"categories,omitempty"`
	Active       *bool    `yaml:"active,omitempty"`
	DryRun       bool     `yaml:"dry_run,omitempty"`
	Recurrence   *RuleDef `yaml:"recurrence,omitempty"`
}

// RuleDef describes a recurrence rule.
type RuleDef struct {
	Freq        string   `yaml:"freq"`
	Interval    int      `yaml:"interval,omitempty"`
	Count       uint32   `yaml:"count,omitempty"`
	UntilOffset string   `yaml:"until_offset,omitempty"`
	ByMinutes   []int    `yaml:"by_minutes,omitempty"`
	ByHours     []int    `yaml:"by_hours,omitempty"`
	ByWeekdays  []string `yaml:"by_weekdays,omitempty"`
	ByMonthdays []int    `yaml:"by_monthdays,omitempty"`
}

// ProbeDef asserts the state of every dispatch at one offset. States
// align with the dispatches list by index.
type ProbeDef struct {
	AtOffset string   `yaml:"at_offset"`
	States   []string `yaml:"states"`
}

// Scenario is one YAML scenario file.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Dispatches  []DispatchDef `yaml:"dispatches"`
	Probes      []ProbeDef    `yaml:"probes"`
}

// Load reads and decodes a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ToData converts the definition into creation input anchored at base.
func (d DispatchDef) ToData(base time.Time) (model.DispatchData, error) {
	start, err := time.ParseDuration(d.StartOffset)
	if err != nil {
		return model.DispatchData{}, fmt.Errorf("start_offset: %w", err)
	}
	data := model.DispatchData{
		Type:      d.Type,
		StartTime: base.Add(start),
		Active:    true,
		DryRun:    d.DryRun,
	}
	if d.Active != nil {
		data.Active = *d.Active
	}
	if d.Duration != "" {
		dur, err := time.ParseDuration(d.Duration)
		if err != nil {
			return model.DispatchData{}, fmt.Errorf("duration: %w", err)
		}
		data.Duration = dur
	}
	switch {
	case len(d.ComponentIDs) > 0:
		data.Selector = model.ComponentIDs(d.ComponentIDs)
	case len(d.Categories) > 0:
		cats := make(model.ComponentCategories, len(d.Categories))
		for i, n := range d.Categories {
			c, err := model.ParseCategory(n)
			if err != nil {
				return model.DispatchData{}, err
			}
			cats[i] = c
		}
		data.Selector = cats
	}
	if d.Recurrence != nil {
		rule, err := d.Recurrence.toRule(base)
		if err != nil {
			return model.DispatchData{}, err
		}
		data.Recurrence = rule
	}
	return data, nil
}

func (r RuleDef) toRule(base time.Time) (*model.RecurrenceRule, error) {
	freq, err := model.ParseFrequency(r.Freq)
	if err != nil {
		return nil, err
	}
	interval := r.Interval
	if interval == 0 {
		interval = 1
	}
	rule := &model.RecurrenceRule{
		Freq:        freq,
		Interval:    interval,
		ByMinutes:   r.ByMinutes,
		ByHours:     r.ByHours,
		ByMonthdays: r.ByMonthdays,
	}
	if r.Count > 0 && r.UntilOffset != "" {
		return nil, fmt.Errorf("recurrence: count and until_offset are mutually exclusive")
	}
	if r.Count > 0 {
		rule.End = model.EndCount(r.Count)
	}
	if r.UntilOffset != "" {
		d, err := time.ParseDuration(r.UntilOffset)
		if err != nil {
			return nil, fmt.Errorf("until_offset: %w", err)
		}
		rule.End = model.EndUntil(base.Add(d))
	}
	for _, n := range r.ByWeekdays {
		wd, err := model.ParseWeekday(n)
		if err != nil {
			return nil, err
		}
		rule.ByWeekdays = append(rule.ByWeekdays, wd)
	}
	return rule, nil
}
