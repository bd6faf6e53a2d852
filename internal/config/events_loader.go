package config

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/matchsim/tacticache/internal/expr"
)

const inlineSourceName = "inline-config"

// EventBundle captures the merged event rules after loading every configured
// source. The metadata explains what was loaded and why certain rules were
// skipped.
type EventBundle struct {
	Events  map[string]EventRuleConfig
	Sources []string
	Skipped []DefinitionSkip
}

type eventDocument struct {
	Events map[string]EventRuleConfig `koanf:"events"`
}

type eventAggregator struct {
	events       map[string]EventRuleConfig
	eventSources map[string]string
	eventSkips   map[string]*DefinitionSkip

	sources map[string]struct{}
}

func newEventAggregator() *eventAggregator {
	return &eventAggregator{
		events:       make(map[string]EventRuleConfig),
		eventSources: make(map[string]string),
		eventSkips:   make(map[string]*DefinitionSkip),
		sources:      make(map[string]struct{}),
	}
}

func (a *eventAggregator) addDocument(doc eventDocument, source string) {
	if source != "" {
		a.sources[source] = struct{}{}
	}
	for name, cfg := range doc.Events {
		a.addEvent(name, cfg, source)
	}
}

func (a *eventAggregator) addEvent(name string, cfg EventRuleConfig, source string) {
	if existing, ok := a.eventSkips[name]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.eventSources[name]; ok {
		a.recordSkip(name, "duplicate definition", prev, source)
		delete(a.eventSources, name)
		delete(a.events, name)
		return
	}
	a.eventSources[name] = source
	a.events[name] = cfg
}

// validateEventRules quarantines rules whose predicate does not compile or
// that specify no action at all. Invalidation must keep working for the
// remaining rules, so a broken definition is disabled rather than fatal.
func (a *eventAggregator) validateEventRules(env *expr.Environment) {
	for name, cfg := range a.events {
		reason := ""
		switch {
		case !cfg.ClearAll && strings.TrimSpace(cfg.Match) == "":
			reason = "event rule requires clearAll or a match predicate"
		case strings.TrimSpace(cfg.Match) != "":
			if _, err := env.Compile(cfg.Match); err != nil {
				reason = fmt.Sprintf("invalid match predicate: %v", err)
			}
		}
		if reason == "" {
			continue
		}
		source := a.eventSources[name]
		a.recordSkip(name, reason, source)
		delete(a.eventSources, name)
		delete(a.events, name)
	}
}

func (a *eventAggregator) recordSkip(name, reason string, sources ...string) {
	if skip, ok := a.eventSkips[name]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &DefinitionSkip{
		Kind:    "event",
		Name:    name,
		Reason:  reason,
		Sources: []string{},
	}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	a.eventSkips[name] = skip
}

func (a *eventAggregator) bundle() EventBundle {
	events := make(map[string]EventRuleConfig, len(a.events))
	for name, cfg := range a.events {
		events[name] = cfg
	}
	skipped := make([]DefinitionSkip, 0, len(a.eventSkips))
	for _, skip := range a.eventSkips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool {
		return skipped[i].Name < skipped[j].Name
	})
	sources := make([]string, 0, len(a.sources))
	for src := range a.sources {
		if src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return EventBundle{Events: events, Sources: sources, Skipped: skipped}
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	if !slices.Contains(list, value) {
		list = append(list, value)
	}
	return list
}

func buildEventBundle(ctx context.Context, inlineEvents map[string]EventRuleConfig, eventsCfg EventsConfig) (EventBundle, error) {
	agg := newEventAggregator()
	if len(inlineEvents) > 0 {
		agg.addDocument(eventDocument{Events: inlineEvents}, inlineSourceName)
	}

	files, err := collectEventSources(ctx, eventsCfg)
	if err != nil {
		return EventBundle{}, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return EventBundle{}, ctx.Err()
		default:
		}
		doc, err := loadEventDocument(path)
		if err != nil {
			return EventBundle{}, err
		}
		agg.addDocument(doc, path)
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return EventBundle{}, err
	}
	agg.validateEventRules(env)
	return agg.bundle(), nil
}

func collectEventSources(ctx context.Context, eventsCfg EventsConfig) ([]string, error) {
	if eventsCfg.EventsFile != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := ensureFileExists(eventsCfg.EventsFile); err != nil {
			return nil, err
		}
		return []string{eventsCfg.EventsFile}, nil
	}
	if eventsCfg.EventsFolder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(eventsCfg.EventsFolder)
	if err != nil {
		return nil, fmt.Errorf("config: events folder %s: %w", eventsCfg.EventsFolder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: events folder %s is not a directory", eventsCfg.EventsFolder)
	}
	var files []string
	err = filepath.WalkDir(eventsCfg.EventsFolder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedEventsFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk events folder %s: %w", eventsCfg.EventsFolder, err)
	}
	sort.Strings(files)
	return files, nil
}

func ensureFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: events file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: events file %s: expected a file, found directory", path)
	}
	return nil
}

func loadEventDocument(path string) (eventDocument, error) {
	parser, err := parserFor(path)
	if err != nil {
		return eventDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return eventDocument{}, fmt.Errorf("config: load events from %s: %w", path, err)
	}
	var doc eventDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return eventDocument{}, fmt.Errorf("config: decode events from %s: %w", path, err)
	}
	if doc.Events == nil {
		doc.Events = make(map[string]EventRuleConfig)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported events file extension %s", ext)
	}
}

func isSupportedEventsFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}

func cloneEventMap(in map[string]EventRuleConfig) map[string]EventRuleConfig {
	if len(in) == 0 {
		return nil
	}
	return maps.Clone(in)
}
