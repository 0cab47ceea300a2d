/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package simulate replays a queue scenario against the in-memory player
// bank, projecting start and end times without touching a database.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
)

var (
	ErrNoItems   = errors.New("scenario has no items")
	ErrBadItem   = errors.New("invalid scenario item")
	ErrBadPasses = errors.New("passes must be positive")
)

// Scenario is a queue to replay.
type Scenario struct {
	Start   time.Time     `yaml:"start"`
	Slots   int           `yaml:"slots"`
	Passes  int           `yaml:"passes"`
	Step    time.Duration `yaml:"step"`
	Stopped bool          `yaml:"stopped"` // replay with the list stopped
	Sort    bool          `yaml:"sort"`    // reorder groups for target times
	Policy  config.Policy `yaml:"policy"`
	Items   []Item        `yaml:"items"`
}

// Item is one queued entry. Repeating a URL reuses the first definition.
type Item struct {
	URL      string        `yaml:"url"`
	Name     string        `yaml:"name"`
	Artist   string        `yaml:"artist"`
	Type     string        `yaml:"type"`
	Duration float64       `yaml:"duration"`
	SegIn    float64       `yaml:"seg_in"`
	SegOut   float64       `yaml:"seg_out"`
	FadeOut  float64       `yaml:"fade_out"`
	Together string        `yaml:"together"` // group tag kept in one block
	Target   time.Duration `yaml:"target"`   // offset from start; zero means none
	Priority int           `yaml:"priority"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a scenario, filling defaults for omitted fields.
func Decode(r io.Reader) (*Scenario, error) {
	sc := &Scenario{
		Slots:  4,
		Passes: 20,
		Step:   30 * time.Second,
		Policy: config.DefaultPolicy(),
	}
	if err := yaml.NewDecoder(r).Decode(sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	if sc.Start.IsZero() {
		sc.Start = time.Now().UTC().Truncate(time.Minute)
	}
	return sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Items) == 0 {
		return ErrNoItems
	}
	if sc.Passes <= 0 {
		return ErrBadPasses
	}
	if sc.Slots <= 0 {
		return fmt.Errorf("slots must be positive")
	}
	if err := sc.Policy.Validate(); err != nil {
		return fmt.Errorf("scenario policy: %w", err)
	}
	for i, it := range sc.Items {
		if it.URL == "" {
			return fmt.Errorf("item %d: %w: url required", i, ErrBadItem)
		}
		if it.Duration < 0 || it.SegIn < 0 || it.SegOut < 0 {
			return fmt.Errorf("item %d (%s): %w: negative time", i, it.URL, ErrBadItem)
		}
	}
	return nil
}

// catalog resolves scenario URLs to their item definitions.
type catalog map[string]Item

func newCatalog(items []Item) catalog {
	c := make(catalog, len(items))
	for _, it := range items {
		if _, ok := c[it.URL]; !ok {
			c[it.URL] = it
		}
	}
	return c
}

func (c catalog) Resolve(_ context.Context, s metadata.Store, ref metadata.Ref) error {
	url, _ := s.Get(ref, metadata.KeyURL)
	it, ok := c[url]
	if !ok {
		s.Set(ref, metadata.KeyMissing, "1")
		return nil
	}
	typ := it.Type
	if typ == "" {
		typ = string(metadata.TypeFile)
	}
	s.Set(ref, metadata.KeyType, typ)
	if it.Name != "" {
		s.Set(ref, metadata.KeyName, it.Name)
	}
	if it.Artist != "" {
		s.Set(ref, metadata.KeyArtist, it.Artist)
	}
	metadata.SetFloat(s, ref, metadata.KeyDuration, it.Duration)
	if it.SegIn > 0 {
		metadata.SetFloat(s, ref, metadata.KeySegIn, it.SegIn)
	}
	if it.SegOut > 0 {
		metadata.SetFloat(s, ref, metadata.KeySegOut, it.SegOut)
	}
	if it.FadeOut > 0 {
		metadata.SetFloat(s, ref, metadata.KeyFadeOut, it.FadeOut)
	}
	if it.Together != "" {
		s.Set(ref, metadata.KeyTogether, it.Together)
	}
	return nil
}
