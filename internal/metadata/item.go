/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Item is the typed view of a metadata record. It is parsed once per read so
// the scheduler never re-parses strings inside its hot loops.
type Item struct {
	Ref         Ref
	URL         string
	Name        string
	Artist      string
	Type        ItemType
	Duration    float64
	Priority    int
	TargetTime  float64
	SegIn       float64
	SegOut      float64
	SegLevel    float64
	FadeOut     float64
	FadeTime    float64
	Together    string
	FillTime    float64
	DefSegLevel float64
	DefSegOut   float64
	NoPost      bool
	NoLog       bool
	Owner       string
	Missing     bool
	Effects     string
	LogID       uint64
	Revision    uint32
}

// EffectiveType folds the Missing flag into the item type.
func (it Item) EffectiveType() ItemType {
	if it.Missing {
		return TypeMissing
	}
	return it.Type
}

// HasTarget reports whether a target time is set.
func (it Item) HasTarget() bool {
	return it.TargetTime > 0
}

// SegOutOrDuration returns the explicit SegOut, or Duration when unset.
func (it Item) SegOutOrDuration() float64 {
	if it.SegOut > 0 {
		return it.SegOut
	}
	return it.Duration
}

// Load reads every consumed key of ref into an Item. Malformed values are
// left at their zero value and reported through the returned error.
func Load(s Store, ref Ref) (Item, error) {
	it := Item{Ref: ref}
	if ref == 0 || s == nil {
		return it, nil
	}

	p := parser{store: s, ref: ref}
	it.URL = p.str(KeyURL)
	it.Name = p.str(KeyName)
	it.Artist = p.str(KeyArtist)
	it.Type = ItemType(strings.ToLower(p.str(KeyType)))
	it.Duration = p.float(KeyDuration)
	it.Priority = p.int(KeyPriority)
	it.TargetTime = p.float(KeyTargetTime)
	it.SegIn = p.float(KeySegIn)
	it.SegOut = p.float(KeySegOut)
	it.SegLevel = p.float(KeySegLevel)
	it.FadeOut = p.float(KeyFadeOut)
	it.FadeTime = p.float(KeyFadeTime)
	it.Together = p.str(KeyTogether)
	it.FillTime = p.float(KeyFillTime)
	it.DefSegLevel = p.float(KeyDefSegLevel)
	it.DefSegOut = p.float(KeyDefSegOut)
	it.NoPost = p.bool(KeyNoPost)
	it.NoLog = p.bool(KeyNoLog)
	it.Owner = p.str(KeyOwner)
	it.Missing = p.bool(KeyMissing)
	it.Effects = p.str(KeyEffects)
	it.LogID = p.uint(KeyLogID)
	it.Revision = s.Revision(ref)

	return it, errors.Join(p.errs...)
}

type parser struct {
	store Store
	ref   Ref
	errs  []error
}

func (p *parser) str(key string) string {
	v, _ := p.store.Get(p.ref, key)
	return v
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.store.Get(p.ref, key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) float(key string) float64 {
	v, ok := p.raw(key)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	return f
}

func (p *parser) int(key string) int {
	v, ok := p.raw(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	return n
}

func (p *parser) uint(key string) uint64 {
	v, ok := p.raw(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	return n
}

func (p *parser) bool(key string) bool {
	v, ok := p.raw(key)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
	return false
}

// FormatFloat renders a float the way records store numbers.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetFloat stores a numeric value on ref.
func SetFloat(s Store, ref Ref, key string, v float64) bool {
	return s.Set(ref, key, FormatFloat(v))
}

// SetInt stores an integer value on ref.
func SetInt(s Store, ref Ref, key string, v int) bool {
	return s.Set(ref, key, strconv.Itoa(v))
}
