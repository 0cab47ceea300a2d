/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_automation/internal/events"
	"github.com/friendsincode/grimnir_automation/internal/models"
)

var ErrBadLibrary = errors.New("invalid library document")

// Library is the YAML document exchanged by import and export.
type Library struct {
	Media     []MediaEntry        `yaml:"media,omitempty"`
	Playlists map[string][]string `yaml:"playlists,omitempty"`
	Events    []EventEntry        `yaml:"events,omitempty"`
	FillRules []FillRuleEntry     `yaml:"fill_rules,omitempty"`
}

// MediaEntry is one library item.
type MediaEntry struct {
	URL      string  `yaml:"url"`
	Type     string  `yaml:"type,omitempty"`
	Name     string  `yaml:"name,omitempty"`
	Artist   string  `yaml:"artist,omitempty"`
	Duration float64 `yaml:"duration"`
	SegIn    float64 `yaml:"seg_in,omitempty"`
	SegOut   float64 `yaml:"seg_out,omitempty"`
	FadeOut  float64 `yaml:"fade_out,omitempty"`
	Together string  `yaml:"together,omitempty"`
	Missing  bool    `yaml:"missing,omitempty"`
}

// EventEntry is an item due at a wall clock time.
type EventEntry struct {
	URL      string    `yaml:"url"`
	At       time.Time `yaml:"at"`
	Priority int       `yaml:"priority,omitempty"`
}

// FillRuleEntry covers a weekday ("*" for every day) from Start to End,
// both "HH:MM".
type FillRuleEntry struct {
	URL     string `yaml:"url"`
	Weekday string `yaml:"weekday"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Weight  int    `yaml:"weight,omitempty"`
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Media     int
	Playlists int
	Events    int
	Skipped   int
	FillRules int
}

// LibraryService moves the library tables in and out of YAML and iCal.
type LibraryService struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
}

// NewLibraryService creates a library service. Imports announce changed
// URLs on bus so cached lookups are dropped.
func NewLibraryService(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *LibraryService {
	if bus == nil {
		bus = events.Discard{}
	}
	return &LibraryService{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "library").Logger(),
	}
}

// DecodeLibrary parses and validates a library document.
func DecodeLibrary(r io.Reader) (*Library, error) {
	var lib Library
	if err := yaml.NewDecoder(r).Decode(&lib); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrBadLibrary, err)
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return &lib, nil
}

func (l *Library) validate() error {
	for i, m := range l.Media {
		if m.URL == "" {
			return fmt.Errorf("%w: media %d has no url", ErrBadLibrary, i)
		}
		if m.Duration < 0 || m.SegIn < 0 || m.SegOut < 0 {
			return fmt.Errorf("%w: media %s has negative times", ErrBadLibrary, m.URL)
		}
	}
	for i, e := range l.Events {
		if e.URL == "" || e.At.IsZero() {
			return fmt.Errorf("%w: event %d needs url and at", ErrBadLibrary, i)
		}
	}
	for i, r := range l.FillRules {
		if _, err := r.rule(); err != nil {
			return fmt.Errorf("%w: fill rule %d: %v", ErrBadLibrary, i, err)
		}
	}
	return nil
}

var weekdays = map[string]int{
	"*": -1, "sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

func (r FillRuleEntry) rule() (models.FillRule, error) {
	if r.URL == "" {
		return models.FillRule{}, fmt.Errorf("url required")
	}
	day := strings.ToLower(strings.TrimSpace(r.Weekday))
	if day == "" {
		day = "*"
	}
	wd, ok := weekdays[day]
	if !ok && len(day) > 3 {
		wd, ok = weekdays[day[:3]]
	}
	if !ok {
		return models.FillRule{}, fmt.Errorf("unknown weekday %q", r.Weekday)
	}
	start, err := parseMinute(r.Start, 0)
	if err != nil {
		return models.FillRule{}, err
	}
	end, err := parseMinute(r.End, 24*60)
	if err != nil {
		return models.FillRule{}, err
	}
	if end <= start {
		return models.FillRule{}, fmt.Errorf("end %s not after start %s", r.End, r.Start)
	}
	return models.FillRule{URL: r.URL, Weekday: wd, StartMinute: start, EndMinute: end, Weight: r.Weight}, nil
}

// parseMinute reads "HH:MM" as minutes after midnight; "24:00" is allowed.
func parseMinute(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h*60+m > 24*60 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return h*60 + m, nil
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Import writes lib in one transaction. Media rows are upserted by URL,
// named playlists are replaced whole, events already present for the same
// URL and target are skipped, and fill rules are appended.
func (s *LibraryService) Import(ctx context.Context, lib *Library) (ImportResult, error) {
	var res ImportResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(lib.Media) > 0 {
			rows := lo.Map(lib.Media, func(m MediaEntry, _ int) models.MediaItem {
				typ := m.Type
				if typ == "" {
					typ = "file"
				}
				return models.MediaItem{
					URL: m.URL, Type: typ, Name: m.Name, Artist: m.Artist,
					Duration: m.Duration, SegIn: m.SegIn, SegOut: m.SegOut,
					FadeOut: m.FadeOut, Together: m.Together, Missing: m.Missing,
				}
			})
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("upsert media: %w", err)
			}
			res.Media = len(rows)
		}

		for _, url := range sortedKeys(lib.Playlists) {
			if err := tx.Where("playlist_url = ?", url).Delete(&models.PlaylistItem{}).Error; err != nil {
				return fmt.Errorf("clear playlist %s: %w", url, err)
			}
			items := lib.Playlists[url]
			if len(items) > 0 {
				rows := lo.Map(items, func(item string, i int) models.PlaylistItem {
					return models.PlaylistItem{PlaylistURL: url, Position: i, ItemURL: item}
				})
				if err := tx.Create(&rows).Error; err != nil {
					return fmt.Errorf("write playlist %s: %w", url, err)
				}
			}
			res.Playlists++
		}

		for _, e := range lib.Events {
			target := float64(e.At.UnixNano()) / 1e9
			var n int64
			if err := tx.Model(&models.ScheduledEvent{}).
				Where("url = ? AND target_time = ?", e.URL, target).
				Count(&n).Error; err != nil {
				return fmt.Errorf("check event: %w", err)
			}
			if n > 0 {
				res.Skipped++
				continue
			}
			row := models.ScheduledEvent{URL: e.URL, TargetTime: target, Priority: e.Priority}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create event: %w", err)
			}
			res.Events++
		}

		for _, r := range lib.FillRules {
			row, _ := r.rule()
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create fill rule: %w", err)
			}
			res.FillRules++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	for _, m := range lib.Media {
		s.bus.Publish(events.EventMediaUpdated, events.Payload{"url": m.URL})
	}
	for url := range lib.Playlists {
		s.bus.Publish(events.EventMediaUpdated, events.Payload{"url": url})
	}
	s.logger.Info().
		Int("media", res.Media).
		Int("playlists", res.Playlists).
		Int("events", res.Events).
		Int("skipped", res.Skipped).
		Int("fill_rules", res.FillRules).
		Msg("library imported")
	return res, nil
}

// Export reads every library table back into a document.
func (s *LibraryService) Export(ctx context.Context) (*Library, error) {
	db := s.db.WithContext(ctx)
	lib := &Library{}

	var media []models.MediaItem
	if err := db.Order("url ASC").Find(&media).Error; err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	lib.Media = lo.Map(media, func(m models.MediaItem, _ int) MediaEntry {
		return MediaEntry{
			URL: m.URL, Type: m.Type, Name: m.Name, Artist: m.Artist,
			Duration: m.Duration, SegIn: m.SegIn, SegOut: m.SegOut,
			FadeOut: m.FadeOut, Together: m.Together, Missing: m.Missing,
		}
	})

	var items []models.PlaylistItem
	if err := db.Order("playlist_url ASC, position ASC, id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("read playlists: %w", err)
	}
	if len(items) > 0 {
		lib.Playlists = make(map[string][]string)
		for _, it := range items {
			lib.Playlists[it.PlaylistURL] = append(lib.Playlists[it.PlaylistURL], it.ItemURL)
		}
	}

	var evs []models.ScheduledEvent
	if err := db.Order("target_time ASC, id ASC").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	lib.Events = lo.Map(evs, func(e models.ScheduledEvent, _ int) EventEntry {
		return EventEntry{URL: e.URL, At: unixTime(e.TargetTime), Priority: e.Priority}
	})

	var rules []models.FillRule
	if err := db.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("read fill rules: %w", err)
	}
	names := lo.Invert(weekdays)
	lib.FillRules = lo.Map(rules, func(r models.FillRule, _ int) FillRuleEntry {
		return FillRuleEntry{
			URL: r.URL, Weekday: names[r.Weekday],
			Start: formatMinute(r.StartMinute), End: formatMinute(r.EndMinute), Weight: r.Weight,
		}
	})
	return lib, nil
}

// Encode writes lib as YAML.
func (l *Library) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("encode library: %w", err)
	}
	return enc.Close()
}

// ExportICal renders the scheduled events between from and to as an
// iCalendar feed. Event length comes from the media library when known.
func (s *LibraryService) ExportICal(ctx context.Context, from, to time.Time) ([]byte, error) {
	db := s.db.WithContext(ctx)

	var evs []models.ScheduledEvent
	if err := db.Where("target_time >= ? AND target_time < ?", float64(from.Unix()), float64(to.Unix())).
		Order("target_time ASC, id ASC").
		Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	urls := lo.Uniq(lo.Map(evs, func(e models.ScheduledEvent, _ int) string { return e.URL }))
	var media []models.MediaItem
	if len(urls) > 0 {
		if err := db.Where("url IN ?", urls).Find(&media).Error; err != nil {
			return nil, fmt.Errorf("read media: %w", err)
		}
	}
	byURL := lo.KeyBy(media, func(m models.MediaItem) string { return m.URL })

	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Grimnir Automation//Schedule Export//EN\r\n")
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	stamp := formatICalTime(time.Now())
	for _, e := range evs {
		start := unixTime(e.TargetTime)
		end := start
		summary := e.URL
		if m, ok := byURL[e.URL]; ok {
			end = start.Add(time.Duration(m.Duration * float64(time.Second)))
			if m.Name != "" {
				summary = m.Name
			}
		}
		buf.WriteString("BEGIN:VEVENT\r\n")
		fmt.Fprintf(&buf, "UID:event-%d@grimnir-automation\r\n", e.ID)
		fmt.Fprintf(&buf, "DTSTAMP:%s\r\n", stamp)
		fmt.Fprintf(&buf, "DTSTART:%s\r\n", formatICalTime(start))
		fmt.Fprintf(&buf, "DTEND:%s\r\n", formatICalTime(end))
		fmt.Fprintf(&buf, "SUMMARY:%s\r\n", escapeICalText(summary))
		fmt.Fprintf(&buf, "DESCRIPTION:%s\r\n", escapeICalText(fmt.Sprintf("%s (priority %d)", e.URL, e.Priority)))
		buf.WriteString("END:VEVENT\r\n")
	}
	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes(), nil
}

func unixTime(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC()
}

func sortedKeys(m map[string][]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
