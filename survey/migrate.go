package survey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// DraftStorageKey is where the wizard keeps its draft document.
const DraftStorageKey = "parish-survey-draft"

var (
	itemSections   = []string{"informacionGeneral", "vivienda", "servicios_agua"}
	memberSections = []string{"familyMembers", "deceasedMembers"}
)

// MigrationReport summarises a draft id migration.
type MigrationReport struct {
	Converted []string `json:"converted"`
	Skipped   []string `json:"skipped"`
}

// Changed reports whether the migration rewrote anything.
func (r MigrationReport) Changed() bool { return len(r.Converted) > 0 }

// MigrateDraftIDs rewrites catalog references stored with string ids into
// numeric ids. Ids that are not canonical integers (including zero padded
// codes such as "05001") are logged and left as they are;
// absent references are not touched. doc is modified in place and returned.
func (e *Editor) MigrateDraftIDs(doc map[string]any) (map[string]any, MigrationReport) {
	var report MigrationReport
	if doc == nil {
		return doc, report
	}
	for _, section := range itemSections {
		fields, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		e.migrateFields(section, fields, &report)
	}
	for _, section := range memberSections {
		members, ok := doc[section].([]any)
		if !ok {
			continue
		}
		for i, m := range members {
			fields, ok := m.(map[string]any)
			if !ok {
				continue
			}
			e.migrateFields(fmt.Sprintf("%s[%d]", section, i), fields, &report)
		}
	}
	return doc, report
}

func (e *Editor) migrateFields(prefix string, fields map[string]any, report *MigrationReport) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		item, ok := fields[key].(map[string]any)
		if !ok {
			continue
		}
		raw, ok := item["id"].(string)
		if !ok {
			continue
		}
		path := prefix + "." + key
		n, ok := ItemID(strings.TrimSpace(raw)).Int64()
		if !ok {
			e.logger.Warn("catalog id is not numeric, leaving as is",
				zap.String("path", path),
				zap.String("id", raw))
			report.Skipped = append(report.Skipped, path)
			continue
		}
		item["id"] = n
		report.Converted = append(report.Converted, path)
	}
}

// MigrateDraftJSON runs MigrateDraftIDs over a serialized draft.
func (e *Editor) MigrateDraftJSON(raw []byte) ([]byte, MigrationReport, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, MigrationReport{}, fmt.Errorf("decode draft: %w", err)
	}
	doc, report := e.MigrateDraftIDs(doc)
	if !report.Changed() {
		return raw, report, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, report, fmt.Errorf("encode draft: %w", err)
	}
	return out, report, nil
}

// MigrateDraftIDs migrates a decoded draft with the default editor.
func MigrateDraftIDs(doc map[string]any) (map[string]any, MigrationReport) {
	return defaultEditor.MigrateDraftIDs(doc)
}

// MigrateDraftJSON migrates a serialized draft with the default editor.
func MigrateDraftJSON(raw []byte) ([]byte, MigrationReport, error) {
	return defaultEditor.MigrateDraftJSON(raw)
}
