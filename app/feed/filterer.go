package feed

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns the announcements whose title satisfies rule, in input order.
func (f *Filterer) Run(announcements []Announcement, rule TopicRule) []Announcement {
	includes := f.foldAll(rule.Include)
	excludes := f.foldAll(rule.Exclude)

	matched := make([]Announcement, 0)
	for _, announcement := range announcements {
		ok, reason := f.applyRule(announcement.Title, includes, excludes)
		if !ok {
			slog.Debug("Announcement filtered out", "topic", rule.Name, "title", announcement.Title, "reason", reason)
			continue
		}
		matched = append(matched, announcement)
	}

	return matched
}

// Matches reports whether a single title satisfies rule.
func (f *Filterer) Matches(title string, rule TopicRule) bool {
	ok, _ := f.applyRule(title, f.foldAll(rule.Include), f.foldAll(rule.Exclude))
	return ok
}

func (f *Filterer) applyRule(title string, includes, excludes []string) (bool, string) {
	value := f.fold(title)

	included := false
	for _, include := range includes {
		if include != "" && strings.Contains(value, include) {
			included = true
			break
		}
	}
	if !included {
		return false, fmt.Sprintf("does not contain any of %v", includes)
	}

	for _, exclude := range excludes {
		if exclude != "" && strings.Contains(value, exclude) {
			return false, fmt.Sprintf("contains excluded '%s'", exclude)
		}
	}

	return true, ""
}

func (f *Filterer) foldAll(tokens []string) []string {
	folded := make([]string, 0, len(tokens))
	for _, token := range tokens {
		folded = append(folded, f.fold(token))
	}
	return folded
}

func (f *Filterer) fold(value string) string {
	return cases.Fold().String(value)
}
