// Package extract turns rendered leaf pages into records: HTML queries produce
// the four text sequences of a leaf snapshot and the adapter pairs them into
// an ordered record.
package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/autoharvest/internal/crawler"
)

// Default column names and sentinel.
const (
	DefaultSubjectColumn = "subject"
	DefaultAuthorColumn  = "author_id"
	DefaultUnknown       = "unknown"
)

var labelNoise = regexp.MustCompile(`\d+|\n`)

// Fields names the mandatory columns of every record.
type Fields struct {
	SubjectColumn string
	AuthorColumn  string
	Unknown       string
}

func (f Fields) withDefaults() Fields {
	if f.SubjectColumn == "" {
		f.SubjectColumn = DefaultSubjectColumn
	}
	if f.AuthorColumn == "" {
		f.AuthorColumn = DefaultAuthorColumn
	}
	if f.Unknown == "" {
		f.Unknown = DefaultUnknown
	}
	return f
}

// CleanLabel strips digits and line breaks from a label and trims it.
func CleanLabel(label string) string {
	return strings.TrimSpace(labelNoise.ReplaceAllString(label, ""))
}

// NewAdapter returns an adapter that writes the subject and author columns
// first and then pairs labels[i] with values[i]. Unequal sequences are paired
// up to the shorter length. Labels that clean to the empty string are skipped,
// and a repeated label keeps its first position but takes the later value.
func NewAdapter(fields Fields) crawler.Adapter {
	f := fields.withDefaults()
	return func(snap crawler.LeafSnapshot) crawler.Extraction {
		subject := firstNonEmpty(snap.Subjects, f.Unknown)
		author := firstNonEmpty(snap.Authors, f.Unknown)

		rec := crawler.NewRecord(f.SubjectColumn, subject, f.AuthorColumn, author)
		n := min(len(snap.Labels), len(snap.Values))
		for i := 0; i < n; i++ {
			label := CleanLabel(snap.Labels[i])
			if label == "" || label == f.SubjectColumn || label == f.AuthorColumn {
				continue
			}
			rec.Set(label, strings.TrimSpace(snap.Values[i]))
		}
		return crawler.Extraction{Record: rec, Subject: subject, Author: author}
	}
}

func firstNonEmpty(values []string, fallback string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return fallback
}
