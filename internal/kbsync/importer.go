package kbsync

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agentworkforce/kbsync/internal/metrics"
)

const DefaultImportInterval = 1100 * time.Millisecond

type Record struct {
	Question string
	Answer   string
	Dialog   string
}

var sectionSeparator = regexp.MustCompile(`\n\s*\n`)

// ParseRecords splits the formatted document on blank-line boundaries. Each
// section's first line is the labelled question, the second the labelled
// answer, and everything after is the supporting dialog. Sections with fewer
// than two lines are dropped.
func ParseRecords(doc string) []Record {
	// Normalize CRLF up front so dialog lines never carry a stray \r into
	// the rewrite prompt.
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil
	}
	sections := sectionSeparator.Split(doc, -1)
	records := make([]Record, 0, len(sections))
	for _, section := range sections {
		lines := strings.Split(section, "\n")
		if len(lines) < 2 {
			continue
		}
		records = append(records, Record{
			Question: labelValue(lines[0]),
			Answer:   labelValue(lines[1]),
			Dialog:   strings.Join(lines[2:], "\n"),
		})
	}
	return records
}

func labelValue(line string) string {
	if _, value, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(line)
}

type PageWriter interface {
	CreatePage(ctx context.Context, req NotionCreatePageRequest) error
}

type ImporterOptions struct {
	Generator  Generator
	Writer     PageWriter
	Done       DoneSet
	DatabaseID string
	TitleField string
	BodyField  string
	Interval   time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

type Importer struct {
	generator  Generator
	writer     PageWriter
	done       DoneSet
	databaseID string
	titleField string
	bodyField  string
	interval   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

func NewImporter(opts ImporterOptions) (*Importer, error) {
	if opts.Generator == nil || opts.Writer == nil || opts.Done == nil {
		return nil, fmt.Errorf("%w: generator, writer, and done set are required", ErrInvalidInput)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultImportInterval
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Importer{
		generator:  opts.Generator,
		writer:     opts.Writer,
		done:       opts.Done,
		databaseID: opts.DatabaseID,
		titleField: opts.TitleField,
		bodyField:  opts.BodyField,
		interval:   interval,
		sleep:      sleep,
	}, nil
}

// Run processes records sequentially: skip if checkpointed, generate, write,
// checkpoint, pause. The pause lands only between two remote-call records,
// never before the first or after the last. The first generate/write/
// checkpoint error stops the whole run; an unexpected failure here usually
// means revoked credentials or quota, and continuing would burn the rest.
func (im *Importer) Run(ctx context.Context, records []Record) (ImportSummary, error) {
	var summary ImportSummary
	for _, record := range records {
		if im.done.Contains(record.Question) {
			summary.Skipped++
			metrics.ImportRecords.WithLabelValues("skipped").Inc()
			continue
		}
		if summary.Imported > 0 {
			if err := im.sleep(ctx, im.interval); err != nil {
				return summary, err
			}
		}
		rewritten, err := im.generator.Rewrite(ctx, record.Question, record.Answer, record.Dialog)
		if err != nil {
			metrics.ImportRecords.WithLabelValues("error").Inc()
			return summary, fmt.Errorf("generate answer for %q: %w", record.Question, err)
		}
		err = im.writer.CreatePage(ctx, NotionCreatePageRequest{
			DatabaseID: im.databaseID,
			TitleField: im.titleField,
			BodyField:  im.bodyField,
			Question:   record.Question,
			Answer:     rewritten,
		})
		if err != nil {
			metrics.ImportRecords.WithLabelValues("error").Inc()
			return summary, fmt.Errorf("write page for %q: %w", record.Question, err)
		}
		if err := im.done.Add(ctx, record.Question); err != nil {
			return summary, fmt.Errorf("checkpoint %q: %w", record.Question, err)
		}
		summary.Imported++
		metrics.ImportRecords.WithLabelValues("imported").Inc()
	}
	return summary, nil
}
