package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"recall/backend/features/document"
	"recall/backend/features/job"
	"recall/backend/features/source"
)

// Executors returns one executor per task type, sharing a pipeline.
func Executors(p *Pipeline, src Sources, l Limits) map[job.TaskType]job.TaskExecutor {
	return map[job.TaskType]job.TaskExecutor{
		job.TaskNotes:    NewNotesExecutor(src, p, l),
		job.TaskEmails:   NewEmailExecutor(src, p, l),
		job.TaskCalendar: NewCalendarExecutor(src, p, l),
	}
}

// NotesExecutor indexes every note and transcript of the user in one task.
type NotesExecutor struct {
	notes    NoteReader
	pipeline *Pipeline
	build    *builder
}

func NewNotesExecutor(notes NoteReader, p *Pipeline, l Limits) *NotesExecutor {
	return &NotesExecutor{notes: notes, pipeline: p, build: newBuilder(l)}
}

func (e *NotesExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task) (job.TaskResult, error) {
	var res job.TaskResult
	notes, err := e.notes.ListNotes(ctx, j.UserID)
	if err != nil {
		return res, fmt.Errorf("list notes: %w", err)
	}
	res.Total = len(notes)
	res.Sources = len(notes)

	units := make([]document.SourceUnit, 0, len(notes))
	for _, n := range notes {
		u, ok := e.build.note(n)
		if !ok {
			res.Empty++
			continue
		}
		units = append(units, u)
	}

	if err := e.pipeline.Index(ctx, j.UserID, t.Params.Mode, units, &res); err != nil {
		return res, err
	}
	slog.InfoContext(ctx, "notes indexed", "task_id", t.ID, "sources", res.Sources, "documents", res.Documents, "skipped", res.Skipped, "empty", res.Empty)
	return res, nil
}

// EmailExecutor indexes one page of an account's threads. Listing ids is
// cheap, so every page re-lists them and fetches full content for its own
// slice only.
type EmailExecutor struct {
	mail     MailReader
	pipeline *Pipeline
	build    *builder
	pageSize int
}

func NewEmailExecutor(mail MailReader, p *Pipeline, l Limits) *EmailExecutor {
	b := newBuilder(l)
	return &EmailExecutor{mail: mail, pipeline: p, build: b, pageSize: b.limits.EmailPageSize}
}

func (e *EmailExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task) (job.TaskResult, error) {
	var res job.TaskResult
	if err := checkAccount(ctx, e.mail, j.UserID, t.Params.AccountID, source.CapabilityEmail); err != nil {
		return res, err
	}

	ids, err := e.mail.ListThreadIDs(ctx, j.UserID, t.Params.AccountID)
	if err != nil {
		return res, fmt.Errorf("list threads: %w", err)
	}
	page := paginate(ids, t.Params.Offset, e.pageSize, &res)
	if len(page) == 0 {
		return res, nil
	}

	threads, err := e.mail.FetchThreads(ctx, j.UserID, page)
	if err != nil {
		return res, fmt.Errorf("fetch threads: %w", err)
	}
	res.Sources = len(threads)

	units := make([]document.SourceUnit, 0, len(threads))
	for _, th := range threads {
		u, ok := e.build.thread(th)
		if !ok {
			res.Empty++
			continue
		}
		units = append(units, u)
	}

	if err := e.pipeline.Index(ctx, j.UserID, t.Params.Mode, units, &res); err != nil {
		return res, err
	}
	slog.InfoContext(ctx, "email page indexed", "task_id", t.ID, "offset", t.Params.Offset, "total", res.Total, "documents", res.Documents, "has_more", res.HasMore)
	return res, nil
}

// CalendarExecutor indexes one page of an account's events, committing every
// flushEvery events so a long page keeps partial progress.
type CalendarExecutor struct {
	calendar   CalendarReader
	pipeline   *Pipeline
	build      *builder
	pageSize   int
	flushEvery int
}

func NewCalendarExecutor(calendar CalendarReader, p *Pipeline, l Limits) *CalendarExecutor {
	b := newBuilder(l)
	return &CalendarExecutor{calendar: calendar, pipeline: p, build: b, pageSize: b.limits.CalendarPageSize, flushEvery: b.limits.CalendarFlushEvery}
}

func (e *CalendarExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task) (job.TaskResult, error) {
	var res job.TaskResult
	if err := checkAccount(ctx, e.calendar, j.UserID, t.Params.AccountID, source.CapabilityCalendar); err != nil {
		return res, err
	}

	ids, err := e.calendar.ListEventIDs(ctx, j.UserID, t.Params.AccountID)
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	page := paginate(ids, t.Params.Offset, e.pageSize, &res)
	if len(page) == 0 {
		return res, nil
	}

	events, err := e.calendar.FetchEvents(ctx, j.UserID, page)
	if err != nil {
		return res, fmt.Errorf("fetch events: %w", err)
	}
	res.Sources = len(events)

	var units []document.SourceUnit
	flush := func() error {
		if err := e.pipeline.Index(ctx, j.UserID, t.Params.Mode, units, &res); err != nil {
			return err
		}
		units = units[:0]
		return nil
	}

	for i, ev := range events {
		if u, ok := e.build.event(ev); ok {
			units = append(units, u)
		} else {
			res.Empty++
		}
		if (i+1)%e.flushEvery == 0 {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	slog.InfoContext(ctx, "calendar page indexed", "task_id", t.ID, "offset", t.Params.Offset, "total", res.Total, "documents", res.Documents, "has_more", res.HasMore)
	return res, nil
}

// paginate returns the slice of ids for the page at offset and records the
// totals and continuation on res.
func paginate(ids []string, offset, pageSize int, res *job.TaskResult) []string {
	res.Total = len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	end := min(offset+pageSize, len(ids))
	res.HasMore = offset+pageSize < len(ids)
	if res.HasMore {
		res.NextOffset = offset + pageSize
	}
	return ids[offset:end]
}

func checkAccount(ctx context.Context, r AccountReader, userID, accountID string, c source.Capability) error {
	if accountID == "" {
		return fmt.Errorf("%w: task has no account id", ErrUnknownAccount)
	}
	acct, err := r.GetAccount(ctx, userID, accountID)
	if errors.Is(err, source.ErrAccountNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if !acct.Supports(c) {
		return fmt.Errorf("%w: account %s does not link %s", ErrUnknownAccount, accountID, c)
	}
	return nil
}
