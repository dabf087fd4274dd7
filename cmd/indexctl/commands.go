package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"recall/backend/features/document"
	"recall/backend/features/job"
	"recall/backend/internal/app"
	"recall/backend/internal/config"
	"recall/backend/internal/logger"
	"recall/backend/internal/retrieval"
)

const defaultIdle = 500 * time.Millisecond

// session is a bootstrapped app for one command.
type session struct {
	deps *app.Dependencies
	app  *app.App
	out  io.Writer
	json bool
}

func (s *session) Close() {
	s.app.Close()
	s.deps.Close()
}

func open(ctx context.Context, cmd *cli.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, _ := logger.Setup(logger.ParseLevel(cmd.String("log-level")), "")
	slog.SetDefault(log)

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, nil)
	if err != nil {
		deps.Close()
		return nil, err
	}
	return &session{deps: deps, app: a, out: os.Stdout, json: cmd.Bool("json")}, nil
}

func createJobAction(ctx context.Context, cmd *cli.Command) error {
	req, err := jobRequest(cmd)
	if err != nil {
		return err
	}

	s, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	j, err := s.app.Jobs.CreateJob(ctx, req)
	if err != nil {
		return err
	}
	if cmd.Bool("drain") {
		if _, err := s.app.Jobs.Drain(ctx, j.ID, defaultIdle); err != nil {
			return err
		}
		return printStatus(ctx, s, j.ID)
	}
	return s.print(j, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "created job %s (%s, %d sources)\n", j.ID, j.Mode, len(j.Sources))
		return err
	})
}

func jobRequest(cmd *cli.Command) (job.CreateJobRequest, error) {
	req := job.CreateJobRequest{
		UserID:    cmd.String("user"),
		Mode:      job.Mode(cmd.String("mode")),
		AccountID: cmd.String("account"),
	}
	if !req.Mode.Valid() {
		return req, fmt.Errorf("%w: %q", job.ErrInvalidMode, req.Mode)
	}
	for _, src := range cmd.StringSlice("source") {
		req.Sources = append(req.Sources, job.TaskType(src))
	}
	return req, nil
}

func stepAction(ctx context.Context, cmd *cli.Command) error {
	s, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.app.Jobs.RunOneStep(ctx, cmd.String("job"))
	if err != nil {
		return err
	}
	return s.print(res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "job %s: %s %s\n", res.JobID, res.Status, res.TaskID)
		return err
	})
}

func drainAction(ctx context.Context, cmd *cli.Command) error {
	s, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id := cmd.String("job")
	if _, err := s.app.Jobs.Drain(ctx, id, cmd.Duration("idle")); err != nil {
		return err
	}
	return printStatus(ctx, s, id)
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	s, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.app.Jobs.Sweep(ctx)
	if err != nil {
		return err
	}
	return s.print(map[string]int{"resumed": n}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "resumed %d jobs\n", n)
		return err
	})
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	s, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return printStatus(ctx, s, cmd.String("job"))
}

func printStatus(ctx context.Context, s *session, jobID string) error {
	st, err := s.app.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return s.print(st, func(w io.Writer) error { return renderStatus(w, st) })
}

func renderStatus(w io.Writer, st *job.JobStatus) error {
	if _, err := fmt.Fprintf(w, "job %s  user %s  mode %s  status %s  failed tasks %d\n",
		st.ID, st.UserID, st.Mode, st.Status, st.FailedTasks); err != nil {
		return err
	}
	if st.ErrorSummary != "" {
		if _, err := fmt.Fprintf(w, "errors: %s\n", st.ErrorSummary); err != nil {
			return err
		}
	}

	table := tablewriter.NewWriter(w)
	table.Header("Source", "Tasks", "Sources", "Documents", "Chunks", "Embeddings", "Skipped", "Empty")
	for _, t := range []job.TaskType{job.TaskNotes, job.TaskEmails, job.TaskCalendar} {
		p, ok := st.Progress[t]
		if !ok {
			continue
		}
		row := []string{string(t)}
		for _, n := range []int{p.Tasks, p.Sources, p.Documents, p.Chunks, p.Embeddings, p.Skipped, p.Empty} {
			row = append(row, strconv.Itoa(n))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func searchAction(ctx context.Context, cmd *cli.Command) error {
	q := retrieval.Query{
		UserID: cmd.String("user"),
		Text:   cmd.String("query"),
		Limit:  cmd.Int("limit"),
	}
	for _, raw := range cmd.StringSlice("source-type") {
		t := document.SourceType(raw)
		if !t.Valid() {
			return fmt.Errorf("unknown source type %q", raw)
		}
		q.SourceTypes = append(q.SourceTypes, t)
	}

	s, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	run := s.app.Retrieval.Search
	if cmd.Bool("semantic") {
		run = s.app.Retrieval.MatchDocuments
	}
	results, err := run(ctx, q)
	if err != nil {
		return err
	}
	if cmd.Bool("evidence") && !s.json {
		_, err := io.WriteString(s.out, retrieval.Evidence(results))
		return err
	}
	return s.print(results, func(w io.Writer) error { return renderResults(w, results) })
}

func renderResults(w io.Writer, results []retrieval.ScoredDocument) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Type", "Title", "Fused", "Semantic", "Lexical")
	for i, r := range results {
		if err := table.Append(
			strconv.Itoa(i+1),
			string(r.SourceType),
			r.Title,
			strconv.FormatFloat(r.FusedScore, 'f', 4, 64),
			strconv.FormatFloat(r.SemanticScore, 'f', 3, 64),
			strconv.FormatFloat(r.LexicalScore, 'f', 3, 64),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func (s *session) print(v interface{}, text func(io.Writer) error) error {
	if s.json {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(s.out)
}
