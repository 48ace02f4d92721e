package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/app"
	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/config"
	"github.com/zhouzirui/hertscortex/backend/internal/logging"
	"github.com/zhouzirui/hertscortex/backend/internal/model/persona"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ai"
	"github.com/zhouzirui/hertscortex/backend/internal/service/ingest"
	"github.com/zhouzirui/hertscortex/backend/internal/store"
)

// cli carries state shared by every subcommand.
type cli struct {
	out io.Writer

	storeDriver string
	storeDSN    string
	logLevel    string

	cfg    *config.Config
	logger *zap.Logger
	build  func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.App, error)
}

func newCLI(out io.Writer) *cli {
	return &cli{
		out: out,
		build: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.App, error) {
			return app.New(ctx, cfg, logger, nil)
		},
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "studyctl",
		Short: "Create and query study sessions",
		Long: `studyctl runs the same ingestion and persona pipeline as the API server.

Sessions are kept in a local SQLite file unless STORE_DRIVER or --store selects another backend.

Examples:
  studyctl ingest lecture.pdf slides.pptx --title "Week 3"
  studyctl show 5b0d8e0e-6f1c-4a3e-9d53-2f9f3c1c7a10
  studyctl ask --study 5b0d8e0e-... --persona mcq
  studyctl personas`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVar(&c.storeDriver, "store", "", "store driver: memory, sqlite or postgres")
	root.PersistentFlags().StringVar(&c.storeDSN, "dsn", "", "store connection string")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (default warn)")

	root.AddCommand(c.ingestCmd(), c.showCmd(), c.askCmd(), c.personasCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if c.cfg != nil {
		return nil
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.storeDriver != "" {
		cfg.Store.Driver = c.storeDriver
	}
	if c.storeDSN != "" {
		cfg.Store.DSN = c.storeDSN
	}
	// A memory store would forget the session as soon as the command exits.
	if cfg.Store.Driver == store.DriverMemory {
		cfg.Store.Driver = store.DriverSQLite
	}

	level := c.logLevel
	if level == "" {
		level = "warn"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "console"})
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) open(ctx context.Context) (*app.App, error) {
	return c.build(ctx, c.cfg, c.logger)
}

func (c *cli) ingestCmd() *cobra.Command {
	var title, text, textFile string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Create a study session from notes and documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if textFile != "" {
				raw, err := os.ReadFile(textFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", textFile, err)
				}
				text = string(raw)
			}

			files := make([]study.FileInput, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				files = append(files, study.FileInput{
					FileName:     filepath.Base(path),
					DeclaredType: declaredType(path),
					Data:         data,
				})
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Ingest.InitializeStudySession(cmd.Context(), ingest.Request{
				Title:      title,
				PastedText: text,
				Files:      files,
			})
			if err != nil {
				return userError(err)
			}
			return c.printJSON(res)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "session title; generated when empty")
	cmd.Flags().StringVar(&text, "text", "", "pasted notes")
	cmd.Flags().StringVar(&textFile, "text-file", "", "read pasted notes from a file")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	var contentOnly bool

	cmd := &cobra.Command{
		Use:   "show <study-id>",
		Short: "Print a stored study session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := a.Ingest.GetSession(cmd.Context(), args[0])
			if err != nil {
				return userError(err)
			}
			if contentOnly {
				_, err = fmt.Fprint(c.out, session.Content)
				return err
			}
			return c.printJSON(session)
		},
	}

	cmd.Flags().BoolVar(&contentOnly, "content", false, "print only the aggregated content")
	return cmd
}

func (c *cli) askCmd() *cobra.Command {
	var studyID, contentFile, personaKey, question string
	var raw bool

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Run a persona over study material",
		Long: `Without --question the persona's study action runs once (summary, MCQs, mock exam...).
With --question the answer is streamed as a chat turn.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (studyID == "") == (contentFile == "") {
				return fmt.Errorf("exactly one of --study or --content-file is required")
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			content, err := c.loadContent(cmd.Context(), a, studyID, contentFile)
			if err != nil {
				return err
			}

			if question == "" {
				answer, err := a.AI.Ask(cmd.Context(), content, personaKey)
				if err != nil {
					return userError(err)
				}
				return c.printMarkdown(answer.Text, raw)
			}
			return c.streamAnswer(cmd.Context(), a, content, personaKey, question)
		},
	}

	cmd.Flags().StringVar(&studyID, "study", "", "stored study session id")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "use a text file as the study material")
	cmd.Flags().StringVar(&personaKey, "persona", string(persona.Default), "persona key, see `studyctl personas`")
	cmd.Flags().StringVarP(&question, "question", "q", "", "ask a free-form question instead of the persona's action")
	cmd.Flags().BoolVar(&raw, "raw", false, "print Markdown as-is instead of rendering it")
	return cmd
}

func (c *cli) loadContent(ctx context.Context, a *app.App, studyID, contentFile string) (string, error) {
	if contentFile != "" {
		raw, err := os.ReadFile(contentFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", contentFile, err)
		}
		return string(raw), nil
	}
	session, err := a.Ingest.GetSession(ctx, studyID)
	if err != nil {
		return "", userError(err)
	}
	return session.Content, nil
}

func (c *cli) streamAnswer(ctx context.Context, a *app.App, content, personaKey, question string) error {
	deltas, err := a.AI.StreamChat(ctx, ai.ChatRequest{
		Persona: personaKey,
		Content: content,
		Message: question,
	})
	if err != nil {
		return userError(err)
	}

	for delta := range deltas {
		if delta.Err != nil {
			for range deltas {
			}
			return userError(delta.Err)
		}
		if delta.Done {
			break
		}
		if _, err := fmt.Fprint(c.out, delta.Text); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out)
	return err
}

func (c *cli) personasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the available personas",
		// No store or model is needed to list the catalog.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(*cobra.Command, []string) error {
			t := table.NewWriter()
			t.SetOutputMirror(c.out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Title", "Description"})
			for _, spec := range persona.Catalog() {
				t.AppendRow(table.Row{spec.Key, spec.Title, spec.Description})
			}
			t.Render()
			return nil
		},
	}
}

// printMarkdown renders persona output for the terminal.
func (c *cli) printMarkdown(text string, raw bool) error {
	if !raw {
		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			if rendered, err := renderer.Render(text); err == nil {
				_, err = fmt.Fprint(c.out, rendered)
				return err
			}
		}
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// userError keeps the message a user can act on and drops internal causes.
func userError(err error) error {
	if apperr.KindOf(err) == apperr.KindInternal {
		return err
	}
	return fmt.Errorf("%s", apperr.UserMessage(err))
}

var officeTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// declaredType guesses the MIME type the browser would have sent for path.
func declaredType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := officeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
