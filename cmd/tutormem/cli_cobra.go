package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dotsetgreg/tutormem/pkg/agent"
	"github.com/dotsetgreg/tutormem/pkg/config"
	"github.com/dotsetgreg/tutormem/pkg/memory"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Teaching memory for AI tutors: courses, progress, interactions, and topic tracking",
		Long: strings.TrimSpace(`tutormem keeps the long-lived memory of a tutoring assistant.

Use CLI commands to store course outlines and section content, record teaching
interactions and learning progress, follow the topic of a session, and
inspect what the tutor knows about a learner.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $TUTORMEM_CONFIG or ~/.tutormem/config.json)")

	root.AddCommand(newInitCommand(opts))
	root.AddCommand(newCourseCommand(opts))
	root.AddCommand(newSectionCommand(opts))
	root.AddCommand(newProgressCommand(opts))
	root.AddCommand(newInteractionCommand(opts))
	root.AddCommand(newTopicCommand(opts))
	root.AddCommand(newSummaryCommand(opts))
	root.AddCommand(newReviewCommand(opts))
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newShellCommand(opts))
	root.AddCommand(newMigrateCommand(opts))
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

func (o *rootOptions) path() string {
	if strings.TrimSpace(o.configPath) != "" {
		return o.configPath
	}
	return getConfigPath()
}

// withMemory opens the configured teaching memory for the duration of fn.
func (o *rootOptions) withMemory(cmd *cobra.Command, fn func(ctx context.Context, rt *appRuntime) error) error {
	rt, err := openRuntime(o.path())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cmd.Context(), rt)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--file is required (use - for stdin)")
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func notFoundErr(what string, key interface{}) error {
	return fmt.Errorf("%s %v not found", what, key)
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a default ~/.tutormem config",
		Long:    "Create the default configuration file and prepare the configured store.",
		Example: "  tutormem init",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.path()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"config":  path,
					"backend": rt.mem.Backend(),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func newCourseCommand(opts *rootOptions) *cobra.Command {
	courseRoot := &cobra.Command{
		Use:   "course",
		Short: "Manage course outlines",
	}

	var (
		topic       string
		file        string
		withContent bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Store a course outline from JSON",
		Long:  "Store a course outline. Every call creates a new course row; revisions never overwrite.",
		Example: strings.Join([]string{
			"  tutormem course add --topic fractions --file outline.json",
			"  cat outline.json | tutormem course add --topic fractions --file - --with-content",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			outline, err := memory.DecodeCourseOutline(raw)
			if err != nil {
				return err
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				var id int64
				if withContent {
					b := agent.NewTurnContextBuilder(rt.mem, builderConfigFor(rt.cfg))
					id, err = b.StoreCourseMaterial(ctx, topic, outline)
				} else {
					id, err = rt.mem.StoreCourseOutline(ctx, topic, outline)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"course_id": id})
			})
		},
	}
	add.Flags().StringVar(&topic, "topic", "", "Topic the course teaches")
	add.Flags().StringVarP(&file, "file", "f", "", "Outline JSON file (- for stdin)")
	add.Flags().BoolVar(&withContent, "with-content", false, "Also seed starter content for every titled section")
	courseRoot.AddCommand(add)

	courseRoot.AddCommand(&cobra.Command{
		Use:     "show <course-id>",
		Short:   "Show a course outline",
		Args:    cobra.ExactArgs(1),
		Example: "  tutormem course show 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				outline, found, err := rt.mem.GetCourseOutline(ctx, id)
				if err != nil {
					return err
				}
				if !found {
					return notFoundErr("course", id)
				}
				return writeJSON(cmd.OutOrStdout(), outline)
			})
		},
	})

	courseRoot.AddCommand(&cobra.Command{
		Use:     "search <keywords>",
		Short:   "Search courses by topic, title, or description",
		Args:    cobra.MinimumNArgs(1),
		Example: "  tutormem course search fraction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				found, err := rt.mem.SearchCoursesByTopic(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), found)
			})
		},
	})

	courseRoot.AddCommand(&cobra.Command{
		Use:     "find <topic>",
		Short:   "Show the newest course matching a topic",
		Args:    cobra.MinimumNArgs(1),
		Example: "  tutormem course find fractions",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				outline, found, err := rt.mem.GetCourseByTopic(ctx, topic)
				if err != nil {
					return err
				}
				if !found {
					return notFoundErr("course for topic", strconv.Quote(topic))
				}
				return writeJSON(cmd.OutOrStdout(), outline)
			})
		},
	})

	courseRoot.AddCommand(&cobra.Command{
		Use:     "structure <course-id>",
		Short:   "Show a course outline with content availability per section",
		Args:    cobra.ExactArgs(1),
		Example: "  tutormem course structure 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				structure, found, err := rt.mem.GetCourseStructure(ctx, id)
				if err != nil {
					return err
				}
				if !found {
					return notFoundErr("course", id)
				}
				return writeJSON(cmd.OutOrStdout(), structure)
			})
		},
	})

	var relatedLimit int
	related := &cobra.Command{
		Use:     "related <text>",
		Short:   "Find courses related to free text",
		Args:    cobra.MinimumNArgs(1),
		Example: "  tutormem course related \"adding fractions with unlike denominators\" --limit 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				found, err := rt.mem.SearchRelatedContent(ctx, strings.Join(args, " "), relatedLimit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), found)
			})
		},
	}
	related.Flags().IntVar(&relatedLimit, "limit", 5, "Maximum courses to return")
	courseRoot.AddCommand(related)

	return courseRoot
}

func newSectionCommand(opts *rootOptions) *cobra.Command {
	sectionRoot := &cobra.Command{
		Use:   "section",
		Short: "Manage section content",
	}

	var (
		courseID  int64
		sectionID string
		title     string
		file      string
	)
	add := &cobra.Command{
		Use:     "add",
		Short:   "Store a new version of a section's content",
		Example: "  tutormem section add --course 3 --section s1 --title Halves --file content.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var payload memory.ContentPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("parse content: %w", err)
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				id, err := rt.mem.StoreSectionContent(ctx, courseID, sectionID, title, payload)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"content_id": id})
			})
		},
	}
	add.Flags().Int64Var(&courseID, "course", 0, "Course id")
	add.Flags().StringVar(&sectionID, "section", "", "Section id")
	add.Flags().StringVar(&title, "title", "", "Section title")
	add.Flags().StringVarP(&file, "file", "f", "", "Content JSON file (- for stdin)")
	sectionRoot.AddCommand(add)

	sectionRoot.AddCommand(&cobra.Command{
		Use:     "show <section-id>",
		Short:   "Show the newest content for a section",
		Args:    cobra.ExactArgs(1),
		Example: "  tutormem section show s1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				sc, found, err := rt.mem.GetSectionContent(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return notFoundErr("section", strconv.Quote(args[0]))
				}
				return writeJSON(cmd.OutOrStdout(), sc)
			})
		},
	})

	return sectionRoot
}

func newProgressCommand(opts *rootOptions) *cobra.Command {
	progressRoot := &cobra.Command{
		Use:   "progress",
		Short: "Track learning progress",
	}

	var (
		clientID  string
		courseID  int64
		sectionID string
		score     float64
		topic     string
		message   string
		response  string
	)
	update := &cobra.Command{
		Use:   "update",
		Short: "Record one progress update for a section",
		Long:  "Upsert progress for (client, course, section). When --score is omitted it is estimated from --message.",
		Example: strings.Join([]string{
			"  tutormem progress update --client u1 --course 3 --section s1 --score 0.8",
			"  tutormem progress update --client u1 --course 3 --section s1 --message \"I understand now\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("score") {
				score = memory.EstimateComprehension(message, response)
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				err := rt.mem.UpdateLearningProgress(ctx, clientID, courseID, sectionID, memory.ProgressData{
					ComprehensionScore: score,
					Topic:              topic,
					LastMessage:        message,
					LastResponse:       response,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"comprehension_score": score})
			})
		},
	}
	update.Flags().StringVar(&clientID, "client", "", "Learner id")
	update.Flags().Int64Var(&courseID, "course", 0, "Course id")
	update.Flags().StringVar(&sectionID, "section", "", "Section id")
	update.Flags().Float64Var(&score, "score", 0, "Comprehension score in [0,1]")
	update.Flags().StringVar(&topic, "topic", "", "Topic discussed")
	update.Flags().StringVar(&message, "message", "", "Learner message")
	update.Flags().StringVar(&response, "response", "", "Tutor response")
	progressRoot.AddCommand(update)

	var (
		listClient string
		listCourse int64
	)
	list := &cobra.Command{
		Use:     "list",
		Short:   "List a learner's progress, newest activity first",
		Example: "  tutormem progress list --client u1 --course 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *int64
			if cmd.Flags().Changed("course") {
				filter = &listCourse
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				rows, err := rt.mem.GetLearningProgress(ctx, listClient, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	list.Flags().StringVar(&listClient, "client", "", "Learner id")
	list.Flags().Int64Var(&listCourse, "course", 0, "Only this course")
	progressRoot.AddCommand(list)

	return progressRoot
}

func newInteractionCommand(opts *rootOptions) *cobra.Command {
	interactionRoot := &cobra.Command{
		Use:   "interaction",
		Short: "Record and list teaching interactions",
	}

	var (
		it        memory.TeachingInteraction
		kind      string
		relevance float64
	)
	record := &cobra.Command{
		Use:   "record",
		Short: "Append a teaching interaction",
		Long:  "Append an interaction. When --relevance is omitted it is computed from the topic and content.",
		Example: strings.Join([]string{
			"  tutormem interaction record --client u1 --session s1 --topic fractions --content \"what is a half?\"",
			"  tutormem interaction record --client u1 --session s1 --topic fractions --type practice --content \"1/2 + 1/4\" --relevance 0.9",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			it.Type = memory.InteractionType(kind)
			if cmd.Flags().Changed("relevance") {
				it.TopicRelevance = relevance
			} else {
				it.TopicRelevance = memory.CalculateTopicRelevance(it.Topic, it.Content)
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				id, err := rt.mem.RecordTeachingInteraction(ctx, it)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"interaction_id":  id,
					"topic_relevance": it.TopicRelevance,
				})
			})
		},
	}
	record.Flags().StringVar(&it.ClientID, "client", "", "Learner id")
	record.Flags().StringVar(&it.SessionID, "session", "", "Session id")
	record.Flags().StringVar(&it.Topic, "topic", "", "Topic of the exchange")
	record.Flags().StringVar(&kind, "type", string(memory.InteractionQuestionAnswer), "question_answer | explanation | practice | answer")
	record.Flags().StringVar(&it.Content, "content", "", "Learner content")
	record.Flags().StringVar(&it.Response, "response", "", "Tutor response")
	record.Flags().Float64Var(&relevance, "relevance", 1, "Topic relevance in [0,1]")
	interactionRoot.AddCommand(record)

	var (
		clientID  string
		sessionID string
		limit     int
	)
	history := &cobra.Command{
		Use:     "history",
		Short:   "List recent interactions, newest first",
		Example: "  tutormem interaction history --client u1 --session s1 --limit 5",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				items, err := rt.mem.GetTeachingHistory(ctx, clientID, sessionID, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	history.Flags().StringVar(&clientID, "client", "", "Learner id")
	history.Flags().StringVar(&sessionID, "session", "", "Only this session")
	history.Flags().IntVar(&limit, "limit", 0, "Maximum items (0 uses memory.history_limit)")
	interactionRoot.AddCommand(history)

	return interactionRoot
}

func newTopicCommand(opts *rootOptions) *cobra.Command {
	var clientID, sessionID string

	topicRoot := &cobra.Command{
		Use:   "topic",
		Short: "Follow the topic of a learner session",
	}
	topicRoot.PersistentFlags().StringVar(&clientID, "client", "", "Learner id")
	topicRoot.PersistentFlags().StringVar(&sessionID, "session", "", "Session id")

	topicRoot.AddCommand(&cobra.Command{
		Use:     "set <topic>",
		Short:   "Switch the session to a topic",
		Args:    cobra.MinimumNArgs(1),
		Example: "  tutormem topic set --client u1 --session s1 fractions",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				if err := rt.mem.UpdateTopicTracking(ctx, clientID, sessionID, topic); err != nil {
					return err
				}
				seg, _, err := rt.mem.CurrentTopic(ctx, clientID, sessionID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), seg)
			})
		},
	})

	topicRoot.AddCommand(&cobra.Command{
		Use:     "show",
		Short:   "Show the open topic segment",
		Example: "  tutormem topic show --client u1 --session s1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				seg, found, err := rt.mem.CurrentTopic(ctx, clientID, sessionID)
				if err != nil {
					return err
				}
				if !found {
					return notFoundErr("topic for session", strconv.Quote(sessionID))
				}
				return writeJSON(cmd.OutOrStdout(), seg)
			})
		},
	})

	var limit int
	history := &cobra.Command{
		Use:     "history",
		Short:   "List topic segments, newest first",
		Example: "  tutormem topic history --client u1 --session s1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				segs, err := rt.mem.TopicHistory(ctx, clientID, sessionID, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), segs)
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 0, "Maximum segments (0 uses memory.history_limit)")
	topicRoot.AddCommand(history)

	var threshold float64
	deviation := &cobra.Command{
		Use:     "deviation",
		Short:   "Report whether the session has drifted off topic",
		Example: "  tutormem topic deviation --client u1 --session s1 --threshold 0.3",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				deviated, err := rt.mem.CheckTopicDeviation(ctx, clientID, sessionID, threshold)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"deviated": deviated})
			})
		},
	}
	deviation.Flags().Float64Var(&threshold, "threshold", 0, "Relevance threshold (0 uses memory.deviation_threshold)")
	topicRoot.AddCommand(deviation)

	return topicRoot
}

func newSummaryCommand(opts *rootOptions) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:     "summary",
		Short:   "Summarize what memory knows about a learner",
		Example: "  tutormem summary --client u1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				summary, err := rt.mem.GetMemorySummary(ctx, clientID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Learner id")
	return cmd
}

func newReviewCommand(opts *rootOptions) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:     "review",
		Short:   "Suggest weak sections to review",
		Example: "  tutormem review --client u1",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				items, err := rt.mem.SuggestReviewContent(ctx, clientID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Learner id")
	return cmd
}

// newAnalyzeCommand exposes the pure scoring helpers. It needs no store.
func newAnalyzeCommand() *cobra.Command {
	analyzeRoot := &cobra.Command{
		Use:   "analyze",
		Short: "Score text without touching memory",
	}

	analyzeRoot.AddCommand(&cobra.Command{
		Use:     "relevance <topic> <message>",
		Short:   "Score how relevant a message is to a topic",
		Args:    cobra.ExactArgs(2),
		Example: "  tutormem analyze relevance \"math addition\" \"what is 2 + 2\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"topic_relevance": memory.CalculateTopicRelevance(args[0], args[1]),
			})
		},
	})

	analyzeRoot.AddCommand(&cobra.Command{
		Use:     "comprehension <message>",
		Short:   "Estimate comprehension from a learner message",
		Args:    cobra.MinimumNArgs(1),
		Example: "  tutormem analyze comprehension \"I don't understand\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"comprehension_score": memory.EstimateComprehension(strings.Join(args, " "), ""),
			})
		},
	})

	analyzeRoot.AddCommand(&cobra.Command{
		Use:     "keywords <text>",
		Short:   "Extract search keywords from text",
		Args:    cobra.MinimumNArgs(1),
		Example: "  tutormem analyze keywords \"the basics of adding fractions\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), memory.ExtractKeywords(strings.Join(args, " ")))
		},
	})

	return analyzeRoot
}

func builderConfigFor(cfg *config.Config) agent.BuilderConfig {
	return agent.BuilderConfig{
		DefaultTopic:    cfg.Agent.DefaultTopic,
		DefaultCourseID: cfg.Agent.DefaultCourseID,
		HistoryLimit:    cfg.Memory.HistoryLimit,
	}
}

func newShellCommand(opts *rootOptions) *cobra.Command {
	var (
		clientID    string
		sessionID   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Practice loop that shows the teaching context for each learner turn",
		Long: strings.TrimSpace(`Run an interactive session. Each learner line prints the teaching context a
tutor would receive; the following line is recorded as the tutor's reply.`),
		Example: strings.Join([]string{
			"  tutormem shell --client u1",
			"  tutormem shell --client u1 --session s1 --metrics-addr 127.0.0.1:9464",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agent.ResolveIdentity(clientID, sessionID)
			if err != nil {
				return err
			}
			return opts.withMemory(cmd, func(ctx context.Context, rt *appRuntime) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				if err := serveMetrics(ctx, rt, metricsAddr); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				rl, err := newReadline(out)
				if err != nil {
					return fmt.Errorf("init readline: %w", err)
				}
				defer rl.Close()

				sh := &shellSession{
					builder:  agent.NewTurnContextBuilder(rt.mem, builderConfigFor(rt.cfg)),
					clientID: id.ClientID,
					session:  id.SessionID,
					out:      out,
				}
				return sh.run(ctx, rl)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Learner id")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (generated when empty)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the shell runs")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var (
		toBackend string
		toPath    string
		checkOnly bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy teaching memory into another backend",
		Long: strings.TrimSpace(`Copy every table from the configured store into an empty destination store
and compare row counts afterwards. With --check only the comparison runs.`),
		Example: strings.Join([]string{
			"  tutormem migrate --to memory --to-path ~/.tutormem/export.json",
			"  tutormem migrate --to sqlite --to-path ./copy.db --check",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.path())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			src, err := memory.OpenStore(storeConfigFor(cfg))
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer src.Close()

			dstCfg := memory.StoreConfig{Type: memory.StoreType(strings.ToLower(strings.TrimSpace(toBackend)))}
			if dstCfg.Type == memory.StoreTypeMemory {
				dstCfg.SnapshotPath = toPath
			} else {
				dstCfg.Path = toPath
			}
			dst, err := memory.OpenStore(dstCfg)
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}
			defer dst.Close()

			var report memory.MigrationReport
			if checkOnly {
				report, err = memory.ValidateMigration(cmd.Context(), src, dst)
			} else {
				report, err = memory.CopyStore(cmd.Context(), src, dst)
			}
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Match {
				return fmt.Errorf("row counts differ between source and destination")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&toBackend, "to", string(memory.StoreTypeMemory), "Destination backend: sqlite | memory")
	cmd.Flags().StringVar(&toPath, "to-path", "", "Destination database file or snapshot file")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only compare row counts")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  tutormem version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
