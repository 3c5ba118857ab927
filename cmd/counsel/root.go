package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zoobzio/counsel"
)

// cli carries state shared by every command.
type cli struct {
	configPath string
	chatID     string
	log        *logrus.Logger
	getenv     func(string) string
	cfg        Config
}

func newRootCmd(log *logrus.Logger, getenv func(string) string) *cobra.Command {
	c := &cli{log: log, getenv: getenv}

	root := &cobra.Command{
		Use:   "counsel",
		Short: "Relationship advice assistant backed by an advisor chain",
		Long: `counsel answers relationship questions with a chat model. Every call runs
through an advisor chain that keeps conversation memory, and optionally
retrieves context from a knowledge base or lets the model call tools.

Example:
  counsel chat --chat-id 42 "我想让另一半更爱我"
  counsel rag "单身怎么扩大社交圈"`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(c.configPath, c.getenv)
			if err != nil {
				return err
			}
			if err := configureLogger(c.log, cfg.Log); err != nil {
				return err
			}
			c.cfg = cfg
			if c.chatID == "" {
				c.chatID = uuid.NewString()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&c.chatID, "chat-id", "", "Conversation id (defaults to a new id)")

	root.AddCommand(c.chatCmd())
	root.AddCommand(c.reportCmd())
	root.AddCommand(c.ragCmd())
	root.AddCommand(c.toolsCmd())
	root.AddCommand(c.ingestCmd())
	return root
}

func (c *cli) chatCmd() *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Answer one turn of a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			message := strings.Join(args, " ")
			if !stream {
				answer, err := rt.app.Chat(cmd.Context(), message, c.chatID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			}

			s, err := rt.app.ChatStream(cmd.Context(), message, c.chatID)
			if err != nil {
				return err
			}
			for frag, err := range s {
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), frag.Text)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Print the answer as it is generated")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <message>",
		Short: "Answer with a titled list of suggestions as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.app.ChatWithReport(cmd.Context(), strings.Join(args, " "), c.chatID)
			if err != nil {
				var malformed *counsel.MalformedOutputError
				if errors.As(err, &malformed) {
					c.log.WithField("raw", malformed.Raw).Debug("unparseable report")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", report.Title)
			for _, s := range report.Suggestions {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", s)
			}
			return nil
		},
	}
}

func (c *cli) ragCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rag <message>",
		Short: "Answer using the knowledge base as context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			answer, err := rt.app.ChatWithRAG(cmd.Context(), strings.Join(args, " "), c.chatID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}

func (c *cli) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <message>",
		Short: "Answer with file and clock tools available to the model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			answer, err := rt.app.ChatWithTools(cmd.Context(), strings.Join(args, " "), c.chatID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}

func (c *cli) ingestCmd() *cobra.Command {
	var keywords int
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Load markdown documents into the pgvector knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Knowledge.Store != storePgvector {
				return fmt.Errorf("ingest requires knowledge.store %q, got %q", storePgvector, c.cfg.Knowledge.Store)
			}
			rt, err := buildRuntime(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			var transformers []counsel.DocumentTransformer
			if keywords > 0 {
				provider := counsel.NewEndpointProvider(rt.endpoint, "counsel")
				transformers = append(transformers, counsel.NewKeywordEnricher(provider).WithCount(keywords))
			}

			n, err := counsel.Ingest(cmd.Context(), rt.store, counsel.NewMarkdownLoader(os.DirFS(args[0])), transformers...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d documents\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&keywords, "keywords", 0, "Extract this many keywords per document before storing")
	return cmd
}
