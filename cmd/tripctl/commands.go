package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/ashureev/tripmind/internal/agent"
	"github.com/ashureev/tripmind/internal/app"
	"github.com/ashureev/tripmind/internal/config"
	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/retrieval"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// opener builds the application for one command invocation.
type opener func(ctx context.Context) (*app.App, error)

func defaultOpener(logger *slog.Logger) opener {
	return func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, logger)
	}
}

type globalFlags struct {
	userID string
	tripID string
}

func newRootCmd(open opener) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "tripctl",
		Short: "Query, plan and chat against indexed trip journals",
		Long: heredoc.Doc(`
			tripctl runs the tripmind services in-process.

			Configuration comes from the environment (and a .env file when
			present), exactly as for the server.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.userID, "user-id", "", "user the trip belongs to")
	root.PersistentFlags().StringVar(&g.tripID, "trip-id", "", "trip identifier")

	root.AddCommand(
		newIndexCmd(open, g),
		newAskCmd(open, g),
		newPlanCmd(open, g),
		newFactsCmd(open, g),
		newChatCmd(open, g),
	)
	return root
}

// withApp opens the application, runs fn and closes it.
func withApp(cmd *cobra.Command, open opener, fn func(*app.App) error) (err error) {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(a)
}

func (g *globalFlags) require(needTrip bool) error {
	var missing []string
	if g.userID == "" {
		missing = append(missing, "--user-id")
	}
	if needTrip && g.tripID == "" {
		missing = append(missing, "--trip-id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flag(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIndexCmd(open opener, g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a trip JSON document",
		Example: heredoc.Doc(`
			$ tripctl index --user-id alice --trip-id lisbon --file trip.json
			$ cat trip.json | tripctl index --user-id alice --trip-id lisbon
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.require(true); err != nil {
				return err
			}
			var (
				data []byte
				err  error
			)
			if file == "" || file == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read trip: %w", err)
			}
			trip, err := domain.ParseTrip(data)
			if err != nil {
				return fmt.Errorf("invalid trip: %w", err)
			}
			return withApp(cmd, open, func(a *app.App) error {
				userTripID := retrieval.UserTripID(g.userID, g.tripID)
				n, err := a.Indexer.IndexTrip(cmd.Context(), trip, userTripID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d step(s) into %s\n", n, retrieval.CollectionName(userTripID))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "trip JSON file (default stdin)")
	return cmd
}

func newAskCmd(open opener, g *globalFlags) *cobra.Command {
	var (
		limit  int
		raw    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from the trip journal",
		Long: heredoc.Doc(`
			Retrieve the journal entries most relevant to QUESTION and answer
			from them. With --raw only the retrieved entries are printed.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.require(true); err != nil {
				return err
			}
			userTripID := retrieval.UserTripID(g.userID, g.tripID)
			return withApp(cmd, open, func(a *app.App) error {
				out := cmd.OutOrStdout()
				if raw {
					docs, err := a.Pipeline.SearchJournalEntries(cmd.Context(), args[0], userTripID, limit)
					if err != nil {
						return err
					}
					return printJSON(out, docs)
				}
				answer, err := a.Pipeline.SearchWithGeneration(cmd.Context(), args[0], userTripID, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, answer)
				}
				fmt.Fprintln(out, answer.Answer)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", retrieval.DefaultLimit, "number of entries to retrieve")
	cmd.Flags().BoolVar(&raw, "raw", false, "print retrieved entries without generating an answer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer with its source entries as JSON")
	return cmd
}

func newPlanCmd(open opener, g *globalFlags) *cobra.Command {
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "plan QUERY",
		Short: "Run the planning agent on a request",
		Example: heredoc.Doc(`
			$ tripctl plan --user-id alice --trip-id lisbon "Plan a rainy day in Lisbon"
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.require(false); err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				steps := maxSteps
				if steps <= 0 {
					steps = a.Config.Planner.MaxSteps
				}
				step, err := a.Planner.Run(cmd.Context(), args[0], g.userID, g.tripID, steps)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), step.Answer)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "maximum reasoning steps (default from PLANNER_MAX_STEPS)")
	return cmd
}

func newFactsCmd(open opener, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Extract or list facts learned about a user",
	}

	var limit int
	extract := &cobra.Command{
		Use:   "extract",
		Short: "Extract new facts from a trip journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.require(true); err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				found, err := a.Facts.ExtractFacts(cmd.Context(), g.userID, g.tripID, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nonNil(found))
			})
		},
	}
	extract.Flags().IntVarP(&limit, "limit", "n", 5, "maximum facts to extract")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored facts for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.require(false); err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				found, err := a.Facts.List(cmd.Context(), g.userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nonNil(found))
			})
		},
	}

	cmd.AddCommand(extract, list)
	return cmd
}

func newChatCmd(open opener, g *globalFlags) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the travel assistant",
		Long: heredoc.Doc(`
			Read one message per line from stdin and print each reply. Once
			enough is known about the trip the assistant hands off to the
			planner. An empty line or EOF ends the conversation.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.require(false); err != nil {
				return err
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			return withApp(cmd, open, func(a *app.App) error {
				return chatLoop(cmd.Context(), a.Chat, cmd.InOrStdin(), cmd.OutOrStdout(), agent.ChatRequest{
					UserID:         g.userID,
					TripID:         g.tripID,
					ConversationID: conversationID,
					Channel:        agent.ChannelCLI,
				})
			})
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "resume an existing conversation")
	return cmd
}

type replier interface {
	Reply(ctx context.Context, req agent.ChatRequest) (*agent.ChatReply, error)
}

func chatLoop(ctx context.Context, chat replier, in io.Reader, out io.Writer, base agent.ChatRequest) error {
	fmt.Fprintf(out, "conversation %s\n", base.ConversationID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		req := base
		req.UserQuery = line
		reply, err := chat.Reply(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply.Answer)
		if reply.Planned {
			fmt.Fprintln(out, "(plan ready)")
		}
	}
}

func nonNil(facts []domain.Fact) []domain.Fact {
	if facts == nil {
		return []domain.Fact{}
	}
	return facts
}
