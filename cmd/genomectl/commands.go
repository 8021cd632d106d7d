package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"genomeforge/internal/core"
	"genomeforge/internal/materialise"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// EnvUser sets the acting user when --user is not given.
const EnvUser = "GENOMEFORGE_USER"

const offlineAnnotation = "genomectl/offline"

type cli struct {
	root        *cobra.Command
	stdout      io.Writer
	stderr      io.Writer
	configPath  string
	userID      string
	metricsFile string
	app         *app
}

func newCLI(stdout, stderr io.Writer) *cli {
	c := &cli{stdout: stdout, stderr: stderr}
	defaultUser := os.Getenv(EnvUser)
	if defaultUser == "" {
		defaultUser = "local"
	}
	c.root = &cobra.Command{
		Use:           "genomectl",
		Short:         "Edit, materialise and rebirth genomeforge projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[offlineAnnotation] == "true" || c.app != nil {
				return nil
			}
			a, err := bootstrap(cmd.Context(), c.configPath, c.stderr)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	c.root.SetOut(stdout)
	c.root.SetErr(stderr)
	flags := c.root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file (default $GENOMEFORGE_CONFIG)")
	flags.StringVarP(&c.userID, "user", "u", defaultUser, "acting user id")
	flags.StringVar(&c.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	c.root.AddCommand(
		c.projectCommand(),
		c.estimateCommand(),
		c.materialiseCommand(),
		c.statusCommand(),
		c.retryCommand(),
		c.blocksCommand(),
		c.rebirthCommand(),
		c.topUpCommand(),
		c.balanceCommand(),
		c.reconcileCommand(),
	)
	return c
}

// shutdown flushes metrics and closes the wired backends, if any.
func (c *cli) shutdown() error {
	if c.app == nil {
		return nil
	}
	if err := c.app.writeMetrics(c.metricsFile); err != nil {
		_ = c.app.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	return c.app.Close()
}

func (c *cli) svc() *core.Service { return c.app.svc }

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) projectCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Create, edit and inspect projects"}

	var (
		name        string
		tier        string
		genomeFile  string
		customLogic int
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project from a genome file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := readGenome(genomeFile)
			if err != nil {
				return err
			}
			p, err := c.svc().CreateProject(cmd.Context(), core.CreateProjectRequest{
				OwnerID:              c.userID,
				Name:                 name,
				Tier:                 genome.Tier(tier),
				Genome:               g,
				CustomLogicFunctions: customLogic,
			})
			if err != nil {
				return err
			}
			return c.print(p)
		},
	}
	create.Flags().StringVar(&name, "name", "", "project name")
	create.Flags().StringVar(&tier, "tier", string(genome.TierPresence), "PRESENCE, BUSINESS or SCALE")
	create.Flags().StringVar(&genomeFile, "genome", "", "genome JSON file (empty genome when unset)")
	create.Flags().IntVar(&customLogic, "custom-logic", 0, "number of custom logic functions")

	show := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.svc().GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(p)
		},
	}

	var (
		nodeID  string
		props   string
		prompt  string
		session string
	)
	mutate := &cobra.Command{
		Use:   "mutate <project-id>",
		Short: "Merge new props into one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newProps, err := parseProps(props)
			if err != nil {
				return err
			}
			req := core.MutateRequest{
				ProjectID: args[0],
				UserID:    c.userID,
				Mutations: []genome.Mutation{{NodeID: nodeID, Prompt: prompt, NewProps: newProps}},
			}
			var entry domain.VersionEntry
			if session != "" {
				entry, err = c.svc().ProposeMutation(cmd.Context(), session, req)
			} else {
				entry, err = c.svc().MutateGenome(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return c.print(entry)
		},
	}
	mutate.Flags().StringVar(&nodeID, "node", "", "id of the node to change")
	mutate.Flags().StringVar(&props, "props", "{}", "JSON object of props to merge")
	mutate.Flags().StringVar(&prompt, "prompt", "", "prompt that produced the change")
	mutate.Flags().StringVar(&session, "oracle-session", "", "apply as an assistant proposal for this session")
	_ = mutate.MarkFlagRequired("node")

	var (
		target int
		branch bool
	)
	rollback := &cobra.Command{
		Use:   "rollback <project-id>",
		Short: "Restore an earlier version, or branch it into a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := core.RollbackRestore
			if branch {
				mode = core.RollbackBranch
			}
			p, entry, err := c.svc().Rollback(cmd.Context(), core.RollbackRequest{
				ProjectID:     args[0],
				UserID:        c.userID,
				TargetVersion: target,
				Mode:          mode,
			})
			if err != nil {
				return err
			}
			return c.print(map[string]any{"project": p, "version": entry})
		},
	}
	rollback.Flags().IntVar(&target, "version", 0, "timeline version to return to")
	rollback.Flags().BoolVar(&branch, "branch", false, "copy the version into a new project")
	_ = rollback.MarkFlagRequired("version")

	versions := &cobra.Command{
		Use:   "versions <project-id>",
		Short: "List the project timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.svc().ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(entries)
		},
	}

	var rtl bool
	export := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Print the export-ready genome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "ltr"
			if rtl {
				dir = "rtl"
			}
			g, err := c.svc().ExportGenome(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			return c.print(g)
		},
	}
	export.Flags().BoolVar(&rtl, "rtl", false, "mark every node right-to-left")

	cmd.AddCommand(create, show, mutate, rollback, versions, export)
	return cmd
}

func (c *cli) estimateCommand() *cobra.Command {
	var (
		genomeFile  string
		customLogic int
	)
	cmd := &cobra.Command{
		Use:         "estimate",
		Short:       "Price a materialisation without touching storage",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			g, err := readGenome(genomeFile)
			if err != nil {
				return err
			}
			return c.print(map[string]any{
				"blocks": genome.CountBlocks(g),
				"amount": core.EstimateChipCost(g, customLogic),
			})
		},
	}
	cmd.Flags().StringVar(&genomeFile, "genome", "", "genome JSON file")
	cmd.Flags().IntVar(&customLogic, "custom-logic", 0, "number of custom logic functions")
	_ = cmd.MarkFlagRequired("genome")
	return cmd
}

func (c *cli) materialiseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "materialise <project-id>",
		Aliases: []string{"materialize"},
		Short:   "Reserve chips and generate code for every block",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticket, err := c.svc().Materialise(cmd.Context(), args[0], c.userID)
			if err != nil {
				return err
			}
			view, err := c.waitJob(cmd.Context(), ticket.JobID)
			if err != nil {
				return err
			}
			return c.print(map[string]any{"ticket": ticket, "status": view})
		},
	}
}

// waitJob blocks until the job's current run ends. Jobs are cancelled when
// the process exits, so commands that start one always wait.
func (c *cli) waitJob(ctx context.Context, jobID string) (materialise.StatusView, error) {
	select {
	case <-c.app.dispatcher.Done(jobID):
	case <-ctx.Done():
		return materialise.StatusView{}, ctx.Err()
	}
	return c.svc().JobStatus(ctx, jobID)
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.svc().JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(view)
		},
	}
}

func (c *cli) retryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-run a FAILED job with a fresh reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.svc().RetryJob(cmd.Context(), args[0], c.userID); err != nil {
				return err
			}
			view, err := c.waitJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(view)
		},
	}
}

func (c *cli) blocksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks <project-id>",
		Short: "List materialised blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.print(c.svc().ListBlocks(cmd.Context(), args[0]))
		},
	}
}

func (c *cli) rebirthCommand() *cobra.Command {
	var (
		candidateFile string
		maxRetries    int
	)
	cmd := &cobra.Command{
		Use:   "rebirth <project-id>",
		Short: "Replace the genome with a candidate that passes the similarity gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := readGenome(candidateFile)
			if err != nil {
				return err
			}
			res, err := c.svc().Rebirth(cmd.Context(), core.RebirthRequest{
				ProjectID:  args[0],
				UserID:     c.userID,
				Candidate:  candidate,
				MaxRetries: maxRetries,
			})
			if printErr := c.print(res); printErr != nil && err == nil {
				err = printErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&candidateFile, "candidate", "", "candidate genome JSON file")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "re-checks after the first (-1 disables, 0 uses the default)")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func (c *cli) topUpCommand() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "topup <amount>",
		Short: "Credit chips to the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse amount: %w", err)
			}
			entry, balance, err := c.svc().TopUp(cmd.Context(), c.userID, amount, note)
			if err != nil {
				return err
			}
			return c.print(map[string]any{"entry": entry, "balance": balance})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note kept on the ledger entry")
	return cmd
}

func (c *cli) balanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the acting user's chip balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.svc().ChipBalance(cmd.Context(), c.userID)
			if err != nil {
				return err
			}
			return c.print(summary)
		},
	}
}

func (c *cli) reconcileCommand() *cobra.Command {
	var (
		minAge time.Duration
		loop   bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve stale PENDING reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minAge <= 0 {
				minAge = c.app.cfg.Reconcile.MinAge
			}
			if loop {
				err := c.svc().Reconciler().Run(cmd.Context(), c.app.cfg.Reconcile.Interval, minAge)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			report, err := c.svc().Reconcile(cmd.Context(), minAge)
			if err != nil {
				return err
			}
			errs := make(map[string]string, len(report.Errors))
			for id, e := range report.Errors {
				errs[id] = e.Error()
			}
			return c.print(map[string]any{
				"examined":    report.Examined,
				"committed":   report.Committed,
				"rolled_back": report.RolledBack,
				"errors":      errs,
			})
		},
	}
	cmd.Flags().DurationVar(&minAge, "min-age", 0, "only sweep reservations older than this (default from config)")
	cmd.Flags().BoolVar(&loop, "loop", false, "keep sweeping on the configured interval until interrupted")
	return cmd
}

func readGenome(path string) (genome.Genome, error) {
	if path == "" {
		return genome.Genome{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genome: %w", err)
	}
	return genome.Parse(raw)
}

func parseProps(raw string) (genome.Props, error) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parse props: %w", err)
	}
	return genome.PropsFromMap(decoded)
}
