package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pebble/internal/errors"
	"pebble/internal/project"
	"pebble/internal/watch"
)

func init() {
	var initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a new pebble project",
		Long:  `Creates the .pebble directory in path (the current directory by default) and registers the project under its name.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			desc, _ := cmd.Flags().GetString("desc")

			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			dir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving project folder: %w", err)
			}

			p, err := project.Init(dir, name, desc, projectOptions())
			if err != nil {
				return err
			}
			defer p.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized pebble project %s in %s\n", green(p.Name()), p.Root())
			return nil
		},
	}
	initCmd.Flags().StringP("name", "n", "", "Project name (default: folder name)")
	initCmd.Flags().StringP("desc", "d", "", "Project description")

	var gatherCmd = &cobra.Command{
		Use:   "gather [paths...]",
		Short: "Stage the changes in the working tree",
		Long:  `Scans paths (the whole tree by default), stores the content of new and modified files and stages the changes for the next throw.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Gather(paths)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Staged.IsEmpty() {
				fmt.Fprintln(out, "No changes to gather")
				return nil
			}
			fmt.Fprintln(out, "Staged for the next throw:")
			printChanges(out, res.Staged)
			return nil
		},
	}

	var throwCmd = &cobra.Command{
		Use:   "throw",
		Short: "Record the staged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			rec, err := p.Throw(message)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Threw %s with %d changes\n", cyan(rec.ID), rec.Changes.Len())
			return nil
		},
	}
	throwCmd.Flags().StringP("message", "m", "", "Throw message")

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show staged and unstaged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			st, err := p.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			head := st.HeadID
			if head == "" {
				head = "(no throws yet)"
			}
			fmt.Fprintf(out, "Project %s at %s\n", green(p.Name()), cyan(head))

			if st.Clean() {
				fmt.Fprintln(out, "Nothing staged, working tree clean")
				return nil
			}
			if len(st.Staged) > 0 {
				fmt.Fprintln(out, "\nStaged for the next throw:")
				fmt.Fprintln(out, "  (use \"pebble throw -m <message>\" to record them)")
				printStaged(out, st.Staged)
			}
			if !st.Unstaged.IsEmpty() {
				fmt.Fprintln(out, "\nNot staged:")
				fmt.Fprintln(out, "  (use \"pebble gather [paths...]\" to stage them)")
				printChanges(out, st.Unstaged)
			}
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the throws from the head back to the first one",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			records, err := p.History()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No throws yet")
				return nil
			}
			return printHistory(cmd.OutOrStdout(), records, records[0].ID)
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Show changes between the head and the working tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			contextLines, _ := cmd.Flags().GetInt("unified")
			paths, err := absPaths(args)
			if err != nil {
				return err
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			diffs, err := p.Diff(paths, contextLines)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, d := range diffs {
				fmt.Fprintf(out, "diff --pebble a/%s b/%s (%s)\n", d.Path, d.Path, d.Kind)
				printColoredDiff(out, d.Result.Format())
			}
			return nil
		},
	}
	diffCmd.Flags().IntP("unified", "U", 3, "Lines of context")

	var restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Discard working tree changes and return to the head",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.RestoreHead()
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	var undoCmd = &cobra.Command{
		Use:   "undo",
		Short: "Undo the last throw",
		Long:  `Moves the head back to the parent of the last throw and rewrites the working tree to match.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.UndoLast()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			head := res.HeadID
			if head == "" {
				head = "(empty)"
			}
			fmt.Fprintf(out, "Undid %s, head is now %s\n", res.Undone.ID, cyan(head))
			printResult(out, res.Result)
			return nil
		},
	}

	var checkoutCmd = &cobra.Command{
		Use:   "checkout <throw>",
		Short: "Write an earlier throw onto the working tree",
		Long: `Writes the tree of the given throw onto the working tree without moving the
head. Gather and throw afterwards to record the rollback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Checkout(args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	var cloneCmd = &cobra.Command{
		Use:   "clone <name> [dest]",
		Short: "Copy the head of a registered project into a folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := args[0]
			if len(args) == 2 {
				dest = args[1]
			}

			opts := projectOptions()
			res, err := project.Clone(opts.Registry, args[0], dest, opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cloned %s at %s into %s (%d files)\n",
				green(res.Name), cyan(res.HeadID), res.Dest, len(res.Written))
			return nil
		},
	}

	var deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Delete the project's history",
		Long:  `Removes the .pebble directory and the registry entry. The working tree is left as it is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			if !confirmTwice(cmd.InOrStdin(), out,
				fmt.Sprintf("This deletes all history of %s.", p.Name()),
				"Are you sure?") {
				return errors.EmptyOperation("delete cancelled").WithProject(p.Name())
			}

			if err := p.Delete(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted project %s\n", p.Name())
			return nil
		},
	}

	var verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check the throw chain and stored content",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			rep, err := p.Verify()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d throws and %d blobs\n", rep.Records, rep.Blobs)
			if rep.OK() {
				fmt.Fprintln(out, green("OK"))
				return nil
			}
			for _, problem := range rep.Problems {
				fmt.Fprintf(out, "\t%s %v\n", red("!"), problem)
			}
			return errors.Corruption(fmt.Sprintf("%d problems found", len(rep.Problems))).WithProject(p.Name())
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Gather automatically while files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, _ := cmd.Flags().GetDuration("delay")
			paths, err := absPaths(args)
			if err != nil {
				return err
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			w, err := watch.New(p.Root(), p, watch.Options{
				Paths:  paths,
				Delay:  delay,
				Logger: logger.ForProject(p.Name()),
				OnGather: func(res *project.GatherResult, err error) {
					if err != nil {
						report(cmd.ErrOrStderr(), err)
						return
					}
					if !res.Detected.IsEmpty() {
						fmt.Fprintf(out, "%s gathered:\n", time.Now().Format(time.TimeOnly))
						printChanges(out, res.Detected)
					}
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(out, "Watching %s, press Ctrl+C to stop\n", p.Root())
			return w.Run(ctx)
		},
	}
	watchCmd.Flags().Duration("delay", watch.DefaultDelay, "Quiet time before gathering")

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := projectOptions().Registry.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects registered")
				return nil
			}
			return printProjects(cmd.OutOrStdout(), entries)
		},
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(throwCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
}
