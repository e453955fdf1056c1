package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"drawd/internal/templates"
)

type templatesOptions struct {
	backend string
	path    string
}

func newTemplatesCmd(ro *rootOptions) *cobra.Command {
	to := &templatesOptions{}
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "Manage the prompt template store directly",
		Long: `Manage the prompt template store without a running server.

Templates may be referenced by name or by their 1-based position in "list".`,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&to.backend, "backend", "", "template store backend (file or sqlite)")
	f.StringVar(&to.path, "store", "", "template store path")

	// withStore opens the store described by config and flags around fn.
	withStore := func(fn func(ctx context.Context, cmd *cobra.Command, repo templates.Repository, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			tc := ro.cfg.Templates
			if to.backend != "" {
				tc.Backend = to.backend
			}
			if to.path != "" {
				tc.Path = to.path
			}
			ctx := cmd.Context()
			repo, closeRepo, err := openStore(ctx, tc, &ro.log)
			if err != nil {
				return err
			}
			defer closeRepo()
			return fn(ctx, cmd, repo, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE:  withStore(listTemplates),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <name|index>",
		Short: "Print one template",
		Args:  cobra.ExactArgs(1),
		RunE:  withStore(showTemplate),
	})

	var fromFile string
	add := &cobra.Command{
		Use:   "add <name> [prompt]",
		Short: "Create a template",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, repo templates.Repository, args []string) error {
			body, err := promptArg(args, fromFile)
			if err != nil {
				return err
			}
			t, err := repo.Create(ctx, args[0], body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", t.Name)
			return nil
		}),
	}
	add.Flags().StringVarP(&fromFile, "file", "f", "", "read the prompt from a file (- for stdin)")
	cmd.AddCommand(add)

	edit := &cobra.Command{
		Use:   "edit <name|index> [prompt]",
		Short: "Replace a template's prompt",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, repo templates.Repository, args []string) error {
			body, err := promptArg(args, fromFile)
			if err != nil {
				return err
			}
			cur, err := templates.Resolve(ctx, repo, args[0])
			if err != nil {
				return err
			}
			t, err := repo.Update(ctx, cur.Name, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", t.Name)
			return nil
		}),
	}
	edit.Flags().StringVarP(&fromFile, "file", "f", "", "read the prompt from a file (- for stdin)")
	cmd.AddCommand(edit)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name|index>...",
		Short: "Delete templates",
		Args:  cobra.MinimumNArgs(1),
		RunE:  withStore(deleteTemplates),
	})

	var yes bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every template from storage",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, cmd *cobra.Command, repo templates.Repository, _ []string) error {
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			n, err := repo.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s templates\n", humanize.Comma(int64(n)))
			return nil
		}),
	}
	purge.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting everything")
	cmd.AddCommand(purge)
	return cmd
}

func listTemplates(ctx context.Context, cmd *cobra.Command, repo templates.Repository, _ []string) error {
	all, err := repo.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(all) == 0 {
		fmt.Fprintln(out, "no templates")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tUPDATED\tPROMPT")
	for i, t := range all {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, t.Name, humanize.Time(t.UpdatedAt), truncate(t.Prompt, 60))
	}
	return tw.Flush()
}

func showTemplate(ctx context.Context, cmd *cobra.Command, repo templates.Repository, args []string) error {
	t, err := templates.Resolve(ctx, repo, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "name:    %s\n", t.Name)
	fmt.Fprintf(out, "created: %s\n", humanize.Time(t.CreatedAt))
	fmt.Fprintf(out, "updated: %s\n", humanize.Time(t.UpdatedAt))
	fmt.Fprintf(out, "size:    %s\n\n", humanize.Bytes(uint64(len(t.Prompt))))
	fmt.Fprintln(out, t.Prompt)
	return nil
}

// deleteTemplates resolves every reference before deleting so indexes refer
// to the listing the user saw.
func deleteTemplates(ctx context.Context, cmd *cobra.Command, repo templates.Repository, args []string) error {
	names := make([]string, 0, len(args))
	var missing []string
	for _, ref := range args {
		t, err := templates.Resolve(ctx, repo, ref)
		if err != nil {
			if templates.IsNotFound(err) {
				missing = append(missing, ref)
				continue
			}
			return err
		}
		names = append(names, t.Name)
	}
	deleted, err := repo.Delete(ctx, names...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, n := range deleted {
		fmt.Fprintf(out, "deleted %s\n", n)
	}
	if len(missing) > 0 {
		return fmt.Errorf("not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

func promptArg(args []string, file string) (string, error) {
	var body string
	switch {
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		body = string(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		body = string(b)
	case len(args) == 2:
		body = args[1]
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("prompt is required (argument or --file)")
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
