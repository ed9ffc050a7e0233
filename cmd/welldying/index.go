package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/vectorstore"
)

func newIndexCommand(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "index",
		Short: "Manage the knowledge index used by the information tools",
		Long: strings.TrimSpace(`Load JSONL knowledge files into the vector index. Each line is
{"id"?, "namespace", "text" | "context", "instruction"?, "metadata"{}}.
Documents are embedded with the configured embedding model; searches only
see documents embedded with the model in use.`),
	}

	var namespace string
	load := &cobra.Command{
		Use:     "load <file.jsonl>...",
		Short:   "Embed and upsert documents from JSONL files",
		Example: "  welldying index load data/facilities.jsonl\n  welldying index load --namespace talk_assets questions.jsonl",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			index, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer index.Close()

			out := cmd.OutOrStdout()
			total := 0
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				docs, err := vectorstore.ReadJSONL(f, namespace)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				n, err := index.Upsert(cmd.Context(), docs)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				total += n
				fmt.Fprintf(out, "✓ %s: %d documents\n", path, n)
			}
			fmt.Fprintf(out, "Indexed %d documents with %s\n", total, index.ModelID())
			return nil
		},
	}
	load.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace for records that do not name one")
	root.AddCommand(load)

	root.AddCommand(&cobra.Command{
		Use:     "stats",
		Short:   "Count indexed documents per namespace",
		Example: "  welldying index stats",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			index, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer index.Close()

			stats, err := index.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model: %s\n", index.ModelID())
			if len(stats) == 0 {
				fmt.Fprintln(out, "No documents indexed.")
				return nil
			}
			names := make([]string, 0, len(stats))
			for ns := range stats {
				names = append(names, ns)
			}
			sort.Strings(names)
			for _, ns := range names {
				fmt.Fprintf(out, "  %-28s %d\n", ns, stats[ns])
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "drop <namespace>",
		Short:   "Delete every document in a namespace",
		Example: "  welldying index drop funeral_facilities",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			index, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer index.Close()

			n, err := index.DeleteNamespace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d documents from %s\n", n, args[0])
			return nil
		},
	})

	return root
}
